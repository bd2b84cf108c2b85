package progress

import (
	"time"
)

// NodeStatus is the state of one node execution within a run.
type NodeStatus string

const (
	NodeStatusNotRunnable NodeStatus = "not_runnable"
	NodeStatusRunnable    NodeStatus = "runnable"
	NodeStatusRunning     NodeStatus = "running"
	NodeStatusSucceeded   NodeStatus = "succeeded"
	NodeStatusFailed      NodeStatus = "failed"
)

// nodeStatusRank defines the total order the transition guard enforces.
// succeeded and failed share the top rank: a finished node cannot move at
// all, in either direction.
var nodeStatusRank = map[NodeStatus]int{
	NodeStatusNotRunnable: 0,
	NodeStatusRunnable:    1,
	NodeStatusRunning:     2,
	NodeStatusSucceeded:   3,
	NodeStatusFailed:      3,
}

// Rank returns the status position in the transition order, -1 for unknown.
func (s NodeStatus) Rank() int {
	r, ok := nodeStatusRank[s]
	if !ok {
		return -1
	}

	return r
}

// Terminal reports whether the node finished.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailed
}

// RunStatus is the run-level aggregate status.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run reached a final status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// NodeExecutionRecord is the state of one node execution. Created on first
// sighting of its node_exec_id, updated in place afterwards.
type NodeExecutionRecord struct {
	NodeID       string         `json:"node_id"`
	NodeExecID   string         `json:"node_exec_id"`
	Level        int            `json:"level"`
	Status       NodeStatus     `json:"status"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Error        string         `json:"error,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	FinishedTime string         `json:"finished_time,omitempty"`
}

// RunState is the aggregate snapshot for one run. Values returned by the
// aggregator are copies; mutating them has no effect on the aggregate.
type RunState struct {
	RunID             string                          `json:"run_id"`
	WorkflowID        string                          `json:"workflow_id,omitempty"`
	Status            RunStatus                       `json:"status"`
	CompletedSteps    int                             `json:"completed_steps"`
	TotalSteps        int                             `json:"total_steps"`
	NeedsHumanConfirm bool                            `json:"needs_human_confirm"`
	BlockedNodeID     string                          `json:"blocked_node_id,omitempty"`
	Error             string                          `json:"error,omitempty"`
	Nodes             map[string]*NodeExecutionRecord `json:"nodes"`
	UpdatedAt         time.Time                       `json:"updated_at"`
}

// Fraction returns the run's progress in [0, 1]. The second return is false
// when total steps is unknown and the progress is indeterminate.
func (r RunState) Fraction() (float64, bool) {
	if r.TotalSteps <= 0 {
		return 0, false
	}

	f := float64(r.CompletedSteps) / float64(r.TotalSteps)
	if f < 0 {
		f = 0
	}

	if f > 1 {
		f = 1
	}

	return f, true
}

func (r RunState) clone() RunState {
	nodes := make(map[string]*NodeExecutionRecord, len(r.Nodes))

	for id, rec := range r.Nodes {
		c := *rec
		nodes[id] = &c
	}

	r.Nodes = nodes

	return r
}
