// Package progress folds node- and run-level push events into monotonically
// advancing run-state aggregates. Late or duplicated events can never move a
// run backward: step counters only grow, node transitions follow a total
// order, and terminal run statuses are immutable.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/store"
)

// Aggregator maintains one RunState per observed run id.
type Aggregator struct {
	mu     sync.RWMutex
	runs   map[string]*RunState
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		runs:   make(map[string]*RunState),
		logger: logger.With("module", "progress"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Bind subscribes the aggregator to the store's change feed and returns the
// cancel function.
func (a *Aggregator) Bind(s *store.Store) func() {
	return s.Subscribe(a.Apply)
}

// Apply folds a batch of newly arrived events, in arrival order, into the
// run aggregates. Events that reference no run id are ignored.
func (a *Aggregator) Apply(batch []events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, evt := range batch {
		switch evt.Type {
		case events.RunProgressEvent:
			a.applyRunProgress(events.DecodeRunProgress(evt.Data))
		case events.NodeProgressEvent:
			a.applyNode(events.DecodeNodeSnapshot(evt.Data))
		case events.NeedHumanConfirmEvent:
			a.applyHumanConfirm(events.DecodeHumanConfirm(evt.Data))
		}
	}
}

// Run returns a snapshot copy of the run's current state.
func (a *Aggregator) Run(runID string) (RunState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rs, ok := a.runs[runID]
	if !ok {
		return RunState{}, false
	}

	return rs.clone(), true
}

// Runs returns snapshot copies of every tracked run.
func (a *Aggregator) Runs() []RunState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]RunState, 0, len(a.runs))
	for _, rs := range a.runs {
		out = append(out, rs.clone())
	}

	return out
}

// Discard frees the run's aggregate, e.g. when the observing panel closes.
// Safe if the run is unknown; later events for the same id rehydrate a fresh
// aggregate.
func (a *Aggregator) Discard(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.runs, runID)
}

// Sweep discards terminal runs not updated since the cutoff and returns how
// many were removed. Live runs are never swept.
func (a *Aggregator) Sweep(olderThan time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0

	for id, rs := range a.runs {
		if rs.Status.Terminal() && rs.UpdatedAt.Before(olderThan) {
			delete(a.runs, id)

			removed++
		}
	}

	if removed > 0 {
		a.logger.Debug("swept terminal runs", "removed", removed)
	}

	return removed
}

// run fetches or lazily creates the aggregate for a run id. Lazy creation
// tolerates consumers that start observing a run mid-flight.
func (a *Aggregator) run(runID string) *RunState {
	rs, ok := a.runs[runID]
	if !ok {
		rs = &RunState{
			RunID:  runID,
			Status: RunStatusRunning,
			Nodes:  make(map[string]*NodeExecutionRecord),
		}
		a.runs[runID] = rs
	}

	return rs
}

func (a *Aggregator) applyRunProgress(rp events.RunProgress) {
	if rp.RunID == "" {
		return
	}

	rs := a.run(rp.RunID)
	rs.UpdatedAt = a.now()

	if rs.WorkflowID == "" {
		rs.WorkflowID = rp.WorkflowID
	}

	// Counters only advance. A late event with a smaller count is stale.
	if rp.CompletedSteps > rs.CompletedSteps {
		rs.CompletedSteps = rp.CompletedSteps
	}

	if rp.TotalSteps > rs.TotalSteps {
		rs.TotalSteps = rp.TotalSteps
	}

	if rs.TotalSteps > 0 && rs.CompletedSteps > rs.TotalSteps {
		rs.CompletedSteps = rs.TotalSteps
	}

	for _, snap := range rp.Nodes {
		a.foldNode(rs, snap)
	}

	a.applyRunStatus(rs, rp.Status, rp.Error)
}

// applyRunStatus derives the run-level status. Only a top-level status code
// moves a run to a terminal state; node results alone never do, because
// sibling branches can still be pending. Terminal statuses are immutable.
func (a *Aggregator) applyRunStatus(rs *RunState, code int, errText string) {
	if rs.Status.Terminal() {
		return
	}

	switch code {
	case events.StatusSucceeded:
		rs.Status = RunStatusSucceeded
		rs.NeedsHumanConfirm = false
		rs.BlockedNodeID = ""

		if rs.TotalSteps > 0 {
			rs.CompletedSteps = rs.TotalSteps
		}
	case events.StatusFailed:
		rs.Status = RunStatusFailed
		rs.NeedsHumanConfirm = false
		rs.BlockedNodeID = ""
		rs.Error = errText

		if rs.Error == "" {
			rs.Error = "run failed"
		}
	}
}

func (a *Aggregator) applyNode(snap events.NodeSnapshot) {
	if snap.RunID == "" {
		return
	}

	rs := a.run(snap.RunID)
	rs.UpdatedAt = a.now()

	a.foldNode(rs, snap)
}

// foldNode applies one node snapshot under the monotonic transition guard.
func (a *Aggregator) foldNode(rs *RunState, snap events.NodeSnapshot) {
	if snap.NodeExecID == "" {
		return
	}

	rec, ok := rs.Nodes[snap.NodeExecID]
	if !ok {
		rec = &NodeExecutionRecord{
			NodeID:     snap.NodeID,
			NodeExecID: snap.NodeExecID,
			Level:      snap.Level,
			Status:     NodeStatusNotRunnable,
		}
		rs.Nodes[snap.NodeExecID] = rec
	}

	next := NodeStatus(snap.Status)
	if next != "" {
		if next.Rank() < rec.Status.Rank() || rec.Status.Terminal() {
			a.logger.Debug("rejected stale node transition",
				"run_id", rs.RunID,
				"node_exec_id", rec.NodeExecID,
				"current", rec.Status,
				"stale", next,
			)
		} else {
			rec.Status = next
		}
	}

	if snap.NodeID != "" {
		rec.NodeID = snap.NodeID
	}

	if snap.Level > 0 {
		rec.Level = snap.Level
	}

	if snap.Inputs != nil {
		rec.Inputs = snap.Inputs
	}

	if snap.Outputs != nil {
		rec.Outputs = snap.Outputs
	}

	if snap.Error != "" {
		rec.Error = snap.Error
	}

	if snap.InputTokens > 0 {
		rec.InputTokens = snap.InputTokens
	}

	if snap.OutputTokens > 0 {
		rec.OutputTokens = snap.OutputTokens
	}

	if snap.FinishedTime != "" {
		rec.FinishedTime = snap.FinishedTime
	}

	// The blocked node advancing to running or beyond means the operator
	// confirmed and execution resumed.
	if rs.NeedsHumanConfirm && rec.NodeID == rs.BlockedNodeID &&
		rec.Status.Rank() >= NodeStatusRunning.Rank() {
		rs.NeedsHumanConfirm = false
		rs.BlockedNodeID = ""
	}
}

// applyHumanConfirm flags the run as blocked on manual operator input. The
// interrupt never advances step counters.
func (a *Aggregator) applyHumanConfirm(hc events.HumanConfirm) {
	if hc.RunID == "" {
		return
	}

	rs := a.run(hc.RunID)
	rs.UpdatedAt = a.now()

	if rs.Status.Terminal() {
		return
	}

	rs.NeedsHumanConfirm = true
	rs.BlockedNodeID = hc.NodeID
}
