package events

// Typed views over the loose payloads. Decoding is best-effort: missing or
// mistyped fields degrade to zero values rather than failing, because one
// malformed event must never take the engine down.

// RunProgress is the typed view of a run_progress payload.
type RunProgress struct {
	RunID          string
	WorkflowID     string
	AppID          string
	Status         int
	CompletedSteps int
	TotalSteps     int
	Error          string
	Nodes          []NodeSnapshot
}

// NodeSnapshot is one node-level update, either a node_progress payload or
// an entry of the exec_data.nodes list embedded in a run_progress payload.
type NodeSnapshot struct {
	RunID        string
	NodeID       string
	NodeExecID   string
	Level        int
	Status       string
	Inputs       map[string]any
	Outputs      map[string]any
	Error        string
	InputTokens  int
	OutputTokens int
	FinishedTime string
}

// HumanConfirm is the typed view of a need_human_confirm payload.
type HumanConfirm struct {
	RunID      string
	NodeID     string
	NodeExecID string
}

func DecodeRunProgress(p Payload) RunProgress {
	rp := RunProgress{
		RunID:      p.RunID(),
		WorkflowID: p.String(FieldWorkflowID),
		AppID:      p.String(FieldAppID),
		Error:      p.ErrorText(),
	}

	rp.Status, _ = p.StatusCode()
	rp.CompletedSteps, _ = p.Int("completed_steps")
	rp.TotalSteps, _ = p.Int("total_steps")

	if execData, ok := p.Map(FieldExecData); ok {
		if nodes, ok := execData["nodes"].([]any); ok {
			for _, n := range nodes {
				nodeMap, ok := n.(map[string]any)
				if !ok {
					continue
				}

				snap := DecodeNodeSnapshot(nodeMap)
				if snap.RunID == "" {
					snap.RunID = rp.RunID
				}

				rp.Nodes = append(rp.Nodes, snap)
			}
		}
	}

	return rp
}

func DecodeNodeSnapshot(p Payload) NodeSnapshot {
	ns := NodeSnapshot{
		RunID:        p.RunID(),
		NodeID:       p.String("node_id"),
		NodeExecID:   p.String(FieldNodeExecID),
		Status:       NodeStatusName(p[FieldStatus]),
		Error:        p.ErrorText(),
		FinishedTime: p.String("finished_time"),
	}

	if ns.NodeExecID == "" {
		ns.NodeExecID = p.String(FieldExecID)
	}

	ns.Level, _ = p.Int("level")
	ns.InputTokens, _ = p.Int("input_tokens")
	ns.OutputTokens, _ = p.Int("output_tokens")
	ns.Inputs, _ = p.Map("inputs")
	ns.Outputs, _ = p.Map(FieldOutputs)

	return ns
}

func DecodeHumanConfirm(p Payload) HumanConfirm {
	hc := HumanConfirm{
		RunID:      p.RunID(),
		NodeID:     p.String("node_id"),
		NodeExecID: p.String(FieldNodeExecID),
	}

	return hc
}
