package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/store"
)

func runProgress(data events.Payload) events.Event {
	return events.New("run_progress", data)
}

func nodeProgress(data events.Payload) events.Event {
	return events.New("node_progress", data)
}

func TestAggregator_CreatesRunLazily(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	_, ok := a.Run("r1")
	assert.False(t, ok)

	// Observing a run mid-flight via a node event still creates it.
	s.Ingest(nodeProgress(events.Payload{
		"run_id":       "r1",
		"node_id":      "n1",
		"node_exec_id": "ne1",
		"status":       float64(2),
	}))

	rs, ok := a.Run("r1")
	require.True(t, ok)
	assert.Equal(t, RunStatusRunning, rs.Status)
	require.Contains(t, rs.Nodes, "ne1")
	assert.Equal(t, NodeStatusRunning, rs.Nodes["ne1"].Status)
}

func TestAggregator_MonotonicNodeTransitions(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_id": "n1", "node_exec_id": "ne1", "status": float64(2)}))
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_id": "n1", "node_exec_id": "ne1", "status": float64(3)}))

	// A stale "running" after success must not move the node backward.
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_id": "n1", "node_exec_id": "ne1", "status": float64(2)}))

	rs, ok := a.Run("r1")
	require.True(t, ok)
	assert.Equal(t, NodeStatusSucceeded, rs.Nodes["ne1"].Status)
}

func TestAggregator_FinishedNodeCannotFlip(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne1", "status": "failed"}))
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne1", "status": "succeeded"}))

	rs, _ := a.Run("r1")
	assert.Equal(t, NodeStatusFailed, rs.Nodes["ne1"].Status)
}

func TestAggregator_NotRunnableToRunnableAcrossLevels(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	// Downstream DAG nodes become runnable once upstream levels finish.
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne2", "status": "not_runnable", "level": float64(2)}))
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne2", "status": "runnable"}))

	rs, _ := a.Run("r1")
	assert.Equal(t, NodeStatusRunnable, rs.Nodes["ne2"].Status)
	assert.Equal(t, 2, rs.Nodes["ne2"].Level)
}

func TestAggregator_StepCountersNeverDecrease(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "completed_steps": float64(3), "total_steps": float64(5), "status": float64(1)}))
	s.Ingest(runProgress(events.Payload{"run_id": "r1", "completed_steps": float64(2), "total_steps": float64(5), "status": float64(1)}))

	rs, _ := a.Run("r1")
	assert.Equal(t, 3, rs.CompletedSteps)
	assert.Equal(t, 5, rs.TotalSteps)

	fraction, determinate := rs.Fraction()
	require.True(t, determinate)
	assert.InDelta(t, 0.6, fraction, 0.001)
}

func TestAggregator_IndeterminateProgress(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "status": float64(1)}))

	rs, _ := a.Run("r1")
	_, determinate := rs.Fraction()
	assert.False(t, determinate)
}

func TestAggregator_HumanConfirmScenario(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{
		"run_id":          "r1",
		"completed_steps": float64(2),
		"total_steps":     float64(5),
		"status":          float64(1),
	}))
	s.Ingest(events.New("need_human_confirm", events.Payload{"run_id": "r1", "node_id": "n3"}))

	rs, ok := a.Run("r1")
	require.True(t, ok)
	assert.True(t, rs.NeedsHumanConfirm)
	assert.Equal(t, "n3", rs.BlockedNodeID)
	assert.Equal(t, 2, rs.CompletedSteps, "interrupt must not advance steps")

	// Operator confirms; an ordinary progress event for the blocked node
	// clears the flag.
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_id": "n3", "node_exec_id": "ne3", "status": float64(2)}))

	rs, _ = a.Run("r1")
	assert.False(t, rs.NeedsHumanConfirm)
	assert.Empty(t, rs.BlockedNodeID)
}

func TestAggregator_RunSuccessOnlyFromTopLevel(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	// Every node succeeded, but sibling branches could still be pending:
	// node success alone never completes the run.
	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne1", "status": "succeeded"}))

	rs, _ := a.Run("r1")
	assert.Equal(t, RunStatusRunning, rs.Status)

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "status": float64(3), "total_steps": float64(2), "completed_steps": float64(1)}))

	rs, _ = a.Run("r1")
	assert.Equal(t, RunStatusSucceeded, rs.Status)
	assert.Equal(t, rs.TotalSteps, rs.CompletedSteps, "terminal success completes the counter")
}

func TestAggregator_TerminalStatusImmutable(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "status": float64(3)}))

	// A late, stale "running" event must not revert a succeeded run.
	s.Ingest(runProgress(events.Payload{"run_id": "r1", "status": float64(1)}))

	rs, _ := a.Run("r1")
	assert.Equal(t, RunStatusSucceeded, rs.Status)
}

func TestAggregator_RunFailureCarriesError(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "status": float64(2), "error": "node n2 exploded"}))

	rs, _ := a.Run("r1")
	assert.Equal(t, RunStatusFailed, rs.Status)
	assert.Equal(t, "node n2 exploded", rs.Error)
}

func TestAggregator_EmbeddedNodeSnapshots(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{
		"run_id": "r1",
		"status": float64(1),
		"exec_data": map[string]any{
			"nodes": []any{
				map[string]any{"node_id": "n1", "node_exec_id": "ne1", "status": float64(3)},
				map[string]any{"node_id": "n2", "node_exec_id": "ne2", "status": float64(2)},
			},
		},
	}))

	rs, _ := a.Run("r1")
	require.Len(t, rs.Nodes, 2)
	assert.Equal(t, NodeStatusSucceeded, rs.Nodes["ne1"].Status)
	assert.Equal(t, NodeStatusRunning, rs.Nodes["ne2"].Status)
}

func TestAggregator_DiscardThenRehydrate(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "r1", "completed_steps": float64(4), "total_steps": float64(5), "status": float64(1)}))
	a.Discard("r1")

	_, ok := a.Run("r1")
	assert.False(t, ok)

	// Later events rehydrate a fresh aggregate instead of erroring.
	s.Ingest(runProgress(events.Payload{"run_id": "r1", "completed_steps": float64(1), "total_steps": float64(5), "status": float64(1)}))

	rs, ok := a.Run("r1")
	require.True(t, ok)
	assert.Equal(t, 1, rs.CompletedSteps)
}

func TestAggregator_SweepRemovesOnlyStaleTerminalRuns(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(runProgress(events.Payload{"run_id": "done", "status": float64(3)}))
	s.Ingest(runProgress(events.Payload{"run_id": "live", "status": float64(1)}))

	removed := a.Sweep(time.Now().UTC().Add(time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := a.Run("done")
	assert.False(t, ok)

	_, ok = a.Run("live")
	assert.True(t, ok)
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	s := store.New(nil)
	a := New(nil)
	defer a.Bind(s)()

	s.Ingest(nodeProgress(events.Payload{"run_id": "r1", "node_exec_id": "ne1", "status": "running"}))

	rs, _ := a.Run("r1")
	rs.Nodes["ne1"].Status = NodeStatusFailed
	rs.CompletedSteps = 99

	fresh, _ := a.Run("r1")
	assert.Equal(t, NodeStatusRunning, fresh.Nodes["ne1"].Status)
	assert.Zero(t, fresh.CompletedSteps)
}
