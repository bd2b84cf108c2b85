package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck/pulse/pkg/config"
	"github.com/flowdeck/pulse/pkg/correlate"
	"github.com/flowdeck/pulse/pkg/events"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.RunRetention = 0 // no sweeper in tests

	eng, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return eng
}

func TestEngine_EndToEndJob(t *testing.T) {
	eng := newEngine(t)

	handle := eng.Resolver.Submit("optimize", correlate.Key{"run_id": 42, "record_id": 7})

	// Unrelated event for another run leaves the job pending.
	eng.IngestEnvelope("generation_result", events.Payload{
		"run_id": float64(43), "record_id": float64(7), "status": float64(3),
	})
	assert.Equal(t, correlate.StatusSubmitted, handle.Status())

	eng.IngestEnvelope("generation_result", events.Payload{
		"run_id":    float64(42),
		"record_id": float64(7),
		"status":    float64(3),
		"outputs":   map[string]any{"value": `{"x":1}`},
	})

	require.Equal(t, correlate.StatusResolvedSuccess, handle.Status())
	assert.Equal(t, map[string]any{"x": float64(1)}, handle.Result().Value)
}

func TestEngine_RunProgressThroughSelectors(t *testing.T) {
	eng := newEngine(t)

	eng.IngestEnvelope("run_progress", events.Payload{
		"run_id": "r1", "completed_steps": float64(2), "total_steps": float64(5), "status": float64(1),
	})
	eng.IngestEnvelope("need_human_confirm", events.Payload{"run_id": "r1", "node_id": "n3"})

	rs, ok := eng.Views.SelectRun("r1")
	require.True(t, ok)
	assert.True(t, rs.NeedsHumanConfirm)
	assert.Equal(t, 2, rs.CompletedSteps)

	latest, ok := eng.Views.SelectLatest(events.NeedHumanConfirmEvent)
	require.True(t, ok)
	assert.Equal(t, "n3", latest.Data.String("node_id"))
}

func TestEngine_HydrateRebuildsDerivedState(t *testing.T) {
	eng := newEngine(t)

	eng.IngestEnvelope("run_progress", events.Payload{"run_id": "stale", "status": float64(1)})

	history := []events.Event{
		events.New("run_progress", events.Payload{
			"run_id": "r9", "completed_steps": float64(3), "total_steps": float64(3), "status": float64(3),
		}),
	}
	eng.Hydrate(history)

	assert.Equal(t, 1, eng.Store.Len())

	rs, ok := eng.Views.SelectRun("r9")
	require.True(t, ok)
	assert.Equal(t, 3, rs.CompletedSteps)

	// The pre-hydration run still exists in the aggregator; hydration only
	// replaces the log. The consumer discards what it no longer observes.
	eng.Progress.Discard("stale")
	_, ok = eng.Views.SelectRun("stale")
	assert.False(t, ok)
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Provider = "carrier-pigeon"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestEngine_RejectsBadSweepSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.SweepSchedule = "not a schedule"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestEngine_IngestNeverPanicsOnGarbage(t *testing.T) {
	eng := newEngine(t)

	assert.NotPanics(t, func() {
		eng.IngestEnvelope("", nil)
		eng.IngestEnvelope("run_progress", events.Payload{"run_id": map[string]any{"weird": true}})
		eng.IngestEnvelope("need_human_confirm", events.Payload{})
	})

	assert.Equal(t, 3, eng.Store.Len())
}
