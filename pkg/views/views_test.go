package views

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/progress"
	"github.com/flowdeck/pulse/pkg/store"
)

func newViews(t *testing.T) (*store.Store, *Views) {
	t.Helper()

	s := store.New(nil)
	agg := progress.New(nil)
	t.Cleanup(agg.Bind(s))

	return s, New(s, agg)
}

func TestViews_SelectStableAcrossUnrelatedIngests(t *testing.T) {
	s, v := newViews(t)

	s.Ingest(events.New("run_progress", events.Payload{"run_id": "r1"}))

	first := v.Select(events.RunProgressEvent)
	require.Len(t, first, 1)

	// An ingest of a different type must not produce a new slice for this
	// type: consumers relying on reference equality stay quiet.
	s.Ingest(events.New("generation_result", events.Payload{"run_id": "r2"}))

	second := v.Select(events.RunProgressEvent)
	assert.Same(t, &first[0], &second[0], "backing array must be unchanged")
	assert.Len(t, second, 1)

	// Growth of this type's index does refresh the selection.
	s.Ingest(events.New("run_progress", events.Payload{"run_id": "r3"}))

	third := v.Select(events.RunProgressEvent)
	assert.Len(t, third, 2)
}

func TestViews_SelectRecomputedAfterRehydration(t *testing.T) {
	s, v := newViews(t)

	s.Ingest(events.New("run_progress", events.Payload{"run_id": "old"}))
	require.Len(t, v.Select(events.RunProgressEvent), 1)

	// Rehydration can rebuild a type index to the same length with different
	// content; the memo must not keep serving the pre-rebuild events.
	s.ReplaceAll([]events.Event{
		events.New("run_progress", events.Payload{"run_id": "new"}),
	})

	replaced := v.Select(events.RunProgressEvent)
	require.Len(t, replaced, 1)
	assert.Equal(t, "new", replaced[0].Data.RunID())
}

func TestViews_SelectUnknownTypeIsEmpty(t *testing.T) {
	_, v := newViews(t)

	assert.Empty(t, v.Select(events.EventType("nope")))
}

func TestViews_SelectLatest(t *testing.T) {
	s, v := newViews(t)

	_, ok := v.SelectLatest(events.GenerationResultEvent)
	assert.False(t, ok)

	s.Ingest(events.New("generation_result", events.Payload{"record_id": float64(1)}))
	s.Ingest(events.New("generation_result", events.Payload{"record_id": float64(2)}))

	latest, ok := v.SelectLatest(events.GenerationResultEvent)
	require.True(t, ok)

	id, _ := latest.Data.Field("record_id")
	assert.Equal(t, "2", id)
}

func TestViews_SelectRun(t *testing.T) {
	s, v := newViews(t)

	_, ok := v.SelectRun("r1")
	assert.False(t, ok)

	s.Ingest(events.New("run_progress", events.Payload{
		"run_id":          "r1",
		"completed_steps": float64(1),
		"total_steps":     float64(4),
		"status":          float64(1),
	}))

	rs, ok := v.SelectRun("r1")
	require.True(t, ok)
	assert.Equal(t, 1, rs.CompletedSteps)

	runs := v.SelectRuns()
	assert.Len(t, runs, 1)
}
