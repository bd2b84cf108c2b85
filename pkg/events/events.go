// Package events defines the inbound event envelope and the type taxonomy
// recognized by the correlation and progress engine.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every push event; consumers discriminate on the type tag,
// not on topic fan-out.
const Topic = "pulse.events"

const EventTypeMetadataKey = "event_type"

const (
	// Run-level lifecycle events.
	RunProgressEvent EventType = "run_progress"

	// Node/step-level progress events.
	NodeProgressEvent EventType = "node_progress"

	// A node is blocked awaiting manual operator input.
	NeedHumanConfirmEvent EventType = "need_human_confirm"

	// Terminal results for ancillary generation jobs (meeting summaries,
	// skill corrections, optimization runs).
	GenerationResultEvent EventType = "generation_result"

	// Catch-all bucket for events whose type tag is empty. Unrecognized
	// non-empty tags index under their literal value instead, so new
	// server-side types are additively supported.
	UnclassifiedEvent EventType = "_unclassified"
)

// Wire status codes shared by run-level and job-result payloads.
const (
	StatusRunning   = 1
	StatusFailed    = 2
	StatusSucceeded = 3
)

// Payload is the loosely-typed body of a server-push event. It is an open
// map, but correlatable payloads always carry some subset of app_run_id /
// run_id, workflow_id, app_id, exec_id, node_exec_id, record_id and status.
type Payload map[string]any

// Event is one server-pushed notification. Immutable after ingestion: the
// store assigns Seq and ReceivedAt on append and nothing mutates Data.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Data       Payload   `json:"data"`
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
}

// New builds an event from a raw envelope, classifying empty type tags into
// the catch-all bucket. It is the single construction path used by the
// transport bridge and the dev injection endpoint.
func New(eventType string, data Payload) Event {
	t := EventType(eventType)
	if t == "" {
		t = UnclassifiedEvent
	}

	return Event{
		ID:   uuid.New().String(),
		Type: t,
		Data: data,
	}
}

func (e Event) GetType() EventType {
	return e.Type
}
