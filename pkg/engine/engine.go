// Package engine wires the event store, correlation resolver, run progress
// aggregator and selector layer into one instance-scoped unit. Multiple
// engines can coexist (e.g. in tests) because nothing here is global.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowdeck/pulse/pkg/config"
	"github.com/flowdeck/pulse/pkg/correlate"
	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/progress"
	"github.com/flowdeck/pulse/pkg/store"
	"github.com/flowdeck/pulse/pkg/views"
)

// Engine is the single ingestion entry point and the owner of all derived
// state. Ingest is fire-and-forget: resolution and aggregation are observed
// through the Views selectors or job handles, never as return values.
type Engine struct {
	Store    *store.Store
	Resolver *correlate.Resolver
	Progress *progress.Aggregator
	Views    *views.Views

	cfg     config.Config
	logger  *slog.Logger
	sweeper *cron.Cron
	cancels []func()
}

func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := store.New(logger)
	resolver := correlate.New(
		correlate.WithTimeout(cfg.JobTimeout.Std()),
		correlate.WithLogger(logger),
	)
	aggregator := progress.New(logger)

	e := &Engine{
		Store:    s,
		Resolver: resolver,
		Progress: aggregator,
		Views:    views.New(s, aggregator),
		cfg:      cfg,
		logger:   logger.With("module", "engine"),
	}

	// The aggregator folds before the resolver scans, so a job resolving on
	// a run-terminal event observes the already-final run state.
	e.cancels = append(e.cancels, aggregator.Bind(s), resolver.Bind(s))

	if cfg.RunRetention > 0 {
		e.sweeper = cron.New()

		_, err := e.sweeper.AddFunc(cfg.SweepSchedule, e.sweep)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
	}

	return e, nil
}

// Ingest is the transport-facing entry point. Never fails, never blocks on
// consumer work beyond the synchronous fold.
func (e *Engine) Ingest(evt events.Event) {
	e.Store.Ingest(evt)
}

// IngestEnvelope ingests a raw {type, data} envelope.
func (e *Engine) IngestEnvelope(eventType string, data events.Payload) {
	e.Store.Ingest(events.New(eventType, data))
}

// Hydrate replaces all engine state from a replayed event history.
func (e *Engine) Hydrate(history []events.Event) {
	e.Store.ReplaceAll(history)
}

// Start launches the retention sweeper, when configured.
func (e *Engine) Start() {
	if e.sweeper != nil {
		e.sweeper.Start()
		e.logger.Info("retention sweep scheduled",
			"schedule", e.cfg.SweepSchedule,
			"retention", e.cfg.RunRetention.Std(),
		)
	}
}

// Close stops the sweeper and detaches the derived components from the
// store's change feed.
func (e *Engine) Close() {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}

	for _, cancel := range e.cancels {
		cancel()
	}
}

func (e *Engine) sweep() {
	e.Progress.Sweep(time.Now().UTC().Add(-e.cfg.RunRetention.Std()))
}
