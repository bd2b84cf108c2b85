package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/flowdeck/pulse/pkg/events"
)

// Hydrator is the engine-side bulk rehydration entry point.
type Hydrator interface {
	Hydrate(history []events.Event)
}

// Replayer loads an event history from a redis list of envelope JSON and
// feeds it to the engine in one ReplaceAll, e.g. after a reconnect. Entries
// that fail to parse are skipped, not fatal: a single bad record must not
// block rehydration.
type Replayer struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

func NewReplayer(client redis.UniversalClient, key string, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Replayer{
		client: client,
		key:    key,
		logger: logger.With("module", "replay"),
	}
}

// Load reads the full history list in stored order.
func (r *Replayer) Load(ctx context.Context) ([]events.Event, error) {
	entries, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read replay list %s: %w", r.key, err)
	}

	history := make([]events.Event, 0, len(entries))
	skipped := 0

	for _, entry := range entries {
		var envelope Envelope

		if err := json.Unmarshal([]byte(entry), &envelope); err != nil {
			skipped++

			continue
		}

		history = append(history, events.New(envelope.Type, envelope.Data))
	}

	if skipped > 0 {
		r.logger.WarnContext(ctx, "skipped unparseable replay entries",
			"key", r.key,
			"skipped", skipped,
		)
	}

	return history, nil
}

// Replay loads the history and hydrates the engine.
func (r *Replayer) Replay(ctx context.Context, sink Hydrator) (int, error) {
	history, err := r.Load(ctx)
	if err != nil {
		return 0, err
	}

	sink.Hydrate(history)
	r.logger.InfoContext(ctx, "replayed event history", "key", r.key, "events", len(history))

	return len(history), nil
}
