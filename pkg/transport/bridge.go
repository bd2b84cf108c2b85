// Package transport bridges the external push channel into the engine: a
// watermill subscriber delivers raw {type, data} envelopes and the bridge
// hands them to the engine's ingest entry point. Connection lifecycle,
// reconnection and authentication belong to the channel implementation, not
// to the engine.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/otelhelper"
)

// Sink is the engine-side ingestion entry point.
type Sink interface {
	Ingest(evt events.Event)
}

// Envelope is the wire shape of one push message.
type Envelope struct {
	Type string         `json:"type"`
	Data events.Payload `json:"data"`
}

// Bridge consumes envelopes from a subscriber and feeds them to the sink.
type Bridge struct {
	subscriber message.Subscriber
	sink       Sink
	topic      string
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewBridge(subscriber message.Subscriber, sink Sink, topic string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		subscriber: subscriber,
		sink:       sink,
		topic:      topic,
		logger:     logger.With("module", "transport"),
		// No-op until a tracer provider is registered.
		tracer: otel.Tracer("pulse.transport"),
	}
}

// Run subscribes to the topic and pumps messages until the context is
// cancelled. Messages that are not JSON envelopes are acked and dropped with
// a log line: they are transport garbage, not events. Envelopes with odd
// type tags still ingest; classification is the store's job.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
			_, span := otelhelper.StartSpan(msgCtx, b.tracer, "transport.bridge consume",
				attribute.String("message.id", msg.UUID),
			)

			var envelope Envelope

			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				b.logger.WarnContext(ctx, "dropping non-envelope message",
					"message_id", msg.UUID,
					"error", err,
				)
				otelhelper.SetError(span, err)
				span.End()
				msg.Ack()

				continue
			}

			evt := events.New(envelope.Type, envelope.Data)
			span.SetAttributes(
				attribute.String(otelhelper.EventTypeKey, string(evt.Type)),
				attribute.String(otelhelper.RunIDKey, evt.Data.RunID()),
			)

			b.sink.Ingest(evt)
			span.End()
			msg.Ack()
		}
	}()

	return nil
}

// Publish sends one envelope through a watermill publisher. Used by the dev
// tooling and tests; production events come from the server side.
func Publish(publisher message.Publisher, topic string, eventType events.EventType, data events.Payload) error {
	payload, err := json.Marshal(Envelope{Type: string(eventType), Data: data})
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(eventType))

	return publisher.Publish(topic, msg)
}
