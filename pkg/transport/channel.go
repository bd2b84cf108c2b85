package transport

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowdeck/pulse/pkg/channels/gochannel"
	"github.com/flowdeck/pulse/pkg/channels/kafka"
)

// NewChannel builds the push channel for the configured provider.
func NewChannel(provider, serviceName string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, nil, err
		}

		return pub, sub, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, serviceName)
		if err != nil {
			return nil, nil, err
		}

		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport provider: %s", provider)
	}
}
