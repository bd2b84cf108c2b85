// Package main provides the pulse gateway: it consumes the server's push
// channel, feeds the correlation and progress engine, and serves the
// subscriber API to UI consumers.
package main

import (
	"context"
	"os"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/flowdeck/pulse/pkg/config"
	"github.com/flowdeck/pulse/pkg/engine"
	"github.com/flowdeck/pulse/pkg/log"
	"github.com/flowdeck/pulse/pkg/otelhelper"
	"github.com/flowdeck/pulse/pkg/transport"
	"github.com/flowdeck/pulse/pkg/web"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("gateway")

	cmd := &cli.Command{
		Name:                  "pulse-gateway",
		Usage:                 "Run the event correlation and progress gateway",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to serve the subscriber API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("PULSE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("PULSE_TRACING"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Pulse gateway")

			cfg, err := config.LoadOrDefault(command.String("config"))
			if err != nil {
				return err
			}

			if command.Bool("tracing") {
				_, err = otelhelper.NewTracer(ctx, "pulse-gateway")
				if err != nil {
					logger.WarnContext(ctx, "Tracing disabled", "error", err)
				}
			}

			eng, err := engine.New(cfg, logger)
			if err != nil {
				return err
			}

			defer eng.Close()

			if cfg.Replay.RedisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.Replay.RedisAddr})
				replayer := transport.NewReplayer(client, cfg.Replay.Key, logger)

				count, err := replayer.Replay(ctx, eng)
				if err != nil {
					logger.WarnContext(ctx, "Replay hydration failed", "error", err)
				} else {
					logger.InfoContext(ctx, "Hydrated from replay history", "events", count)
				}
			}

			_, subscriber, err := transport.NewChannel(cfg.Transport.Provider, "pulse-gateway", logger)
			if err != nil {
				return err
			}

			bridge := transport.NewBridge(subscriber, eng, cfg.Transport.Topic, logger)
			if err := bridge.Run(ctx); err != nil {
				return err
			}

			eng.Start()

			handlers := web.NewHandlers(eng, logger)

			return handlers.App().Listen(":" + strconv.Itoa(command.Int("port")))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Gateway exited with error", "error", err)
		os.Exit(1)
	}
}
