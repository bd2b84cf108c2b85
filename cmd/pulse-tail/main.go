// Package main provides pulse-tail, a terminal follower that consumes the
// push channel and prints run progress as it advances. Useful for watching a
// workflow execution without the console UI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/flowdeck/pulse/pkg/config"
	"github.com/flowdeck/pulse/pkg/engine"
	"github.com/flowdeck/pulse/pkg/log"
	"github.com/flowdeck/pulse/pkg/progress"
	"github.com/flowdeck/pulse/pkg/transport"
)

func main() {
	logger := log.WithModule("tail")

	cmd := &cli.Command{
		Name:                  "pulse-tail",
		Usage:                 "Follow run progress from the push channel",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("PULSE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Only print the run with this id",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Refresh interval",
				Value: time.Second,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			cfg, err := config.LoadOrDefault(command.String("config"))
			if err != nil {
				return err
			}

			eng, err := engine.New(cfg, logger)
			if err != nil {
				return err
			}

			defer eng.Close()

			_, subscriber, err := transport.NewChannel(cfg.Transport.Provider, "pulse-tail", logger)
			if err != nil {
				return err
			}

			bridge := transport.NewBridge(subscriber, eng, cfg.Transport.Topic, logger)
			if err := bridge.Run(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return follow(ctx, eng, command.String("run"), command.Duration("interval"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Tail exited with error", "error", err)
		os.Exit(1)
	}
}

// follow prints a line per run whenever its snapshot changes.
func follow(ctx context.Context, eng *engine.Engine, onlyRun string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	printed := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runs := eng.Views.SelectRuns()
			sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })

			for _, rs := range runs {
				if onlyRun != "" && rs.RunID != onlyRun {
					continue
				}

				line := formatRun(rs)
				if printed[rs.RunID] == line {
					continue
				}

				printed[rs.RunID] = line
				fmt.Println(line)
			}
		}
	}
}

func formatRun(rs progress.RunState) string {
	bar := "?"
	if fraction, ok := rs.Fraction(); ok {
		bar = fmt.Sprintf("%3.0f%%", fraction*100)
	}

	line := fmt.Sprintf("run %s  %-9s %s  steps %d/%d  nodes %d",
		rs.RunID, rs.Status, bar, rs.CompletedSteps, rs.TotalSteps, len(rs.Nodes))

	if rs.NeedsHumanConfirm {
		line += "  [action required: " + rs.BlockedNodeID + "]"
	}

	if rs.Error != "" {
		line += "  error: " + rs.Error
	}

	return line
}
