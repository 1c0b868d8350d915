// Command pizzawatch watches the pizza index and posts changes to Discord.
//
// Usage:
//
//	pizzawatch                       # same as "pizzawatch run"
//	pizzawatch run -c config.yaml    # polling daemon
//	pizzawatch once                  # one cycle, print alerts as JSON
//	pizzawatch scrape                # print the current snapshot
//	pizzawatch test-alert            # send a test message to the webhook
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pizzawatch/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("pizzawatch: fatal", "error", err)
		stop()
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	dryRun     bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "pizzawatch",
		Short:         "Pizza index monitor with Discord alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, g)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: json, text, tint")
	pf.BoolVar(&g.dryRun, "dry-run", false, "print notifications to stdout instead of Discord")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the polling loop until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDaemon(cmd, g)
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single cycle and print the result as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd, g)
			},
		},
		&cobra.Command{
			Use:   "scrape",
			Short: "Fetch the page and print the snapshot as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScrape(cmd, g)
			},
		},
		&cobra.Command{
			Use:   "test-alert",
			Short: "Send a test notification to verify the webhook",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTestAlert(cmd, g)
			},
		},
	)
	return root
}

// load reads the configuration and applies flag overrides. When validate
// is set the configuration must be complete.
func (g *globals) load(cmd *cobra.Command, validate bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = g.dryRun
	}

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger := newLogger(os.Stderr, cfg.LogFormat, cfg.Level())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds the slog handler selected by format.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	default:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		}))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := newIndentEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("pizzawatch: encode output: %w", err)
	}
	return nil
}
