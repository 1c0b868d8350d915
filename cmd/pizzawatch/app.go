package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pizzawatch/config"
	"github.com/hazyhaar/pizzawatch/detector"
	"github.com/hazyhaar/pizzawatch/monitor"
	"github.com/hazyhaar/pizzawatch/notify"
	"github.com/hazyhaar/pizzawatch/scraper"
	"github.com/hazyhaar/pizzawatch/state"
)

// clock is shared by every component that stamps times.
var clock = time.Now

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	scraper  *scraper.Scraper
	store    *state.Store
	dispatch notify.Dispatcher
	monitor  *monitor.Monitor
}

func newScraper(cfg *config.Config, logger *slog.Logger) *scraper.Scraper {
	return scraper.New(scraper.Config{
		URL:              cfg.TargetURL,
		Timeout:          cfg.RequestTimeout(),
		Mode:             cfg.Mode(),
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
	}, scraper.WithLogger(logger), scraper.WithClock(clock))
}

func newBackend(cfg *config.Config) (state.Backend, error) {
	switch cfg.StateBackend {
	case "sqlite":
		return state.OpenSQLite(cfg.StateFile)
	default:
		return state.NewFile(cfg.StateFile), nil
	}
}

// newDispatcher returns Stdout for dry runs, Discord otherwise, and a
// Router over both when echo_stdout is set.
func newDispatcher(cfg *config.Config, logger *slog.Logger, stdout io.Writer) notify.Dispatcher {
	if cfg.DryRun {
		logger.Info("pizzawatch: dry run, notifications go to stdout")
		return notify.NewStdout(stdout, notify.WithStdoutClock(clock))
	}
	discord := notify.NewDiscord(cfg.WebhookURL,
		notify.WithPalette(notify.Palette{
			Colors:       cfg.DoughconColors,
			Descriptions: cfg.DoughconDescriptions,
		}),
		notify.WithDiscordLogger(logger),
		notify.WithDiscordClock(clock),
	)
	if !cfg.EchoStdout {
		return discord
	}
	logger.Info("pizzawatch: echoing notifications to stdout")
	return notify.NewRouter(logger, discord, notify.NewStdout(stdout, notify.WithStdoutClock(clock)))
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("pizzawatch: open state: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		scraper:  newScraper(cfg, logger),
		store:    state.New(ctx, backend, state.WithLogger(logger), state.WithClock(clock)),
		dispatch: newDispatcher(cfg, logger, os.Stdout),
	}
	det := detector.New(a.store,
		detector.WithSpikeThreshold(cfg.OrderSpikeThresholdPercent),
		detector.WithLogger(logger))
	a.monitor = monitor.New(a.scraper, a.store, det, a.dispatch,
		monitor.WithInterval(cfg.PollingInterval()),
		monitor.WithStartupNotification(cfg.SendStartupNotification),
		monitor.WithLogger(logger),
		monitor.WithClock(clock))

	logger.Debug("pizzawatch: pipeline ready",
		"mode", cfg.Mode(),
		"state_backend", cfg.StateBackend,
		"spike_threshold_percent", det.SpikeThreshold())
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.scraper.Close(), a.dispatch.Close(), a.store.Close())
}

func runDaemon(cmd *cobra.Command, g *globals) error {
	cfg, logger, err := g.load(cmd, true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger.Info("pizzawatch: starting",
		"target", cfg.TargetURL,
		"polling_interval", cfg.PollingInterval(),
		"state_backend", cfg.StateBackend,
		"dry_run", cfg.DryRun)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("pizzawatch: cleanup", "error", err)
		}
		logger.Info("pizzawatch: goodbye 🍕")
	}()

	if cfg.StatusAddr != "" {
		stopStatus := serveStatus(ctx, cfg.StatusAddr, a.monitor.Handler(), logger)
		defer stopStatus()
	}

	return a.monitor.Run(ctx)
}

// serveStatus runs the status endpoints until the returned func is called.
func serveStatus(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		logger.Info("pizzawatch: status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pizzawatch: status server", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("pizzawatch: status server shutdown", "error", err)
		}
	}
}

func runOnce(cmd *cobra.Command, g *globals) error {
	cfg, logger, err := g.load(cmd, true)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.monitor.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runScrape(cmd *cobra.Command, g *globals) error {
	cfg, logger, err := g.load(cmd, false)
	if err != nil {
		return err
	}
	s := newScraper(cfg, logger)
	defer s.Close()

	snap, err := s.Fetch(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), snap)
}

func runTestAlert(cmd *cobra.Command, g *globals) error {
	cfg, logger, err := g.load(cmd, true)
	if err != nil {
		return err
	}
	d := newDispatcher(cfg, logger, cmd.OutOrStdout())
	defer d.Close()

	if err := d.Test(cmd.Context()); err != nil {
		return fmt.Errorf("pizzawatch: test notification: %w", err)
	}
	logger.Info("pizzawatch: test notification sent")
	return nil
}

func newIndentEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}
