package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

// Router fans out to all dispatchers. One failure does not block the
// others; errors are logged and the first one is returned.
type Router struct {
	ds     []Dispatcher
	logger *slog.Logger
}

// NewRouter creates a fan-out dispatcher.
func NewRouter(logger *slog.Logger, ds ...Dispatcher) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{ds: ds, logger: logger}
}

// Dispatch returns the highest delivered count across dispatchers.
func (r *Router) Dispatch(ctx context.Context, alerts []alert.Alert, snap snapshot.Snapshot) (int, error) {
	var (
		best     int
		firstErr error
	)
	for _, d := range r.ds {
		n, err := d.Dispatch(ctx, alerts, snap)
		if err != nil {
			r.logger.Warn("notify: dispatch failed", "error", err, "delivered", n)
			if firstErr == nil {
				firstErr = err
			}
		}
		best = max(best, n)
	}
	return best, firstErr
}

func (r *Router) Startup(ctx context.Context, snap snapshot.Snapshot) error {
	var firstErr error
	for _, d := range r.ds {
		if err := d.Startup(ctx, snap); err != nil {
			r.logger.Warn("notify: startup failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Test(ctx context.Context) error {
	var firstErr error
	for _, d := range r.ds {
		if err := d.Test(ctx); err != nil {
			r.logger.Warn("notify: test failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var errs []error
	for _, d := range r.ds {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
