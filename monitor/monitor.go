// Package monitor runs the polling loop: fetch, detect, notify, persist.
//
// A cycle never aborts half-way because of shutdown. It runs on a context
// detached from cancellation and bounded by the cycle timeout, so a
// SIGTERM during a cycle lets it dispatch and save before Run returns.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/detector"
	"github.com/hazyhaar/pizzawatch/notify"
	"github.com/hazyhaar/pizzawatch/snapshot"
	"github.com/hazyhaar/pizzawatch/state"
)

// DefaultInterval is the wait between cycles.
const DefaultInterval = 5 * time.Minute

// Fetcher produces the current snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	ID        string             `json:"cycle_id"`
	Snapshot  *snapshot.Snapshot `json:"snapshot,omitempty"`
	Alerts    []alert.Alert      `json:"alerts"`
	Delivered int                `json:"delivered"`
	Saved     bool               `json:"saved"`
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles          int64     `json:"cycles"`
	FetchErrors     int64     `json:"fetch_errors"`
	AlertsDetected  int64     `json:"alerts_detected"`
	AlertsDelivered int64     `json:"alerts_delivered"`
	DispatchErrors  int64     `json:"dispatch_errors"`
	SaveErrors      int64     `json:"save_errors"`
	Panics          int64     `json:"panics"`
	LastCycle       time.Time `json:"last_cycle,omitzero"`
	LastThreatLevel int       `json:"last_doughcon_level,omitempty"`
}

// Monitor wires the pipeline together.
type Monitor struct {
	fetcher  Fetcher
	state    *state.Store
	detector *detector.Detector
	dispatch notify.Dispatcher

	interval     time.Duration
	cycleTimeout time.Duration
	startup      bool
	logger       *slog.Logger
	now          func() time.Time

	cycles          atomic.Int64
	fetchErrors     atomic.Int64
	alertsDetected  atomic.Int64
	alertsDelivered atomic.Int64
	dispatchErrors  atomic.Int64
	saveErrors      atomic.Int64
	panics          atomic.Int64
	lastCycle       atomic.Int64 // unix nanos
	lastLevel       atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the wait between cycles. Default: 5m.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithCycleTimeout bounds one cycle. Default: the interval capped at 5m,
// never below 1m.
func WithCycleTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.cycleTimeout = d }
}

// WithStartupNotification toggles the baseline message sent by Run.
// Default: true.
func WithStartupNotification(on bool) Option {
	return func(m *Monitor) { m.startup = on }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock sets the clock used for stats.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor.
func New(f Fetcher, st *state.Store, det *detector.Detector, d notify.Dispatcher, opts ...Option) *Monitor {
	m := &Monitor{
		fetcher:  f,
		state:    st,
		detector: det,
		dispatch: d,
		interval: DefaultInterval,
		startup:  true,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.cycleTimeout <= 0 {
		m.cycleTimeout = min(max(m.interval, time.Minute), 5*time.Minute)
	}
	return m
}

// Run performs the startup cycle, then one cycle per interval until ctx is
// cancelled. Cancellation is observed only between cycles. Failed cycles
// are logged and counted; Run returns nil on shutdown.
func (m *Monitor) Run(ctx context.Context) error {
	log := m.logger
	log.Info("monitor: starting", "interval", m.interval, "cycle_timeout", m.cycleTimeout)

	if _, err := m.cycle(ctx, true); err != nil {
		log.Warn("monitor: startup cycle failed", "error", err)
	} else if !m.state.IsFirstRun() {
		if lvl, ok := m.state.PreviousThreatLevel(); ok {
			log.Info("monitor: initial state captured", "doughcon_level", lvl)
		}
	}

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		log.Debug("monitor: sleeping", "interval", m.interval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}

		if _, err := m.cycle(ctx, false); err != nil {
			log.Warn("monitor: cycle failed", "error", err)
		}
		timer.Reset(m.interval)
	}

	log.Info("monitor: stopped", "cycles", m.cycles.Load())
	return nil
}

// RunOnce performs a single cycle without the startup notification.
func (m *Monitor) RunOnce(ctx context.Context) (CycleResult, error) {
	return m.cycle(ctx, false)
}

func (m *Monitor) cycle(parent context.Context, startup bool) (res CycleResult, err error) {
	res.ID = newCycleID()
	log := m.logger.With("cycle_id", res.ID)

	m.cycles.Add(1)
	m.lastCycle.Store(m.now().UnixNano())

	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			log.Error("monitor: cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("monitor: cycle %s panicked: %v", res.ID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.cycleTimeout)
	defer cancel()

	snap, err := m.fetcher.Fetch(ctx)
	if err != nil {
		m.fetchErrors.Add(1)
		log.Error("monitor: failed to fetch pizza data", "error", err)
		return res, fmt.Errorf("monitor: fetch: %w", err)
	}
	res.Snapshot = snap
	m.lastLevel.Store(int64(snap.ThreatLevel))

	if startup && m.startup {
		if err := m.dispatch.Startup(ctx, *snap); err != nil {
			log.Warn("monitor: startup notification failed", "error", err)
		}
	}

	alerts := m.detector.Detect(*snap)
	res.Alerts = alerts
	m.alertsDetected.Add(int64(len(alerts)))

	if len(alerts) > 0 {
		log.Info("monitor: changes detected, sending alerts", "alerts", len(alerts))
		sent, err := m.dispatch.Dispatch(ctx, alerts, *snap)
		res.Delivered = sent
		m.alertsDelivered.Add(int64(sent))
		if err != nil {
			m.dispatchErrors.Add(1)
			log.Error("monitor: dispatch failed", "error", err)
		}
		log.Info("monitor: alerts sent", "sent", sent, "total", len(alerts))
	} else {
		log.Debug("monitor: no changes detected")
	}

	if err := m.state.Save(ctx, *snap); err != nil {
		m.saveErrors.Add(1)
	} else {
		res.Saved = true
	}
	return res, nil
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	s := Stats{
		Cycles:          m.cycles.Load(),
		FetchErrors:     m.fetchErrors.Load(),
		AlertsDetected:  m.alertsDetected.Load(),
		AlertsDelivered: m.alertsDelivered.Load(),
		DispatchErrors:  m.dispatchErrors.Load(),
		SaveErrors:      m.saveErrors.Load(),
		Panics:          m.panics.Load(),
		LastThreatLevel: int(m.lastLevel.Load()),
	}
	if ns := m.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns).UTC()
	}
	return s
}

// newCycleID returns a time-ordered UUIDv7.
func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
