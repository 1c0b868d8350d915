// Package detector compares the current snapshot against the previous one
// held by the state store and derives the alerts for one polling cycle.
//
// Detection is pure with respect to its inputs: it reads previous values
// and never writes them, so calling Detect twice on the same input yields
// the same alerts.
package detector

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
	"github.com/hazyhaar/pizzawatch/state"
)

// DefaultSpikeThreshold is the activity increase, in percentage points,
// that raises an ORDER_SPIKE.
const DefaultSpikeThreshold = 30.0

// Previous is the read side of the state store.
type Previous interface {
	IsFirstRun() bool
	PreviousThreatLevel() (int, bool)
	PreviousNoveltyStatus() (string, bool)
	PreviousStores() map[string]state.StoreRecord
}

// Detector derives alerts from snapshot changes.
type Detector struct {
	prev      Previous
	threshold float64
	logger    *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithSpikeThreshold sets the ORDER_SPIKE threshold. Default: 30.0.
func WithSpikeThreshold(pct float64) Option {
	return func(d *Detector) { d.threshold = pct }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a Detector reading previous values from prev.
func New(prev Previous, opts ...Option) *Detector {
	d := &Detector{
		prev:      prev,
		threshold: DefaultSpikeThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SpikeThreshold returns the configured threshold.
func (d *Detector) SpikeThreshold() float64 { return d.threshold }

// Detect returns the alerts for snap, in order: threat level, novelty
// status, then per store (status before spike) in snapshot order. The
// result is empty on the first run.
func (d *Detector) Detect(snap snapshot.Snapshot) []alert.Alert {
	if d.prev.IsFirstRun() {
		d.logger.Info("detector: first run, no previous state to compare")
		return nil
	}

	var alerts []alert.Alert
	if a, ok := d.threatLevel(snap); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.noveltyStatus(snap); ok {
		alerts = append(alerts, a)
	}
	alerts = append(alerts, d.stores(snap)...)
	return alerts
}

func (d *Detector) threatLevel(snap snapshot.Snapshot) (alert.Alert, bool) {
	prev, ok := d.prev.PreviousThreatLevel()
	if !ok {
		return alert.Alert{}, false
	}
	curr := snap.ThreatLevel

	a := alert.Alert{
		PreviousValue: strconv.Itoa(prev),
		CurrentValue:  strconv.Itoa(curr),
		ThreatLevel:   curr,
	}
	switch {
	case curr < prev:
		// Lower number is the higher alert.
		d.logger.Warn("detector: DOUGHCON escalation", "previous", prev, "current", curr)
		a.Type = alert.DoughconEscalation
		a.Details = fmt.Sprintf("Threat level rose from %d to %d", prev, curr)
	case curr > prev:
		d.logger.Info("detector: DOUGHCON de-escalation", "previous", prev, "current", curr)
		a.Type = alert.DoughconDeescalation
		a.Details = fmt.Sprintf("Threat level fell from %d to %d", prev, curr)
	default:
		return alert.Alert{}, false
	}
	return a, true
}

func (d *Detector) noveltyStatus(snap snapshot.Snapshot) (alert.Alert, bool) {
	prev, ok := d.prev.PreviousNoveltyStatus()
	if !ok {
		return alert.Alert{}, false
	}
	curr, ok := snapshot.Deref(snap.NoveltyStatus)
	if !ok {
		return alert.Alert{}, false
	}
	if foldStatus(prev) == foldStatus(curr) {
		return alert.Alert{}, false
	}

	d.logger.Info("detector: NEHI change", "previous", prev, "current", curr)
	return alert.Alert{
		Type:          alert.NEHIChange,
		PreviousValue: prev,
		CurrentValue:  curr,
		ThreatLevel:   snap.ThreatLevel,
		Details:       fmt.Sprintf("Nothing Ever Happens Index changed from '%s' to '%s'", prev, curr),
	}, true
}

// foldStatus is the equality key for novelty statuses.
func foldStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (d *Detector) stores(snap snapshot.Snapshot) []alert.Alert {
	previous := d.prev.PreviousStores()
	var alerts []alert.Alert

	for _, st := range snap.Stores {
		prev, ok := previous[st.Name]
		if !ok {
			// New store: its first observed status never alerts.
			continue
		}
		if a, ok := d.busyChange(snap, st, prev); ok {
			alerts = append(alerts, a)
		}
		if a, ok := d.activitySpike(snap, st, prev); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// busyChange fires only on transitions into or out of BUSY. OPEN<->CLOSED
// and other non-BUSY pairs stay silent.
func (d *Detector) busyChange(snap snapshot.Snapshot, st snapshot.Store, prev state.StoreRecord) (alert.Alert, bool) {
	if prev.Status == st.Status {
		return alert.Alert{}, false
	}
	if st.Status != snapshot.StatusBusy && prev.Status != snapshot.StatusBusy {
		return alert.Alert{}, false
	}

	var details string
	if st.Status == snapshot.StatusBusy {
		details = fmt.Sprintf("%s became busy", st.Name)
	} else {
		details = fmt.Sprintf("%s is no longer busy (%s → %s)", st.Name, prev.Status, st.Status)
	}

	d.logger.Info("detector: store busy change",
		"store", st.Name, "previous", prev.Status, "current", st.Status)
	return alert.Alert{
		Type:          alert.StoreBusy,
		StoreName:     st.Name,
		PreviousValue: prev.Status.String(),
		CurrentValue:  st.Status.String(),
		ThreatLevel:   snap.ThreatLevel,
		Details:       details,
	}, true
}

// activitySpike compares activity regardless of any status change. The
// threshold is inclusive.
func (d *Detector) activitySpike(snap snapshot.Snapshot, st snapshot.Store, prev state.StoreRecord) (alert.Alert, bool) {
	before, ok := snapshot.Deref(prev.ActivityPercent)
	if !ok {
		return alert.Alert{}, false
	}
	after, ok := snapshot.Deref(st.ActivityPercent)
	if !ok {
		return alert.Alert{}, false
	}
	increase := after - before
	if increase < d.threshold {
		return alert.Alert{}, false
	}

	d.logger.Info("detector: store activity spike",
		"store", st.Name, "previous", before, "current", after, "increase", increase)
	return alert.Alert{
		Type:          alert.OrderSpike,
		StoreName:     st.Name,
		PreviousValue: fmt.Sprintf("%.1f%%", before),
		CurrentValue:  fmt.Sprintf("%.1f%%", after),
		ThreatLevel:   snap.ThreatLevel,
		Details:       fmt.Sprintf("%s activity up %.1f%% (%.1f%% → %.1f%%)", st.Name, increase, before, after),
	}, true
}
