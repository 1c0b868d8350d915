// Package state persists the most recent snapshot between polling cycles
// and across restarts. It is the only source of "previous" values for the
// change detector.
//
// The backend is read once, when the Store is created. From then on the
// previous snapshot lives in memory and only advances on a successful Save.
// Load failures are never returned: a missing or corrupt backend means
// "first run", logged and carried on with.
package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pizzawatch/snapshot"
)

// ErrNotFound is returned by a Backend that holds no state yet.
var ErrNotFound = errors.New("state: not found")

// Backend stores exactly one Record.
type Backend interface {
	Read(ctx context.Context) (*Record, error)
	Write(ctx context.Context, rec *Record) error
	Close() error
}

// Store holds the previous snapshot for the detector.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	prev *Record
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for last_updated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store and loads the previous state from b.
func New(ctx context.Context, b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	rec, err := s.backend.Read(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info("state: no previous state found, starting fresh")
		return
	case err != nil:
		s.logger.Warn("state: failed to load state, treating as first run", "error", err)
		return
	}
	rec.normalize()

	s.mu.Lock()
	s.prev = rec
	s.mu.Unlock()

	attrs := []any{"stores", len(rec.Stores)}
	if rec.ThreatLevel != nil {
		attrs = append(attrs, "doughcon_level", *rec.ThreatLevel)
	}
	if !rec.LastUpdated.IsZero() {
		attrs = append(attrs, "last_updated", rec.LastUpdated.Time)
	}
	s.logger.Info("state: loaded previous state", attrs...)
}

// IsFirstRun reports whether no valid state was loaded or saved yet.
func (s *Store) IsFirstRun() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prev == nil
}

// PreviousThreatLevel returns the last saved threat level.
func (s *Store) PreviousThreatLevel() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prev == nil || s.prev.ThreatLevel == nil {
		return 0, false
	}
	return *s.prev.ThreatLevel, true
}

// PreviousNoveltyStatus returns the last saved Nothing Ever Happens Index status.
func (s *Store) PreviousNoveltyStatus() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prev == nil {
		return "", false
	}
	return snapshot.Deref(s.prev.NoveltyStatus)
}

// PreviousStores returns the last saved stores keyed by exact name, or nil
// when there is no state. The map is a fresh copy.
func (s *Store) PreviousStores() map[string]StoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prev == nil {
		return nil
	}
	m := make(map[string]StoreRecord, len(s.prev.Stores))
	for _, st := range s.prev.Stores {
		m[st.Name] = st
	}
	return m
}

// LastUpdated returns when the previous state was saved, if known.
func (s *Store) LastUpdated() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prev == nil || s.prev.LastUpdated.IsZero() {
		return time.Time{}, false
	}
	return s.prev.LastUpdated.Time, true
}

// Current returns a copy of the previous record.
func (s *Store) Current() (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prev == nil {
		return nil, false
	}
	return s.prev.clone(), true
}

// Save persists snap with a fresh timestamp. The in-memory previous state
// advances only when the write succeeds. A failed write is logged and
// returned so callers can count it; it must not abort the cycle.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	rec := recordFrom(snap, s.now())
	if err := s.backend.Write(ctx, rec); err != nil {
		s.logger.Error("state: failed to save state", "error", err)
		return err
	}

	s.mu.Lock()
	s.prev = rec
	s.mu.Unlock()

	s.logger.Debug("state: saved state", "doughcon_level", snap.ThreatLevel, "stores", len(snap.Stores))
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
