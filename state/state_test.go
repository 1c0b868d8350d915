package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/pizzawatch/snapshot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
}

func sampleSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		ThreatLevel:   4,
		ThreatLabel:   snapshot.String("DOUBLE TAKE"),
		NoveltyStatus: snapshot.String("NOTHING EVER HAPPENS"),
		Stores: []snapshot.Store{
			{Name: "DOMINO'S PIZZA", Status: snapshot.StatusOpen, ActivityPercent: snapshot.Float(20), Distance: snapshot.String("1.4 mi")},
			{Name: "EXTREME PIZZA", Status: snapshot.StatusBusy},
		},
	}
}

func newFileStore(t *testing.T, path string) *Store {
	t.Helper()
	return New(context.Background(), NewFile(path), WithLogger(quietLogger()), WithClock(fixedClock))
}

func TestFirstRunWhenFileMissing(t *testing.T) {
	s := newFileStore(t, filepath.Join(t.TempDir(), "state.json"))

	if !s.IsFirstRun() {
		t.Fatal("expected first run")
	}
	if _, ok := s.PreviousThreatLevel(); ok {
		t.Fatal("expected no previous level")
	}
	if _, ok := s.PreviousNoveltyStatus(); ok {
		t.Fatal("expected no previous novelty status")
	}
	if s.PreviousStores() != nil {
		t.Fatal("expected nil store map")
	}
}

func TestSaveThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := newFileStore(t, path)
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	reloaded := newFileStore(t, path)
	if reloaded.IsFirstRun() {
		t.Fatal("expected loaded state")
	}
	if lvl, ok := reloaded.PreviousThreatLevel(); !ok || lvl != 4 {
		t.Fatalf("level = %d %v, want 4", lvl, ok)
	}
	if nehi, ok := reloaded.PreviousNoveltyStatus(); !ok || nehi != "NOTHING EVER HAPPENS" {
		t.Fatalf("nehi = %q %v", nehi, ok)
	}
	stores := reloaded.PreviousStores()
	if len(stores) != 2 {
		t.Fatalf("stores = %d, want 2", len(stores))
	}
	dom := stores["DOMINO'S PIZZA"]
	if dom.Status != snapshot.StatusOpen || dom.ActivityPercent == nil || *dom.ActivityPercent != 20 {
		t.Fatalf("unexpected store record %+v", dom)
	}
	if stores["EXTREME PIZZA"].ActivityPercent != nil {
		t.Fatal("absent activity must stay absent")
	}
	if ts, ok := reloaded.LastUpdated(); !ok || !ts.Equal(fixedClock()) {
		t.Fatalf("last updated = %v %v", ts, ok)
	}
}

func TestSaveAdvancesInMemory(t *testing.T) {
	s := newFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if s.IsFirstRun() {
		t.Fatal("save must end the first run")
	}

	next := sampleSnapshot()
	next.ThreatLevel = 2
	if err := s.Save(context.Background(), next); err != nil {
		t.Fatal(err)
	}
	if lvl, _ := s.PreviousThreatLevel(); lvl != 2 {
		t.Fatalf("level = %d, want 2", lvl)
	}
}

func TestCorruptFileIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newFileStore(t, path)
	if !s.IsFirstRun() {
		t.Fatal("corrupt file must be treated as first run")
	}
}

func TestNullFileIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("null"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !newFileStore(t, path).IsFirstRun() {
		t.Fatal("null document must be treated as first run")
	}
}

func TestLegacyStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{
  "doughcon_level": 3,
  "doughcon_label": null,
  "doughcon_description": null,
  "stores": [
    {"name": "PIZZATO PIZZA", "status": "busy", "activity_percent": null, "distance": "2.0 mi"},
    {"name": "WE, THE PIZZA"}
  ],
  "last_updated": "2025-03-01T09:30:15.123456"
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newFileStore(t, path)
	if lvl, ok := s.PreviousThreatLevel(); !ok || lvl != 3 {
		t.Fatalf("level = %d %v, want 3", lvl, ok)
	}
	if _, ok := s.PreviousNoveltyStatus(); ok {
		t.Fatal("legacy file carries no novelty status")
	}
	stores := s.PreviousStores()
	if stores["PIZZATO PIZZA"].Status != snapshot.StatusBusy {
		t.Fatalf("status not normalised: %q", stores["PIZZATO PIZZA"].Status)
	}
	if stores["WE, THE PIZZA"].Status != snapshot.StatusUnknown {
		t.Fatalf("missing status should default to UNKNOWN, got %q", stores["WE, THE PIZZA"].Status)
	}
	got, ok := s.LastUpdated()
	if !ok {
		t.Fatal("expected zone-less timestamp to parse")
	}
	// Zone-less values were written as local wall-clock time.
	want := time.Date(2025, 3, 1, 9, 30, 15, 123456000, time.Local)
	if !got.Equal(want) || got.Location() != time.Local {
		t.Fatalf("last_updated = %v (%v), want %v in local time", got, got.Location(), want)
	}
}

func TestRecordWithoutLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"stores": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newFileStore(t, path)
	if s.IsFirstRun() {
		t.Fatal("a record without level is still state")
	}
	if _, ok := s.PreviousThreatLevel(); ok {
		t.Fatal("missing level must be absent, not zero")
	}
}

type failingBackend struct {
	rec      *Record
	readErr  error
	writeErr error
	writes   int
}

func (b *failingBackend) Read(context.Context) (*Record, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	if b.rec == nil {
		return nil, ErrNotFound
	}
	return b.rec, nil
}

func (b *failingBackend) Write(_ context.Context, rec *Record) error {
	b.writes++
	if b.writeErr != nil {
		return b.writeErr
	}
	b.rec = rec
	return nil
}

func (b *failingBackend) Close() error { return nil }

func TestReadErrorIsFirstRun(t *testing.T) {
	b := &failingBackend{readErr: errors.New("disk on fire")}
	s := New(context.Background(), b, WithLogger(quietLogger()))
	if !s.IsFirstRun() {
		t.Fatal("read error must be treated as first run")
	}
}

func TestFailedSaveKeepsPrevious(t *testing.T) {
	level := 4
	b := &failingBackend{rec: &Record{ThreatLevel: &level}}
	s := New(context.Background(), b, WithLogger(quietLogger()))

	b.writeErr = errors.New("read-only filesystem")
	next := sampleSnapshot()
	next.ThreatLevel = 1
	if err := s.Save(context.Background(), next); err == nil {
		t.Fatal("expected save error")
	}
	if lvl, _ := s.PreviousThreatLevel(); lvl != 4 {
		t.Fatalf("failed save advanced state: level = %d", lvl)
	}
}

func TestPreviousStoresIsCopy(t *testing.T) {
	s := newFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	m := s.PreviousStores()
	delete(m, "DOMINO'S PIZZA")
	if _, ok := s.PreviousStores()["DOMINO'S PIZZA"]; !ok {
		t.Fatal("mutating the returned map must not affect the store")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := newFileStore(t, filepath.Join(dir, "state.json"))
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestWriteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")
	s := newFileStore(t, path)
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
