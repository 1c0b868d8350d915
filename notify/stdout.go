package notify

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout). Used for
// dry runs.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// StdoutOption configures a Stdout dispatcher.
type StdoutOption func(*Stdout)

// WithStdoutClock sets the clock stamped on test envelopes.
func WithStdoutClock(now func() time.Time) StdoutOption {
	return func(s *Stdout) { s.now = now }
}

// NewStdout creates a Stdout dispatcher. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, opts ...StdoutOption) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	s := &Stdout{enc: json.NewEncoder(w), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type alertsMessage struct {
	Alerts   []alert.Alert     `json:"alerts"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
}

func (s *Stdout) Dispatch(_ context.Context, alerts []alert.Alert, snap snapshot.Snapshot) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	if err := s.write("alerts", alertsMessage{Alerts: alerts, Snapshot: snap}); err != nil {
		return 0, err
	}
	return len(alerts), nil
}

func (s *Stdout) Startup(_ context.Context, snap snapshot.Snapshot) error {
	return s.write("startup", snap)
}

func (s *Stdout) Test(_ context.Context) error {
	return s.write("test", map[string]string{"sent_at": s.now().UTC().Format(time.RFC3339)})
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(envelope{Type: typ, Data: data}); err != nil {
		return &SendError{Dispatcher: "stdout", Cause: err}
	}
	return nil
}
