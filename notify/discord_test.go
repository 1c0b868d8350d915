package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/sony/gobreaker"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// webhook records every POST and answers with the status chosen by respond.
type webhook struct {
	mu       sync.Mutex
	payloads []payload
	respond  func(n int) int
}

func newWebhook(t *testing.T, respond func(n int) int) (*webhook, *httptest.Server) {
	t.Helper()
	wh := &webhook{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}

		wh.mu.Lock()
		wh.payloads = append(wh.payloads, p)
		n := len(wh.payloads)
		wh.mu.Unlock()

		status := http.StatusNoContent
		if wh.respond != nil {
			status = wh.respond(n)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return wh, srv
}

func (w *webhook) requests() []payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]payload(nil), w.payloads...)
}

func testDiscord(url string, opts ...DiscordOption) *Discord {
	base := []DiscordOption{
		WithDiscordLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDiscordClock(func() time.Time { return fixedNow }),
		WithRetries(0, time.Millisecond, time.Millisecond),
		WithRateLimit(time.Millisecond, 100),
	}
	return NewDiscord(url, append(base, opts...)...)
}

func manyAlerts(n int) []alert.Alert {
	out := make([]alert.Alert, n)
	for i := range out {
		out[i] = alert.Alert{
			Type:        alert.StoreBusy,
			StoreName:   fmt.Sprintf("STORE %d", i),
			ThreatLevel: 3,
			Details:     fmt.Sprintf("STORE %d became busy", i),
		}
	}
	return out
}

func TestDispatchBatches(t *testing.T) {
	wh, srv := newWebhook(t, nil)
	d := testDiscord(srv.URL)

	sent, err := d.Dispatch(context.Background(), manyAlerts(23), snapshot.Snapshot{ThreatLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	if sent != 23 {
		t.Fatalf("sent = %d, want 23", sent)
	}

	reqs := wh.requests()
	var sizes []int
	for _, p := range reqs {
		sizes = append(sizes, len(p.Embeds))
	}
	if diff := cmp.Diff([]int{10, 10, 3}, sizes); diff != "" {
		t.Fatalf("batch sizes (-want +got):\n%s", diff)
	}
}

func TestDispatchFailedBatchDoesNotStopOthers(t *testing.T) {
	wh, srv := newWebhook(t, func(n int) int {
		if n == 2 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})
	d := testDiscord(srv.URL)

	sent, err := d.Dispatch(context.Background(), manyAlerts(23), snapshot.Snapshot{ThreatLevel: 3})
	if sent != 13 {
		t.Fatalf("sent = %d, want 13", sent)
	}
	var se *SendError
	if !errors.As(err, &se) || se.Dispatcher != "discord" {
		t.Fatalf("expected *SendError, got %v", err)
	}
	var st *StatusError
	if !errors.As(err, &st) || st.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 cause, got %v", err)
	}
	if got := len(wh.requests()); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
}

func TestDispatchEmpty(t *testing.T) {
	wh, srv := newWebhook(t, nil)
	d := testDiscord(srv.URL)

	sent, err := d.Dispatch(context.Background(), nil, snapshot.Snapshot{})
	if sent != 0 || err != nil {
		t.Fatalf("Dispatch(nil) = %d, %v", sent, err)
	}
	if len(wh.requests()) != 0 {
		t.Fatal("empty dispatch must not POST")
	}
}

func TestRetryOnServerErrorAndRateLimit(t *testing.T) {
	for _, code := range []int{http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			wh, srv := newWebhook(t, func(n int) int {
				if n < 3 {
					return code
				}
				return http.StatusNoContent
			})
			d := testDiscord(srv.URL, WithRetries(3, time.Millisecond, 5*time.Millisecond))

			if err := d.Test(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := len(wh.requests()); got != 3 {
				t.Fatalf("requests = %d, want 3", got)
			}
		})
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	wh, srv := newWebhook(t, func(int) int { return http.StatusBadRequest })
	d := testDiscord(srv.URL, WithRetries(3, time.Millisecond, 5*time.Millisecond))

	if err := d.Test(context.Background()); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := len(wh.requests()); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestBreakerOpens(t *testing.T) {
	wh, srv := newWebhook(t, func(int) int { return http.StatusInternalServerError })
	d := testDiscord(srv.URL, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if err := d.Test(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}
	err := d.Test(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if got := len(wh.requests()); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestAlertEmbed(t *testing.T) {
	wh, srv := newWebhook(t, nil)
	d := testDiscord(srv.URL, WithPalette(Palette{Descriptions: map[int]string{2: "Next step to maximum readiness"}}))

	a := alert.Alert{
		Type:          alert.DoughconEscalation,
		PreviousValue: "4",
		CurrentValue:  "2",
		ThreatLevel:   2,
		Details:       "Threat level rose from 4 to 2",
	}
	if _, err := d.Dispatch(context.Background(), []alert.Alert{a}, snapshot.Snapshot{ThreatLevel: 2}); err != nil {
		t.Fatal(err)
	}

	want := embed{
		Title:       "🚨 DOUGHCON level raised!",
		Description: "Threat level rose from 4 to 2",
		Color:       0xFF6600,
		Fields: []field{
			{Name: "📊 Change", Value: "`4` → `2`", Inline: true},
			{Name: "🎯 Current DOUGHCON", Value: "**2** - Next step to maximum readiness"},
		},
		Timestamp: "2026-03-01T12:00:00Z",
		Footer:    footer{Text: "Pizza Index Monitor 🍕"},
	}
	reqs := wh.requests()
	if len(reqs) != 1 || len(reqs[0].Embeds) != 1 {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	if diff := cmp.Diff(want, reqs[0].Embeds[0]); diff != "" {
		t.Fatalf("embed mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreEmbedFields(t *testing.T) {
	e := alertEmbed(Palette{}, alert.Alert{
		Type:          alert.OrderSpike,
		StoreName:     "PIZZA HUT",
		PreviousValue: "20.0%",
		CurrentValue:  "55.0%",
		ThreatLevel:   9,
		Details:       "PIZZA HUT activity up 35.0% (20.0% → 55.0%)",
	}, snapshot.Snapshot{}, fixedNow)

	if e.Color != FallbackColor {
		t.Errorf("color = %#x, want fallback", e.Color)
	}
	want := []field{
		{Name: "📊 Change", Value: "`20.0%` → `55.0%`", Inline: true},
		{Name: "🍕 Store", Value: "PIZZA HUT", Inline: true},
		{Name: "🎯 Current DOUGHCON", Value: "**9** - Level 9"},
	}
	if diff := cmp.Diff(want, e.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestStartupEmbed(t *testing.T) {
	snap := snapshot.Snapshot{ThreatLevel: 4}
	statuses := []snapshot.Status{snapshot.StatusOpen, snapshot.StatusClosed, snapshot.StatusBusy, snapshot.StatusUnknown, snapshot.StatusOpen, snapshot.StatusOpen, snapshot.StatusOpen}
	for i, s := range statuses {
		snap.Stores = append(snap.Stores, snapshot.Store{Name: fmt.Sprintf("S%d", i), Status: s})
	}

	e := startupEmbed(Palette{}, snap, fixedNow)
	if e.Color != 0x0099FF {
		t.Errorf("color = %#x", e.Color)
	}
	wantStores := "🟢 **S0**: OPEN\n🔴 **S1**: CLOSED\n🟡 **S2**: BUSY\n⚪ **S3**: UNKNOWN\n🟢 **S4**: OPEN\n_...and 2 more stores_"
	if got := e.Fields[1].Value; got != wantStores {
		t.Fatalf("stores field:\n%s\nwant:\n%s", got, wantStores)
	}

	empty := startupEmbed(Palette{}, snapshot.Snapshot{ThreatLevel: 5}, fixedNow)
	if got := empty.Fields[1].Value; got != "No stores detected" {
		t.Fatalf("empty stores field = %q", got)
	}
}

func TestPaletteOverrides(t *testing.T) {
	p := Palette{Colors: map[int]int{1: 0x123456}}
	if got := p.Color(1); got != 0x123456 {
		t.Errorf("override color = %#x", got)
	}
	if got := p.Color(5); got != 0x00FF00 {
		t.Errorf("default color = %#x", got)
	}
	if got := p.Description(3); got != "Level 3" {
		t.Errorf("description = %q", got)
	}
}

func TestBatches(t *testing.T) {
	got := batches([]int{1, 2, 3, 4, 5}, 2)
	if diff := cmp.Diff([][]int{{1, 2}, {3, 4}, {5}}, got); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
	if batches([]int(nil), 10) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"ab🍕cd", 3, "ab..."},
		{"ab🍕cd", 6, "ab🍕..."},
		{"€€", 1, "..."},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.n)
		}
	}
}

func TestStatusErrorBodyStaysValidUTF8(t *testing.T) {
	body := strings.Repeat("a", 199) + "ü" + strings.Repeat("b", 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	err := testDiscord(srv.URL).Test(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !utf8.ValidString(se.Body) || !utf8.ValidString(err.Error()) {
		t.Fatalf("error body is not valid UTF-8: %q", se.Body)
	}
	if want := strings.Repeat("a", 199) + "..."; se.Body != want {
		t.Fatalf("body = %q, want %q", se.Body, want)
	}
}
