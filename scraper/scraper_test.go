package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchHTTP(t *testing.T) {
	srv := serve(t, http.StatusOK, loadFixture(t, "dashboard.html"))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := New(Config{URL: srv.URL, Mode: ModeHTTP}, WithLogger(quietLogger()), WithClock(func() time.Time { return at }))
	t.Cleanup(func() { _ = s.Close() })

	snap, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ThreatLevel != 3 || len(snap.Stores) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.FetchedAt.Equal(at) {
		t.Errorf("FetchedAt = %v, want %v", snap.FetchedAt, at)
	}
}

func TestFetchHTTPStatusError(t *testing.T) {
	srv := serve(t, http.StatusServiceUnavailable, []byte("down"))

	s := New(Config{URL: srv.URL, Mode: ModeHTTP}, WithLogger(quietLogger()))
	if _, err := s.Fetch(context.Background()); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFetchHTTPCancelled(t *testing.T) {
	srv := serve(t, http.StatusOK, loadFixture(t, "dashboard.html"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Config{URL: srv.URL, Mode: ModeHTTP}, WithLogger(quietLogger()))
	if _, err := s.Fetch(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestAutoStaysOnHTTP(t *testing.T) {
	// A sufficient body with a marker never needs a browser.
	srv := serve(t, http.StatusOK, loadFixture(t, "dashboard.html"))

	s := New(Config{URL: srv.URL, Mode: ModeAuto}, WithLogger(quietLogger()))
	t.Cleanup(func() { _ = s.Close() })

	snap, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ThreatLevel != 3 {
		t.Fatalf("level = %d, want 3", snap.ThreatLevel)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeAuto, "auto": ModeAuto, " AUTO ": ModeAuto, "0": ModeHTTP, "1": ModeHeadless, "2": ModeHeadful}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"3", "-1", "stealthy"} {
		if _, err := ParseMode(bad); err == nil {
			t.Errorf("ParseMode(%q) expected error", bad)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	s := New(Config{Mode: ModeHTTP})
	if s.cfg.URL != DefaultURL || s.cfg.Timeout != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", s.cfg)
	}
	if s.browser != nil {
		t.Fatal("http mode must not create a browser manager")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
