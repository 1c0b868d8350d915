// Package scraper turns the pizza index page into a snapshot.
//
// The HTTP path is tried first in auto mode. When the body looks like a
// client-rendered shell, or carries no DOUGHCON marker, the page is
// rendered in headless Chrome instead.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/pizzawatch/scraper/internal/browser"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

// DefaultURL is the pizza index site.
const DefaultURL = "https://www.pizzint.watch/"

// Mode selects how the page is acquired.
type Mode int

const (
	ModeHTTP     Mode = 0 // HTTP only, no JavaScript
	ModeHeadless Mode = 1 // headless Chrome with stealth
	ModeHeadful  Mode = 2 // headful Chrome on Xvfb
	ModeAuto     Mode = -1
)

// ParseMode accepts "auto", "" or a level 0-2.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return ModeAuto, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return 0, fmt.Errorf("scraper: unknown stealth level %q", s)
	}
	return Mode(n), nil
}

func (m Mode) String() string {
	switch m {
	case ModeHTTP:
		return "http"
	case ModeHeadless:
		return "headless"
	case ModeHeadful:
		return "headful"
	case ModeAuto:
		return "auto"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Config configures the Scraper.
type Config struct {
	URL string

	// Timeout bounds the HTTP fetch. Default: 30s.
	Timeout time.Duration

	Mode Mode

	// RemoteURL is the DevTools URL of an external Chrome. Empty launches one.
	RemoteURL string

	// ResourceBlocking lists resource types dropped while rendering.
	// Default: images, fonts, media.
	ResourceBlocking []string

	XvfbDisplay string

	UserAgent string
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// Scraper fetches and parses the target page.
type Scraper struct {
	cfg     Config
	http    *resty.Client
	browser *browser.Manager
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithClock sets the clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// New creates a Scraper. No browser is started until a render is needed.
func New(cfg Config, opts ...Option) *Scraper {
	cfg.defaults()
	s := &Scraper{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.http = newHTTPClient(cfg.Timeout, cfg.UserAgent)

	if cfg.Mode != ModeHTTP {
		level := browser.Headless
		if cfg.Mode == ModeHeadful {
			level = browser.Headful
		}
		s.browser = browser.NewManager(browser.Config{
			RemoteURL:        cfg.RemoteURL,
			Level:            level,
			ResourceBlocking: cfg.ResourceBlocking,
			XvfbDisplay:      cfg.XvfbDisplay,
			Logger:           s.logger,
		})
	}
	return s
}

// Fetch acquires the page according to the configured mode and parses it.
func (s *Scraper) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	s.logger.Info("scraper: fetching", "url", s.cfg.URL, "mode", s.cfg.Mode.String())

	var (
		snap *snapshot.Snapshot
		err  error
	)
	switch s.cfg.Mode {
	case ModeHTTP:
		snap, err = s.viaHTTP(ctx)
	case ModeHeadless, ModeHeadful:
		snap, err = s.viaBrowser(ctx)
	default:
		snap, err = s.auto(ctx)
	}
	if err != nil {
		return nil, err
	}

	snap.FetchedAt = s.now().UTC()
	s.logger.Info("scraper: extracted",
		"doughcon_level", snap.ThreatLevel,
		"label", deref(snap.ThreatLabel),
		"nehi", deref(snap.NoveltyStatus),
		"stores", len(snap.Stores))
	return snap, nil
}

func (s *Scraper) viaHTTP(ctx context.Context) (*snapshot.Snapshot, error) {
	body, err := s.fetchHTTP(ctx)
	if err != nil {
		return nil, err
	}
	snap, _, err := parse(body, s.logger)
	return snap, err
}

func (s *Scraper) viaBrowser(ctx context.Context) (*snapshot.Snapshot, error) {
	html, err := browser.Render(ctx, s.browser, s.cfg.URL, Marker)
	if err != nil {
		return nil, fmt.Errorf("scraper: render: %w", err)
	}
	snap, _, err := parse([]byte(html), s.logger)
	return snap, err
}

// auto escalates from HTTP to the browser when the HTTP body is an SPA
// shell, fails, or lacks the threat-level marker.
func (s *Scraper) auto(ctx context.Context) (*snapshot.Snapshot, error) {
	body, err := s.fetchHTTP(ctx)
	switch {
	case err != nil:
		s.logger.Warn("scraper: http fetch failed, escalating to browser", "error", err)
	case !IsSufficient(body):
		s.logger.Info("scraper: page needs javascript, escalating to browser", "size", len(body))
	default:
		snap, found, err := parse(body, s.logger)
		if err == nil && found {
			return snap, nil
		}
		s.logger.Info("scraper: no DOUGHCON marker over http, escalating to browser")
	}
	return s.viaBrowser(ctx)
}

// Close shuts down the browser if one was started.
func (s *Scraper) Close() error {
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}
