package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/stealth"
)

const (
	navigateTimeout = 30 * time.Second
	markerTimeout   = 10 * time.Second
	idleTimeout     = 2 * time.Second
)

// Render opens a stealth tab, loads pageURL and returns the rendered HTML
// once the element carrying marker is present (or markerTimeout expires)
// and the page has gone idle.
func Render(ctx context.Context, m *Manager, pageURL, marker string) (string, error) {
	log := m.cfg.Logger

	b, err := m.Browser(ctx)
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(b)
	if err != nil {
		// A dead CDP connection surfaces here first.
		m.Reset()
		return "", fmt.Errorf("browser: create tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("browser: close tab", "error", err)
		}
	}()

	if len(m.cfg.ResourceBlocking) > 0 {
		stop := blockResources(page, m.cfg.ResourceBlocking)
		defer stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	if marker != "" {
		if _, err := page.Context(ctx).Timeout(markerTimeout).ElementR("*", marker); err != nil {
			log.Warn("browser: marker not found, continuing anyway", "marker", marker, "error", err)
		}
	}
	if err := page.Context(ctx).WaitIdle(idleTimeout); err != nil {
		log.Debug("browser: wait idle", "error", err)
	}

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get html: %w", err)
	}
	return html, nil
}
