package scraper

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxBody caps the downloaded page.
const maxBody = 10 << 20

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func newHTTPClient(timeout time.Duration, ua string) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5")
}

// fetchHTTP GETs the target and returns at most maxBody bytes of it.
// Non-2xx responses are errors.
func (s *Scraper) fetchHTTP(ctx context.Context) ([]byte, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("scraper: get %s: %w", s.cfg.URL, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, fmt.Errorf("scraper: get %s: unexpected status %d", s.cfg.URL, code)
	}

	body, err := io.ReadAll(io.LimitReader(raw, maxBody))
	if err != nil {
		return nil, fmt.Errorf("scraper: read body: %w", err)
	}

	s.logger.Debug("scraper: fetched", "url", s.cfg.URL, "status", resp.StatusCode(), "size", len(body))
	return body, nil
}
