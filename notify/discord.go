package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

const discordName = "discord"

// Discord posts embeds to a Discord webhook. Requests are retried on
// transport errors, 429 and 5xx, paced by a rate limiter and guarded by a
// circuit breaker.
type Discord struct {
	url     string
	palette Palette
	logger  *slog.Logger
	now     func() time.Time

	timeout      time.Duration
	retries      int
	retryWait    time.Duration
	retryMaxWait time.Duration
	limiter      *rate.Limiter
	tripAfter    uint32
	openFor      time.Duration

	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// DiscordOption configures a Discord dispatcher.
type DiscordOption func(*Discord)

// WithPalette overrides per-level colours and descriptions.
func WithPalette(p Palette) DiscordOption {
	return func(d *Discord) { d.palette = p }
}

// WithDiscordLogger sets a custom logger.
func WithDiscordLogger(l *slog.Logger) DiscordOption {
	return func(d *Discord) { d.logger = l }
}

// WithDiscordClock sets the clock used for embed timestamps.
func WithDiscordClock(now func() time.Time) DiscordOption {
	return func(d *Discord) { d.now = now }
}

// WithDiscordTimeout sets the per-request timeout. Default: 10s.
func WithDiscordTimeout(t time.Duration) DiscordOption {
	return func(d *Discord) { d.timeout = t }
}

// WithRetries sets the retry count and the backoff bounds.
// Default: 3 retries, 1s doubling up to 8s.
func WithRetries(n int, wait, maxWait time.Duration) DiscordOption {
	return func(d *Discord) {
		d.retries = n
		d.retryWait = wait
		d.retryMaxWait = maxWait
	}
}

// WithRateLimit spaces POSTs. Default: one every 500ms, burst 2.
func WithRateLimit(every time.Duration, burst int) DiscordOption {
	return func(d *Discord) { d.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// WithBreaker sets how many consecutive failures open the circuit and for
// how long it stays open. Default: 5 failures, 60s.
func WithBreaker(failures uint32, openFor time.Duration) DiscordOption {
	return func(d *Discord) {
		d.tripAfter = failures
		d.openFor = openFor
	}
}

// NewDiscord creates a dispatcher posting to webhookURL.
func NewDiscord(webhookURL string, opts ...DiscordOption) *Discord {
	d := &Discord{
		url:          webhookURL,
		logger:       slog.Default(),
		now:          time.Now,
		timeout:      10 * time.Second,
		retries:      3,
		retryWait:    time.Second,
		retryMaxWait: 8 * time.Second,
		limiter:      rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		tripAfter:    5,
		openFor:      60 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}

	d.client = resty.New().
		SetTimeout(d.timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(d.retries).
		SetRetryWaitTime(d.retryWait).
		SetRetryMaxWaitTime(d.retryMaxWait).
		AddRetryCondition(retryable)
	d.client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return d.limiter.Wait(req.Context())
	})

	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    discordName,
		Timeout: d.openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= d.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("notify: circuit breaker state change",
				"dispatcher", name, "from", from.String(), "to", to.String())
		},
	})
	return d
}

// retryable reports whether a webhook attempt is worth repeating.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Dispatch sends one embed per alert in batches of ten. A failed batch is
// logged and the remaining batches are still attempted.
func (d *Discord) Dispatch(ctx context.Context, alerts []alert.Alert, snap snapshot.Snapshot) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}

	now := d.now()
	embeds := make([]embed, 0, len(alerts))
	for _, a := range alerts {
		embeds = append(embeds, alertEmbed(d.palette, a, snap, now))
	}

	var (
		sent     int
		firstErr error
	)
	for i, batch := range batches(embeds, maxEmbeds) {
		if err := d.post(ctx, payload{Embeds: batch}); err != nil {
			d.logger.Error("notify: failed to send alert batch",
				"batch", i, "size", len(batch), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent += len(batch)
		d.logger.Info("notify: sent alert batch", "batch", i, "size", len(batch))
	}
	return sent, firstErr
}

// Startup posts the baseline status message.
func (d *Discord) Startup(ctx context.Context, snap snapshot.Snapshot) error {
	if err := d.post(ctx, payload{Embeds: []embed{startupEmbed(d.palette, snap, d.now())}}); err != nil {
		d.logger.Error("notify: failed to send startup notification", "error", err)
		return err
	}
	d.logger.Info("notify: sent startup notification")
	return nil
}

// Test posts a confirmation message.
func (d *Discord) Test(ctx context.Context) error {
	if err := d.post(ctx, payload{Embeds: []embed{testEmbed(d.now())}}); err != nil {
		d.logger.Error("notify: failed to send test notification", "error", err)
		return err
	}
	d.logger.Info("notify: test notification sent")
	return nil
}

func (d *Discord) Close() error { return nil }

func (d *Discord) post(ctx context.Context, p payload) error {
	_, err := d.breaker.Execute(func() (any, error) {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(p).
			Post(d.url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			d.logger.Warn("notify: circuit open, skipping webhook", "dispatcher", discordName)
		}
		return &SendError{Dispatcher: discordName, Cause: err}
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
