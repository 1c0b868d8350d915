// Package config loads pizzawatch configuration from a YAML file, an
// optional .env file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pizzawatch/scraper"
)

// Config is the top-level configuration.
type Config struct {
	WebhookURL                 string         `yaml:"webhook_url"`
	TargetURL                  string         `yaml:"target_url"`
	PollingIntervalSeconds     int            `yaml:"polling_interval_seconds"`
	RequestTimeoutSeconds      int            `yaml:"request_timeout_seconds"`
	StateFile                  string         `yaml:"state_file"`
	StateBackend               string         `yaml:"state_backend"` // file | sqlite
	OrderSpikeThresholdPercent float64        `yaml:"order_spike_threshold_percent"`
	SendStartupNotification    bool           `yaml:"send_startup_notification"`
	LogLevel                   string         `yaml:"log_level"`
	LogFormat                  string         `yaml:"log_format"` // json | text | tint
	DoughconColors             map[int]int    `yaml:"doughcon_colors"`
	DoughconDescriptions       map[int]string `yaml:"doughcon_descriptions"`
	Browser                    BrowserConfig  `yaml:"browser"`
	StatusAddr                 string         `yaml:"status_addr"`
	DryRun                     bool           `yaml:"dry_run"`
	EchoStdout                 bool           `yaml:"echo_stdout"`
}

// BrowserConfig controls the Chrome fallback.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	StealthLevel     string   `yaml:"stealth_level"` // 0 | 1 | 2 | auto
	ResourceBlocking []string `yaml:"resource_blocking"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		TargetURL:                  scraper.DefaultURL,
		PollingIntervalSeconds:     300,
		RequestTimeoutSeconds:      30,
		StateFile:                  "state.json",
		StateBackend:               "file",
		OrderSpikeThresholdPercent: 30,
		SendStartupNotification:    true,
		LogLevel:                   "info",
		LogFormat:                  "tint",
		Browser: BrowserConfig{
			StealthLevel:     "auto",
			ResourceBlocking: []string{"images", "fonts", "media"},
			XvfbDisplay:      ":99",
		},
	}
}

// Load reads path over the defaults, then dotenv, then the environment.
// Missing files are not errors. An empty dotenv skips that step.
func Load(path, dotenv string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", dotenv, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DISCORD_WEBHOOK_URL", &c.WebhookURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("STATE_FILE", &c.StateFile)
	str("STATE_BACKEND", &c.StateBackend)
	str("TARGET_URL", &c.TargetURL)
	str("STATUS_ADDR", &c.StatusAddr)

	var errs []error
	if v, ok := lookup("POLLING_INTERVAL"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: POLLING_INTERVAL: %w", err))
		} else {
			c.PollingIntervalSeconds = n
		}
	}
	if v, ok := lookup("ORDER_SPIKE_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: ORDER_SPIKE_THRESHOLD: %w", err))
		} else {
			c.OrderSpikeThresholdPercent = f
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.TargetURL == "" {
		c.TargetURL = d.TargetURL
	}
	if c.StateFile == "" {
		c.StateFile = d.StateFile
	}
	if c.StateBackend == "" {
		c.StateBackend = d.StateBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Browser.StealthLevel == "" {
		c.Browser.StealthLevel = d.Browser.StealthLevel
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = d.Browser.XvfbDisplay
	}
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.WebhookURL == "" && !c.DryRun {
		errs = append(errs, errors.New("config: webhook_url is required (set DISCORD_WEBHOOK_URL or add it to config.yaml)"))
	}
	if u, err := url.Parse(c.TargetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: target_url %q is not an http(s) URL", c.TargetURL))
	}
	if c.PollingIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: polling_interval_seconds must be positive, got %d", c.PollingIntervalSeconds))
	}
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: request_timeout_seconds must be positive, got %d", c.RequestTimeoutSeconds))
	}
	if c.OrderSpikeThresholdPercent < 0 {
		errs = append(errs, fmt.Errorf("config: order_spike_threshold_percent must not be negative, got %g", c.OrderSpikeThresholdPercent))
	}
	switch c.StateBackend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("config: unknown state_backend %q (want file or sqlite)", c.StateBackend))
	}
	switch c.LogFormat {
	case "json", "text", "tint":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log_format %q (want json, text or tint)", c.LogFormat))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := scraper.ParseMode(c.Browser.StealthLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: browser.stealth_level: %w", err))
	}
	return errors.Join(errs...)
}

// PollingInterval is the wait between cycles.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// RequestTimeout bounds the HTTP fetch.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Level returns the slog level, defaulting to info when unparseable.
func (c *Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Mode returns the scraper acquisition mode, defaulting to auto.
func (c *Config) Mode() scraper.Mode {
	m, err := scraper.ParseMode(c.Browser.StealthLevel)
	if err != nil {
		return scraper.ModeAuto
	}
	return m
}

// parseLevel accepts slog names plus "warning" and "critical".
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return slog.LevelWarn, nil
	case "critical", "fatal":
		return slog.LevelError, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: unknown log_level %q", s)
	}
	return l, nil
}
