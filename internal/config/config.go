// Package config builds the single immutable configuration value the service
// is constructed from. Non-secret tunables come from the environment with
// defaults; connection strings and channel credentials come from Vault KV2
// (falling back to the environment when VAULT_ADDR is unset, e.g. in local
// development and tests).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// Default source endpoints as published by the authorities.
const (
	defaultOFACURL = "https://www.treasury.gov/ofac/downloads/sdn.xml"
	defaultUNURL   = "https://scsanctions.un.org/resources/xml/en/consolidated.xml"
	defaultEUURL   = "https://webgate.ec.europa.eu/fsd/fsf/public/files/xmlFullSanctionsList_1_1/content"
	defaultUKURL   = "https://ofsistorage.blob.core.windows.net/publishlive/2022format/ConList.xml"
)

// SourceConfig is the per-source ingestion configuration.
type SourceConfig struct {
	URL           string
	IntervalHours int
	MinEntities   int // sanity floor; a parse below this fails the run
}

// ChannelConfig enumerates notification channel enablement and endpoints.
type ChannelConfig struct {
	LogEnabled bool

	EmailEnabled    bool
	EmailEndpoint   string // Resend-compatible HTTP API
	EmailAPIKey     string
	EmailFrom       string
	EmailRecipients []string

	WebhookEnabled bool
	WebhookURL     string
	WebhookSecret  string

	SlackEnabled    bool
	SlackWebhookURL string
}

// Config is the immutable configuration value constructed once at startup and
// passed by reference. No component reads the environment after Load returns.
type Config struct {
	HTTPAddr string

	Sources map[domain.Source]SourceConfig

	ParallelScrapers int
	TimeoutSeconds   int // per-run deadline, capped at 3600
	MaxRetries       int
	BackoffFactor    float64
	UserAgent        string

	FetchTimeout   time.Duration
	MinContentSize int
	MaxContentSize int

	PGURL    string
	NATSURL  string
	RedisURL string

	Channels ChannelConfig
}

// Secrets is the subset loaded from Vault (or env fallback).
type Secrets struct {
	PGURL           string
	NATSURL         string
	RedisURL        string
	EmailAPIKey     string
	WebhookSecret   string
	SlackWebhookURL string
}

// Load assembles the configuration from environment tunables plus the given
// secrets. Callers obtain Secrets via LoadSecretsFromVault or env fallback.
func Load(sec Secrets) (*Config, error) {
	cfg := &Config{
		HTTPAddr: envString("HTTP_ADDR", ":8080"),
		Sources: map[domain.Source]SourceConfig{
			domain.SourceOFAC: {
				URL:           envString("OFAC_URL", defaultOFACURL),
				IntervalHours: envInt("OFAC_INTERVAL_HOURS", 6),
				MinEntities:   envInt("OFAC_MIN_ENTITIES", 100),
			},
			domain.SourceUN: {
				URL:           envString("UN_URL", defaultUNURL),
				IntervalHours: envInt("UN_INTERVAL_HOURS", 24),
				MinEntities:   envInt("UN_MIN_ENTITIES", 100),
			},
			domain.SourceEU: {
				URL:           envString("EU_URL", defaultEUURL),
				IntervalHours: envInt("EU_INTERVAL_HOURS", 24),
				MinEntities:   envInt("EU_MIN_ENTITIES", 100),
			},
			domain.SourceUKHMT: {
				URL:           envString("UK_URL", defaultUKURL),
				IntervalHours: envInt("UK_INTERVAL_HOURS", 24),
				MinEntities:   envInt("UK_MIN_ENTITIES", 100),
			},
		},
		ParallelScrapers: envInt("PARALLEL_SCRAPERS", 3),
		TimeoutSeconds:   envInt("TIMEOUT_SECONDS", 600),
		MaxRetries:       envInt("MAX_RETRIES", 3),
		BackoffFactor:    envFloat("BACKOFF_FACTOR", 0.3),
		UserAgent:        envString("USER_AGENT", "sanctions-watch/1.0 (compliance monitoring)"),
		FetchTimeout:     time.Duration(envInt("FETCH_TIMEOUT_SECONDS", 120)) * time.Second,
		MinContentSize:   envInt("MIN_CONTENT_SIZE", 1000),
		MaxContentSize:   envInt("MAX_CONTENT_SIZE", 500<<20),
		PGURL:            sec.PGURL,
		NATSURL:          sec.NATSURL,
		RedisURL:         sec.RedisURL,
		Channels: ChannelConfig{
			LogEnabled:      envBool("CHANNEL_LOG_ENABLED", true),
			EmailEnabled:    envBool("CHANNEL_EMAIL_ENABLED", false),
			EmailEndpoint:   envString("EMAIL_ENDPOINT", "https://api.resend.com/emails"),
			EmailAPIKey:     sec.EmailAPIKey,
			EmailFrom:       envString("EMAIL_FROM", "sanctions-watch@arc-self.io"),
			EmailRecipients: envList("EMAIL_RECIPIENTS"),
			WebhookEnabled:  envBool("CHANNEL_WEBHOOK_ENABLED", false),
			WebhookURL:      envString("WEBHOOK_URL", ""),
			WebhookSecret:   sec.WebhookSecret,
			SlackEnabled:    envBool("CHANNEL_SLACK_ENABLED", false),
			SlackWebhookURL: sec.SlackWebhookURL,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the configuration invariants. A failure here maps to
// process exit code 2 in the CLI wrappers.
func (c *Config) Validate() error {
	if c.ParallelScrapers < 1 {
		return fmt.Errorf("%w: parallel_scrapers must be >= 1", domain.ErrValidation)
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 3600 {
		return fmt.Errorf("%w: timeout_seconds must be within 1..3600", domain.ErrValidation)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", domain.ErrValidation)
	}
	if c.BackoffFactor <= 0 {
		return fmt.Errorf("%w: backoff_factor must be positive", domain.ErrValidation)
	}
	if c.MinContentSize < 1 {
		return fmt.Errorf("%w: min_content_size must be >= 1", domain.ErrValidation)
	}
	if c.MaxContentSize < c.MinContentSize {
		return fmt.Errorf("%w: max_content_size must be >= min_content_size", domain.ErrValidation)
	}
	for src, sc := range c.Sources {
		if sc.URL == "" {
			return fmt.Errorf("%w: sources.%s.url is required", domain.ErrValidation, src)
		}
		if sc.IntervalHours < 1 {
			return fmt.Errorf("%w: sources.%s.interval_hours must be >= 1", domain.ErrValidation, src)
		}
	}
	if c.Channels.EmailEnabled && (c.Channels.EmailAPIKey == "" || len(c.Channels.EmailRecipients) == 0) {
		return fmt.Errorf("%w: email channel enabled without api key or recipients", domain.ErrValidation)
	}
	if c.Channels.WebhookEnabled && c.Channels.WebhookURL == "" {
		return fmt.Errorf("%w: webhook channel enabled without url", domain.ErrValidation)
	}
	if c.Channels.SlackEnabled && c.Channels.SlackWebhookURL == "" {
		return fmt.Errorf("%w: slack channel enabled without webhook url", domain.ErrValidation)
	}
	return nil
}

// Interval returns the configured cadence for a source.
func (c *Config) Interval(src domain.Source) time.Duration {
	return time.Duration(c.Sources[src].IntervalHours) * time.Hour
}

// RunTimeout returns the per-run deadline.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff returns the delay before retry attempt n (0-based):
// backoff_factor * 2^attempt seconds.
func (c *Config) Backoff(attempt int) time.Duration {
	return time.Duration(c.BackoffFactor * float64(int64(1)<<uint(attempt)) * float64(time.Second))
}

// ── env helpers ───────────────────────────────────────────────────────────

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
