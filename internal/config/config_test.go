package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Secrets{PGURL: "postgres://localhost/sw"})
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Sources[domain.SourceOFAC].IntervalHours)
	assert.Equal(t, 24, cfg.Sources[domain.SourceUN].IntervalHours)
	assert.Equal(t, 24, cfg.Sources[domain.SourceEU].IntervalHours)
	assert.Equal(t, 24, cfg.Sources[domain.SourceUKHMT].IntervalHours)
	assert.Equal(t, 3, cfg.ParallelScrapers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.InDelta(t, 0.3, cfg.BackoffFactor, 1e-9)
	assert.Equal(t, 1000, cfg.MinContentSize)
	assert.Equal(t, 100, cfg.Sources[domain.SourceOFAC].MinEntities)
	assert.True(t, cfg.Channels.LogEnabled, "LOG channel always available by default")
}

func TestLoad_IntervalOverride(t *testing.T) {
	t.Setenv("OFAC_INTERVAL_HOURS", "2")
	cfg, err := Load(Secrets{})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Interval(domain.SourceOFAC))
}

func TestValidate_TimeoutBounds(t *testing.T) {
	t.Setenv("TIMEOUT_SECONDS", "7200")
	_, err := Load(Secrets{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestValidate_ChannelRequirements(t *testing.T) {
	t.Setenv("CHANNEL_WEBHOOK_ENABLED", "true")
	_, err := Load(Secrets{})
	assert.ErrorIs(t, err, domain.ErrValidation, "webhook enabled without url")

	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/sanctions")
	_, err = Load(Secrets{})
	assert.NoError(t, err)
}

func TestValidate_EmailNeedsKeyAndRecipients(t *testing.T) {
	t.Setenv("CHANNEL_EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_RECIPIENTS", "compliance@example.com, ops@example.com")
	_, err := Load(Secrets{})
	assert.ErrorIs(t, err, domain.ErrValidation, "missing api key")

	cfg, err := Load(Secrets{EmailAPIKey: "re_123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"compliance@example.com", "ops@example.com"}, cfg.Channels.EmailRecipients)
}

func TestBackoff_Exponential(t *testing.T) {
	cfg, err := Load(Secrets{})
	require.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, 600*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 1200*time.Millisecond, cfg.Backoff(2))
}
