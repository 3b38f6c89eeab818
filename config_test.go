package reasongate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reasongate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.UseCases, 4)
	assert.Equal(t, ProviderDeepSeek, cfg.UseCases[UseCaseTradeReview].Provider)
	assert.Equal(t, ProviderGrok, cfg.UseCases[UseCaseSentimentPulse].Provider)
	assert.Equal(t, int64(5), cfg.Tiers["free"].Limits[BudgetKey(ProviderOpenAI, UseCaseJournalInsight)])
	_, onFree := cfg.Tiers["free"].Limits[BudgetKey(ProviderDeepSeek, UseCaseTradeReview)]
	assert.False(t, onFree)
}

func TestLoadConfig_OverlaysDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-from-env")
	path := writeConfig(t, `
log_level: debug
providers:
  deepseek:
    auth:
      api_key: ${TEST_DEEPSEEK_KEY}
    requests_per_second: 2.5
use_cases:
  trade_review:
    provider: deepseek
    model: deepseek-reasoner
    timeout: 45s
users:
  admin:
    tier: pro
    admin_fail_open: true
rate_limit:
  max_requests: 10
  window: 30s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sk-from-env", cfg.Providers[ProviderDeepSeek].Auth.APIKey)
	assert.InDelta(t, 2.5, cfg.Providers[ProviderDeepSeek].RequestsPerSecond, 1e-9)
	assert.Equal(t, "deepseek-reasoner", cfg.UseCases[UseCaseTradeReview].Model)
	assert.Equal(t, 45*time.Second, cfg.UseCases[UseCaseTradeReview].Timeout)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)

	// Untouched entries keep their defaults.
	assert.Equal(t, "gpt-4o-mini", cfg.UseCases[UseCaseJournalInsight].Model)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	s, err := cfg.Settings().CallerSettings(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, "pro", s.Tier)
	assert.True(t, s.AdminFailOpen)

	s, err = cfg.Settings().CallerSettings(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, "free", s.Tier)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "use_cases: [broken"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "store:\n  driver: redis\n"))
	assert.ErrorContains(t, err, "addr is required")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"no use cases", func(c *Config) { c.UseCases = nil }, "at least one use case"},
		{"missing model", func(c *Config) {
			c.UseCases[UseCaseJournalInsight] = UseCaseConfig{Provider: ProviderOpenAI}
		}, "model is required"},
		{"default tier", func(c *Config) { c.DefaultTier = "gold" }, "default_tier"},
		{"bad limit key", func(c *Config) { c.Tiers["free"].Limits["journal_insight"] = 1 }, "provider:use_case"},
		{"negative limit", func(c *Config) { c.Tiers["free"].Limits["openai:journal_insight"] = -1 }, "must not be negative"},
		{"rate limit", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit"},
		{"retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"retry delays", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "base_delay"},
		{"postgres dsn", func(c *Config) { c.Store.Driver = "postgres" }, "dsn is required"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "unknown driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"TRACE":   LevelTrace,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger_PrintsTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(context.Background(), LevelTrace, "state transition", "from", "INIT")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "TRACE", line["level"])
	assert.Equal(t, "INIT", line["from"])

	buf.Reset()
	NewLogger(&buf, slog.LevelInfo).Log(context.Background(), LevelTrace, "hidden")
	assert.Zero(t, buf.Len())
}
