package reasongate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel    string                    `yaml:"log_level"`
	DefaultTier string                    `yaml:"default_tier"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	UseCases    map[UseCase]UseCaseConfig `yaml:"use_cases"`
	Tiers       map[string]Tier           `yaml:"tiers"`
	Users       map[string]CallerSettings `yaml:"users"`
	RateLimit   RateLimitConfig           `yaml:"rate_limit"`
	Retry       RetryConfig               `yaml:"retry"`
	Budget      BudgetConfig              `yaml:"budget"`
	Cache       CacheConfig               `yaml:"cache"`
	Store       StoreConfig               `yaml:"store"`
	Ledger      LedgerConfig              `yaml:"ledger"`
}

// ProviderConfig configures credentials and transport for one provider.
type ProviderConfig struct {
	Auth              Auth    `yaml:"auth"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// UseCaseConfig binds a use case to a provider and its defaults.
type UseCaseConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig configures the per-caller fixed window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BudgetConfig configures slot and counter retention.
type BudgetConfig struct {
	SlotTTL          time.Duration `yaml:"slot_ttl"`
	OverageRetention time.Duration `yaml:"overage_retention"`
	UsageRetention   time.Duration `yaml:"usage_retention"`
}

// CacheConfig configures the reasoning result cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// StoreConfig selects the shared key-value backend.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // memory, redis, postgres
	Addr      string `yaml:"addr"`
	DSN       string `yaml:"dsn"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LedgerConfig configures the SQLite usage ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Provider names used by the built-in use case table.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGrok     = "grok"
)

const defaultProviderTimeout = 20 * time.Second

// DefaultConfig returns the built-in use case table, tiers, and limits.
// Provider credentials are read from OPENAI_API_KEY, DEEPSEEK_API_KEY and
// XAI_API_KEY.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		DefaultTier: "free",
		Providers: map[string]ProviderConfig{
			ProviderOpenAI:   {Auth: Auth{APIKey: os.Getenv("OPENAI_API_KEY")}},
			ProviderDeepSeek: {Auth: Auth{APIKey: os.Getenv("DEEPSEEK_API_KEY")}},
			ProviderGrok:     {Auth: Auth{APIKey: os.Getenv("XAI_API_KEY")}},
		},
		UseCases: map[UseCase]UseCaseConfig{
			UseCaseJournalInsight: {Provider: ProviderOpenAI, Model: "gpt-4o-mini", Temperature: Float64Ptr(0.3), Timeout: defaultProviderTimeout},
			UseCaseTradeReview:    {Provider: ProviderDeepSeek, Model: "deepseek-chat", Temperature: Float64Ptr(0.2), Timeout: defaultProviderTimeout},
			UseCaseSentimentPulse: {Provider: ProviderGrok, Model: "grok-3-mini", Temperature: Float64Ptr(0.4), Timeout: defaultProviderTimeout},
			UseCaseInsightCritic:  {Provider: ProviderOpenAI, Model: "gpt-4o-mini", Temperature: Float64Ptr(0), Timeout: defaultProviderTimeout},
		},
		Tiers: map[string]Tier{
			"free": {
				MaxConcurrentCalls: 1,
				Limits: map[string]int64{
					BudgetKey(ProviderOpenAI, UseCaseJournalInsight): 5,
					BudgetKey(ProviderGrok, UseCaseSentimentPulse):   10,
					BudgetKey(ProviderOpenAI, UseCaseInsightCritic):  15,
				},
			},
			"pro": {
				MaxConcurrentCalls: 3,
				Limits: map[string]int64{
					BudgetKey(ProviderOpenAI, UseCaseJournalInsight): 100,
					BudgetKey(ProviderDeepSeek, UseCaseTradeReview):  50,
					BudgetKey(ProviderGrok, UseCaseSentimentPulse):   200,
					BudgetKey(ProviderOpenAI, UseCaseInsightCritic):  350,
				},
			},
		},
		RateLimit: RateLimitConfig{MaxRequests: 30, Window: time.Minute},
		Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second},
		Budget: BudgetConfig{
			SlotTTL:          60 * time.Second,
			OverageRetention: 35 * 24 * time.Hour,
			UsageRetention:   48 * time.Hour,
		},
		Cache: CacheConfig{TTL: 6 * time.Hour},
		Store: StoreConfig{Driver: "memory"},
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reasongate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("reasongate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("reasongate: config: %w", err)
	}
	if len(c.UseCases) == 0 {
		return fmt.Errorf("reasongate: config: at least one use case is required")
	}

	for uc, b := range c.UseCases {
		if b.Provider == "" {
			return fmt.Errorf("reasongate: config: use_cases.%s: provider is required", uc)
		}
		if b.Model == "" {
			return fmt.Errorf("reasongate: config: use_cases.%s: model is required", uc)
		}
		if b.Timeout < 0 {
			return fmt.Errorf("reasongate: config: use_cases.%s: timeout must not be negative", uc)
		}
	}

	if _, ok := c.Tiers[c.DefaultTier]; !ok {
		return fmt.Errorf("reasongate: config: default_tier %q is not defined", c.DefaultTier)
	}
	for name, t := range c.Tiers {
		if t.MaxConcurrentCalls < 0 {
			return fmt.Errorf("reasongate: config: tiers.%s: max_concurrent_calls must not be negative", name)
		}
		for key, limit := range t.Limits {
			if !strings.Contains(key, ":") {
				return fmt.Errorf("reasongate: config: tiers.%s: limit key %q must be provider:use_case", name, key)
			}
			if limit < 0 {
				return fmt.Errorf("reasongate: config: tiers.%s: limit %q must not be negative", name, key)
			}
		}
	}

	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("reasongate: config: rate_limit: max_requests and window must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("reasongate: config: retry: max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("reasongate: config: retry: need 0 < base_delay <= max_delay")
	}

	switch c.Store.Driver {
	case "", "memory":
	case "redis":
		if c.Store.Addr == "" {
			return fmt.Errorf("reasongate: config: store: addr is required for redis")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("reasongate: config: store: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("reasongate: config: store: unknown driver %q", c.Store.Driver)
	}

	return nil
}

// Settings returns a StaticSettings seeded from the users section.
func (c Config) Settings() *StaticSettings {
	s := NewStaticSettings(c.DefaultTier)
	for id, cs := range c.Users {
		s.Set(id, cs)
	}
	return s
}
