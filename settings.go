package reasongate

import (
	"context"
	"sync"
)

// Tier is a named set of daily call limits plus a concurrency ceiling.
// Limits are keyed by BudgetKey(provider, useCase).
type Tier struct {
	MaxConcurrentCalls int              `yaml:"max_concurrent_calls"`
	Limits             map[string]int64 `yaml:"limits"`
}

// BudgetKey returns the limit key for a provider and use case.
func BudgetKey(provider string, uc UseCase) string {
	return provider + ":" + string(uc)
}

// CallerSettings are the per-caller overrides consulted by the budget gate.
type CallerSettings struct {
	Tier          string           `yaml:"tier"`
	CustomBudgets map[string]int64 `yaml:"custom_budgets"`
	AdminFailOpen bool             `yaml:"admin_fail_open"`
}

// SettingsSource resolves caller settings by user id.
type SettingsSource interface {
	CallerSettings(ctx context.Context, userID string) (CallerSettings, error)
}

// StaticSettings is an in-memory SettingsSource. Unknown users get the
// default tier.
type StaticSettings struct {
	mu          sync.RWMutex
	defaultTier string
	users       map[string]CallerSettings
}

var _ SettingsSource = (*StaticSettings)(nil)

// NewStaticSettings creates a StaticSettings with the given default tier.
func NewStaticSettings(defaultTier string) *StaticSettings {
	return &StaticSettings{
		defaultTier: defaultTier,
		users:       make(map[string]CallerSettings),
	}
}

// Set stores settings for a user. An empty tier falls back to the default.
func (s *StaticSettings) Set(userID string, cs CallerSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = cs
}

func (s *StaticSettings) CallerSettings(_ context.Context, userID string) (CallerSettings, error) {
	s.mu.RLock()
	cs, ok := s.users[userID]
	s.mu.RUnlock()

	if !ok {
		return CallerSettings{Tier: s.defaultTier}, nil
	}
	if cs.Tier == "" {
		cs.Tier = s.defaultTier
	}
	return cs, nil
}
