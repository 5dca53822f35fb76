package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Proton-105/stalk-bot/pkg/config"
)

// Actions with their own limits on top of the per-user rule.
const (
	ActionReveal   = "reveal"
	ActionReferral = "referral"
	ActionPayment  = "payment"
)

var errWindowNotSet = errors.New("window duration is not set")

// Rules holds the configured limits. Update swaps them at runtime.
type Rules struct {
	mu     sync.RWMutex
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// Update replaces the rules, typically after a config reload.
func (r *Rules) Update(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// GetActionLimit returns the limit and window for a rate-limited action.
func (r *Rules) GetActionLimit(action string) (int, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch action {
	case ActionReveal:
		return parseRule(r.config.Commands.Reveal)
	case ActionReferral:
		return parseRule(r.config.Commands.Referral)
	case ActionPayment:
		return parseRule(r.config.Commands.Payment)
	default:
		return 0, 0, fmt.Errorf("unsupported action %q", action)
	}
}

// GetGlobalLimit returns the global rate limiting rule.
func (r *Rules) GetGlobalLimit() (int, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return parseRule(r.config.Global)
}

// GetPerUserLimit returns the per-user rate limiting rule.
func (r *Rules) GetPerUserLimit() (int, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return parseRule(r.config.PerUser)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errWindowNotSet
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}
