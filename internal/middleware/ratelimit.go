package middleware

import (
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/ratelimit"
)

// RateLimitMiddleware enforces per-user and per-action limits.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
	}
}

// Handle applies the per-user rule to every update. A backend failure lets
// the update through.
func (m *RateLimitMiddleware) Handle(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil || c.Sender() == nil {
			return next(c)
		}

		limit, window, err := m.rules.GetPerUserLimit()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Any("error", err))
			return next(c)
		}

		if err := m.check(c, fmt.Sprintf("user:%d", c.Sender().ID), limit, window); err != nil {
			return err
		}
		return next(c)
	}
}

// Action wraps a single handler with the named action rule.
func (m *RateLimitMiddleware) Action(action string, next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil || c.Sender() == nil {
			return next(c)
		}

		limit, window, err := m.rules.GetActionLimit(action)
		if err != nil {
			m.log.Debug("no rate limit for action", slog.String("action", action), slog.Any("error", err))
			return next(c)
		}

		if err := m.check(c, fmt.Sprintf("user:%d:%s", c.Sender().ID, action), limit, window); err != nil {
			return err
		}
		return next(c)
	}
}

func (m *RateLimitMiddleware) check(c telebot.Context, key string, limit int, window time.Duration) error {
	userID := c.Sender().ID
	if m.rules.IsWhitelisted(userID) {
		return nil
	}

	result, err := m.limiter.Check(handlers.RequestContext(c), key, limit, window)
	if err != nil {
		m.log.Warn("rate limiter error", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil
	}

	if !result.Allowed {
		m.log.Warn("rate limit exceeded", slog.Int64("user_id", userID), slog.String("key", key))
		return apperrors.NewRateLimitError(result.RetryAfter(time.Now()))
	}
	return nil
}
