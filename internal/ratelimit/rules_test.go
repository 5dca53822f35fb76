package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/stalk-bot/pkg/config"
)

func TestRules(t *testing.T) {
	rules := NewRules(config.RateLimitConfig{
		PerUser: config.RateLimitRule{Limit: 20, Window: "1m"},
		Commands: config.CommandRateLimits{
			Reveal: config.RateLimitRule{Limit: 5, Window: "1m"},
		},
		Whitelist: []int64{7},
	})

	limit, window, err := rules.GetActionLimit(ActionReveal)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)
	assert.Equal(t, time.Minute, window)

	_, _, err = rules.GetActionLimit(ActionPayment)
	assert.ErrorIs(t, err, errWindowNotSet)

	_, _, err = rules.GetActionLimit("buy")
	assert.Error(t, err)

	assert.True(t, rules.IsWhitelisted(7))
	assert.False(t, rules.IsWhitelisted(8))

	rules.Update(config.RateLimitConfig{PerUser: config.RateLimitRule{Limit: 3, Window: "10s"}})
	limit, window, err = rules.GetPerUserLimit()
	require.NoError(t, err)
	assert.Equal(t, 3, limit)
	assert.Equal(t, 10*time.Second, window)
	assert.False(t, rules.IsWhitelisted(7))
}
