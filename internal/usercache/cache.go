// Package usercache caches immutable per-user ledger data in Redis.
package usercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	appredis "github.com/Proton-105/stalk-bot/pkg/redis"
)

// Cache provides Redis-backed caching for referral codes.
type Cache struct {
	kv  appredis.KV
	ttl time.Duration
}

// NewCache constructs a cache backed by the provided key-value client.
func NewCache(kv appredis.KV, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

// ReferralCode fetches a cached referral code if it exists.
func (c *Cache) ReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	if c == nil || c.kv == nil {
		return "", false, nil
	}

	code, err := c.kv.Get(ctx, referralCodeKey(userID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cached referral code: %w", err)
	}

	return code, true, nil
}

// SetReferralCode stores the code for the configured TTL.
func (c *Cache) SetReferralCode(ctx context.Context, userID int64, code string) error {
	if c == nil || c.kv == nil || code == "" {
		return nil
	}

	if err := c.kv.Set(ctx, referralCodeKey(userID), code, c.ttl); err != nil {
		return fmt.Errorf("set cached referral code: %w", err)
	}

	return nil
}

// Invalidate removes the cached entry if it exists.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.kv == nil {
		return nil
	}

	if err := c.kv.Delete(ctx, referralCodeKey(userID)); err != nil {
		return fmt.Errorf("delete cached referral code: %w", err)
	}

	return nil
}

func referralCodeKey(userID int64) string {
	return fmt.Sprintf("user:%d:referral_code", userID)
}
