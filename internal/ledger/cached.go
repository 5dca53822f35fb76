package ledger

import (
	"context"
	"log/slog"
)

// CodeCache stores immutable user → referral code mappings.
type CodeCache interface {
	ReferralCode(ctx context.Context, userID int64) (string, bool, error)
	SetReferralCode(ctx context.Context, userID int64, code string) error
}

// CachedStore serves GetReferralCode from a cache in front of another Store.
// Referral codes never change once minted, so entries need no invalidation.
// Cache failures degrade to the wrapped store.
type CachedStore struct {
	Store
	cache CodeCache
	log   *slog.Logger
}

// NewCachedStore wraps next with a referral code cache.
func NewCachedStore(next Store, cache CodeCache, log *slog.Logger) *CachedStore {
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{Store: next, cache: cache, log: log}
}

func (c *CachedStore) GetReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	if c.cache != nil {
		code, ok, err := c.cache.ReferralCode(ctx, userID)
		switch {
		case err != nil:
			c.log.Warn("referral code cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		case ok:
			return code, true, nil
		}
	}

	code, ok, err := c.Store.GetReferralCode(ctx, userID)
	if err != nil || !ok {
		return code, ok, err
	}

	if c.cache != nil {
		if err := c.cache.SetReferralCode(ctx, userID, code); err != nil {
			c.log.Warn("referral code cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return code, true, nil
}
