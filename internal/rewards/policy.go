// Package rewards grants premium time to users who bring in enough referrals.
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultThreshold = 15
	DefaultReward    = 7 * 24 * time.Hour
)

// Ledger is the part of ledger.Store the policy needs.
type Ledger interface {
	CountReferrals(ctx context.Context, userID int64) (int, error)
	ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error)
	ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error)
}

// Grant describes a premium extension issued by the policy.
type Grant struct {
	UserID     int64
	Referrals  int
	Milestones int
	Until      time.Time
}

// Policy issues Reward every time an inviter's referral count reaches a
// positive multiple of Threshold.
type Policy struct {
	store     Ledger
	threshold int
	reward    time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewPolicy creates a reward policy. Non-positive threshold or reward fall
// back to the defaults.
func NewPolicy(store Ledger, threshold int, reward time.Duration, log *slog.Logger) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if reward <= 0 {
		reward = DefaultReward
	}
	if log == nil {
		log = slog.Default()
	}

	return &Policy{
		store:     store,
		threshold: threshold,
		reward:    reward,
		now:       time.Now,
		log:       log,
	}
}

// WithClock replaces the time source.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Policy) Threshold() int {
	return p.threshold
}

func (p *Policy) Reward() time.Duration {
	return p.reward
}

// Milestones returns how many rewards count referrals have earned in total.
func (p *Policy) Milestones(count int) int {
	if count <= 0 {
		return 0
	}
	return count / p.threshold
}

// Remaining returns how many more referrals are needed for the next reward.
func (p *Policy) Remaining(count int) int {
	if count < 0 {
		count = 0
	}
	return p.threshold - count%p.threshold
}

// Apply reads the inviter's current referral total and pays out every
// milestone it has reached that the ledger has not paid yet. Each milestone
// is issued at most once, so concurrent and repeated calls are safe. A nil
// Grant means nothing was due.
func (p *Policy) Apply(ctx context.Context, inviterID int64) (*Grant, error) {
	count, err := p.store.CountReferrals(ctx, inviterID)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}

	milestones := p.Milestones(count)
	if milestones == 0 {
		return nil, nil
	}

	issued, until, err := p.store.ClaimReferralRewards(ctx, inviterID, milestones, p.now(), p.reward)
	if err != nil {
		return nil, fmt.Errorf("claim referral rewards: %w", err)
	}
	if issued == 0 {
		return nil, nil
	}

	p.log.InfoContext(ctx, "referral reward granted",
		slog.Int64("user_id", inviterID),
		slog.Int("referrals", count),
		slog.Int("milestones", issued),
		slog.Time("premium_until", until),
	)

	return &Grant{UserID: inviterID, Referrals: count, Milestones: issued, Until: until}, nil
}

// Extend adds d to the user's premium window using renewal arithmetic.
// It returns the zero time when the user is not registered.
func (p *Policy) Extend(ctx context.Context, userID int64, d time.Duration) (time.Time, error) {
	until, err := p.store.ExtendPremium(ctx, userID, p.now(), d)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend premium: %w", err)
	}
	return until, nil
}
