// Package ledger is the entitlement and referral ledger: free-quota
// consumption, premium windows, referral codes and the reveal query log.
//
// The ledger is the only writer of its storage. Every mutating operation is
// atomic per user and either applies fully or not at all.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Proton-105/stalk-bot/internal/domain"
)

// Store is the ledger contract consumed by the bot layer.
//
// Reads against an unregistered user return zero values and a nil error;
// mutations against an unregistered user are no-ops. Backend failures are
// reported as errors matching ErrStorageUnavailable.
type Store interface {
	// RegisterUser creates the user on first contact and reports whether a
	// record was created. Later calls never reset quota, premium or referral state.
	RegisterUser(ctx context.Context, userID int64, username string) (bool, error)
	// GetReferralCode returns the user's code; ok is false for unknown users.
	GetReferralCode(ctx context.Context, userID int64) (code string, ok bool, err error)
	// HasFreeQuota reports whether a reveal is allowed: free quota left or premium active.
	HasFreeQuota(ctx context.Context, userID int64) (bool, error)
	// ConsumeFreeQuota atomically decrements a positive quota and reports whether it did.
	ConsumeFreeQuota(ctx context.Context, userID int64) (bool, error)
	// GrantPremium overwrites the premium expiry.
	GrantPremium(ctx context.Context, userID int64, until time.Time) error
	// ExtendPremium atomically sets the expiry to max(expiry, now) + d and
	// returns it. The zero time means the user is not registered.
	ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error)
	// IsPremiumActive reports now < premium_until.
	IsPremiumActive(ctx context.Context, userID int64) (bool, error)
	// RecordReferral links invitee to the owner of inviterCode.
	RecordReferral(ctx context.Context, inviterCode string, inviteeID int64) error
	// CountReferrals returns the number of distinct invitees credited to userID.
	CountReferrals(ctx context.Context, userID int64) (int, error)
	// ClaimReferralRewards extends premium by d once for every milestone in
	// (claimed, milestones] and marks them claimed in the same step. It
	// returns how many milestones were issued and the resulting expiry.
	ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error)
	// LogQuery appends a reveal to the query log.
	LogQuery(ctx context.Context, userID int64, target string, results []string) error
	// GetUser returns a snapshot of the user record, or nil when unregistered.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	// Stats returns ledger-wide counters.
	Stats(ctx context.Context) (Stats, error)
}

// Stats aggregates ledger totals for metrics and the admin panel.
type Stats struct {
	Users         int64 `db:"users"`
	PremiumActive int64 `db:"premium_active"`
	Referrals     int64 `db:"referrals"`
	Queries       int64 `db:"queries"`
}

// Clock returns the current time.
type Clock func() time.Time

// ResultSeparator joins a fabricated result set into one stored column.
const ResultSeparator = ","

const referralCodePrefix = "REF"

// ReferralCodeFor derives the immutable referral code of a user.
func ReferralCodeFor(userID int64) string {
	return fmt.Sprintf("%s%d", referralCodePrefix, userID)
}

// ParseReferralCode returns the owner encoded in a well-formed code. It does
// not check that the owner is registered.
func ParseReferralCode(code string) (int64, bool) {
	digits, ok := strings.CutPrefix(code, referralCodePrefix)
	if !ok || digits == "" || digits[0] == '+' || digits[0] == '-' {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type options struct {
	clock   Clock
	timeout time.Duration
	breaker Breaker
}

// Option customizes a store.
type Option func(*options)

// Breaker guards backend calls; errors.CircuitBreaker satisfies it.
type Breaker interface {
	Call(fn func() error) error
}

// WithClock overrides the time source used for premium checks and timestamps.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithTimeout bounds every backend call. Expired calls surface as ErrStorageUnavailable.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithBreaker routes backend calls through a circuit breaker.
func WithBreaker(b Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
