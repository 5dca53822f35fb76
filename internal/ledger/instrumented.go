package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/stalk-bot/internal/domain"
)

var (
	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by operation and result.",
		},
		[]string{"operation", "result"},
	)
	ledgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	quotaConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_free_quota_consumed_total",
			Help: "Total number of free reveals consumed.",
		},
	)
)

// InstrumentedStore wraps a Store to collect Prometheus metrics.
type InstrumentedStore struct {
	next Store
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore creates an instrumented ledger store.
func NewInstrumentedStore(next Store) *InstrumentedStore {
	return &InstrumentedStore{next: next}
}

func observe(op string, start time.Time, err error) {
	ledgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrStorageUnavailable):
		result = "unavailable"
	case IsReferralError(err):
		result = "rejected"
	default:
		result = "error"
	}
	ledgerOperationsTotal.WithLabelValues(op, result).Inc()
}

func (m *InstrumentedStore) RegisterUser(ctx context.Context, userID int64, username string) (bool, error) {
	start := time.Now()
	created, err := m.next.RegisterUser(ctx, userID, username)
	observe("register_user", start, err)
	return created, err
}

func (m *InstrumentedStore) GetReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	start := time.Now()
	code, ok, err := m.next.GetReferralCode(ctx, userID)
	observe("get_referral_code", start, err)
	return code, ok, err
}

func (m *InstrumentedStore) HasFreeQuota(ctx context.Context, userID int64) (bool, error) {
	start := time.Now()
	ok, err := m.next.HasFreeQuota(ctx, userID)
	observe("has_free_quota", start, err)
	return ok, err
}

func (m *InstrumentedStore) ConsumeFreeQuota(ctx context.Context, userID int64) (bool, error) {
	start := time.Now()
	consumed, err := m.next.ConsumeFreeQuota(ctx, userID)
	observe("consume_free_quota", start, err)
	if consumed {
		quotaConsumedTotal.Inc()
	}
	return consumed, err
}

func (m *InstrumentedStore) GrantPremium(ctx context.Context, userID int64, until time.Time) error {
	start := time.Now()
	err := m.next.GrantPremium(ctx, userID, until)
	observe("grant_premium", start, err)
	return err
}

func (m *InstrumentedStore) ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	start := time.Now()
	until, err := m.next.ExtendPremium(ctx, userID, now, d)
	observe("extend_premium", start, err)
	return until, err
}

func (m *InstrumentedStore) IsPremiumActive(ctx context.Context, userID int64) (bool, error) {
	start := time.Now()
	ok, err := m.next.IsPremiumActive(ctx, userID)
	observe("is_premium_active", start, err)
	return ok, err
}

func (m *InstrumentedStore) RecordReferral(ctx context.Context, inviterCode string, inviteeID int64) error {
	start := time.Now()
	err := m.next.RecordReferral(ctx, inviterCode, inviteeID)
	observe("record_referral", start, err)
	return err
}

func (m *InstrumentedStore) CountReferrals(ctx context.Context, userID int64) (int, error) {
	start := time.Now()
	count, err := m.next.CountReferrals(ctx, userID)
	observe("count_referrals", start, err)
	return count, err
}

func (m *InstrumentedStore) ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error) {
	start := time.Now()
	issued, until, err := m.next.ClaimReferralRewards(ctx, userID, milestones, now, d)
	observe("claim_referral_rewards", start, err)
	return issued, until, err
}

func (m *InstrumentedStore) LogQuery(ctx context.Context, userID int64, target string, results []string) error {
	start := time.Now()
	err := m.next.LogQuery(ctx, userID, target, results)
	observe("log_query", start, err)
	return err
}

func (m *InstrumentedStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	start := time.Now()
	user, err := m.next.GetUser(ctx, userID)
	observe("get_user", start, err)
	return user, err
}

func (m *InstrumentedStore) Stats(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats, err := m.next.Stats(ctx)
	observe("stats", start, err)
	return stats, err
}
