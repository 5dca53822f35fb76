package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Proton-105/stalk-bot/internal/domain"
)

type referralEdge struct {
	inviter int64
	invitee int64
}

// MemoryStore is an in-process Store. A single mutex serializes writers, which
// makes every operation linearizable; it is meant for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]*domain.User
	codes     map[string]int64
	referrals map[referralEdge]time.Time
	claimed   map[int64]int
	queries   []domain.Query
	now       Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)

	return &MemoryStore{
		users:     make(map[int64]*domain.User),
		codes:     make(map[string]int64),
		referrals: make(map[referralEdge]time.Time),
		claimed:   make(map[int64]int),
		now:       o.clock,
	}
}

func (s *MemoryStore) RegisterUser(ctx context.Context, userID int64, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("register_user", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return false, nil
	}

	code := ReferralCodeFor(userID)
	user := &domain.User{
		UserID:       userID,
		FreeQuota:    domain.DefaultFreeQuota,
		ReferralCode: code,
		CreatedAt:    s.now().UTC(),
	}
	if username != "" {
		name := username
		user.Username = &name
	}

	s.users[userID] = user
	s.codes[code] = userID

	return true, nil
}

func (s *MemoryStore) GetReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, unavailable("get_referral_code", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return "", false, nil
	}
	return user.ReferralCode, true, nil
}

func (s *MemoryStore) HasFreeQuota(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("has_free_quota", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.users[userID].Entitled(s.now()), nil
}

func (s *MemoryStore) ConsumeFreeQuota(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("consume_free_quota", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok || user.FreeQuota <= 0 {
		return false, nil
	}

	user.FreeQuota--
	return true, nil
}

func (s *MemoryStore) GrantPremium(ctx context.Context, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return unavailable("grant_premium", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[userID]; ok {
		expiry := until.UTC()
		user.PremiumUntil = &expiry
	}
	return nil
}

func (s *MemoryStore) ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, unavailable("extend_premium", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return time.Time{}, nil
	}

	until := domain.RenewPremium(user.PremiumUntil, now, d)
	user.PremiumUntil = &until
	return until, nil
}

func (s *MemoryStore) IsPremiumActive(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("is_premium_active", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.users[userID].PremiumActive(s.now()), nil
}

func (s *MemoryStore) RecordReferral(ctx context.Context, inviterCode string, inviteeID int64) error {
	if err := ctx.Err(); err != nil {
		return unavailable("record_referral", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inviterID, ok := s.codes[inviterCode]
	if !ok {
		return ErrUnknownReferralCode
	}
	if inviterID == inviteeID {
		return ErrSelfReferral
	}

	invitee, ok := s.users[inviteeID]
	if !ok {
		return nil
	}
	if invitee.ReferredBy != nil {
		return ErrAlreadyReferred
	}

	code := inviterCode
	invitee.ReferredBy = &code

	edge := referralEdge{inviter: inviterID, invitee: inviteeID}
	if _, exists := s.referrals[edge]; !exists {
		s.referrals[edge] = s.now().UTC()
	}

	return nil
}

func (s *MemoryStore) CountReferrals(ctx context.Context, userID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("count_referrals", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for edge := range s.referrals {
		if edge.inviter == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, unavailable("claim_referral_rewards", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok || milestones <= s.claimed[userID] {
		return 0, time.Time{}, nil
	}

	issued := milestones - s.claimed[userID]
	until := domain.RenewPremium(user.PremiumUntil, now, time.Duration(issued)*d)
	user.PremiumUntil = &until
	s.claimed[userID] = milestones

	return issued, until, nil
}

func (s *MemoryStore) LogQuery(ctx context.Context, userID int64, target string, results []string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("log_query", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, domain.Query{
		UserID:       userID,
		TargetHandle: target,
		ResultSet:    strings.Join(results, ResultSeparator),
		CreatedAt:    s.now().UTC(),
	})
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get_user", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return cloneUser(user), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, unavailable("stats", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := Stats{
		Users:     int64(len(s.users)),
		Referrals: int64(len(s.referrals)),
		Queries:   int64(len(s.queries)),
	}
	for _, user := range s.users {
		if user.PremiumActive(now) {
			stats.PremiumActive++
		}
	}
	return stats, nil
}

// Queries returns a copy of the query log.
func (s *MemoryStore) Queries() []domain.Query {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Query, len(s.queries))
	copy(out, s.queries)
	return out
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.Username != nil {
		name := *u.Username
		c.Username = &name
	}
	if u.PremiumUntil != nil {
		until := *u.PremiumUntil
		c.PremiumUntil = &until
	}
	if u.ReferredBy != nil {
		ref := *u.ReferredBy
		c.ReferredBy = &ref
	}
	return &c
}
