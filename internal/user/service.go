// Package user is the application layer between the bot handlers and the
// ledger: onboarding with referrals, the reveal flow and the admin grants.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/stalk-bot/internal/domain"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/jobs"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/profiles"
	"github.com/Proton-105/stalk-bot/internal/rewards"
)

const maxGrantDays = 3650

var (
	// ErrUnknownUser is returned by admin operations on unregistered users.
	ErrUnknownUser = errors.New("user is not registered")

	instagramHandle = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)
)

// Enqueuer submits background tasks; jobs.Manager satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service provides business operations over users.
type Service struct {
	store     ledger.Store
	policy    *rewards.Policy
	generator *profiles.Generator
	queue     Enqueuer
	now       func() time.Time
	log       *slog.Logger
}

// NewService constructs a new Service instance. Without a queue, referral
// rewards are applied inline.
func NewService(store ledger.Store, policy *rewards.Policy, generator *profiles.Generator, queue Enqueuer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:     store,
		policy:    policy,
		generator: generator,
		queue:     queue,
		now:       time.Now,
		log:       log,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// OnboardResult reports what /start did.
type OnboardResult struct {
	Created   bool
	Referred  bool
	InviterID int64
}

// Register makes sure the user exists. It runs on every update.
func (s *Service) Register(ctx context.Context, userID int64, username string) (bool, error) {
	var created bool
	err := s.retry(ctx, func() error {
		var err error
		created, err = s.store.RegisterUser(ctx, userID, username)
		return err
	})
	if err != nil {
		s.logError("register", userID, err)
		return false, err
	}
	if created {
		s.log.InfoContext(ctx, "user registered", slog.Int64("user_id", userID))
	}
	return created, nil
}

// Onboard registers the user and, for a brand-new user arriving with a
// referral code, credits the inviter. A rejected code never fails /start.
func (s *Service) Onboard(ctx context.Context, userID int64, username, payload string) (*OnboardResult, error) {
	// Postgres keeps microseconds; created_at of a row inserted from here on
	// is never before started.
	started := s.now().UTC().Truncate(time.Microsecond)

	var created bool
	attempts := 0
	err := s.retry(ctx, func() error {
		attempts++
		var err error
		created, err = s.store.RegisterUser(ctx, userID, username)
		return err
	})
	if err == nil && !created && attempts > 1 {
		// A failed attempt may have committed before its reply was lost.
		created, err = s.createdSince(ctx, userID, started)
	}
	if err != nil {
		s.logError("register", userID, err)
		return nil, err
	}
	if created {
		s.log.InfoContext(ctx, "user registered", slog.Int64("user_id", userID))
	}

	result := &OnboardResult{Created: created}
	code := strings.TrimSpace(payload)
	if !created || code == "" {
		return result, nil
	}

	if err := s.store.RecordReferral(ctx, code, userID); err != nil {
		if ledger.IsReferralError(err) {
			s.log.InfoContext(ctx, "referral ignored",
				slog.Int64("user_id", userID),
				slog.String("code", code),
				slog.String("reason", err.Error()),
			)
			return result, nil
		}
		s.logError("record_referral", userID, err)
		return nil, mapLedgerError(err)
	}

	inviterID, ok := ledger.ParseReferralCode(code)
	if !ok {
		return result, nil
	}
	result.Referred = true
	result.InviterID = inviterID

	s.scheduleReward(ctx, inviterID, userID)
	return result, nil
}

// scheduleReward hands the reward check to the queue. The policy re-reads
// the inviter's total and the ledger pays each milestone once, so tasks for
// concurrent referrals cannot double up or skip one.
func (s *Service) scheduleReward(ctx context.Context, inviterID, inviteeID int64) {
	if s.queue != nil {
		task, err := jobs.NewReferralRewardTask(inviterID, inviteeID)
		if err == nil {
			_, err = s.queue.Enqueue(ctx, task)
		}
		if err == nil {
			return
		}
		s.log.WarnContext(ctx, "reward enqueue failed, applying inline",
			slog.Int64("inviter_id", inviterID),
			slog.Any("error", err),
		)
	}

	if _, err := s.policy.Apply(ctx, inviterID); err != nil {
		s.logError("apply_reward", inviterID, err)
	}
}

func (s *Service) createdSince(ctx context.Context, userID int64, since time.Time) (bool, error) {
	var user *domain.User
	err := s.retry(ctx, func() error {
		var err error
		user, err = s.store.GetUser(ctx, userID)
		return err
	})
	if err != nil || user == nil {
		return false, err
	}
	return !user.CreatedAt.Before(since), nil
}

// RevealResult is the outcome of the see-stalkers button.
type RevealResult struct {
	Allowed bool
	Premium bool
	Handles []string
}

// StartReveal checks whether the user may reveal and builds the blurred
// preview. Nothing is spent; see ConsumeReveal.
func (s *Service) StartReveal(ctx context.Context, userID int64) (*RevealResult, error) {
	var allowed, premium bool
	err := s.retry(ctx, func() error {
		var err error
		if allowed, err = s.store.HasFreeQuota(ctx, userID); err != nil || !allowed {
			return err
		}
		premium, err = s.store.IsPremiumActive(ctx, userID)
		return err
	})
	if err != nil {
		s.logError("start_reveal", userID, err)
		return nil, err
	}
	if !allowed {
		return &RevealResult{}, nil
	}

	return &RevealResult{
		Allowed: true,
		Premium: premium,
		Handles: s.generator.Generate(userID, true),
	}, nil
}

// ConsumeReveal pays for a preview once the conversation is waiting for the
// target. Premium users keep their free quota; everyone else spends one unit.
// It reports false when another update spent the last unit first.
func (s *Service) ConsumeReveal(ctx context.Context, userID int64, premium bool) (bool, error) {
	if premium {
		return true, nil
	}

	consumed, err := s.store.ConsumeFreeQuota(ctx, userID)
	if err != nil {
		s.logError("consume_free_quota", userID, err)
		return false, mapLedgerError(err)
	}
	return consumed, nil
}

// CompleteReveal returns the full list for the handle the user sent and
// records the query.
func (s *Service) CompleteReveal(ctx context.Context, userID int64, target string) ([]string, error) {
	handle, err := NormalizeHandle(target)
	if err != nil {
		return nil, err
	}

	handles := s.generator.Generate(userID, false)
	if err := s.store.LogQuery(ctx, userID, handle, handles); err != nil {
		s.logError("log_query", userID, err)
		return nil, mapLedgerError(err)
	}

	return handles, nil
}

// NormalizeHandle lowercases an Instagram username and strips a leading @.
func NormalizeHandle(raw string) (string, error) {
	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if !instagramHandle.MatchString(handle) {
		return "", apperrors.NewValidationError("Instagram kullanıcı adı geçersiz.")
	}
	return handle, nil
}

// ReferralInfo is shown by the referral button.
type ReferralInfo struct {
	Code      string
	Count     int
	Threshold int
	Remaining int
	Reward    time.Duration
}

func (s *Service) ReferralInfo(ctx context.Context, userID int64) (*ReferralInfo, error) {
	var (
		code  string
		ok    bool
		count int
	)
	err := s.retry(ctx, func() error {
		var err error
		if code, ok, err = s.store.GetReferralCode(ctx, userID); err != nil {
			return err
		}
		count, err = s.store.CountReferrals(ctx, userID)
		return err
	})
	if err != nil {
		s.logError("referral_info", userID, err)
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewStateError("referral info requested before registration")
	}

	return &ReferralInfo{
		Code:      code,
		Count:     count,
		Threshold: s.policy.Threshold(),
		Remaining: s.policy.Remaining(count),
		Reward:    s.policy.Reward(),
	}, nil
}

// Profile is the /profile view of a user.
type Profile struct {
	User      *domain.User
	Premium   bool
	Referrals int
}

func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	profile := &Profile{}
	err := s.retry(ctx, func() error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil || user == nil {
			profile.User = nil
			return err
		}
		profile.User = user
		if profile.Premium, err = s.store.IsPremiumActive(ctx, userID); err != nil {
			return err
		}
		profile.Referrals, err = s.store.CountReferrals(ctx, userID)
		return err
	})
	if err != nil {
		s.logError("profile", userID, err)
		return nil, err
	}
	if profile.User == nil {
		return nil, apperrors.NewStateError("profile requested before registration")
	}
	return profile, nil
}

// GrantPremium extends a user's premium window by days.
func (s *Service) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	if days <= 0 || days > maxGrantDays {
		return time.Time{}, apperrors.NewValidationError(fmt.Sprintf("Gün sayısı 1 ile %d arasında olmalı.", maxGrantDays))
	}

	until, err := s.policy.Extend(ctx, userID, time.Duration(days)*24*time.Hour)
	if err != nil {
		s.logError("grant_premium", userID, err)
		return time.Time{}, mapLedgerError(err)
	}
	if until.IsZero() {
		return time.Time{}, ErrUnknownUser
	}

	s.log.InfoContext(ctx, "premium granted by admin",
		slog.Int64("user_id", userID),
		slog.Int("days", days),
		slog.Time("premium_until", until),
	)
	return until, nil
}

func (s *Service) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	err := s.retry(ctx, func() error {
		var err error
		stats, err = s.store.Stats(ctx)
		return err
	})
	return stats, err
}

// retry runs an idempotent ledger call, retrying storage outages.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	return apperrors.WithRetry(ctx, func() error {
		return mapLedgerError(fn())
	})
}

func (s *Service) logError(op string, userID int64, err error) {
	s.log.Error("user service operation failed",
		slog.String("op", op),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}

// mapLedgerError turns ledger failures into AppErrors for the bot layer.
func mapLedgerError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return apperrors.NewStorageError(err)
	case errors.Is(err, ledger.ErrUnknownReferralCode):
		return apperrors.NewReferralError("Davet kodu bulunamadı.", err)
	case errors.Is(err, ledger.ErrAlreadyReferred):
		return apperrors.NewReferralError("Bu hesap zaten bir davet koduyla kaydolmuş.", err)
	case errors.Is(err, ledger.ErrSelfReferral):
		return apperrors.NewReferralError("Kendi davet kodunu kullanamazsın.", err)
	default:
		return err
	}
}
