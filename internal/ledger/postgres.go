package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Proton-105/stalk-bot/internal/domain"
)

const (
	registerUserQuery = `
		INSERT INTO users (user_id, username, free_quota, referral_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`
	referralCodeQuery = `SELECT referral_code FROM users WHERE user_id = $1`
	hasFreeQuotaQuery = `
		SELECT free_quota > 0 OR (premium_until IS NOT NULL AND premium_until > $2)
		FROM users
		WHERE user_id = $1
	`
	consumeFreeQuotaQuery = `
		UPDATE users SET free_quota = free_quota - 1
		WHERE user_id = $1 AND free_quota > 0
	`
	grantPremiumQuery  = `UPDATE users SET premium_until = $2 WHERE user_id = $1`
	extendPremiumQuery = `
		UPDATE users
		SET premium_until = GREATEST(COALESCE(premium_until, $2), $2) + make_interval(secs => $3)
		WHERE user_id = $1
		RETURNING premium_until
	`
	premiumActiveQuery = `
		SELECT premium_until IS NOT NULL AND premium_until > $2
		FROM users
		WHERE user_id = $1
	`
	resolveCodeQuery    = `SELECT user_id FROM users WHERE referral_code = $1`
	lockInviteeQuery    = `SELECT referred_by FROM users WHERE user_id = $1 FOR UPDATE`
	setReferredByQuery  = `UPDATE users SET referred_by = $2 WHERE user_id = $1`
	insertReferralQuery = `
		INSERT INTO referrals (user_id, referred_user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, referred_user_id) DO NOTHING
	`
	countReferralsQuery  = `SELECT COUNT(*) FROM referrals WHERE user_id = $1`
	lockMilestonesQuery  = `SELECT rewarded_milestones FROM users WHERE user_id = $1 FOR UPDATE`
	claimMilestonesQuery = `
		UPDATE users
		SET rewarded_milestones = $2,
			premium_until = GREATEST(COALESCE(premium_until, $3), $3) + make_interval(secs => $4)
		WHERE user_id = $1
		RETURNING premium_until
	`
	logQueryQuery = `
		INSERT INTO queries (user_id, target_handle, result_set, created_at)
		VALUES ($1, $2, $3, $4)
	`
	getUserQuery = `
		SELECT user_id, username, free_quota, premium_until, referral_code, referred_by, created_at
		FROM users
		WHERE user_id = $1
	`
	statsQuery = `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM users WHERE premium_until > $1) AS premium_active,
			(SELECT COUNT(*) FROM referrals) AS referrals,
			(SELECT COUNT(*) FROM queries) AS queries
	`
)

// PostgresStore is the production Store backed by PostgreSQL.
//
// Quota consumption is a single conditional UPDATE, so concurrent reveals for
// one user cannot overspend. RecordReferral locks the invitee row and
// ClaimReferralRewards the inviter row for the duration of their transactions.
type PostgresStore struct {
	db      *sqlx.DB
	log     *slog.Logger
	now     Clock
	timeout time.Duration
	breaker Breaker
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open *sql.DB using the lib/pq driver.
func NewPostgresStore(db *sql.DB, log *slog.Logger, opts ...Option) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	o := buildOptions(opts)

	return &PostgresStore{
		db:      sqlx.NewDb(db, "postgres"),
		log:     log,
		now:     o.clock,
		timeout: o.timeout,
		breaker: o.breaker,
	}
}

func (s *PostgresStore) RegisterUser(ctx context.Context, userID int64, username string) (bool, error) {
	var created bool
	err := s.run(ctx, "register_user", func(ctx context.Context) error {
		var name sql.NullString
		if username != "" {
			name = sql.NullString{String: username, Valid: true}
		}

		res, err := s.db.ExecContext(ctx, registerUserQuery,
			userID, name, domain.DefaultFreeQuota, ReferralCodeFor(userID), s.now().UTC())
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		s.log.Info("ledger user registered", slog.Int64("user_id", userID))
	}
	return created, nil
}

func (s *PostgresStore) GetReferralCode(ctx context.Context, userID int64) (string, bool, error) {
	var code string
	found := true
	err := s.run(ctx, "get_referral_code", func(ctx context.Context) error {
		err := s.db.GetContext(ctx, &code, referralCodeQuery, userID)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return "", false, err
	}
	return code, found, nil
}

func (s *PostgresStore) HasFreeQuota(ctx context.Context, userID int64) (bool, error) {
	return s.queryBool(ctx, "has_free_quota", hasFreeQuotaQuery, userID, s.now().UTC())
}

func (s *PostgresStore) ConsumeFreeQuota(ctx context.Context, userID int64) (bool, error) {
	var consumed bool
	err := s.run(ctx, "consume_free_quota", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, consumeFreeQuotaQuery, userID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		consumed = affected == 1
		return nil
	})
	return consumed, err
}

func (s *PostgresStore) GrantPremium(ctx context.Context, userID int64, until time.Time) error {
	return s.run(ctx, "grant_premium", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, grantPremiumQuery, userID, until.UTC())
		return err
	})
}

func (s *PostgresStore) ExtendPremium(ctx context.Context, userID int64, now time.Time, d time.Duration) (time.Time, error) {
	var until time.Time
	err := s.run(ctx, "extend_premium", func(ctx context.Context) error {
		err := s.db.GetContext(ctx, &until, extendPremiumQuery, userID, now.UTC(), d.Seconds())
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return until.UTC(), nil
}

func (s *PostgresStore) IsPremiumActive(ctx context.Context, userID int64) (bool, error) {
	return s.queryBool(ctx, "is_premium_active", premiumActiveQuery, userID, s.now().UTC())
}

func (s *PostgresStore) RecordReferral(ctx context.Context, inviterCode string, inviteeID int64) error {
	var missing bool
	err := s.run(ctx, "record_referral", func(ctx context.Context) error {
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			return s.recordReferralTx(ctx, tx, inviterCode, inviteeID)
		})
		missing = errors.Is(err, errInviteeMissing)
		return err
	})
	if err != nil || missing {
		return err
	}

	s.log.Info("referral recorded", slog.String("inviter_code", inviterCode), slog.Int64("invitee_id", inviteeID))
	return nil
}

func (s *PostgresStore) recordReferralTx(ctx context.Context, tx *sqlx.Tx, inviterCode string, inviteeID int64) error {
	var inviterID int64
	if err := tx.GetContext(ctx, &inviterID, resolveCodeQuery, inviterCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownReferralCode
		}
		return err
	}
	if inviterID == inviteeID {
		return ErrSelfReferral
	}

	var referredBy sql.NullString
	if err := tx.GetContext(ctx, &referredBy, lockInviteeQuery, inviteeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errInviteeMissing
		}
		return err
	}
	if referredBy.Valid {
		return ErrAlreadyReferred
	}

	if _, err := tx.ExecContext(ctx, setReferredByQuery, inviteeID, inviterCode); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertReferralQuery, inviterID, inviteeID, s.now().UTC()); err != nil {
		return err
	}

	return nil
}

// errInviteeMissing rolls back RecordReferral for an unregistered invitee; it
// never leaves the store.
var errInviteeMissing = errors.New("ledger: invitee not registered")

func (s *PostgresStore) CountReferrals(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.run(ctx, "count_referrals", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &count, countReferralsQuery, userID)
	})
	return count, err
}

func (s *PostgresStore) ClaimReferralRewards(ctx context.Context, userID int64, milestones int, now time.Time, d time.Duration) (int, time.Time, error) {
	var (
		issued int
		until  time.Time
	)
	err := s.run(ctx, "claim_referral_rewards", func(ctx context.Context) error {
		issued, until = 0, time.Time{}
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			var claimed int
			if err := tx.GetContext(ctx, &claimed, lockMilestonesQuery, userID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return err
			}
			if milestones <= claimed {
				return nil
			}

			n := milestones - claimed
			if err := tx.GetContext(ctx, &until, claimMilestonesQuery,
				userID, milestones, now.UTC(), float64(n)*d.Seconds()); err != nil {
				return err
			}
			issued = n
			return nil
		})
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	if issued == 0 {
		return 0, time.Time{}, nil
	}

	s.log.Info("referral milestones claimed",
		slog.Int64("user_id", userID),
		slog.Int("milestones", milestones),
		slog.Int("issued", issued),
	)
	return issued, until.UTC(), nil
}

func (s *PostgresStore) LogQuery(ctx context.Context, userID int64, target string, results []string) error {
	return s.run(ctx, "log_query", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, logQueryQuery,
			userID, target, strings.Join(results, ResultSeparator), s.now().UTC())
		return err
	})
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	found := true
	err := s.run(ctx, "get_user", func(ctx context.Context) error {
		err := s.db.GetContext(ctx, &user, getUserQuery, userID)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.run(ctx, "stats", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &stats, statsQuery, s.now().UTC())
	})
	return stats, err
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn in a transaction, committing on success.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("ledger rollback failed", slog.Any("error", rbErr))
		}
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) queryBool(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	var value bool
	err := s.run(ctx, op, func(ctx context.Context) error {
		err := s.db.GetContext(ctx, &value, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			value = false
			return nil
		}
		return err
	})
	return value, err
}

// run applies the call timeout and breaker. Referral outcomes are returned
// as-is and do not count against the breaker; everything else becomes a
// StorageError.
func (s *PostgresStore) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var outcome error
	call := func() error {
		err := fn(ctx)
		if IsReferralError(err) || errors.Is(err, errInviteeMissing) {
			outcome = err
			return nil
		}
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Call(call)
	} else {
		err = call()
	}

	if err != nil {
		s.log.Error("ledger storage call failed", slog.String("operation", op), slog.Any("error", err))
		return unavailable(op, err)
	}

	if errors.Is(outcome, errInviteeMissing) {
		return nil
	}
	return outcome
}
