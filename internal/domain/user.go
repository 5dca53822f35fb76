package domain

import "time"

// DefaultFreeQuota is the number of free reveals a new user starts with.
const DefaultFreeQuota = 1

// User is the entitlement record kept for every chat participant.
type User struct {
	UserID       int64      `db:"user_id" json:"user_id"`
	Username     *string    `db:"username" json:"username,omitempty"`
	FreeQuota    int        `db:"free_quota" json:"free_quota"`
	PremiumUntil *time.Time `db:"premium_until" json:"premium_until,omitempty"`
	ReferralCode string     `db:"referral_code" json:"referral_code"`
	ReferredBy   *string    `db:"referred_by" json:"referred_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// PremiumActive reports whether the premium window is open at now.
// The window is half-open: it closes exactly at PremiumUntil.
func (u *User) PremiumActive(now time.Time) bool {
	if u == nil || u.PremiumUntil == nil {
		return false
	}
	return now.Before(*u.PremiumUntil)
}

// Entitled reports whether the user may perform a reveal right now.
func (u *User) Entitled(now time.Time) bool {
	if u == nil {
		return false
	}
	return u.FreeQuota > 0 || u.PremiumActive(now)
}

// RenewPremium returns max(existing, now) + d in UTC.
func RenewPremium(existing *time.Time, now time.Time, d time.Duration) time.Time {
	base := now
	if existing != nil && existing.After(now) {
		base = *existing
	}
	return base.Add(d).UTC()
}

// Referral is a credited inviter → invitee edge.
type Referral struct {
	UserID         int64     `db:"user_id"`
	ReferredUserID int64     `db:"referred_user_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// Query is an append-only record of a reveal.
type Query struct {
	UserID       int64     `db:"user_id"`
	TargetHandle string    `db:"target_handle"`
	ResultSet    string    `db:"result_set"`
	CreatedAt    time.Time `db:"created_at"`
}
