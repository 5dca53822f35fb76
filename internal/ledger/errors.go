package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable means the backend could not complete the operation.
	ErrStorageUnavailable = errors.New("ledger: storage unavailable")
	// ErrUnknownReferralCode means no user owns the referral code.
	ErrUnknownReferralCode = errors.New("ledger: unknown referral code")
	// ErrAlreadyReferred means the invitee already has a referrer.
	ErrAlreadyReferred = errors.New("ledger: user already referred")
	// ErrSelfReferral means a user tried to redeem their own code.
	ErrSelfReferral = errors.New("ledger: self referral")
)

// StorageError carries the failed operation and the backend cause.
// It matches both ErrStorageUnavailable and the cause with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsReferralError reports whether err is a recoverable referral failure.
func IsReferralError(err error) bool {
	return errors.Is(err, ErrUnknownReferralCode) ||
		errors.Is(err, ErrAlreadyReferred) ||
		errors.Is(err, ErrSelfReferral)
}
