package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAccountDisabled         = errors.New("account disabled")
	ErrAccountLocked           = errors.New("account locked")
	ErrAccountExists           = errors.New("account already exists")
	ErrWeakPassword            = errors.New("password does not meet policy")
	ErrInvalidInput            = errors.New("invalid input")
	ErrTokenInvalid            = errors.New("token invalid")
	ErrTokenExpired            = errors.New("token expired")
	ErrTokenRevoked            = errors.New("token revoked")
	ErrDuplicateToken          = errors.New("duplicate token")
	ErrUsageLimitExceeded      = errors.New("token usage limit exceeded")
	ErrTwoFactorRequired       = errors.New("two-factor code required")
	ErrTwoFactorInvalid        = errors.New("two-factor code invalid")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorSetupMissing   = errors.New("no pending two-factor setup")
	ErrNotFound                = errors.New("not found")
	ErrOAuthUnavailable        = errors.New("oauth provider unavailable")
	ErrOAuthEmailNotVerified   = errors.New("google email not verified")

	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// RefreshReuseError reports a replayed refresh token. It matches both
// ErrRefreshTokenReuseDetected and ErrTokenRevoked.
type RefreshReuseError struct {
	UserID   uint
	FamilyID string
}

func (e *RefreshReuseError) Error() string { return ErrRefreshTokenReuseDetected.Error() }

func (e *RefreshReuseError) Is(target error) bool {
	return target == ErrRefreshTokenReuseDetected || target == ErrTokenRevoked
}

// AccountLockedError carries the instant the lockout lapses.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// RetryAfter is the remaining lockout, never negative.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// verificationError folds verifier failures into the service taxonomy so
// callers only need to know about ErrTokenInvalid and ErrTokenExpired.
func verificationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}
