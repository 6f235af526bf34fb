package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrDuplicate          = errors.New("duplicate record")
	// ErrTokenNotActive is returned when a conditional token transition
	// matched no row: the token was already rotated, consumed, revoked or
	// expired by the time the update ran.
	ErrTokenNotActive     = errors.New("token not active")
	ErrUsageLimitExceeded = errors.New("token usage limit exceeded")
	ErrBackupCodeNotFound = errors.New("backup code not found")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapWriteError turns driver-specific unique violations into ErrDuplicate.
func mapWriteError(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// record reports the outcome of one repository call. notFound is the
// repository's own sentinel for a missing row.
func record(ctx context.Context, repo, op string, err, notFound error) {
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(ctx, repo, op, "success")
	case notFound != nil && errors.Is(err, notFound):
		observability.RecordRepositoryOperation(ctx, repo, op, "not_found")
	default:
		observability.RecordRepositoryOperation(ctx, repo, op, "error")
	}
}
