package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepository interface {
	FindByUserID(ctx context.Context, userID uint) (*domain.Credential, error)
	RecordFailedAttempt(ctx context.Context, userID uint, maxAttempts int, lockout time.Duration, now time.Time) (*domain.Credential, error)
	RecordSuccess(ctx context.Context, userID uint, now time.Time) error
	SetPasswordHash(ctx context.Context, userID uint, hash string, now time.Time) error
	UpgradePasswordHash(ctx context.Context, userID uint, oldHash, newHash string) (bool, error)
	MarkEmailVerified(ctx context.Context, userID uint, now time.Time) error
	EnableTwoFactor(ctx context.Context, userID uint, secret string, backupHashes []string, now time.Time) error
	DisableTwoFactor(ctx context.Context, userID uint) error
	ReplaceBackupCodes(ctx context.Context, userID uint, backupHashes []string) error
	ConsumeBackupCode(ctx context.Context, userID uint, codeHash string) (int, error)
	AcceptTOTPStep(ctx context.Context, userID uint, step int64) (bool, error)
}

type GormCredentialRepository struct{ db *gorm.DB }

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) FindByUserID(ctx context.Context, userID uint) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrCredentialNotFound
	}
	record(ctx, "credential", "find_by_user_id", err, ErrCredentialNotFound)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordFailedAttempt increments the failure counter and locks the
// credential once the counter reaches maxAttempts. A lock that has already
// lapsed starts a fresh count, so the next failure after a lockout is
// counted as the first one.
func (r *GormCredentialRepository) RecordFailedAttempt(ctx context.Context, userID uint, maxAttempts int, lockout time.Duration, now time.Time) (*domain.Credential, error) {
	var out domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return err
		}
		updates := map[string]any{}
		if out.LockedUntil != nil && !now.Before(*out.LockedUntil) {
			out.FailedAttempts = 0
			out.LockedUntil = nil
			updates["locked_until"] = nil
		}
		out.FailedAttempts++
		updates["failed_attempts"] = out.FailedAttempts
		if maxAttempts > 0 && out.FailedAttempts >= maxAttempts {
			until := now.Add(lockout).UTC()
			out.LockedUntil = &until
			updates["locked_until"] = until
		}
		return tx.Model(&domain.Credential{}).Where("id = ?", out.ID).Updates(updates).Error
	})
	record(ctx, "credential", "record_failed_attempt", err, ErrCredentialNotFound)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *GormCredentialRepository) RecordSuccess(ctx context.Context, userID uint, now time.Time) error {
	return r.update(ctx, "record_success", userID, map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now.UTC(),
	})
}

// SetPasswordHash replaces the hash and clears any lockout.
func (r *GormCredentialRepository) SetPasswordHash(ctx context.Context, userID uint, hash string, now time.Time) error {
	return r.update(ctx, "set_password_hash", userID, map[string]any{
		"password_hash":       hash,
		"password_changed_at": now.UTC(),
		"failed_attempts":     0,
		"locked_until":        nil,
	})
}

// UpgradePasswordHash swaps the hash only if it still equals oldHash, so a
// concurrent password change is never overwritten by a rehash.
func (r *GormCredentialRepository) UpgradePasswordHash(ctx context.Context, userID uint, oldHash, newHash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("user_id = ? AND password_hash = ?", userID, oldHash).
		Update("password_hash", newHash)
	record(ctx, "credential", "upgrade_password_hash", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormCredentialRepository) MarkEmailVerified(ctx context.Context, userID uint, now time.Time) error {
	return r.update(ctx, "mark_email_verified", userID, map[string]any{
		"email_verified":    true,
		"email_verified_at": now.UTC(),
	})
}

func (r *GormCredentialRepository) EnableTwoFactor(ctx context.Context, userID uint, secret string, backupHashes []string, now time.Time) error {
	codes, err := encodeBackupCodes(backupHashes)
	if err != nil {
		return err
	}
	return r.update(ctx, "enable_two_factor", userID, map[string]any{
		"two_factor_enabled":    true,
		"two_factor_secret":     secret,
		"two_factor_enabled_at": now.UTC(),
		"backup_codes":          codes,
		"totp_last_step":        0,
	})
}

func (r *GormCredentialRepository) DisableTwoFactor(ctx context.Context, userID uint) error {
	return r.update(ctx, "disable_two_factor", userID, map[string]any{
		"two_factor_enabled":    false,
		"two_factor_secret":     "",
		"two_factor_enabled_at": nil,
		"backup_codes":          "[]",
		"totp_last_step":        0,
	})
}

// AcceptTOTPStep records step as the last accepted TOTP step. It reports
// false when an equal or later step was already accepted.
func (r *GormCredentialRepository) AcceptTOTPStep(ctx context.Context, userID uint, step int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("user_id = ? AND totp_last_step < ?", userID, step).
		Update("totp_last_step", step)
	record(ctx, "credential", "accept_totp_step", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormCredentialRepository) ReplaceBackupCodes(ctx context.Context, userID uint, backupHashes []string) error {
	codes, err := encodeBackupCodes(backupHashes)
	if err != nil {
		return err
	}
	return r.update(ctx, "replace_backup_codes", userID, map[string]any{"backup_codes": codes})
}

// ConsumeBackupCode removes codeHash from the stored list and returns how many
// codes remain. The row is locked and the write is conditional on the list
// being unchanged, so a code can be redeemed at most once.
func (r *GormCredentialRepository) ConsumeBackupCode(ctx context.Context, userID uint, codeHash string) (int, error) {
	remaining := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Credential
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return err
		}
		idx := -1
		for i, h := range c.BackupCodes {
			if h == codeHash {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrBackupCodeNotFound
		}
		before, err := encodeBackupCodes(c.BackupCodes)
		if err != nil {
			return err
		}
		left := make([]string, 0, len(c.BackupCodes)-1)
		left = append(left, c.BackupCodes[:idx]...)
		left = append(left, c.BackupCodes[idx+1:]...)
		after, err := encodeBackupCodes(left)
		if err != nil {
			return err
		}
		res := tx.Model(&domain.Credential{}).
			Where("id = ? AND backup_codes = ?", c.ID, before).
			Update("backup_codes", after)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrBackupCodeNotFound
		}
		remaining = len(left)
		return nil
	})
	record(ctx, "credential", "consume_backup_code", err, ErrBackupCodeNotFound)
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *GormCredentialRepository) update(ctx context.Context, op string, userID uint, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).Where("user_id = ?", userID).Updates(updates)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrCredentialNotFound
	}
	record(ctx, "credential", op, err, ErrCredentialNotFound)
	return err
}

// encodeBackupCodes matches the json serializer used by the BackupCodes
// column so the value can be compared in SQL.
func encodeBackupCodes(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("encode backup codes: %w", err)
	}
	return string(b), nil
}
