package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"

	"gorm.io/gorm"
)

type TokenListQuery struct {
	PageRequest
	Type   domain.TokenType
	Status domain.TokenStatus
}

// TokenRepository persists the token ledger. Every state change is a
// conditional update on status so concurrent callers cannot both win.
type TokenRepository interface {
	Create(ctx context.Context, t *domain.Token) error
	FindByHash(ctx context.Context, hash string) (*domain.Token, error)
	FindByIDForUser(ctx context.Context, userID, id uint) (*domain.Token, error)
	FindLatestActiveByType(ctx context.Context, userID uint, tokenType domain.TokenType, now time.Time) (*domain.Token, error)
	Rotate(ctx context.Context, oldHash string, next *domain.Token, now time.Time) error
	Consume(ctx context.Context, hash string, tokenType domain.TokenType, now time.Time) (*domain.Token, error)
	RecordUsage(ctx context.Context, hash string, now time.Time) (*domain.Token, error)
	RevokeByHash(ctx context.Context, hash, reason string, now time.Time) (bool, error)
	RevokeByIDForUser(ctx context.Context, userID, id uint, types []domain.TokenType, reason string, now time.Time) (bool, error)
	RevokeByJTIForUser(ctx context.Context, userID uint, jti, reason string, now time.Time) (bool, error)
	RevokeByUser(ctx context.Context, userID uint, types []domain.TokenType, reason string, now time.Time) (int64, error)
	RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error)
	Blacklist(ctx context.Context, hash, reason string, now time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID uint, tokenType domain.TokenType, now time.Time) ([]domain.Token, error)
	ListByUser(ctx context.Context, userID uint, query TokenListQuery) (PageResult[domain.Token], error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) Create(ctx context.Context, t *domain.Token) error {
	if t.Status == "" {
		t.Status = domain.TokenStatusActive
	}
	err := mapWriteError(r.db.WithContext(ctx).Create(t).Error)
	record(ctx, "token", "create", err, nil)
	return err
}

func (r *GormTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.Token, error) {
	var t domain.Token
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrTokenNotFound
	}
	record(ctx, "token", "find_by_hash", err, ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormTokenRepository) FindByIDForUser(ctx context.Context, userID, id uint) (*domain.Token, error) {
	var t domain.Token
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrTokenNotFound
	}
	record(ctx, "token", "find_by_id_for_user", err, ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormTokenRepository) FindLatestActiveByType(ctx context.Context, userID uint, tokenType domain.TokenType, now time.Time) (*domain.Token, error) {
	var t domain.Token
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			userID, tokenType, domain.TokenStatusActive, now).
		Order("id DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrTokenNotFound
	}
	record(ctx, "token", "find_latest_active_by_type", err, ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate revokes the row identified by oldHash and inserts next in the same
// transaction. The revoke is a compare-and-swap on status=active and
// unexpired; when it matches no row, ErrTokenNotActive is returned and next
// is not inserted.
func (r *GormTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.Token, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Token{}).
			Where("token_hash = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)", oldHash, domain.TokenStatusActive, now).
			Updates(map[string]any{
				"status":              domain.TokenStatusRevoked,
				"deactivated_at":      now,
				"deactivation_reason": domain.ReasonRotated,
				"last_used_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrTokenNotActive
		}
		if next.Status == "" {
			next.Status = domain.TokenStatusActive
		}
		return mapWriteError(tx.Create(next).Error)
	})
	record(ctx, "token", "rotate", err, ErrTokenNotActive)
	return err
}

// Consume accepts a single-use token once: the row must be active, unused
// and unexpired, and of the expected type.
func (r *GormTokenRepository) Consume(ctx context.Context, hash string, tokenType domain.TokenType, now time.Time) (*domain.Token, error) {
	var out *domain.Token
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Token{}).
			Where("token_hash = ? AND type = ? AND status = ? AND used_at IS NULL AND (expires_at IS NULL OR expires_at > ?)",
				hash, tokenType, domain.TokenStatusActive, now).
			Updates(map[string]any{
				"status":              domain.TokenStatusExpired,
				"used_at":             now,
				"last_used_at":        now,
				"usage_count":         gorm.Expr("usage_count + 1"),
				"deactivated_at":      now,
				"deactivation_reason": domain.ReasonConsumed,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrTokenNotActive
		}
		var t domain.Token
		if err := tx.Where("token_hash = ?", hash).First(&t).Error; err != nil {
			return err
		}
		out = &t
		return nil
	})
	record(ctx, "token", "consume", err, ErrTokenNotActive)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordUsage increments usage_count for an active token whose usage limit,
// if any, is not yet exhausted.
func (r *GormTokenRepository) RecordUsage(ctx context.Context, hash string, now time.Time) (*domain.Token, error) {
	var out *domain.Token
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Token{}).
			Where("token_hash = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?) AND (usage_limit IS NULL OR usage_count < usage_limit)",
				hash, domain.TokenStatusActive, now).
			Updates(map[string]any{
				"usage_count":  gorm.Expr("usage_count + 1"),
				"last_used_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		var t domain.Token
		if err := tx.Where("token_hash = ?", hash).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if res.RowsAffected != 1 {
			if t.IsActive(now) && t.UsageExhausted() {
				return ErrUsageLimitExceeded
			}
			return ErrTokenNotActive
		}
		out = &t
		return nil
	})
	record(ctx, "token", "record_usage", err, ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormTokenRepository) RevokeByHash(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("token_hash = ? AND status = ?", hash, domain.TokenStatusActive).
		Updates(deactivation(domain.TokenStatusRevoked, reason, now))
	record(ctx, "token", "revoke_by_hash", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RevokeByIDForUser revokes one of the user's tokens. A row owned by another
// user, or of a type outside types, is reported as ErrTokenNotFound. Revoking
// an already inactive row is not an error and reports false.
func (r *GormTokenRepository) RevokeByIDForUser(ctx context.Context, userID, id uint, types []domain.TokenType, reason string, now time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&domain.Token{}).Where("user_id = ? AND id = ?", userID, id)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		record(ctx, "token", "revoke_by_id_for_user", err, nil)
		return false, err
	}
	if count == 0 {
		record(ctx, "token", "revoke_by_id_for_user", ErrTokenNotFound, ErrTokenNotFound)
		return false, ErrTokenNotFound
	}
	res := q.Where("status = ?", domain.TokenStatusActive).Updates(deactivation(domain.TokenStatusRevoked, reason, now))
	record(ctx, "token", "revoke_by_id_for_user", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormTokenRepository) RevokeByJTIForUser(ctx context.Context, userID uint, jti, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("user_id = ? AND jti = ? AND status = ?", userID, jti, domain.TokenStatusActive).
		Updates(deactivation(domain.TokenStatusRevoked, reason, now))
	record(ctx, "token", "revoke_by_jti_for_user", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormTokenRepository) RevokeByUser(ctx context.Context, userID uint, types []domain.TokenType, reason string, now time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("user_id = ? AND status = ?", userID, domain.TokenStatusActive)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	res := q.Updates(deactivation(domain.TokenStatusRevoked, reason, now))
	record(ctx, "token", "revoke_by_user", res.Error, nil)
	return res.RowsAffected, res.Error
}

func (r *GormTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("family_id = ? AND status = ?", familyID, domain.TokenStatusActive).
		Updates(deactivation(domain.TokenStatusRevoked, reason, now))
	record(ctx, "token", "revoke_family", res.Error, nil)
	return res.RowsAffected, res.Error
}

// Blacklist marks a token as known-compromised regardless of its current
// status. Blacklisted rows are never reactivated.
func (r *GormTokenRepository) Blacklist(ctx context.Context, hash, reason string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("token_hash = ? AND status <> ?", hash, domain.TokenStatusBlacklisted).
		Updates(deactivation(domain.TokenStatusBlacklisted, reason, now))
	record(ctx, "token", "blacklist", res.Error, nil)
	return res.Error
}

// SweepExpired transitions active rows whose expiry has passed to expired.
// Running it again without intervening writes changes nothing.
func (r *GormTokenRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.TokenStatusActive, now).
		Updates(deactivation(domain.TokenStatusExpired, domain.ReasonSwept, now))
	record(ctx, "token", "sweep_expired", res.Error, nil)
	return res.RowsAffected, res.Error
}

func (r *GormTokenRepository) ListActiveByUser(ctx context.Context, userID uint, tokenType domain.TokenType, now time.Time) ([]domain.Token, error) {
	var tokens []domain.Token
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			userID, tokenType, domain.TokenStatusActive, now).
		Order("created_at DESC").
		Order("id DESC").
		Find(&tokens).Error
	record(ctx, "token", "list_active_by_user", err, nil)
	return tokens, err
}

func (r *GormTokenRepository) ListByUser(ctx context.Context, userID uint, query TokenListQuery) (PageResult[domain.Token], error) {
	base := r.db.WithContext(ctx).Model(&domain.Token{}).Where("user_id = ?", userID)
	if query.Type != "" {
		base = base.Where("type = ?", query.Type)
	}
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}
	result, err := paginate[domain.Token](base, query.PageRequest, "id DESC")
	record(ctx, "token", "list_by_user", err, nil)
	return result, err
}

func deactivation(status domain.TokenStatus, reason string, now time.Time) map[string]any {
	return map[string]any{
		"status":              status,
		"deactivated_at":      now,
		"deactivation_reason": reason,
	}
}
