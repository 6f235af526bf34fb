package repository

import (
	"context"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"

	"gorm.io/gorm"
)

type SecurityLogQuery struct {
	PageRequest
	Event domain.SecurityEvent
}

// SecurityLogRepository is append-only: there is no update or delete.
type SecurityLogRepository interface {
	Append(ctx context.Context, entry *domain.SecurityLog) error
	ListByUser(ctx context.Context, userID uint, query SecurityLogQuery) (PageResult[domain.SecurityLog], error)
}

type GormSecurityLogRepository struct{ db *gorm.DB }

func NewSecurityLogRepository(db *gorm.DB) SecurityLogRepository {
	return &GormSecurityLogRepository{db: db}
}

func (r *GormSecurityLogRepository) Append(ctx context.Context, entry *domain.SecurityLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	record(ctx, "security_log", "append", err, nil)
	return err
}

func (r *GormSecurityLogRepository) ListByUser(ctx context.Context, userID uint, query SecurityLogQuery) (PageResult[domain.SecurityLog], error) {
	base := r.db.WithContext(ctx).Model(&domain.SecurityLog{}).Where("user_id = ?", userID)
	if query.Event != "" {
		base = base.Where("event = ?", query.Event)
	}
	result, err := paginate[domain.SecurityLog](base, query.PageRequest, "created_at DESC", "id DESC")
	record(ctx, "security_log", "list_by_user", err, nil)
	return result, err
}
