package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserListQuery struct {
	PageRequest
	SortBy      string
	SortOrder   string
	Email       string
	Status      string
	AccountType string
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Credential").First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	record(ctx, "user", "find_by_id", err, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Credential").
		Where("email = ?", normalizeEmail(email)).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	record(ctx, "user", "find_by_email", err, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByIdentifier accepts either a username or an email address.
func (r *GormUserRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Credential").
		Where("email = ? OR username = ?", normalizeEmail(identifier), identifier).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	record(ctx, "user", "find_by_identifier", err, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts the user and, when set, its credential in one statement
// batch. Unique violations on username or email surface as ErrDuplicate.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = normalizeEmail(user.Email)
	err := mapWriteError(r.db.WithContext(ctx).Create(user).Error)
	record(ctx, "user", "create", err, nil)
	return err
}

func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	user.Email = normalizeEmail(user.Email)
	err := mapWriteError(r.db.WithContext(ctx).Omit(clause.Associations).Save(user).Error)
	record(ctx, "user", "update", err, nil)
	return err
}

func (r *GormUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error) {
	base := r.db.WithContext(ctx).Model(&domain.User{})
	if query.Email != "" {
		base = base.Where("users.email LIKE ?", normalizeEmail(query.Email)+"%")
	}
	if query.Status != "" {
		base = base.Where("users.status = ?", query.Status)
	}
	if query.AccountType != "" {
		base = base.Where("users.account_type = ?", query.AccountType)
	}

	order := "ASC"
	if strings.EqualFold(query.SortOrder, "desc") {
		order = "DESC"
	}
	var orders []string
	switch query.SortBy {
	case "created_at", "email", "username":
		orders = append(orders, "users."+query.SortBy+" "+order)
	}
	orders = append(orders, "users.id "+order)

	result, err := paginate[domain.User](base, query.PageRequest, orders...)
	record(ctx, "user", "list_paged", err, nil)
	return result, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
