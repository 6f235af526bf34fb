package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the repositories bound to one database handle, either
// the pool or an open transaction.
type Repositories struct {
	Users        UserRepository
	Credentials  CredentialRepository
	Tokens       TokenRepository
	SecurityLogs SecurityLogRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:        NewUserRepository(db),
		Credentials:  NewCredentialRepository(db),
		Tokens:       NewTokenRepository(db),
		SecurityLogs: NewSecurityLogRepository(db),
	}
}

// UnitOfWork runs fn against repositories sharing one transaction. Returning
// an error from fn rolls every write back. fn must only use the repositories
// it is given.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(repos Repositories) error) error
}

type GormUnitOfWork struct{ db *gorm.DB }

func NewUnitOfWork(db *gorm.DB) UnitOfWork { return &GormUnitOfWork{db: db} }

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(repos Repositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
