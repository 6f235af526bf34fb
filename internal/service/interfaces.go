package service

import (
	"context"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
)

type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput, client domain.ClientMetadata) (*domain.User, error)
	Login(ctx context.Context, in LoginInput, client domain.ClientMetadata) (*LoginResult, error)
	LoginWithGoogle(ctx context.Context, code string, client domain.ClientMetadata) (*LoginResult, error)
	GoogleLoginURL(state string) (string, error)
	Refresh(ctx context.Context, raw string, client domain.ClientMetadata) (*TokenPair, error)
	AuthenticateAccess(ctx context.Context, raw string) (*Principal, error)
	Logout(ctx context.Context, p *Principal, refreshRaw string, client domain.ClientMetadata) error
	LogoutAll(ctx context.Context, p *Principal, client domain.ClientMetadata) (int64, error)
	GetUser(ctx context.Context, id uint) (*domain.User, error)
	ListSessions(ctx context.Context, p *Principal) ([]SessionView, error)
	RevokeSession(ctx context.Context, p *Principal, id uint, client domain.ClientMetadata) (bool, error)
	SecurityLog(ctx context.Context, p *Principal, query repository.SecurityLogQuery) (repository.PageResult[domain.SecurityLog], error)

	RequestPasswordReset(ctx context.Context, email string, client domain.ClientMetadata) error
	ConfirmPasswordReset(ctx context.Context, raw, newPassword string, client domain.ClientMetadata) error
	ChangePassword(ctx context.Context, p *Principal, current, newPassword string, client domain.ClientMetadata) error
	RequestEmailVerification(ctx context.Context, userID uint, client domain.ClientMetadata) error
	ConfirmEmailVerification(ctx context.Context, raw string, client domain.ClientMetadata) error
}

type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, p *Principal, client domain.ClientMetadata) (*TwoFactorSetup, error)
	VerifySetup(ctx context.Context, p *Principal, code string, client domain.ClientMetadata) ([]string, error)
	Disable(ctx context.Context, p *Principal, code, backupCode string, client domain.ClientMetadata) error
	RegenerateBackupCodes(ctx context.Context, p *Principal, code string, client domain.ClientMetadata) ([]string, error)
}

type APITokenServiceInterface interface {
	Create(ctx context.Context, p *Principal, in CreateAPITokenInput, client domain.ClientMetadata) (*CreatedAPIToken, error)
	List(ctx context.Context, p *Principal, req repository.PageRequest) (repository.PageResult[domain.Token], error)
	Revoke(ctx context.Context, p *Principal, id uint, client domain.ClientMetadata) (bool, error)
	Authenticate(ctx context.Context, raw string) (*Principal, error)
}

var (
	_ AuthServiceInterface      = (*AuthService)(nil)
	_ TwoFactorServiceInterface = (*TwoFactorService)(nil)
	_ APITokenServiceInterface  = (*APITokenService)(nil)
)
