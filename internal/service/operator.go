package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
)

// ProvisionUser creates an account on an operator's behalf. Unlike Register
// it accepts every account type and marks the email as verified.
func (s *AuthService) ProvisionUser(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in, err := in.normalized()
	if err != nil {
		return nil, err
	}
	hash, err := s.creds.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	user := &domain.User{
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		AccountType: in.AccountType,
		Status:      domain.UserStatusActive,
		Credential: &domain.Credential{
			PasswordHash:    hash,
			EmailVerified:   true,
			EmailVerifiedAt: &now,
		},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	s.audit(ctx, &user.ID, domain.SecurityEventRegister, domain.OutcomeSuccess, "provisioned", domain.ClientMetadata{})
	return user, nil
}

// RevokeUserTokens ends every session and API token of userID and refuses
// access tokens issued up to now.
func (s *AuthService) RevokeUserTokens(ctx context.Context, userID uint) (int64, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.ledger.RevokeAll(ctx, userID, []domain.TokenType{domain.TokenTypeRefresh, domain.TokenTypeAPI}, domain.ReasonAdminRevoked)
	if err != nil {
		return 0, err
	}
	if err := s.tokens.CutOffSubject(ctx, userID); err != nil {
		return n, fmt.Errorf("set token cutoff: %w", err)
	}
	s.audit(ctx, &userID, domain.SecurityEventLogoutAll, domain.OutcomeSuccess, domain.ReasonAdminRevoked, domain.ClientMetadata{})
	return n, nil
}

// ListUsers pages through accounts for operators.
func (s *AuthService) ListUsers(ctx context.Context, query repository.UserListQuery) (repository.PageResult[domain.User], error) {
	return s.users.ListPaged(ctx, query)
}
