package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

var sessionTokenTypes = []domain.TokenType{domain.TokenTypeRefresh, domain.TokenTypeAPI}

// RequestPasswordReset issues a single-use reset token for the account with
// this email and hands it to the notifier. Unknown or disabled accounts are
// not reported to the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, client domain.ClientMetadata) error {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.audit(ctx, nil, domain.SecurityEventPasswordResetRequest, domain.OutcomeFailure, "unknown_email", client)
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive() {
		s.audit(ctx, &user.ID, domain.SecurityEventPasswordResetRequest, domain.OutcomeFailure, "account_disabled", client)
		return nil
	}
	issued, err := s.issueActionToken(ctx, user, domain.TokenTypePasswordReset, client)
	if err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, Notification{
		Kind:      NotificationPasswordReset,
		UserID:    user.ID,
		Email:     user.Email,
		Token:     issued.Raw,
		ExpiresAt: issued.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("notify password reset: %w", err)
	}
	s.audit(ctx, &user.ID, domain.SecurityEventPasswordResetRequest, domain.OutcomeSuccess, "", client)
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets a new password. In the
// same unit of work the lockout is cleared and every refresh and API token is
// revoked; outstanding access tokens are then cut off.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, raw, newPassword string, client domain.ClientMetadata) error {
	claims, err := s.verifier.VerifyAction(raw, domain.TokenTypePasswordReset)
	if err != nil {
		return verificationError(err)
	}
	userID, err := ParseSubject(claims.Subject)
	if err != nil {
		return err
	}
	hash, err := s.creds.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		ledger := s.ledger.WithRepository(tx.Tokens)
		row, err := ledger.Consume(ctx, raw, domain.TokenTypePasswordReset)
		if err != nil {
			return err
		}
		if row.UserID != userID {
			return ErrTokenInvalid
		}
		if err := tx.Credentials.SetPasswordHash(ctx, userID, hash, s.clock()); err != nil {
			return err
		}
		_, err = ledger.RevokeAll(ctx, userID, sessionTokenTypes, domain.ReasonPasswordReset)
		return err
	})
	if err != nil {
		s.audit(ctx, &userID, domain.SecurityEventPasswordReset, domain.OutcomeFailure, ErrorReason(err), client)
		return err
	}
	if err := s.tokens.CutOffSubject(ctx, userID); err != nil {
		return fmt.Errorf("set token cutoff: %w", err)
	}
	s.audit(ctx, &userID, domain.SecurityEventPasswordReset, domain.OutcomeSuccess, "", client)
	return nil
}

// ChangePassword requires the current password. Every refresh token of the
// user is revoked and outstanding access tokens are cut off, so the caller
// has to log in again.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, newPassword string, client domain.ClientMetadata) error {
	cred, err := s.credentials.FindByUserID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := s.creds.VerifyPassword(ctx, s.credentials, cred, current); err != nil {
		s.audit(ctx, &p.UserID, domain.SecurityEventPasswordChange, domain.OutcomeFailure, ErrorReason(err), client)
		return err
	}
	hash, err := s.creds.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		if err := tx.Credentials.SetPasswordHash(ctx, p.UserID, hash, s.clock()); err != nil {
			return err
		}
		_, err := s.ledger.WithRepository(tx.Tokens).RevokeAll(ctx, p.UserID, []domain.TokenType{domain.TokenTypeRefresh}, domain.ReasonPasswordChange)
		return err
	})
	if err != nil {
		return err
	}
	if err := s.tokens.CutOffSubject(ctx, p.UserID); err != nil {
		return fmt.Errorf("set token cutoff: %w", err)
	}
	s.audit(ctx, &p.UserID, domain.SecurityEventPasswordChange, domain.OutcomeSuccess, "", client)
	return nil
}

// RequestEmailVerification issues a verification token unless the address is
// already verified.
func (s *AuthService) RequestEmailVerification(ctx context.Context, userID uint, client domain.ClientMetadata) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	cred, err := s.credentialOf(ctx, user)
	if err != nil {
		return err
	}
	if cred.EmailVerified {
		return nil
	}
	issued, err := s.issueActionToken(ctx, user, domain.TokenTypeEmailVerification, client)
	if err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, Notification{
		Kind:      NotificationEmailVerification,
		UserID:    user.ID,
		Email:     user.Email,
		Token:     issued.Raw,
		ExpiresAt: issued.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("notify email verification: %w", err)
	}
	s.audit(ctx, &user.ID, domain.SecurityEventEmailVerifyRequest, domain.OutcomeSuccess, "", client)
	return nil
}

func (s *AuthService) ConfirmEmailVerification(ctx context.Context, raw string, client domain.ClientMetadata) error {
	claims, err := s.verifier.VerifyAction(raw, domain.TokenTypeEmailVerification)
	if err != nil {
		return verificationError(err)
	}
	userID, err := ParseSubject(claims.Subject)
	if err != nil {
		return err
	}
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		row, err := s.ledger.WithRepository(tx.Tokens).Consume(ctx, raw, domain.TokenTypeEmailVerification)
		if err != nil {
			return err
		}
		if row.UserID != userID {
			return ErrTokenInvalid
		}
		return tx.Credentials.MarkEmailVerified(ctx, userID, s.clock())
	})
	if err != nil {
		s.audit(ctx, &userID, domain.SecurityEventEmailVerified, domain.OutcomeFailure, ErrorReason(err), client)
		return err
	}
	s.audit(ctx, &userID, domain.SecurityEventEmailVerified, domain.OutcomeSuccess, "", client)
	return nil
}

// issueActionToken supersedes any pending token of the same type and records
// the new one.
func (s *AuthService) issueActionToken(ctx context.Context, user *domain.User, tokenType domain.TokenType, client domain.ClientMetadata) (security.IssuedToken, error) {
	issued, err := s.issuer.Issue(FormatSubject(user.ID), tokenType, security.IssueOptions{})
	if err != nil {
		return security.IssuedToken{}, err
	}
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		ledger := s.ledger.WithRepository(tx.Tokens)
		if _, err := ledger.RevokeAll(ctx, user.ID, []domain.TokenType{tokenType}, domain.ReasonSuperseded); err != nil {
			return err
		}
		_, err := ledger.Record(ctx, user.ID, issued.Raw, tokenType, RecordOptions{
			JTI:       issued.JTI,
			ExpiresAt: issued.ExpiresAt,
			Client:    client,
		})
		return err
	})
	if err != nil {
		return security.IssuedToken{}, fmt.Errorf("record %s token: %w", tokenType, err)
	}
	return issued, nil
}

// ErrorReason is a short low-cardinality label for err, used in the
// security log and audit lines.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_password"
	case errors.Is(err, ErrTwoFactorInvalid):
		return "two_factor_invalid"
	case errors.Is(err, ErrTwoFactorRequired):
		return "two_factor_required"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	default:
		return "error"
	}
}
