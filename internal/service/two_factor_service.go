package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

type TwoFactorSetup struct {
	Secret     string    `json:"secret"`
	OTPAuthURL string    `json:"otpauth_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TwoFactorService enrols and manages TOTP. A pending enrolment is a
// pending_2fa_setup ledger row holding the secret, so any instance can
// finish it and it lapses on its own.
type TwoFactorService struct {
	users       repository.UserRepository
	credentials repository.CredentialRepository
	uow         repository.UnitOfWork
	ledger      *TokenLedger
	creds       *CredentialService
	events      *SecurityEventRecorder
	setupTTL    time.Duration
	now         func() time.Time
}

func NewTwoFactorService(repos repository.Repositories, uow repository.UnitOfWork, ledger *TokenLedger, creds *CredentialService, events *SecurityEventRecorder, setupTTL time.Duration, now func() time.Time) *TwoFactorService {
	if setupTTL <= 0 {
		setupTTL = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &TwoFactorService{
		users:       repos.Users,
		credentials: repos.Credentials,
		uow:         uow,
		ledger:      ledger,
		creds:       creds,
		events:      events,
		setupTTL:    setupTTL,
		now:         now,
	}
}

// Setup starts enrolment. Starting again supersedes an earlier pending
// secret.
func (s *TwoFactorService) Setup(ctx context.Context, p *Principal, client domain.ClientMetadata) (*TwoFactorSetup, error) {
	user, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	cred, err := s.credentials.FindByUserID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if cred.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	key, err := s.creds.GenerateTOTP(user.Email)
	if err != nil {
		return nil, err
	}
	handle, err := security.RandomString(32)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().UTC().Add(s.setupTTL)
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		ledger := s.ledger.WithRepository(tx.Tokens)
		if _, err := ledger.RevokeAll(ctx, p.UserID, []domain.TokenType{domain.TokenTypePendingTwoFactor}, domain.ReasonSuperseded); err != nil {
			return err
		}
		_, err := ledger.Record(ctx, p.UserID, handle, domain.TokenTypePendingTwoFactor, RecordOptions{
			ExpiresAt: expiresAt,
			Payload:   key.Secret,
			Client:    client,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record pending two-factor setup: %w", err)
	}
	s.audit(ctx, p.UserID, domain.SecurityEventTwoFactorSetup, domain.OutcomeSuccess, "", client)
	return &TwoFactorSetup{Secret: key.Secret, OTPAuthURL: key.URL, ExpiresAt: expiresAt}, nil
}

// VerifySetup confirms enrolment with a code from the pending secret and
// returns the backup codes. They are shown once.
func (s *TwoFactorService) VerifySetup(ctx context.Context, p *Principal, code string, client domain.ClientMetadata) ([]string, error) {
	pending, err := s.ledger.LatestActive(ctx, p.UserID, domain.TokenTypePendingTwoFactor)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrTwoFactorSetupMissing
	}
	if err != nil {
		return nil, err
	}
	step, ok := s.creds.MatchTOTP(pending.Payload, code)
	if !ok {
		s.audit(ctx, p.UserID, domain.SecurityEventTwoFactorEnabled, domain.OutcomeFailure, "two_factor_invalid", client)
		return nil, ErrTwoFactorInvalid
	}
	codes, hashes, err := s.creds.NewBackupCodes()
	if err != nil {
		return nil, err
	}
	err = s.uow.Do(ctx, func(tx repository.Repositories) error {
		if _, err := s.ledger.WithRepository(tx.Tokens).consumeHash(ctx, pending.TokenHash, domain.TokenTypePendingTwoFactor); err != nil {
			if errors.Is(err, ErrTokenRevoked) {
				return ErrTwoFactorSetupMissing
			}
			return err
		}
		if err := tx.Credentials.EnableTwoFactor(ctx, p.UserID, pending.Payload, hashes, s.now().UTC()); err != nil {
			return err
		}
		_, err := tx.Credentials.AcceptTOTPStep(ctx, p.UserID, step)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, p.UserID, domain.SecurityEventTwoFactorEnabled, domain.OutcomeSuccess, "", client)
	return codes, nil
}

// Disable turns 2FA off after a valid TOTP or backup code.
func (s *TwoFactorService) Disable(ctx context.Context, p *Principal, code, backupCode string, client domain.ClientMetadata) error {
	cred, err := s.credentials.FindByUserID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !cred.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if _, err := s.creds.VerifySecondFactor(ctx, s.credentials, cred, code, backupCode); err != nil {
		s.audit(ctx, p.UserID, domain.SecurityEventTwoFactorDisabled, domain.OutcomeFailure, ErrorReason(err), client)
		return err
	}
	if err := s.credentials.DisableTwoFactor(ctx, p.UserID); err != nil {
		return err
	}
	s.audit(ctx, p.UserID, domain.SecurityEventTwoFactorDisabled, domain.OutcomeSuccess, "", client)
	return nil
}

// RegenerateBackupCodes replaces every backup code. Only a fresh TOTP code
// is accepted.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, p *Principal, code string, client domain.ClientMetadata) ([]string, error) {
	cred, err := s.credentials.FindByUserID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !cred.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	ok, err := s.creds.ConsumeTOTP(ctx, s.credentials, cred, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.audit(ctx, p.UserID, domain.SecurityEventBackupCodesRegenerate, domain.OutcomeFailure, "two_factor_invalid", client)
		return nil, ErrTwoFactorInvalid
	}
	codes, hashes, err := s.creds.NewBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.credentials.ReplaceBackupCodes(ctx, p.UserID, hashes); err != nil {
		return nil, err
	}
	s.audit(ctx, p.UserID, domain.SecurityEventBackupCodesRegenerate, domain.OutcomeSuccess, "", client)
	return codes, nil
}

func (s *TwoFactorService) audit(ctx context.Context, userID uint, event domain.SecurityEvent, outcome, reason string, client domain.ClientMetadata) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, SecurityEventInput{UserID: userRef(userID), Event: event, Outcome: outcome, Reason: reason, Client: client})
}
