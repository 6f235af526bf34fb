package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/validation"
)

const (
	MinPasswordLength = validation.MinPasswordLength
	MaxPasswordLength = validation.MaxPasswordLength
)

// ValidatePasswordPolicy runs the shared "password" validation.
func ValidatePasswordPolicy(password string) error {
	if err := validation.Var(password, "password"); err != nil {
		return fmt.Errorf("%w: must be %d to %d characters and not blank", ErrWeakPassword, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

type CredentialPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BackupCodeCount   int
}

// CredentialService owns password and second-factor checks against a
// credential row, including failed-attempt accounting.
type CredentialService struct {
	hasher *security.PasswordHasher
	totp   *security.TOTP
	policy CredentialPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewCredentialService(hasher *security.PasswordHasher, totp *security.TOTP, policy CredentialPolicy, logger *slog.Logger, now func() time.Time) *CredentialService {
	if policy.MaxFailedAttempts < 1 {
		policy.MaxFailedAttempts = 5
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = 15 * time.Minute
	}
	if policy.BackupCodeCount < 1 {
		policy.BackupCodeCount = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialService{hasher: hasher, totp: totp, policy: policy, logger: logger, now: now}
}

func (s *CredentialService) clock() time.Time { return s.now().UTC() }

// HashPassword enforces the password policy before hashing.
func (s *CredentialService) HashPassword(password string) (string, error) {
	if err := ValidatePasswordPolicy(password); err != nil {
		return "", err
	}
	return s.hasher.Hash(password)
}

// VerifyPassword checks password against cred. A locked credential is
// rejected before the password is looked at. A mismatch is counted and may
// lock the account, in which case the lock is returned.
func (s *CredentialService) VerifyPassword(ctx context.Context, creds repository.CredentialRepository, cred *domain.Credential, password string) error {
	now := s.clock()
	if cred.IsLocked(now) {
		s.hasher.VerifyDummy(password)
		return &AccountLockedError{Until: *cred.LockedUntil}
	}
	if !cred.HasPassword() {
		s.hasher.VerifyDummy(password)
		return s.RecordFailure(ctx, creds, cred.UserID)
	}
	ok, err := s.hasher.Verify(password, cred.PasswordHash)
	if err != nil {
		if !errors.Is(err, security.ErrMalformedPasswordHash) {
			return err
		}
		s.logger.ErrorContext(ctx, "stored password hash is unreadable", "user_id", cred.UserID)
	}
	if !ok {
		return s.RecordFailure(ctx, creds, cred.UserID)
	}
	return nil
}

// DummyVerify spends the same time as a real check so unknown accounts are
// not distinguishable by latency.
func (s *CredentialService) DummyVerify(password string) {
	s.hasher.VerifyDummy(password)
}

// RecordFailure counts a failed attempt and returns ErrInvalidCredentials,
// or the lock it triggered.
func (s *CredentialService) RecordFailure(ctx context.Context, creds repository.CredentialRepository, userID uint) error {
	now := s.clock()
	updated, err := creds.RecordFailedAttempt(ctx, userID, s.policy.MaxFailedAttempts, s.policy.LockoutDuration, now)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if updated.IsLocked(now) {
		return &AccountLockedError{Until: *updated.LockedUntil}
	}
	return ErrInvalidCredentials
}

// VerifySecondFactor accepts a current, not yet used TOTP code or an unused
// backup code. A backup code is removed in the same statement that accepts it. Failures
// count towards the lockout threshold.
func (s *CredentialService) VerifySecondFactor(ctx context.Context, creds repository.CredentialRepository, cred *domain.Credential, code, backupCode string) (usedBackup bool, err error) {
	if code == "" && backupCode == "" {
		return false, ErrTwoFactorRequired
	}
	if code != "" {
		ok, err := s.ConsumeTOTP(ctx, creds, cred, code)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	if backupCode != "" {
		_, err := creds.ConsumeBackupCode(ctx, cred.UserID, security.HashBackupCode(backupCode))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, repository.ErrBackupCodeNotFound) {
			return false, fmt.Errorf("consume backup code: %w", err)
		}
	}
	if err := s.RecordFailure(ctx, creds, cred.UserID); !errors.Is(err, ErrInvalidCredentials) {
		return false, err
	}
	return false, ErrTwoFactorInvalid
}

// MatchTOTP checks a code against a secret that is not stored yet and
// returns its time step.
func (s *CredentialService) MatchTOTP(secret, code string) (int64, bool) {
	return s.totp.Match(secret, code)
}

// ConsumeTOTP accepts a code for the stored secret at most once. A code whose
// time step is not newer than the last accepted one is refused. Failed-attempt
// counters are not touched.
func (s *CredentialService) ConsumeTOTP(ctx context.Context, creds repository.CredentialRepository, cred *domain.Credential, code string) (bool, error) {
	step, ok := s.totp.Match(cred.TwoFactorSecret, code)
	if !ok {
		return false, nil
	}
	accepted, err := creds.AcceptTOTPStep(ctx, cred.UserID, step)
	if err != nil {
		return false, fmt.Errorf("accept totp step: %w", err)
	}
	if !accepted {
		s.logger.WarnContext(ctx, "totp code replayed", "user_id", cred.UserID, "step", step)
	}
	return accepted, nil
}

func (s *CredentialService) GenerateTOTP(account string) (security.TOTPKey, error) {
	return s.totp.Generate(account)
}

// UpgradeHashIfNeeded re-hashes password with current parameters when the
// stored hash is bcrypt or weaker argon2id. Failure is logged, never fatal.
func (s *CredentialService) UpgradeHashIfNeeded(ctx context.Context, creds repository.CredentialRepository, cred *domain.Credential, password string) {
	if !s.hasher.NeedsRehash(cred.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", cred.UserID, "error", err)
		return
	}
	if _, err := creds.UpgradePasswordHash(ctx, cred.UserID, cred.PasswordHash, hash); err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", cred.UserID, "error", err)
	}
}

// NewBackupCodes returns fresh plaintext codes for display and their hashes
// for storage.
func (s *CredentialService) NewBackupCodes() (codes []string, hashes []string, err error) {
	codes, err = security.GenerateBackupCodes(s.policy.BackupCodeCount)
	if err != nil {
		return nil, nil, err
	}
	hashes = make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = security.HashBackupCode(c)
	}
	return codes, hashes, nil
}
