package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
)

func TestUserRepositoryCreateWithCredentialAndLookup(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()

	user := newTestUser("alice", "Alice@Example.com")
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Credential == nil || user.Credential.UserID != user.ID {
		t.Fatalf("expected credential created with user, got %+v", user.Credential)
	}

	for _, ident := range []string{"alice", "alice@example.com", " ALICE@example.com "} {
		got, err := repos.Users.FindByIdentifier(ctx, ident)
		if err != nil {
			t.Fatalf("find by %q: %v", ident, err)
		}
		if got.ID != user.ID || got.Credential == nil {
			t.Fatalf("unexpected user for %q: %+v", ident, got)
		}
	}
	if _, err := repos.Users.FindByIdentifier(ctx, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	dup := newTestUser("alice2", "alice@example.com")
	if err := repos.Users.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for duplicate email, got %v", err)
	}
}

func TestCredentialRepositoryLockoutAndReset(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := newTestUser("carol", "carol@example.com")
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	var cred *domain.Credential
	var err error
	for i := 1; i <= 3; i++ {
		cred, err = repos.Credentials.RecordFailedAttempt(ctx, user.ID, 3, 15*time.Minute, now)
		if err != nil {
			t.Fatalf("failed attempt %d: %v", i, err)
		}
		if i < 3 && cred.IsLocked(now) {
			t.Fatalf("locked too early after %d attempts", i)
		}
	}
	if !cred.IsLocked(now) || cred.FailedAttempts != 3 {
		t.Fatalf("expected locked after threshold, got %+v", cred)
	}
	if cred.IsLocked(now.Add(16 * time.Minute)) {
		t.Fatal("lock must lapse after lockout duration")
	}

	later := now.Add(16 * time.Minute)
	cred, err = repos.Credentials.RecordFailedAttempt(ctx, user.ID, 3, 15*time.Minute, later)
	if err != nil {
		t.Fatalf("failed attempt after lapse: %v", err)
	}
	if cred.IsLocked(later) || cred.FailedAttempts != 1 || cred.LockedUntil != nil {
		t.Fatalf("expected a fresh count after the lock lapsed, got %+v", cred)
	}

	if err := repos.Credentials.RecordSuccess(ctx, user.ID, now.Add(16*time.Minute)); err != nil {
		t.Fatalf("record success: %v", err)
	}
	cred, err = repos.Credentials.FindByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find credential: %v", err)
	}
	if cred.FailedAttempts != 0 || cred.LockedUntil != nil || cred.LastLoginAt == nil {
		t.Fatalf("expected counters reset, got %+v", cred)
	}
}

func TestCredentialRepositoryConsumeBackupCodeOnce(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := newTestUser("dave", "dave@example.com")
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := repos.Credentials.EnableTwoFactor(ctx, user.ID, "SECRET", []string{"h1", "h2", "h3"}, now); err != nil {
		t.Fatalf("enable 2fa: %v", err)
	}

	remaining, err := repos.Credentials.ConsumeBackupCode(ctx, user.ID, "h2")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", remaining)
	}
	if _, err := repos.Credentials.ConsumeBackupCode(ctx, user.ID, "h2"); !errors.Is(err, ErrBackupCodeNotFound) {
		t.Fatalf("expected second use to fail, got %v", err)
	}
	cred, err := repos.Credentials.FindByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(cred.BackupCodes) != 2 || cred.BackupCodes[0] != "h1" || cred.BackupCodes[1] != "h3" {
		t.Fatalf("unexpected stored codes: %#v", cred.BackupCodes)
	}

	if err := repos.Credentials.DisableTwoFactor(ctx, user.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	cred, _ = repos.Credentials.FindByUserID(ctx, user.ID)
	if cred.TwoFactorEnabled || cred.TwoFactorSecret != "" || len(cred.BackupCodes) != 0 {
		t.Fatalf("expected 2fa state cleared, got %+v", cred)
	}
}

func TestCredentialRepositoryAcceptTOTPStepOnlyMovesForward(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()

	user := newTestUser("tess", "tess@example.com")
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := repos.Credentials.EnableTwoFactor(ctx, user.ID, "JBSWY3DPEHPK3PXP", nil, time.Now()); err != nil {
		t.Fatalf("enable two factor: %v", err)
	}

	steps := []struct {
		step int64
		want bool
	}{
		{step: 100, want: true},
		{step: 100, want: false},
		{step: 99, want: false},
		{step: 101, want: true},
	}
	for _, tc := range steps {
		got, err := repos.Credentials.AcceptTOTPStep(ctx, user.ID, tc.step)
		if err != nil {
			t.Fatalf("accept step %d: %v", tc.step, err)
		}
		if got != tc.want {
			t.Fatalf("accept step %d: expected %v, got %v", tc.step, tc.want, got)
		}
	}

	if err := repos.Credentials.DisableTwoFactor(ctx, user.ID); err != nil {
		t.Fatalf("disable two factor: %v", err)
	}
	cred, err := repos.Credentials.FindByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find credential: %v", err)
	}
	if cred.TOTPLastStep != 0 {
		t.Fatalf("expected step cleared with the secret, got %d", cred.TOTPLastStep)
	}
}

func TestCredentialRepositoryUpgradePasswordHashIsConditional(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()

	user := newTestUser("erin", "erin@example.com")
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	ok, err := repos.Credentials.UpgradePasswordHash(ctx, user.ID, "stale", "new")
	if err != nil || ok {
		t.Fatalf("expected no-op upgrade for stale hash, ok=%v err=%v", ok, err)
	}
	ok, err = repos.Credentials.UpgradePasswordHash(ctx, user.ID, "hash", "new")
	if err != nil || !ok {
		t.Fatalf("expected upgrade, ok=%v err=%v", ok, err)
	}
}

func TestSecurityLogRepositoryAppendAndList(t *testing.T) {
	repos := newReposForTest(t)
	ctx := context.Background()
	uid := uint(9)
	for _, ev := range []domain.SecurityEvent{domain.SecurityEventLogin, domain.SecurityEventLoginFailed, domain.SecurityEventLogin} {
		if err := repos.SecurityLogs.Append(ctx, &domain.SecurityLog{UserID: &uid, Event: ev, Outcome: domain.OutcomeSuccess}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	page, err := repos.SecurityLogs.ListByUser(ctx, uid, SecurityLogQuery{Event: domain.SecurityEventLogin})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("expected 2 login entries, got %d", page.Total)
	}
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	db := newDBForTest(t)
	uow := NewUnitOfWork(db)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := uow.Do(ctx, func(tx Repositories) error {
		if err := tx.Tokens.Create(ctx, newTestToken(1, "rollback", domain.TokenTypeRefresh, now.Add(time.Hour))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := repos.Tokens.FindByHash(ctx, "rollback"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func newTestUser(username, email string) *domain.User {
	return &domain.User{
		Username:    username,
		Email:       email,
		AccountType: domain.AccountTypeStandard,
		Status:      domain.UserStatusActive,
		Credential:  &domain.Credential{PasswordHash: "hash"},
	}
}
