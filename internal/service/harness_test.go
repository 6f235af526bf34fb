package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

const testPepper = "test-pepper-0123456789"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(kind string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return Notification{}, false
}

type testHarness struct {
	db        *gorm.DB
	repos     repository.Repositories
	clock     *testClock
	totp      *security.TOTP
	ledger    *TokenLedger
	tokens    *TokenService
	creds     *CredentialService
	events    *SecurityEventRecorder
	notifier  *recordingNotifier
	auth      *AuthService
	twoFactor *TwoFactorService
	apiTokens *APITokenService
	sweeper   *TokenSweeper
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := newServiceDBForTest(t)
	clock := newTestClock()
	return buildHarness(t, db, clock)
}

// buildHarness wires a full service graph over db. Calling it twice against
// the same db simulates a second process.
func buildHarness(t *testing.T, db *gorm.DB, clock *testClock) *testHarness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := repository.NewRepositories(db)
	uow := repository.NewUnitOfWork(db)

	jwtCfg := security.JWTConfig{
		Issuer:        "newsroom-auth-test",
		Audience:      "newsroom",
		AccessSecret:  "access-secret-0123456789abcdef",
		RefreshSecret: "refresh-secret-0123456789abcdef",
		ActionSecret:  "action-secret-0123456789abcdef",
		APISecret:     "api-secret-0123456789abcdef0123",
		Lifetimes: map[domain.TokenType]time.Duration{
			domain.TokenTypeAccess:            15 * time.Minute,
			domain.TokenTypeRefresh:           7 * 24 * time.Hour,
			domain.TokenTypePasswordReset:     time.Hour,
			domain.TokenTypeEmailVerification: 24 * time.Hour,
			domain.TokenTypeAPI:               30 * 24 * time.Hour,
		},
	}
	issuer := security.NewTokenIssuer(jwtCfg, security.WithClock(clock.Now))
	verifier := security.NewTokenVerifier(jwtCfg, security.WithClock(clock.Now))
	totp := security.NewTOTP("Newsroom", security.WithClock(clock.Now))
	hasher := security.NewPasswordHasher(security.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1})

	ledger := NewTokenLedger(repos.Tokens, testPepper, clock.Now)
	denylist := NewInMemoryTokenDenylist(clock.Now)
	tokens := NewTokenService(issuer, verifier, ledger, denylist, clock.Now)
	creds := NewCredentialService(hasher, totp, CredentialPolicy{MaxFailedAttempts: 3, LockoutDuration: 15 * time.Minute, BackupCodeCount: 4}, log, clock.Now)
	events := NewSecurityEventRecorder(repos.SecurityLogs, NewNoopSecurityEventPublisher(), log, clock.Now)
	notifier := &recordingNotifier{}

	return &testHarness{
		db:        db,
		repos:     repos,
		clock:     clock,
		totp:      totp,
		ledger:    ledger,
		tokens:    tokens,
		creds:     creds,
		events:    events,
		notifier:  notifier,
		auth:      NewAuthService(repos, uow, ledger, tokens, creds, issuer, verifier, events, notifier, nil, log, clock.Now),
		twoFactor: NewTwoFactorService(repos, uow, ledger, creds, events, 10*time.Minute, clock.Now),
		apiTokens: NewAPITokenService(repos.Users, ledger, issuer, verifier, events),
		sweeper:   NewTokenSweeper(ledger, time.Minute, log),
	}
}

func newServiceDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return db
}

var testClient = domain.ClientMetadata{IP: "203.0.113.7", UserAgent: "service-test"}

func (h *testHarness) register(t *testing.T, username, password string) *domain.User {
	t.Helper()
	user, err := h.auth.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
	}, testClient)
	require.NoError(t, err)
	return user
}

func (h *testHarness) login(t *testing.T, identifier, password string) *LoginResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginInput{Identifier: identifier, Password: password}, testClient)
	require.NoError(t, err)
	return res
}

func (h *testHarness) principal(t *testing.T, pair *TokenPair) *Principal {
	t.Helper()
	p, err := h.auth.AuthenticateAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	return p
}

func (h *testHarness) loggedEvents(t *testing.T, userID uint) []domain.SecurityEvent {
	t.Helper()
	page, err := h.repos.SecurityLogs.ListByUser(context.Background(), userID, repository.SecurityLogQuery{PageRequest: repository.PageRequest{Page: 1, PageSize: 100}})
	require.NoError(t, err)
	out := make([]domain.SecurityEvent, 0, len(page.Items))
	for _, e := range page.Items {
		out = append(out, e.Event)
	}
	return out
}
