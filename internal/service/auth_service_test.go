package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/validation"
)

func TestAuthServiceLoginThenRefreshRotatesOnce(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "alice", "correct-pw")

	res := h.login(t, "alice", "correct-pw")
	assert.Equal(t, "bearer", res.Pair.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), res.Pair.ExpiresIn)
	require.NotEmpty(t, res.Pair.AccessToken)
	require.NotEmpty(t, res.Pair.RefreshToken)

	row, err := h.ledger.Lookup(ctx, res.Pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStatusActive, row.Status)
	assert.Equal(t, domain.TokenTypeRefresh, row.Type)

	next, err := h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
	require.NoError(t, err)
	assert.NotEqual(t, res.Pair.RefreshToken, next.RefreshToken)

	old, err := h.ledger.Lookup(ctx, res.Pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, old.IsActive(h.clock.Now()))
	assert.Equal(t, domain.ReasonRotated, deref(old.DeactivationReason))

	_, err = h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.ErrorIs(t, err, ErrRefreshTokenReuseDetected)

	// The replay revoked the family, including the token minted by the
	// legitimate rotation.
	_, err = h.auth.Refresh(ctx, next.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)

	assert.Contains(t, h.loggedEvents(t, res.User.ID), domain.SecurityEventRefreshReuse)
}

func TestAuthServiceConcurrentRefreshHasOneWinner(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "bob", "bob-password")
	res := h.login(t, "bob", "bob-password")

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*TokenPair
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			pair, err := h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			winners = append(winners, pair)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, failures, callers-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrTokenRevoked)
	}
	_, err := h.auth.Refresh(ctx, winners[0].RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuthServiceRefreshRejectsAccessToken(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "carol", "carol-password")
	res := h.login(t, "carol", "carol-password")

	_, err := h.auth.Refresh(context.Background(), res.Pair.AccessToken, testClient)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = h.auth.AuthenticateAccess(context.Background(), res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthServiceRefreshAfterExpiry(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "erin", "erin-password")
	res := h.login(t, "erin", "erin-password")

	h.clock.Advance(8 * 24 * time.Hour)
	_, err := h.auth.Refresh(context.Background(), res.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "dave", "dave-password")

	_, err := h.auth.Login(ctx, LoginInput{Identifier: "nobody", Password: "whatever1"}, testClient)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.auth.Login(ctx, LoginInput{Identifier: "dave@example.com", Password: "wrong-password"}, testClient)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	user.Status = domain.UserStatusDisabled
	require.NoError(t, h.repos.Users.Update(ctx, user))
	_, err = h.auth.Login(ctx, LoginInput{Identifier: "dave", Password: "dave-password"}, testClient)
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestAuthServiceDisabledAccountNeedsPasswordToBeRevealed(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "erin", "erin-password")
	user.Status = domain.UserStatusDisabled
	require.NoError(t, h.repos.Users.Update(ctx, user))

	_, err := h.auth.Login(ctx, LoginInput{Identifier: "erin", Password: "wrong-password"}, testClient)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrAccountDisabled)

	_, err = h.auth.Login(ctx, LoginInput{Identifier: "erin", Password: "erin-password"}, testClient)
	require.ErrorIs(t, err, ErrAccountDisabled)

	logs, err := h.repos.SecurityLogs.ListByUser(ctx, user.ID, repository.SecurityLogQuery{PageRequest: repository.PageRequest{Page: 1, PageSize: 100}})
	require.NoError(t, err)
	reasons := make([]string, 0, len(logs.Items))
	for _, entry := range logs.Items {
		if entry.Event == domain.SecurityEventLoginFailed {
			reasons = append(reasons, entry.Reason)
		}
	}
	assert.Contains(t, reasons, "invalid_password")
	assert.Contains(t, reasons, "account_disabled")
}

func TestAuthServiceLockoutExpiresAndResetsCounter(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "frank", "frank-password")

	for i := 0; i < 2; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Identifier: "frank", Password: "bad-password"}, testClient)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := h.auth.Login(ctx, LoginInput{Identifier: "frank", Password: "bad-password"}, testClient)
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 15*time.Minute, locked.RetryAfter(h.clock.Now()))

	_, err = h.auth.Login(ctx, LoginInput{Identifier: "frank", Password: "frank-password"}, testClient)
	require.ErrorIs(t, err, ErrAccountLocked)

	h.clock.Advance(15*time.Minute + time.Second)
	h.login(t, "frank", "frank-password")

	cred, err := h.repos.Credentials.FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, cred.FailedAttempts)
	assert.Nil(t, cred.LockedUntil)
	assert.Contains(t, h.loggedEvents(t, user.ID), domain.SecurityEventAccountLocked)
}

func TestAuthServiceRegisterValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "grace", "grace-password")

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate username", RegisterInput{Username: "grace", Email: "other@example.com", Password: "long-enough"}, ErrAccountExists},
		{"duplicate email", RegisterInput{Username: "grace2", Email: "GRACE@example.com", Password: "long-enough"}, ErrAccountExists},
		{"bad username", RegisterInput{Username: "g!", Email: "g@example.com", Password: "long-enough"}, ErrInvalidInput},
		{"bad email", RegisterInput{Username: "gregory", Email: "not-an-email", Password: "long-enough"}, ErrInvalidInput},
		{"short password", RegisterInput{Username: "gregory", Email: "greg@example.com", Password: "short"}, ErrWeakPassword},
		{"admin", RegisterInput{Username: "root", Email: "root@example.com", Password: "long-enough", AccountType: domain.AccountTypeAdmin}, ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.auth.Register(ctx, tc.in, testClient)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthServiceRegisterReportsInvalidFields(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.auth.Register(context.Background(), RegisterInput{
		Username: "x",
		Email:    "Desk <desk@example.com>",
		Password: "long-enough",
	}, testClient)
	require.ErrorIs(t, err, ErrInvalidInput)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := validation.Fields(err)
	require.Contains(t, fields, "username")
	require.Contains(t, fields, "email")
}

func TestAuthServiceLogoutDeniesAccessAndRefresh(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "heidi", "heidi-password")
	res := h.login(t, "heidi", "heidi-password")
	p := h.principal(t, res.Pair)

	require.NoError(t, h.auth.Logout(ctx, p, "", testClient))

	_, err := h.auth.AuthenticateAccess(ctx, res.Pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)
	assert.NotErrorIs(t, err, ErrRefreshTokenReuseDetected)
}

func TestAuthServiceLogoutAllCutsOffEverySession(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "ivan", "ivan-password")
	first := h.login(t, "ivan", "ivan-password")
	second := h.login(t, "ivan", "ivan-password")

	n, err := h.auth.LogoutAll(ctx, h.principal(t, first.Pair), testClient)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, pair := range []*TokenPair{first.Pair, second.Pair} {
		_, err := h.auth.AuthenticateAccess(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrTokenRevoked)
		_, err = h.auth.Refresh(ctx, pair.RefreshToken, testClient)
		require.ErrorIs(t, err, ErrTokenRevoked)
	}

	h.clock.Advance(time.Second)
	fresh := h.login(t, "ivan", "ivan-password")
	h.principal(t, fresh.Pair)
}

func TestAuthServiceSessionsListAndRevoke(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "judy", "judy-password")
	current := h.login(t, "judy", "judy-password")
	other := h.login(t, "judy", "judy-password")
	p := h.principal(t, current.Pair)

	sessions, err := h.auth.ListSessions(ctx, p)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	var otherID uint
	currentCount := 0
	for _, s := range sessions {
		if s.IsCurrent {
			currentCount++
		} else {
			otherID = s.ID
		}
		assert.Equal(t, testClient.UserAgent, s.UserAgent)
	}
	assert.Equal(t, 1, currentCount)

	changed, err := h.auth.RevokeSession(ctx, p, otherID, testClient)
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = h.auth.Refresh(ctx, other.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)

	changed, err = h.auth.RevokeSession(ctx, p, otherID, testClient)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = h.auth.RevokeSession(ctx, p, 9999, testClient)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuthServicePasswordResetIsSingleUse(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "mallory", "mallory-password")
	session := h.login(t, "mallory", "mallory-password")

	require.NoError(t, h.auth.RequestPasswordReset(ctx, "mallory@example.com", testClient))
	msg, ok := h.notifier.last(NotificationPasswordReset)
	require.True(t, ok)
	assert.Equal(t, user.ID, msg.UserID)

	err := h.auth.ConfirmPasswordReset(ctx, msg.Token, "short", testClient)
	require.ErrorIs(t, err, ErrWeakPassword)

	require.NoError(t, h.auth.ConfirmPasswordReset(ctx, msg.Token, "brand-new-password", testClient))
	err = h.auth.ConfirmPasswordReset(ctx, msg.Token, "another-password", testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = h.auth.Login(ctx, LoginInput{Identifier: "mallory", Password: "mallory-password"}, testClient)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.auth.Refresh(ctx, session.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = h.auth.AuthenticateAccess(ctx, session.Pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	h.clock.Advance(time.Second)
	h.login(t, "mallory", "brand-new-password")
}

func TestAuthServicePasswordResetSupersedesEarlierToken(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "niaj", "niaj-password")

	require.NoError(t, h.auth.RequestPasswordReset(ctx, "niaj@example.com", testClient))
	first, _ := h.notifier.last(NotificationPasswordReset)
	h.clock.Advance(time.Second)
	require.NoError(t, h.auth.RequestPasswordReset(ctx, "niaj@example.com", testClient))
	second, _ := h.notifier.last(NotificationPasswordReset)
	require.NotEqual(t, first.Token, second.Token)

	require.ErrorIs(t, h.auth.ConfirmPasswordReset(ctx, first.Token, "niaj-new-password", testClient), ErrTokenRevoked)
	require.NoError(t, h.auth.ConfirmPasswordReset(ctx, second.Token, "niaj-new-password", testClient))
}

func TestAuthServicePasswordResetUnknownEmailIsSilent(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.auth.RequestPasswordReset(context.Background(), "ghost@example.com", testClient))
	_, ok := h.notifier.last(NotificationPasswordReset)
	assert.False(t, ok)
}

func TestAuthServiceEmailVerification(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "olivia", "olivia-password")

	msg, ok := h.notifier.last(NotificationEmailVerification)
	require.True(t, ok)
	require.NoError(t, h.auth.ConfirmEmailVerification(ctx, msg.Token, testClient))
	require.ErrorIs(t, h.auth.ConfirmEmailVerification(ctx, msg.Token, testClient), ErrTokenRevoked)

	cred, err := h.repos.Credentials.FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, cred.EmailVerified)

	res := h.login(t, "olivia", "olivia-password")
	assert.True(t, h.principal(t, res.Pair).EmailVerified)

	// A verified address does not get another token.
	before := len(h.notifier.sent)
	require.NoError(t, h.auth.RequestEmailVerification(ctx, user.ID, testClient))
	assert.Len(t, h.notifier.sent, before)
}

func TestAuthServiceChangePasswordEndsSessions(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "peggy", "peggy-password")
	res := h.login(t, "peggy", "peggy-password")
	p := h.principal(t, res.Pair)

	require.ErrorIs(t, h.auth.ChangePassword(ctx, p, "wrong-password", "peggy-new-password", testClient), ErrInvalidCredentials)
	require.NoError(t, h.auth.ChangePassword(ctx, p, "peggy-password", "peggy-new-password", testClient))

	_, err := h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
	require.ErrorIs(t, err, ErrTokenRevoked)
	h.clock.Advance(time.Second)
	h.login(t, "peggy", "peggy-new-password")
}

func TestAuthServiceGetUser(t *testing.T) {
	h := newTestHarness(t)
	user := h.register(t, "quentin", "quentin-password")

	got, err := h.auth.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "quentin@example.com", got.Email)

	_, err = h.auth.GetUser(context.Background(), 4242)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestAuthServiceSecurityLogIsScopedToCaller(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "rupert", "rupert-password")
	h.register(t, "sybil", "sybil-password")
	res := h.login(t, "rupert", "rupert-password")

	page, err := h.auth.SecurityLog(ctx, h.principal(t, res.Pair), repository.SecurityLogQuery{Event: domain.SecurityEventLogin})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, res.User.ID, *page.Items[0].UserID)
	assert.Equal(t, testClient.IP, page.Items[0].IPAddress)
}
