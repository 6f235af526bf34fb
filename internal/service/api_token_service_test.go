package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
)

func TestAPITokenUsageLimit(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "zara", "zara-password")
	p := h.principal(t, h.login(t, "zara", "zara-password").Pair)

	limit := int64(2)
	created, err := h.apiTokens.Create(ctx, p, CreateAPITokenInput{Name: "ci deploy", UsageLimit: &limit}, testClient)
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)

	for i := 0; i < 2; i++ {
		got, err := h.apiTokens.Authenticate(ctx, created.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.UserID)
		assert.Equal(t, PrincipalAPIToken, got.Kind)
		assert.Equal(t, "ci deploy", got.TokenName)
	}
	_, err = h.apiTokens.Authenticate(ctx, created.Token)
	require.ErrorIs(t, err, ErrUsageLimitExceeded)

	page, err := h.apiTokens.List(ctx, p, repository.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 2, page.Items[0].UsageCount)
}

func TestAPITokenRevokeAndExpiry(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "amber", "amber-password")
	p := h.principal(t, h.login(t, "amber", "amber-password").Pair)

	revoked, err := h.apiTokens.Create(ctx, p, CreateAPITokenInput{Name: "laptop"}, testClient)
	require.NoError(t, err)
	changed, err := h.apiTokens.Revoke(ctx, p, revoked.ID, testClient)
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = h.apiTokens.Authenticate(ctx, revoked.Token)
	require.ErrorIs(t, err, ErrTokenRevoked)

	shortLived, err := h.apiTokens.Create(ctx, p, CreateAPITokenInput{Name: "short", TTL: time.Hour}, testClient)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	_, err = h.apiTokens.Authenticate(ctx, shortLived.Token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestAPITokenCreateValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "basil", "basil-password")
	p := h.principal(t, h.login(t, "basil", "basil-password").Pair)

	zero := int64(0)
	tests := []CreateAPITokenInput{
		{Name: "  "},
		{Name: "x", UsageLimit: &zero},
		{Name: "x", TTL: -time.Minute},
		{Name: "x", TTL: 365 * 24 * time.Hour},
	}
	for _, in := range tests {
		_, err := h.apiTokens.Create(ctx, p, in, testClient)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestAPITokenNotAcceptedAsAccessToken(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "cedric", "cedric-password")
	p := h.principal(t, h.login(t, "cedric", "cedric-password").Pair)

	created, err := h.apiTokens.Create(ctx, p, CreateAPITokenInput{Name: "script"}, testClient)
	require.NoError(t, err)
	_, err = h.auth.AuthenticateAccess(ctx, created.Token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogoutAllRevokesAPITokens(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.register(t, "delia", "delia-password")
	p := h.principal(t, h.login(t, "delia", "delia-password").Pair)

	created, err := h.apiTokens.Create(ctx, p, CreateAPITokenInput{Name: "bot"}, testClient)
	require.NoError(t, err)
	_, err = h.auth.LogoutAll(ctx, p, testClient)
	require.NoError(t, err)
	_, err = h.apiTokens.Authenticate(ctx, created.Token)
	require.ErrorIs(t, err, ErrTokenRevoked)
}
