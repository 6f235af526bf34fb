package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
)

func TestTokenSweeperIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	user := h.register(t, "sweepy", "sweepy-password")
	res := h.login(t, "sweepy", "sweepy-password")

	n, err := h.sweeper.SweepOnce(ctx, "manual")
	require.NoError(t, err)
	assert.Zero(t, n)

	// The email verification token lapses after a day; the refresh token
	// lives for a week.
	h.clock.Advance(25 * time.Hour)
	n, err = h.sweeper.SweepOnce(ctx, "manual")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = h.sweeper.SweepOnce(ctx, "manual")
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := h.ledger.ListActive(ctx, user.ID, domain.TokenTypeRefresh)
	require.NoError(t, err)
	require.Len(t, active, 1)
	_, err = h.auth.Refresh(ctx, res.Pair.RefreshToken, testClient)
	require.NoError(t, err)
}

func TestTokenSweeperRunStopsOnCancel(t *testing.T) {
	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewTokenSweeper(h.ledger, 5*time.Millisecond, nil).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
