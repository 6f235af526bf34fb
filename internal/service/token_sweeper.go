package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

// TokenSweeper marks lapsed ledger rows expired. Sweeping is idempotent and
// only moves active rows, so it is safe to run from several instances.
type TokenSweeper struct {
	ledger   *TokenLedger
	interval time.Duration
	logger   *slog.Logger
}

func NewTokenSweeper(ledger *TokenLedger, interval time.Duration, logger *slog.Logger) *TokenSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSweeper{ledger: ledger, interval: interval, logger: logger}
}

func (s *TokenSweeper) SweepOnce(ctx context.Context, trigger string) (int64, error) {
	n, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "token sweep failed", "trigger", trigger, "error", err)
		return 0, err
	}
	observability.RecordSweptTokens(ctx, trigger, n)
	if n > 0 {
		s.logger.InfoContext(ctx, "expired tokens swept", "trigger", trigger, "rows", n)
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done. A zero interval disables it.
func (s *TokenSweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx, "scheduled")
		}
	}
}
