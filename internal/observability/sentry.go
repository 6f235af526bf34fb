package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
)

// InitSentry configures the global Sentry hub. It is a no-op without a DSN;
// CaptureError then does nothing.
func InitSentry(cfg *config.Config, logger *slog.Logger) (bool, error) {
	if cfg.SentryDSN == "" {
		logger.Info("sentry disabled")
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.OTELEnvironment,
		ServerName:       cfg.OTELServiceName,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	logger.Info("sentry initialized", "environment", cfg.OTELEnvironment)
	return true, nil
}

// CaptureError reports err on the hub bound to ctx, falling back to the
// current hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
