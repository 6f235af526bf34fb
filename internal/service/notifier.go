package service

import (
	"context"
	"log/slog"
	"time"
)

// Notification is a message addressed to a user. Delivery (email, push) is
// outside this service; Token is the raw single-use token the user needs.
type Notification struct {
	Kind      string
	UserID    uint
	Email     string
	Token     string
	ExpiresAt time.Time
}

const (
	NotificationPasswordReset     = "password_reset"
	NotificationEmailVerification = "email_verification"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. The raw token is
// logged only at debug level.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.logger.InfoContext(ctx, "notification queued",
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"expires_at", msg.ExpiresAt,
	)
	n.logger.DebugContext(ctx, "notification token", "kind", msg.Kind, "user_id", msg.UserID, "token", msg.Token)
	return nil
}
