package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
)

type SecurityEventInput struct {
	UserID  *uint
	Event   domain.SecurityEvent
	Outcome string
	Reason  string
	Client  domain.ClientMetadata
}

// SecurityEventRecorder appends to the security log and forwards each entry
// to the event stream. Neither failure fails the flow being audited; both
// are logged.
type SecurityEventRecorder struct {
	logs      repository.SecurityLogRepository
	publisher SecurityEventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewSecurityEventRecorder(logs repository.SecurityLogRepository, publisher SecurityEventPublisher, logger *slog.Logger, now func() time.Time) *SecurityEventRecorder {
	if publisher == nil {
		publisher = NewNoopSecurityEventPublisher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &SecurityEventRecorder{logs: logs, publisher: publisher, logger: logger, now: now}
}

func (r *SecurityEventRecorder) Record(ctx context.Context, in SecurityEventInput) {
	outcome := in.Outcome
	if outcome == "" {
		outcome = domain.OutcomeSuccess
	}
	entry := &domain.SecurityLog{
		UserID:    in.UserID,
		Event:     in.Event,
		Outcome:   outcome,
		Reason:    truncate(in.Reason, 128),
		IPAddress: truncate(in.Client.IP, 64),
		UserAgent: truncate(in.Client.UserAgent, 512),
		CreatedAt: r.now().UTC(),
	}
	observability.RecordSecurityEvent(ctx, string(in.Event), outcome)
	if err := r.logs.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "security log append failed", "event", in.Event, "error", err)
	}
	if err := r.publisher.Publish(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "security event publish failed", "event", in.Event, "error", err)
	}
}

func (r *SecurityEventRecorder) List(ctx context.Context, userID uint, query repository.SecurityLogQuery) (repository.PageResult[domain.SecurityLog], error) {
	return r.logs.ListByUser(ctx, userID, query)
}

func userRef(id uint) *uint { return &id }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
