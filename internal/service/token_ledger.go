package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

// RecordOptions describes the ledger row written for an issued token.
type RecordOptions struct {
	JTI        string
	Name       string
	ExpiresAt  time.Time
	UsageLimit *int64
	FamilyID   string
	ParentJTI  string
	Payload    string
	Client     domain.ClientMetadata
}

// TokenLedger is the persistent record of issued tokens, addressed by the
// peppered hash of the raw token. Raw tokens never reach the repository.
type TokenLedger struct {
	tokens repository.TokenRepository
	pepper string
	now    func() time.Time
}

func NewTokenLedger(tokens repository.TokenRepository, pepper string, now func() time.Time) *TokenLedger {
	if now == nil {
		now = time.Now
	}
	return &TokenLedger{tokens: tokens, pepper: pepper, now: now}
}

// WithRepository returns a ledger sharing hashing and clock but writing
// through tokens, typically a repository bound to a unit of work.
func (l *TokenLedger) WithRepository(tokens repository.TokenRepository) *TokenLedger {
	return &TokenLedger{tokens: tokens, pepper: l.pepper, now: l.now}
}

func (l *TokenLedger) Hash(raw string) string {
	return security.HashToken(raw, l.pepper)
}

func (l *TokenLedger) clock() time.Time {
	return l.now().UTC()
}

func (l *TokenLedger) Record(ctx context.Context, userID uint, raw string, tokenType domain.TokenType, opts RecordOptions) (*domain.Token, error) {
	row := l.newRow(userID, raw, tokenType, opts)
	err := l.tokens.Create(ctx, row)
	observability.RecordLedgerOperation(ctx, "record", outcomeOf(err))
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrDuplicateToken
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (l *TokenLedger) newRow(userID uint, raw string, tokenType domain.TokenType, opts RecordOptions) *domain.Token {
	row := &domain.Token{
		UserID:     userID,
		TokenHash:  l.Hash(raw),
		JTI:        optional(opts.JTI),
		Type:       tokenType,
		Status:     domain.TokenStatusActive,
		Name:       opts.Name,
		FamilyID:   optional(opts.FamilyID),
		ParentJTI:  optional(opts.ParentJTI),
		UsageLimit: opts.UsageLimit,
		Payload:    opts.Payload,
		IPAddress:  opts.Client.IP,
		UserAgent:  opts.Client.UserAgent,
	}
	if !opts.ExpiresAt.IsZero() {
		exp := opts.ExpiresAt.UTC()
		row.ExpiresAt = &exp
	}
	return row
}

func (l *TokenLedger) Lookup(ctx context.Context, raw string) (*domain.Token, error) {
	return l.tokens.FindByHash(ctx, l.Hash(raw))
}

// IsActive reports whether raw is recorded, active and unexpired. A missing
// row is inactive, not an error.
func (l *TokenLedger) IsActive(ctx context.Context, raw string) (bool, error) {
	row, err := l.Lookup(ctx, raw)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.IsActive(l.clock()), nil
}

func (l *TokenLedger) Revoke(ctx context.Context, raw, reason string) (bool, error) {
	changed, err := l.tokens.RevokeByHash(ctx, l.Hash(raw), reason, l.clock())
	observability.RecordLedgerOperation(ctx, "revoke", outcomeOf(err))
	return changed, err
}

func (l *TokenLedger) RevokeByID(ctx context.Context, userID, id uint, types []domain.TokenType, reason string) (bool, error) {
	changed, err := l.tokens.RevokeByIDForUser(ctx, userID, id, types, reason, l.clock())
	observability.RecordLedgerOperation(ctx, "revoke_by_id", outcomeOf(err))
	if errors.Is(err, repository.ErrTokenNotFound) {
		return false, ErrNotFound
	}
	return changed, err
}

func (l *TokenLedger) RevokeByJTI(ctx context.Context, userID uint, jti, reason string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	changed, err := l.tokens.RevokeByJTIForUser(ctx, userID, jti, reason, l.clock())
	observability.RecordLedgerOperation(ctx, "revoke_by_jti", outcomeOf(err))
	return changed, err
}

// RevokeAll revokes every active token of the user. An empty types slice
// covers all types.
func (l *TokenLedger) RevokeAll(ctx context.Context, userID uint, types []domain.TokenType, reason string) (int64, error) {
	n, err := l.tokens.RevokeByUser(ctx, userID, types, reason, l.clock())
	observability.RecordLedgerOperation(ctx, "revoke_all", outcomeOf(err))
	return n, err
}

func (l *TokenLedger) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	if familyID == "" {
		return 0, nil
	}
	n, err := l.tokens.RevokeFamily(ctx, familyID, reason, l.clock())
	observability.RecordLedgerOperation(ctx, "revoke_family", outcomeOf(err))
	return n, err
}

func (l *TokenLedger) Blacklist(ctx context.Context, raw, reason string) error {
	err := l.tokens.Blacklist(ctx, l.Hash(raw), reason, l.clock())
	observability.RecordLedgerOperation(ctx, "blacklist", outcomeOf(err))
	return err
}

// RecordUsage counts one use of raw, refusing once a usage limit is reached.
func (l *TokenLedger) RecordUsage(ctx context.Context, raw string) (*domain.Token, error) {
	row, err := l.tokens.RecordUsage(ctx, l.Hash(raw), l.clock())
	observability.RecordLedgerOperation(ctx, "record_usage", outcomeOf(err))
	switch {
	case errors.Is(err, repository.ErrUsageLimitExceeded):
		return nil, ErrUsageLimitExceeded
	case errors.Is(err, repository.ErrTokenNotActive), errors.Is(err, repository.ErrTokenNotFound):
		return nil, ErrTokenRevoked
	case err != nil:
		return nil, err
	}
	return row, nil
}

func (l *TokenLedger) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.tokens.SweepExpired(ctx, l.clock())
	observability.RecordLedgerOperation(ctx, "sweep", outcomeOf(err))
	return n, err
}

// Rotate atomically retires oldRaw and records newRaw in its place. When the
// old row is no longer active the swap is refused with ErrTokenRevoked and
// nothing is written.
func (l *TokenLedger) Rotate(ctx context.Context, oldRaw string, userID uint, newRaw string, tokenType domain.TokenType, opts RecordOptions) (*domain.Token, error) {
	row := l.newRow(userID, newRaw, tokenType, opts)
	err := l.tokens.Rotate(ctx, l.Hash(oldRaw), row, l.clock())
	observability.RecordLedgerOperation(ctx, "rotate", outcomeOf(err))
	switch {
	case errors.Is(err, repository.ErrTokenNotActive):
		return nil, ErrTokenRevoked
	case errors.Is(err, repository.ErrDuplicate):
		return nil, ErrDuplicateToken
	case err != nil:
		return nil, err
	}
	return row, nil
}

// Consume accepts a single-use token of the given type exactly once.
func (l *TokenLedger) Consume(ctx context.Context, raw string, tokenType domain.TokenType) (*domain.Token, error) {
	return l.consumeHash(ctx, l.Hash(raw), tokenType)
}

func (l *TokenLedger) consumeHash(ctx context.Context, hash string, tokenType domain.TokenType) (*domain.Token, error) {
	row, err := l.tokens.Consume(ctx, hash, tokenType, l.clock())
	observability.RecordLedgerOperation(ctx, "consume", outcomeOf(err))
	if errors.Is(err, repository.ErrTokenNotActive) {
		return nil, ErrTokenRevoked
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FindByID returns one of the user's rows; rows of other users are not
// found.
func (l *TokenLedger) FindByID(ctx context.Context, userID, id uint) (*domain.Token, error) {
	return l.tokens.FindByIDForUser(ctx, userID, id)
}

func (l *TokenLedger) LatestActive(ctx context.Context, userID uint, tokenType domain.TokenType) (*domain.Token, error) {
	return l.tokens.FindLatestActiveByType(ctx, userID, tokenType, l.clock())
}

func (l *TokenLedger) ListActive(ctx context.Context, userID uint, tokenType domain.TokenType) ([]domain.Token, error) {
	return l.tokens.ListActiveByUser(ctx, userID, tokenType, l.clock())
}

func (l *TokenLedger) ListBySubject(ctx context.Context, userID uint, query repository.TokenListQuery) (repository.PageResult[domain.Token], error) {
	return l.tokens.ListByUser(ctx, userID, query)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
