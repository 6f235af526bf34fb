package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/validation"
)

type CreateAPITokenInput struct {
	Name       string        `json:"name" validate:"required,max=128"`
	UsageLimit *int64        `json:"usage_limit" validate:"omitempty,gt=0"`
	TTL        time.Duration `json:"ttl" validate:"gte=0"`
}

// CreatedAPIToken carries the raw token. It is returned once and cannot be
// recovered later.
type CreatedAPIToken struct {
	ID         uint      `json:"id"`
	Token      string    `json:"token"`
	Name       string    `json:"name"`
	ExpiresAt  time.Time `json:"expires_at"`
	UsageLimit *int64    `json:"usage_limit,omitempty"`
}

// APITokenService manages long-lived named tokens for programmatic access.
type APITokenService struct {
	users    repository.UserRepository
	ledger   *TokenLedger
	issuer   *security.TokenIssuer
	verifier *security.TokenVerifier
	events   *SecurityEventRecorder
	maxTTL   time.Duration
}

func NewAPITokenService(users repository.UserRepository, ledger *TokenLedger, issuer *security.TokenIssuer, verifier *security.TokenVerifier, events *SecurityEventRecorder) *APITokenService {
	return &APITokenService{
		users:    users,
		ledger:   ledger,
		issuer:   issuer,
		verifier: verifier,
		events:   events,
		maxTTL:   issuer.Lifetime(domain.TokenTypeAPI),
	}
}

// Create issues an API token. A zero TTL uses the configured lifetime, which
// is also the upper bound.
func (s *APITokenService) Create(ctx context.Context, p *Principal, in CreateAPITokenInput, client domain.ClientMetadata) (*CreatedAPIToken, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.maxTTL > 0 && in.TTL > s.maxTTL {
		return nil, fmt.Errorf("%w: ttl must be at most %s", ErrInvalidInput, s.maxTTL)
	}
	name := in.Name
	issued, err := s.issuer.Issue(FormatSubject(p.UserID), domain.TokenTypeAPI, security.IssueOptions{TTL: in.TTL, Name: name})
	if err != nil {
		return nil, err
	}
	row, err := s.ledger.Record(ctx, p.UserID, issued.Raw, domain.TokenTypeAPI, RecordOptions{
		JTI:        issued.JTI,
		Name:       name,
		ExpiresAt:  issued.ExpiresAt,
		UsageLimit: in.UsageLimit,
		Client:     client,
	})
	if err != nil {
		return nil, fmt.Errorf("record api token: %w", err)
	}
	s.audit(ctx, p.UserID, domain.SecurityEventAPITokenCreated, domain.OutcomeSuccess, "", client)
	return &CreatedAPIToken{
		ID:         row.ID,
		Token:      issued.Raw,
		Name:       name,
		ExpiresAt:  issued.ExpiresAt,
		UsageLimit: in.UsageLimit,
	}, nil
}

func (s *APITokenService) List(ctx context.Context, p *Principal, req repository.PageRequest) (repository.PageResult[domain.Token], error) {
	return s.ledger.ListBySubject(ctx, p.UserID, repository.TokenListQuery{PageRequest: req, Type: domain.TokenTypeAPI})
}

func (s *APITokenService) Revoke(ctx context.Context, p *Principal, id uint, client domain.ClientMetadata) (bool, error) {
	changed, err := s.ledger.RevokeByID(ctx, p.UserID, id, []domain.TokenType{domain.TokenTypeAPI}, domain.ReasonUserRevoked)
	if err != nil {
		return false, err
	}
	if changed {
		s.audit(ctx, p.UserID, domain.SecurityEventAPITokenRevoked, domain.OutcomeSuccess, "", client)
	}
	return changed, nil
}

// Authenticate verifies an API token, requires its ledger row to be active
// and counts the use against the usage limit.
func (s *APITokenService) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.verifier.VerifyAPI(raw)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", "api")
		return nil, verificationError(err)
	}
	userID, err := ParseSubject(claims.Subject)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", "api")
		return nil, err
	}
	row, err := s.ledger.RecordUsage(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrUsageLimitExceeded):
			observability.RecordAccessTokenValidation(ctx, "usage_limit", "api")
		case errors.Is(err, ErrTokenRevoked):
			observability.RecordAccessTokenValidation(ctx, "revoked", "api")
		default:
			observability.RecordAccessTokenValidation(ctx, "error", "api")
		}
		return nil, err
	}
	if row.UserID != userID || row.Type != domain.TokenTypeAPI {
		observability.RecordAccessTokenValidation(ctx, "invalid", "api")
		return nil, ErrTokenInvalid
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrTokenRevoked
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		observability.RecordAccessTokenValidation(ctx, "disabled", "api")
		return nil, ErrAccountDisabled
	}
	observability.RecordAccessTokenValidation(ctx, "success", "api")
	p := &Principal{
		UserID:      userID,
		Kind:        PrincipalAPIToken,
		JTI:         claims.ID,
		TokenID:     row.ID,
		TokenName:   claims.Name,
		Username:    user.Username,
		Email:       user.Email,
		AccountType: string(user.AccountType),
	}
	if user.Credential != nil {
		p.EmailVerified = user.Credential.EmailVerified
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (s *APITokenService) audit(ctx context.Context, userID uint, event domain.SecurityEvent, outcome, reason string, client domain.ClientMetadata) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, SecurityEventInput{UserID: userRef(userID), Event: event, Outcome: outcome, Reason: reason, Client: client})
}
