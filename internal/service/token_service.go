package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

// TokenPair is returned by login and refresh. CSRFToken and SessionID are
// only used to set cookies and never serialised.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`

	CSRFToken        string    `json:"-"`
	SessionID        string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// UserLoader resolves the current state of a user during rotation.
type UserLoader func(ctx context.Context, id uint) (*domain.User, error)

// TokenService mints access/refresh pairs and rotates refresh tokens. Only
// refresh tokens are recorded; access tokens are stateless and revoked
// through the denylist.
type TokenService struct {
	issuer   *security.TokenIssuer
	verifier *security.TokenVerifier
	ledger   *TokenLedger
	denylist TokenDenylist
	now      func() time.Time
}

func NewTokenService(issuer *security.TokenIssuer, verifier *security.TokenVerifier, ledger *TokenLedger, denylist TokenDenylist, now func() time.Time) *TokenService {
	if denylist == nil {
		denylist = NewNoopTokenDenylist()
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{issuer: issuer, verifier: verifier, ledger: ledger, denylist: denylist, now: now}
}

// IssueSession starts a new refresh family for user. ledger may be bound to
// a unit of work; nil uses the service ledger.
func (s *TokenService) IssueSession(ctx context.Context, ledger *TokenLedger, user *domain.User, client domain.ClientMetadata) (*TokenPair, error) {
	if ledger == nil {
		ledger = s.ledger
	}
	pair, refresh, err := s.mintTokenPair(user)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.Record(ctx, user.ID, pair.RefreshToken, domain.TokenTypeRefresh, RecordOptions{
		JTI:       refresh.JTI,
		ExpiresAt: refresh.ExpiresAt,
		FamilyID:  refresh.JTI,
		Client:    client,
	}); err != nil {
		return nil, fmt.Errorf("record refresh token: %w", err)
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair in the same family. A
// token that was already rotated, or loses a concurrent rotation, is a
// replay: the token is blacklisted and its whole family revoked.
func (s *TokenService) Rotate(ctx context.Context, raw string, loadUser UserLoader, client domain.ClientMetadata) (*TokenPair, *domain.User, error) {
	claims, err := s.verifier.VerifyRefresh(raw)
	if err != nil {
		return nil, nil, verificationError(err)
	}
	userID, err := ParseSubject(claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	row, err := s.ledger.Lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, err
	}
	if row.UserID != userID || row.Type != domain.TokenTypeRefresh {
		return nil, nil, ErrTokenInvalid
	}
	if jti := deref(row.JTI); jti != "" && jti != claims.ID {
		return nil, nil, ErrTokenInvalid
	}
	familyID := deref(row.FamilyID)
	if !row.IsActive(s.now().UTC()) {
		if isReplay(row) {
			return nil, nil, s.revokeForReplay(ctx, raw, row.UserID, familyID)
		}
		return nil, nil, ErrTokenRevoked
	}

	user, err := loadUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, ErrAccountDisabled
	}
	pair, refresh, err := s.mintTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	_, err = s.ledger.Rotate(ctx, raw, userID, pair.RefreshToken, domain.TokenTypeRefresh, RecordOptions{
		JTI:       refresh.JTI,
		ExpiresAt: refresh.ExpiresAt,
		FamilyID:  familyID,
		ParentJTI: claims.ID,
		Client:    client,
	})
	if errors.Is(err, ErrTokenRevoked) {
		return nil, nil, s.revokeForReplay(ctx, raw, userID, familyID)
	}
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func isReplay(row *domain.Token) bool {
	if row.Status == domain.TokenStatusBlacklisted {
		return true
	}
	reason := deref(row.DeactivationReason)
	return row.Status == domain.TokenStatusRevoked && (reason == domain.ReasonRotated || reason == domain.ReasonReuseDetected)
}

func (s *TokenService) revokeForReplay(ctx context.Context, raw string, userID uint, familyID string) error {
	if err := s.ledger.Blacklist(ctx, raw, domain.ReasonReuseDetected); err != nil {
		return err
	}
	if _, err := s.ledger.RevokeFamily(ctx, familyID, domain.ReasonReuseDetected); err != nil {
		return err
	}
	return &RefreshReuseError{UserID: userID, FamilyID: familyID}
}

// AuthenticateAccess verifies an access token and checks the denylist.
func (s *TokenService) AuthenticateAccess(ctx context.Context, raw string) (*security.AccessClaims, uint, error) {
	claims, err := s.verifier.VerifyAccess(raw)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", "access")
		return nil, 0, verificationError(err)
	}
	userID, err := ParseSubject(claims.Subject)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", "access")
		return nil, 0, err
	}
	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	denied, err := accessTokenDenied(ctx, s.denylist, userID, claims.ID, issuedAt)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "error", "access")
		return nil, 0, fmt.Errorf("check token denylist: %w", err)
	}
	if denied {
		observability.RecordAccessTokenValidation(ctx, "revoked", "access")
		return nil, 0, ErrTokenRevoked
	}
	observability.RecordAccessTokenValidation(ctx, "success", "access")
	return claims, userID, nil
}

// DenyAccessToken refuses one access token until it expires.
func (s *TokenService) DenyAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.denylist.DenyJTI(ctx, jti, expiresAt)
}

// CutOffSubject refuses every access token of userID issued up to now.
func (s *TokenService) CutOffSubject(ctx context.Context, userID uint) error {
	return s.denylist.SetSubjectCutoff(ctx, userID, s.now().UTC(), s.issuer.Lifetime(domain.TokenTypeAccess))
}

func (s *TokenService) mintTokenPair(user *domain.User) (*TokenPair, security.IssuedToken, error) {
	subject := FormatSubject(user.ID)
	refresh, err := s.issuer.Issue(subject, domain.TokenTypeRefresh, security.IssueOptions{})
	if err != nil {
		return nil, security.IssuedToken{}, err
	}
	profile := &security.AccessProfile{
		Username:    user.Username,
		Email:       user.Email,
		AccountType: string(user.AccountType),
	}
	if user.Credential != nil {
		profile.EmailVerified = user.Credential.EmailVerified
	}
	access, err := s.issuer.Issue(subject, domain.TokenTypeAccess, security.IssueOptions{
		Profile:   profile,
		SessionID: refresh.JTI,
	})
	if err != nil {
		return nil, security.IssuedToken{}, err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, security.IssuedToken{}, err
	}
	return &TokenPair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		TokenType:        "bearer",
		ExpiresIn:        int64(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		RefreshExpiresIn: int64(refresh.ExpiresAt.Sub(refresh.IssuedAt).Seconds()),
		CSRFToken:        csrf,
		SessionID:        refresh.JTI,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, refresh, nil
}

func FormatSubject(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseSubject converts a verified sub claim back to a user id.
func ParseSubject(subject string) (uint, error) {
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return uint(id), nil
}
