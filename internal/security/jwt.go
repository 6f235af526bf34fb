package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
)

// ClaimsVersion is embedded in every token as "ver". Tokens carrying any
// other version are rejected.
const ClaimsVersion = 1

var (
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenWrongType       = errors.New("token type mismatch")
	ErrUnsupportedTokenType = errors.New("unsupported token type")
)

// Envelope is the part of the payload shared by every token family. Type is
// the discriminant and is checked before any other field is trusted.
type Envelope struct {
	Type    domain.TokenType `json:"type"`
	Version int              `json:"ver"`
	jwt.RegisteredClaims
}

func (e *Envelope) envelope() *Envelope { return e }

type AccessClaims struct {
	Envelope
	Username      string `json:"username"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AccountType   string `json:"account_type"`
	SessionID     string `json:"sid,omitempty"`
}

type RefreshClaims struct {
	Envelope
}

// ActionClaims back single-purpose tokens: password reset and email
// verification.
type ActionClaims struct {
	Envelope
}

type APIClaims struct {
	Envelope
	Name string `json:"name"`
}

type typedClaims interface {
	jwt.Claims
	envelope() *Envelope
}

// AccessProfile holds the denormalised profile claims placed in access
// tokens so downstream services can authorise without a database lookup.
type AccessProfile struct {
	Username      string
	Email         string
	EmailVerified bool
	AccountType   string
}

type JWTConfig struct {
	Issuer        string
	Audience      string
	AccessSecret  string
	RefreshSecret string
	ActionSecret  string
	APISecret     string
	Lifetimes     map[domain.TokenType]time.Duration
}

type signingKeys struct {
	access  []byte
	refresh []byte
	action  []byte
	api     []byte
}

func newSigningKeys(cfg JWTConfig) signingKeys {
	return signingKeys{
		access:  []byte(cfg.AccessSecret),
		refresh: []byte(cfg.RefreshSecret),
		action:  []byte(cfg.ActionSecret),
		api:     []byte(cfg.APISecret),
	}
}

func (k signingKeys) forType(t domain.TokenType) ([]byte, error) {
	switch t {
	case domain.TokenTypeAccess:
		return k.access, nil
	case domain.TokenTypeRefresh:
		return k.refresh, nil
	case domain.TokenTypePasswordReset, domain.TokenTypeEmailVerification:
		return k.action, nil
	case domain.TokenTypeAPI:
		return k.api, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTokenType, t)
	}
}

type Option func(*clockOptions)

type clockOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now for issuance and verification.
func WithClock(now func() time.Time) Option {
	return func(o *clockOptions) { o.now = now }
}

func applyOptions(opts []Option) clockOptions {
	o := clockOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type IssueOptions struct {
	// TTL overrides the configured lifetime of the token type when non-zero.
	TTL       time.Duration
	JTI       string
	Profile   *AccessProfile
	SessionID string
	Name      string
}

type IssuedToken struct {
	Raw       string
	JTI       string
	Type      domain.TokenType
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints signed tokens. It never touches storage.
type TokenIssuer struct {
	issuer    string
	audience  string
	keys      signingKeys
	lifetimes map[domain.TokenType]time.Duration
	now       func() time.Time
}

func NewTokenIssuer(cfg JWTConfig, opts ...Option) *TokenIssuer {
	o := applyOptions(opts)
	lifetimes := make(map[domain.TokenType]time.Duration, len(cfg.Lifetimes))
	for k, v := range cfg.Lifetimes {
		lifetimes[k] = v
	}
	return &TokenIssuer{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		keys:      newSigningKeys(cfg),
		lifetimes: lifetimes,
		now:       o.now,
	}
}

// Lifetime returns the configured default lifetime for a token type.
func (i *TokenIssuer) Lifetime(t domain.TokenType) time.Duration {
	return i.lifetimes[t]
}

func (i *TokenIssuer) Issue(subject string, tokenType domain.TokenType, opts IssueOptions) (IssuedToken, error) {
	if subject == "" {
		return IssuedToken{}, errors.New("issue token: empty subject")
	}
	key, err := i.keys.forType(tokenType)
	if err != nil {
		return IssuedToken{}, err
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = i.lifetimes[tokenType]
	}
	if ttl == 0 {
		return IssuedToken{}, fmt.Errorf("issue token: no lifetime configured for %s", tokenType)
	}
	jti := opts.JTI
	if jti == "" {
		jti = uuid.NewString()
	}
	now := i.now().UTC()
	expiresAt := now.Add(ttl)
	env := Envelope{
		Type:    tokenType,
		Version: ClaimsVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  []string{i.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	var claims jwt.Claims
	switch tokenType {
	case domain.TokenTypeAccess:
		c := AccessClaims{Envelope: env, SessionID: opts.SessionID}
		if p := opts.Profile; p != nil {
			c.Username = p.Username
			c.Email = p.Email
			c.EmailVerified = p.EmailVerified
			c.AccountType = p.AccountType
		}
		claims = c
	case domain.TokenTypeRefresh:
		claims = RefreshClaims{Envelope: env}
	case domain.TokenTypePasswordReset, domain.TokenTypeEmailVerification:
		claims = ActionClaims{Envelope: env}
	case domain.TokenTypeAPI:
		if opts.Name == "" {
			return IssuedToken{}, errors.New("issue token: api tokens require a name")
		}
		claims = APIClaims{Envelope: env, Name: opts.Name}
	default:
		return IssuedToken{}, fmt.Errorf("%w: %s", ErrUnsupportedTokenType, tokenType)
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return IssuedToken{
		Raw:       raw,
		JTI:       jti,
		Type:      tokenType,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// TokenVerifier checks signature, expiry and the type discriminant. It is
// purely cryptographic and time based; revocation lives in the ledger.
type TokenVerifier struct {
	issuer   string
	audience string
	keys     signingKeys
	now      func() time.Time
}

func NewTokenVerifier(cfg JWTConfig, opts ...Option) *TokenVerifier {
	o := applyOptions(opts)
	return &TokenVerifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keys:     newSigningKeys(cfg),
		now:      o.now,
	}
}

// Verify returns the subject of a token of the expected type.
func (v *TokenVerifier) Verify(raw string, expected domain.TokenType) (string, error) {
	var claims typedClaims
	switch expected {
	case domain.TokenTypeAccess:
		claims = &AccessClaims{}
	case domain.TokenTypeRefresh:
		claims = &RefreshClaims{}
	case domain.TokenTypePasswordReset, domain.TokenTypeEmailVerification:
		claims = &ActionClaims{}
	case domain.TokenTypeAPI:
		claims = &APIClaims{}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTokenType, expected)
	}
	if err := v.verify(raw, expected, claims); err != nil {
		return "", err
	}
	return claims.envelope().Subject, nil
}

func (v *TokenVerifier) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := v.verify(raw, domain.TokenTypeAccess, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *TokenVerifier) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := v.verify(raw, domain.TokenTypeRefresh, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *TokenVerifier) VerifyAction(raw string, expected domain.TokenType) (*ActionClaims, error) {
	if expected != domain.TokenTypePasswordReset && expected != domain.TokenTypeEmailVerification {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTokenType, expected)
	}
	claims := &ActionClaims{}
	if err := v.verify(raw, expected, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *TokenVerifier) VerifyAPI(raw string) (*APIClaims, error) {
	claims := &APIClaims{}
	if err := v.verify(raw, domain.TokenTypeAPI, claims); err != nil {
		return nil, err
	}
	if claims.Name == "" {
		return nil, fmt.Errorf("%w: api token without name", ErrTokenInvalid)
	}
	return claims, nil
}

func (v *TokenVerifier) verify(raw string, expected domain.TokenType, claims typedClaims) error {
	peeked, err := PeekType(raw)
	if err != nil {
		return err
	}
	if peeked != expected {
		return fmt.Errorf("%w: got %q, want %q", ErrTokenWrongType, peeked, expected)
	}
	key, err := v.keys.forType(expected)
	if err != nil {
		return err
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return key, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return ErrTokenInvalid
	}
	env := claims.envelope()
	if env.Type != expected {
		return fmt.Errorf("%w: got %q, want %q", ErrTokenWrongType, env.Type, expected)
	}
	if env.Version != ClaimsVersion {
		return fmt.Errorf("%w: unsupported claims version %d", ErrTokenInvalid, env.Version)
	}
	if env.Subject == "" || env.ID == "" {
		return fmt.Errorf("%w: missing subject or id", ErrTokenInvalid)
	}
	return nil
}

// PeekType reads the type discriminant without verifying the signature. The
// result may only be used to route or reject a token, never to trust it.
func PeekType(raw string) (domain.TokenType, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	env := &Envelope{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !env.Type.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrTokenInvalid, env.Type)
	}
	return env.Type, nil
}
