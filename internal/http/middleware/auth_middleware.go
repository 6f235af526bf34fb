package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// AccessAuthenticator resolves bearer access tokens.
type AccessAuthenticator interface {
	AuthenticateAccess(ctx context.Context, raw string) (*service.Principal, error)
}

// APITokenAuthenticator resolves long-lived API tokens.
type APITokenAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*service.Principal, error)
}

// AuthMiddleware accepts access tokens only.
func AuthMiddleware(access AccessAuthenticator) func(http.Handler) http.Handler {
	return authenticate(access, nil)
}

// AccessOrAPITokenMiddleware also accepts API tokens presented as bearer
// tokens. The token type claim only routes the token; the matching
// authenticator verifies it.
func AccessOrAPITokenMiddleware(access AccessAuthenticator, apiTokens APITokenAuthenticator) func(http.Handler) http.Handler {
	return authenticate(access, apiTokens)
}

func authenticate(access AccessAuthenticator, apiTokens APITokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := bearerToken(r), "bearer"
			if raw == "" {
				raw, source = security.GetCookie(r, security.AccessCookieName), "cookie"
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}

			var (
				principal *service.Principal
				err       error
			)
			if apiTokens != nil && source == "bearer" && isAPIToken(raw) {
				principal, err = apiTokens.Authenticate(r.Context(), raw)
			} else {
				principal, err = access.AuthenticateAccess(r.Context(), raw)
			}
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*service.Principal)
	return p, ok && p != nil
}

// WithPrincipal is used by handlers under test.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func isAPIToken(raw string) bool {
	t, err := security.PeekType(raw)
	return err == nil && t == domain.TokenTypeAPI
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUsageLimitExceeded):
		response.Error(w, r, http.StatusTooManyRequests, "USAGE_LIMIT_EXCEEDED", "token usage limit exceeded", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired", nil)
	case errors.Is(err, service.ErrTokenRevoked):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "token revoked", nil)
	case errors.Is(err, service.ErrAccountDisabled):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_DISABLED", "account disabled", nil)
	case errors.Is(err, service.ErrTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_INVALID", "invalid token", nil)
	default:
		observability.CaptureError(r.Context(), err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
