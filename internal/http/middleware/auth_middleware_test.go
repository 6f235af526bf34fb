package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
)

type stubAccess struct {
	principal *service.Principal
	err       error
	seen      string
}

func (s *stubAccess) AuthenticateAccess(_ context.Context, raw string) (*service.Principal, error) {
	s.seen = raw
	return s.principal, s.err
}

type stubAPITokens struct {
	principal *service.Principal
	err       error
	calls     int
}

func (s *stubAPITokens) Authenticate(_ context.Context, _ string) (*service.Principal, error) {
	s.calls++
	return s.principal, s.err
}

func testIssuer() *security.TokenIssuer {
	return security.NewTokenIssuer(security.JWTConfig{
		Issuer:        "iss",
		Audience:      "aud",
		AccessSecret:  "access-abcdefghijklmnopqrstuvwxyz123456",
		RefreshSecret: "refresh-abcdefghijklmnopqrstuvwxyz123456",
		ActionSecret:  "action-abcdefghijklmnopqrstuvwxyz123456",
		APISecret:     "api-abcdefghijklmnopqrstuvwxyz1234567890",
		Lifetimes: map[domain.TokenType]time.Duration{
			domain.TokenTypeAccess: 15 * time.Minute,
			domain.TokenTypeAPI:    time.Hour,
		},
	})
}

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	h := AuthMiddleware(&stubAccess{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	access := &stubAccess{principal: &service.Principal{UserID: 42, Kind: service.PrincipalAccessToken}}
	var got *service.Principal
	h := AuthMiddleware(access)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer access-raw")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid token, got %d", rr.Code)
	}
	if got == nil || got.UserID != 42 || access.seen != "access-raw" {
		t.Fatalf("expected principal 42 from bearer token, got %+v seen=%q", got, access.seen)
	}
}

func TestAuthMiddlewareMapsTokenErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{service.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED"},
		{service.ErrTokenInvalid, http.StatusUnauthorized, "TOKEN_INVALID"},
		{service.ErrUsageLimitExceeded, http.StatusTooManyRequests, "USAGE_LIMIT_EXCEEDED"},
		{service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := AuthMiddleware(&stubAccess{err: tc.err})(noContent())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-raw"})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := rr.Body.String(); !strings.Contains(body, `"code":"`+tc.code+`"`) {
				t.Fatalf("expected code %s, got %s", tc.code, body)
			}
		})
	}
}

func TestAccessOrAPITokenMiddlewareRoutesByTokenType(t *testing.T) {
	issuer := testIssuer()
	apiTok, err := issuer.Issue("7", domain.TokenTypeAPI, security.IssueOptions{Name: "ci"})
	if err != nil {
		t.Fatalf("issue api token: %v", err)
	}
	access := &stubAccess{principal: &service.Principal{UserID: 7, Kind: service.PrincipalAccessToken}}
	apiTokens := &stubAPITokens{principal: &service.Principal{UserID: 7, Kind: service.PrincipalAPIToken}}
	var kind service.PrincipalKind
	h := AccessOrAPITokenMiddleware(access, apiTokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		kind = p.Kind
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+apiTok.Raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || kind != service.PrincipalAPIToken || apiTokens.calls != 1 {
		t.Fatalf("expected api token route, got status=%d kind=%q calls=%d", rr.Code, kind, apiTokens.calls)
	}

	// An API token in the access cookie is never routed to the API
	// authenticator.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: apiTok.Raw})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if apiTokens.calls != 1 || access.seen != apiTok.Raw {
		t.Fatalf("expected cookie token to go to access authenticator")
	}
}

func TestAuthMiddlewareIgnoresAPITokensWhenNotConfigured(t *testing.T) {
	issuer := testIssuer()
	apiTok, err := issuer.Issue("7", domain.TokenTypeAPI, security.IssueOptions{Name: "ci"})
	if err != nil {
		t.Fatalf("issue api token: %v", err)
	}
	access := &stubAccess{err: service.ErrTokenInvalid}
	h := AuthMiddleware(access)(noContent())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+apiTok.Raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
