package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, Policy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func hit(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLocalRateLimiterDeniesOverLimit(t *testing.T) {
	h := NewRateLimiter(2, time.Minute).Middleware()(noContent())

	for i := 0; i < 2; i++ {
		if rr := hit(h, "10.0.0.1:1000", nil); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d expected 204, got %d", i, rr.Code)
		}
	}
	rr := hit(h, "10.0.0.1:1000", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Fatalf("expected positive Retry-After, got %q", rr.Header().Get("Retry-After"))
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}

	if rr := hit(h, "10.0.0.2:1000", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("other client expected 204, got %d", rr.Code)
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	open := NewDistributedRateLimiterWithKey(failingLimiter{}, 1, time.Minute, FailOpen, "auth", nil).Middleware()(noContent())
	if rr := hit(open, "10.0.0.1:1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("fail open expected 204, got %d", rr.Code)
	}
	closed := NewDistributedRateLimiterWithKey(failingLimiter{}, 1, time.Minute, FailClosed, "auth", nil).Middleware()(noContent())
	if rr := hit(closed, "10.0.0.1:1", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail closed expected 429, got %d", rr.Code)
	}
}

func TestRateLimiterPreflightBypass(t *testing.T) {
	h := NewRateLimiter(1, time.Minute).WithBypassEvaluator(PreflightBypass).Middleware()(noContent())
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("preflight %d expected 204, got %d", i, rr.Code)
		}
	}
}

func TestRedisFixedWindowLimiterSharesBudget(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisFixedWindowLimiter(client, "test")
	policy := Policy{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "ip:1", policy)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d expected allow, got %+v err=%v", i, d, err)
		}
	}
	d, err := limiter.Allow(ctx, "ip:1", policy)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected deny with retry within window, got %+v", d)
	}

	server.FastForward(time.Minute + time.Second)
	d, err = limiter.Allow(ctx, "ip:1", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow after window, got %+v err=%v", d, err)
	}
}

func TestRedisRateLimiterBackendDownFailsClosed(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	server.Close()

	h := NewDistributedRateLimiterWithKey(NewRedisFixedWindowLimiter(client, "test"), 5, time.Minute, FailClosed, "auth", nil).Middleware()(noContent())
	if rr := hit(h, "10.0.0.1:1", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when redis is down, got %d", rr.Code)
	}
}

func TestSubjectOrIPKeyFunc(t *testing.T) {
	cfg := security.JWTConfig{
		Issuer:        "iss",
		Audience:      "aud",
		AccessSecret:  "access-abcdefghijklmnopqrstuvwxyz123456",
		RefreshSecret: "refresh-abcdefghijklmnopqrstuvwxyz123456",
		ActionSecret:  "action-abcdefghijklmnopqrstuvwxyz123456",
		APISecret:     "api-abcdefghijklmnopqrstuvwxyz1234567890",
		Lifetimes:     map[domain.TokenType]time.Duration{domain.TokenTypeAccess: time.Minute},
	}
	tok, err := security.NewTokenIssuer(cfg).Issue("42", domain.TokenTypeAccess, security.IssueOptions{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	keyFunc := SubjectOrIPKeyFunc(security.NewTokenVerifier(cfg))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := keyFunc(req); got != "192.0.2.10" {
		t.Fatalf("expected ip key, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Raw)
	if got := keyFunc(req); got != "sub:42" {
		t.Fatalf("expected subject key, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer forged")
	if got := keyFunc(req); got != "192.0.2.10" {
		t.Fatalf("expected ip fallback for bad token, got %q", got)
	}
}

func TestLocalFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newLocalFixedWindowLimiter(func() time.Time { return now })
	policy := Policy{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := l.Allow(ctx, "k", policy); !d.Allowed {
			t.Fatalf("request %d expected allow", i)
		}
	}
	now = now.Add(20 * time.Second)
	d, _ := l.Allow(ctx, "k", policy)
	if d.Allowed || d.RetryAfter != 40*time.Second {
		t.Fatalf("expected deny with 40s retry, got %+v", d)
	}

	now = now.Add(40 * time.Second)
	d, _ = l.Allow(ctx, "k", policy)
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
	if len(l.windows) != 1 {
		t.Fatalf("expected one tracked window, got %d", len(l.windows))
	}
}

func TestRateLimiterScopesDoNotShareBudget(t *testing.T) {
	shared := NewLocalFixedWindowLimiter()
	login := NewDistributedRateLimiterWithKey(shared, 1, time.Minute, FailClosed, "auth.login", nil).Middleware()(noContent())
	refresh := NewDistributedRateLimiterWithKey(shared, 1, time.Minute, FailClosed, "auth.refresh", nil).Middleware()(noContent())

	if rr := hit(login, "10.0.0.9:1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("login expected 204, got %d", rr.Code)
	}
	if rr := hit(refresh, "10.0.0.9:1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("refresh expected its own budget, got %d", rr.Code)
	}
	if rr := hit(login, "10.0.0.9:1", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second login expected 429, got %d", rr.Code)
	}
}
