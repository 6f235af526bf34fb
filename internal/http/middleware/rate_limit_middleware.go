package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// Policy admits Limit requests per key in each fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// FailureMode decides what happens when the limiter backend errors.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// BypassEvaluator exempts a request from limiting and names why.
type BypassEvaluator func(r *http.Request) (bool, string)

type RateLimiter struct {
	limiter         Limiter
	policy          Policy
	mode            FailureMode
	scope           string
	keyFunc         func(r *http.Request) string
	bypassEvaluator BypassEvaluator
}

// NewRateLimiter limits per client IP within this process.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewDistributedRateLimiterWithKey(NewLocalFixedWindowLimiter(), limit, window, FailClosed, "local", nil)
}

// NewDistributedRateLimiterWithKey limits through limiter, which may be shared
// between instances. A nil keyFunc keys by client IP.
func NewDistributedRateLimiterWithKey(
	limiter Limiter,
	limit int,
	window time.Duration,
	mode FailureMode,
	scope string,
	keyFunc func(r *http.Request) string,
) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  Policy{Limit: limit, Window: window}.normalized(),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) WithBypassEvaluator(bypassEvaluator BypassEvaluator) *RateLimiter {
	rl.bypassEvaluator = bypassEvaluator
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.bypassEvaluator != nil {
				if bypass, reason := rl.bypassEvaluator(r); bypass {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "bypass", string(rl.mode), "none")
					slog.Debug("rate limiter bypass applied", "scope", rl.scope, "reason", reason, "path", r.URL.Path)
					next.ServeHTTP(w, r)
					return
				}
			}
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			keyType := rateLimitKeyType(key)
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode), keyType)
				if rl.mode == FailOpen {
					slog.Warn("rate limiter backend unavailable, allowing request", "scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				rl.deny(w, r, Decision{RetryAfter: rl.policy.Window, ResetAt: time.Now().Add(rl.policy.Window)}, "backend")
				return
			}
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode), keyType)
				rl.deny(w, r, decision, "window")
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode), keyType)
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) deny(w http.ResponseWriter, r *http.Request, d Decision, reason string) {
	writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, d.ResetAt)
	seconds := response.RetryAfter(w, d.RetryAfter)
	observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, reason, float64(seconds))
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", map[string]any{"retry_after_seconds": seconds})
}

// localFixedWindowLimiter counts the same way the Redis script does so that
// falling back to it does not change what clients observe.
type localFixedWindowLimiter struct {
	mu        sync.Mutex
	windows   map[string]*localWindow
	nextSweep time.Time
	now       func() time.Time
}

type localWindow struct {
	count     int
	expiresAt time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return newLocalFixedWindowLimiter(time.Now)
}

func newLocalFixedWindowLimiter(now func() time.Time) *localFixedWindowLimiter {
	return &localFixedWindowLimiter{windows: make(map[string]*localWindow), now: now}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, w := range l.windows {
			if !now.Before(w.expiresAt) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(policy.Window)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &localWindow{expiresAt: now.Add(policy.Window)}
		l.windows[key] = w
	}
	w.count++
	ttl := w.expiresAt.Sub(now)
	if w.count > policy.Limit {
		return Decision{RetryAfter: ttl, ResetAt: w.expiresAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - w.count, ResetAt: w.expiresAt}, nil
}

// SubjectOrIPKeyFunc keys authenticated callers by subject so that users
// behind one NAT do not share a budget. Unverifiable tokens fall back to IP.
func SubjectOrIPKeyFunc(verifier *security.TokenVerifier) func(r *http.Request) string {
	return func(r *http.Request) string {
		if verifier == nil {
			return clientIPKey(r)
		}
		subject := requestSubject(r, verifier)
		if subject == "" {
			return clientIPKey(r)
		}
		return "sub:" + subject
	}
}

func requestSubject(r *http.Request, verifier *security.TokenVerifier) string {
	raw := bearerToken(r)
	if raw == "" {
		raw = security.GetCookie(r, security.AccessCookieName)
	}
	if raw == "" {
		return ""
	}
	claims, err := verifier.VerifyAccess(raw)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func rateLimitKeyType(key string) string {
	if strings.HasPrefix(key, "sub:") {
		return "subject"
	}
	return "ip"
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// PreflightBypass exempts CORS preflights, which carry no credentials and are
// answered before any handler runs.
func PreflightBypass(r *http.Request) (bool, string) {
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		return true, "cors_preflight"
	}
	return false, ""
}
