package router

import (
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/newsroom-auth-service/internal/health"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/handler"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/middleware"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
)

const maxBodyBytes = 1 << 20

const (
	RoutePolicyRegister       = "register"
	RoutePolicyLogin          = "login"
	RoutePolicyRefresh        = "refresh"
	RoutePolicyPasswordForgot = "password_forgot"
	RoutePolicyTwoFactor      = "two_factor"
)

type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

type Dependencies struct {
	AuthHandler            *handler.AuthHandler
	MeHandler              *handler.MeHandler
	Auth                   middleware.AccessAuthenticator
	APITokens              middleware.APITokenAuthenticator
	CORSOrigins            []string
	AuthRateLimitRPM       int
	APIRateLimitRPM        int
	GlobalRateLimiter      GlobalRateLimiterFunc
	AuthRateLimiter        AuthRateLimiterFunc
	RouteRateLimitPolicies RouteRateLimitPolicies
	Readiness              *health.ProbeRunner
	EnableOTelHTTP         bool
	EnableSentry           bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if dep.EnableSentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).WithBypassEvaluator(middleware.PreflightBypass).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	policy := func(name string) func(http.Handler) http.Handler {
		if mw, ok := dep.RouteRateLimitPolicies[name]; ok && mw != nil {
			return mw
		}
		return authLimiter
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	requireAccess := middleware.AuthMiddleware(dep.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(policy(RoutePolicyRegister)).Post("/register", dep.AuthHandler.Register)
			r.With(policy(RoutePolicyLogin)).Post("/login", dep.AuthHandler.Login)
			r.With(policy(RoutePolicyPasswordForgot)).Post("/password/forgot", dep.AuthHandler.PasswordForgot)
			r.With(authLimiter).Post("/password/reset", dep.AuthHandler.PasswordReset)
			r.With(authLimiter).Post("/email/verify/confirm", dep.AuthHandler.EmailVerifyConfirm)
			r.With(authLimiter).Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.With(authLimiter).Get("/google/callback", dep.AuthHandler.GoogleCallback)

			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(policy(RoutePolicyRefresh)).Post("/refresh", dep.AuthHandler.Refresh)
				r.With(requireAccess).Post("/logout", dep.AuthHandler.Logout)
				r.With(requireAccess).Post("/logout-all", dep.AuthHandler.LogoutAll)
				r.With(requireAccess, authLimiter).Post("/password/change", dep.AuthHandler.PasswordChange)
				r.With(requireAccess, authLimiter).Post("/email/verify/request", dep.AuthHandler.EmailVerifyRequest)
			})
		})

		r.Route("/me", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.AccessOrAPITokenMiddleware(dep.Auth, dep.APITokens))
				r.Get("/", dep.MeHandler.Me)
				r.Get("/security-log", dep.MeHandler.SecurityLog)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAccess)
				r.Use(middleware.CSRFMiddleware)
				r.Get("/sessions", dep.MeHandler.Sessions)
				r.Delete("/sessions/{id}", dep.MeHandler.RevokeSession)
				r.With(policy(RoutePolicyTwoFactor)).Post("/2fa/setup", dep.MeHandler.TwoFactorSetup)
				r.With(policy(RoutePolicyTwoFactor)).Post("/2fa/verify", dep.MeHandler.TwoFactorVerify)
				r.With(policy(RoutePolicyTwoFactor)).Post("/2fa/disable", dep.MeHandler.TwoFactorDisable)
				r.With(policy(RoutePolicyTwoFactor)).Post("/2fa/backup-codes", dep.MeHandler.RegenerateBackupCodes)
				r.Post("/api-tokens", dep.MeHandler.CreateAPIToken)
				r.Get("/api-tokens", dep.MeHandler.ListAPITokens)
				r.Delete("/api-tokens/{id}", dep.MeHandler.RevokeAPIToken)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
