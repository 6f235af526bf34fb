package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/newsroom-auth-service/internal/app"
	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
	"github.com/sandeepkv93/newsroom-auth-service/internal/database"
	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/health"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/handler"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/middleware"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/router"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
)

const securityEventSource = "newsroom-auth-service"

func provideLogger(rt *observability.Runtime) *slog.Logger {
	if rt == nil || rt.Logger == nil {
		return slog.Default()
	}
	return rt.Logger
}

func provideDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Error("close database", "error", err)
		}
	}
	if cfg.DatabaseAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

// provideRedis returns nil when Redis is disabled; consumers fall back to
// process-local state.
func provideRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func()) {
	if !cfg.RedisEnabled {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", "error", err)
		}
	}
}

func provideRepositories(db *gorm.DB) repository.Repositories {
	return repository.NewRepositories(db)
}

func provideUnitOfWork(db *gorm.DB) repository.UnitOfWork {
	return repository.NewUnitOfWork(db)
}

func provideJWTConfig(cfg *config.Config) security.JWTConfig {
	return security.JWTConfig{
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		ActionSecret:  cfg.JWTActionSecret,
		APISecret:     cfg.JWTAPISecret,
		Lifetimes: map[domain.TokenType]time.Duration{
			domain.TokenTypeAccess:            cfg.AccessTokenTTL,
			domain.TokenTypeRefresh:           cfg.RefreshTokenTTL,
			domain.TokenTypePasswordReset:     cfg.PasswordResetTTL,
			domain.TokenTypeEmailVerification: cfg.EmailVerificationTTL,
			domain.TokenTypeAPI:               cfg.APITokenTTL,
		},
	}
}

func provideTokenIssuer(jwtCfg security.JWTConfig) *security.TokenIssuer {
	return security.NewTokenIssuer(jwtCfg)
}

func provideTokenVerifier(jwtCfg security.JWTConfig) *security.TokenVerifier {
	return security.NewTokenVerifier(jwtCfg)
}

func provideTOTP(cfg *config.Config) *security.TOTP {
	return security.NewTOTP(cfg.AuthTOTPIssuer)
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})
}

func provideTokenLedger(repos repository.Repositories, cfg *config.Config) *service.TokenLedger {
	return service.NewTokenLedger(repos.Tokens, cfg.TokenHashPepper, time.Now)
}

func provideTokenDenylist(client redis.UniversalClient) service.TokenDenylist {
	if client == nil {
		return service.NewInMemoryTokenDenylist(time.Now)
	}
	return service.NewRedisTokenDenylist(client, "auth:denylist")
}

func provideTokenService(issuer *security.TokenIssuer, verifier *security.TokenVerifier, ledger *service.TokenLedger, denylist service.TokenDenylist) *service.TokenService {
	return service.NewTokenService(issuer, verifier, ledger, denylist, time.Now)
}

func provideCredentialService(hasher *security.PasswordHasher, totp *security.TOTP, cfg *config.Config, logger *slog.Logger) *service.CredentialService {
	return service.NewCredentialService(hasher, totp, service.CredentialPolicy{
		MaxFailedAttempts: cfg.AuthMaxFailedAttempts,
		LockoutDuration:   cfg.AuthLockoutDuration,
		BackupCodeCount:   cfg.AuthBackupCodeCount,
	}, logger, time.Now)
}

func provideSecurityEventPublisher(cfg *config.Config) service.SecurityEventPublisher {
	if len(cfg.KafkaBrokers) == 0 {
		return service.NewNoopSecurityEventPublisher()
	}
	return service.NewKafkaSecurityEventPublisher(cfg.KafkaBrokers, cfg.KafkaSecurityTopic, securityEventSource)
}

func provideSecurityEventRecorder(repos repository.Repositories, publisher service.SecurityEventPublisher, logger *slog.Logger) *service.SecurityEventRecorder {
	return service.NewSecurityEventRecorder(repos.SecurityLogs, publisher, logger, time.Now)
}

func provideNotifier(logger *slog.Logger) service.Notifier {
	return service.NewLogNotifier(logger)
}

// provideOAuthService returns nil when Google login is disabled; the auth
// service then answers ErrOAuthUnavailable.
func provideOAuthService(cfg *config.Config, repos repository.Repositories, logger *slog.Logger) *service.OAuthService {
	if !cfg.AuthGoogleEnabled {
		return nil
	}
	provider := service.NewGoogleOAuthProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	return service.NewOAuthService(provider, repos.Users, logger, cfg.OAuthProviderTimeout)
}

func provideAuthService(
	repos repository.Repositories,
	uow repository.UnitOfWork,
	ledger *service.TokenLedger,
	tokens *service.TokenService,
	creds *service.CredentialService,
	issuer *security.TokenIssuer,
	verifier *security.TokenVerifier,
	events *service.SecurityEventRecorder,
	notifier service.Notifier,
	oauth *service.OAuthService,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(repos, uow, ledger, tokens, creds, issuer, verifier, events, notifier, oauth, logger, time.Now)
}

func provideTwoFactorService(repos repository.Repositories, uow repository.UnitOfWork, ledger *service.TokenLedger, creds *service.CredentialService, events *service.SecurityEventRecorder, cfg *config.Config) *service.TwoFactorService {
	return service.NewTwoFactorService(repos, uow, ledger, creds, events, cfg.TwoFactorSetupTTL, time.Now)
}

func provideAPITokenService(repos repository.Repositories, ledger *service.TokenLedger, issuer *security.TokenIssuer, verifier *security.TokenVerifier, events *service.SecurityEventRecorder) *service.APITokenService {
	return service.NewAPITokenService(repos.Users, ledger, issuer, verifier, events)
}

func provideTokenSweeper(ledger *service.TokenLedger, cfg *config.Config, logger *slog.Logger) *service.TokenSweeper {
	return service.NewTokenSweeper(ledger, cfg.TokenSweepInterval, logger)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure)
}

func provideAuthHandler(auth *service.AuthService, cookies *security.CookieManager, logger *slog.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, cookies, logger)
}

func provideMeHandler(auth *service.AuthService, twoFactor *service.TwoFactorService, apiTokens *service.APITokenService) *handler.MeHandler {
	return handler.NewMeHandler(auth, twoFactor, apiTokens)
}

func provideReadiness(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	perCheck := cfg.ReadinessProbeTimeout
	return health.NewProbeRunner(perCheck+time.Second, perCheck, checkers...)
}

// rateLimiters holds the limiter middlewares handed to the router. With
// Redis-backed limiting enabled every instance shares one budget per key.
type rateLimiters struct {
	global   router.GlobalRateLimiterFunc
	auth     router.AuthRateLimiterFunc
	policies router.RouteRateLimitPolicies
}

func provideRateLimiters(cfg *config.Config, client redis.UniversalClient, verifier *security.TokenVerifier) rateLimiters {
	if !cfg.RateLimitRedisEnabled || client == nil {
		return rateLimiters{}
	}
	limiter := middleware.NewRedisFixedWindowLimiter(client, "auth:rl")
	global := middleware.NewDistributedRateLimiterWithKey(limiter, cfg.APIRateLimitRPM, time.Minute, middleware.FailOpen, "api", middleware.SubjectOrIPKeyFunc(verifier)).
		WithBypassEvaluator(middleware.PreflightBypass)
	auth := middleware.NewDistributedRateLimiterWithKey(limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth", nil)
	perRoute := func(scope string, perMinute int) func(http.Handler) http.Handler {
		return middleware.NewDistributedRateLimiterWithKey(limiter, perMinute, time.Minute, middleware.FailClosed, scope, nil).Middleware()
	}
	authRPM := cfg.AuthRateLimitRPM
	return rateLimiters{
		global: global.Middleware(),
		auth:   auth.Middleware(),
		policies: router.RouteRateLimitPolicies{
			router.RoutePolicyLogin:          perRoute("auth.login", authRPM),
			router.RoutePolicyRefresh:        perRoute("auth.refresh", authRPM*2),
			router.RoutePolicyPasswordForgot: perRoute("auth.password_forgot", max(authRPM/4, 1)),
		},
	}
}

func provideRouter(
	cfg *config.Config,
	rt *observability.Runtime,
	authHandler *handler.AuthHandler,
	meHandler *handler.MeHandler,
	auth *service.AuthService,
	apiTokens *service.APITokenService,
	limiters rateLimiters,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:            authHandler,
		MeHandler:              meHandler,
		Auth:                   auth,
		APITokens:              apiTokens,
		CORSOrigins:            cfg.CORSOrigins,
		AuthRateLimitRPM:       cfg.AuthRateLimitRPM,
		APIRateLimitRPM:        cfg.APIRateLimitRPM,
		GlobalRateLimiter:      limiters.global,
		AuthRateLimiter:        limiters.auth,
		RouteRateLimitPolicies: limiters.policies,
		Readiness:              readiness,
		EnableOTelHTTP:         cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
		EnableSentry:           rt != nil && rt.SentryEnabled,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	rt *observability.Runtime,
	sweeper *service.TokenSweeper,
	publisher service.SecurityEventPublisher,
	readiness *health.ProbeRunner,
) *app.App {
	return app.New(cfg, logger, server, rt, sweeper, publisher, readiness)
}

// Admin is the service graph used by authctl: no HTTP surface, same
// storage and token ledger as the server.
type Admin struct {
	DB      *gorm.DB
	Auth    *service.AuthService
	Ledger  *service.TokenLedger
	Sweeper *service.TokenSweeper
	Events  service.SecurityEventPublisher
}

func provideAdmin(db *gorm.DB, auth *service.AuthService, ledger *service.TokenLedger, sweeper *service.TokenSweeper, publisher service.SecurityEventPublisher) *Admin {
	return &Admin{DB: db, Auth: auth, Ledger: ledger, Sweeper: sweeper, Events: publisher}
}
