//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/newsroom-auth-service/internal/app"
	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

var infraSet = wire.NewSet(
	provideLogger,
	provideDB,
	provideRedis,
	provideRepositories,
	provideUnitOfWork,
)

var securitySet = wire.NewSet(
	provideJWTConfig,
	provideTokenIssuer,
	provideTokenVerifier,
	provideTOTP,
	providePasswordHasher,
	provideCookieManager,
)

var serviceSet = wire.NewSet(
	provideTokenLedger,
	provideTokenDenylist,
	provideTokenService,
	provideCredentialService,
	provideSecurityEventPublisher,
	provideSecurityEventRecorder,
	provideNotifier,
	provideOAuthService,
	provideAuthService,
	provideTwoFactorService,
	provideAPITokenService,
	provideTokenSweeper,
)

var httpSet = wire.NewSet(
	provideAuthHandler,
	provideMeHandler,
	provideReadiness,
	provideRateLimiters,
	provideRouter,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, rt *observability.Runtime) (*app.App, func(), error) {
	wire.Build(infraSet, securitySet, serviceSet, httpSet, provideApp)
	return nil, nil, nil
}

func InitializeAdmin(ctx context.Context, cfg *config.Config, rt *observability.Runtime) (*Admin, func(), error) {
	wire.Build(infraSet, securitySet, serviceSet, provideAdmin)
	return nil, nil, nil
}
