package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseDriver      string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	DatabaseAutoMigrate bool   `mapstructure:"DATABASE_AUTO_MIGRATE"`

	RedisEnabled  bool   `mapstructure:"REDIS_ENABLED"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTActionSecret  string `mapstructure:"JWT_ACTION_SECRET"`
	JWTAPISecret     string `mapstructure:"JWT_API_SECRET"`

	AccessTokenTTL       time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTokenTTL      time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	PasswordResetTTL     time.Duration `mapstructure:"PASSWORD_RESET_TTL"`
	EmailVerificationTTL time.Duration `mapstructure:"EMAIL_VERIFICATION_TTL"`
	APITokenTTL          time.Duration `mapstructure:"API_TOKEN_TTL"`
	TwoFactorSetupTTL    time.Duration `mapstructure:"TWO_FACTOR_SETUP_TTL"`
	TokenHashPepper      string        `mapstructure:"TOKEN_HASH_PEPPER"`

	AuthMaxFailedAttempts int           `mapstructure:"AUTH_MAX_FAILED_ATTEMPTS"`
	AuthLockoutDuration   time.Duration `mapstructure:"AUTH_LOCKOUT_DURATION"`
	AuthTOTPIssuer        string        `mapstructure:"AUTH_TOTP_ISSUER"`
	AuthBackupCodeCount   int           `mapstructure:"AUTH_BACKUP_CODE_COUNT"`

	Argon2MemoryKiB   uint32 `mapstructure:"ARGON2_MEMORY_KIB"`
	Argon2Iterations  uint32 `mapstructure:"ARGON2_ITERATIONS"`
	Argon2Parallelism uint8  `mapstructure:"ARGON2_PARALLELISM"`

	CookieSecure bool     `mapstructure:"COOKIE_SECURE"`
	CookieDomain string   `mapstructure:"COOKIE_DOMAIN"`
	CORSOrigins  []string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	AuthRateLimitRPM      int  `mapstructure:"AUTH_RATE_LIMIT_RPM"`
	APIRateLimitRPM       int  `mapstructure:"API_RATE_LIMIT_RPM"`
	RateLimitRedisEnabled bool `mapstructure:"RATE_LIMIT_REDIS_ENABLED"`

	TokenSweepInterval time.Duration `mapstructure:"TOKEN_SWEEP_INTERVAL"`

	AuthGoogleEnabled    bool          `mapstructure:"AUTH_GOOGLE_ENABLED"`
	GoogleClientID       string        `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string        `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL    string        `mapstructure:"GOOGLE_REDIRECT_URL"`
	OAuthProviderTimeout time.Duration `mapstructure:"OAUTH_PROVIDER_TIMEOUT"`

	KafkaBrokers       []string `mapstructure:"KAFKA_BROKERS"`
	KafkaSecurityTopic string   `mapstructure:"KAFKA_SECURITY_TOPIC"`

	SentryDSN string `mapstructure:"SENTRY_DSN"`

	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	OTELTracesSamplerRatio    float64       `mapstructure:"OTEL_TRACES_SAMPLER_RATIO"`

	ShutdownTimeout              time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	ShutdownHTTPDrainTimeout     time.Duration `mapstructure:"SHUTDOWN_HTTP_DRAIN_TIMEOUT"`
	ShutdownObservabilityTimeout time.Duration `mapstructure:"SHUTDOWN_OBSERVABILITY_TIMEOUT"`
	ReadinessProbeTimeout        time.Duration `mapstructure:"READINESS_PROBE_TIMEOUT"`
}

const minSecretLength = 32

var (
	// ErrMalformedValue marks a variable that could not be parsed into its type.
	ErrMalformedValue = errors.New("malformed value")
	// ErrInvalidConfig marks a parsed config that failed validation.
	ErrInvalidConfig = errors.New("invalid config")
)

// defaults lists every recognised key. A key missing here is never read from
// the environment.
var defaults = map[string]any{
	"APP_ENV":                        "development",
	"HTTP_ADDR":                      ":8080",
	"LOG_LEVEL":                      "info",
	"DATABASE_DRIVER":                "postgres",
	"DATABASE_URL":                   "",
	"DATABASE_AUTO_MIGRATE":          true,
	"REDIS_ENABLED":                  false,
	"REDIS_ADDR":                     "localhost:6379",
	"REDIS_PASSWORD":                 "",
	"REDIS_DB":                       0,
	"JWT_ISSUER":                     "newsroom-auth",
	"JWT_AUDIENCE":                   "newsroom-api",
	"JWT_ACCESS_SECRET":              "",
	"JWT_REFRESH_SECRET":             "",
	"JWT_ACTION_SECRET":              "",
	"JWT_API_SECRET":                 "",
	"JWT_ACCESS_TTL":                 15 * time.Minute,
	"JWT_REFRESH_TTL":                7 * 24 * time.Hour,
	"PASSWORD_RESET_TTL":             time.Hour,
	"EMAIL_VERIFICATION_TTL":         24 * time.Hour,
	"API_TOKEN_TTL":                  365 * 24 * time.Hour,
	"TWO_FACTOR_SETUP_TTL":           10 * time.Minute,
	"TOKEN_HASH_PEPPER":              "",
	"AUTH_MAX_FAILED_ATTEMPTS":       5,
	"AUTH_LOCKOUT_DURATION":          15 * time.Minute,
	"AUTH_TOTP_ISSUER":               "Newsroom",
	"AUTH_BACKUP_CODE_COUNT":         10,
	"ARGON2_MEMORY_KIB":              64 * 1024,
	"ARGON2_ITERATIONS":              3,
	"ARGON2_PARALLELISM":             2,
	"COOKIE_SECURE":                  true,
	"COOKIE_DOMAIN":                  "",
	"CORS_ALLOWED_ORIGINS":           []string{"http://localhost:3000"},
	"AUTH_RATE_LIMIT_RPM":            30,
	"API_RATE_LIMIT_RPM":             300,
	"RATE_LIMIT_REDIS_ENABLED":       false,
	"TOKEN_SWEEP_INTERVAL":           time.Duration(0),
	"AUTH_GOOGLE_ENABLED":            false,
	"GOOGLE_CLIENT_ID":               "",
	"GOOGLE_CLIENT_SECRET":           "",
	"GOOGLE_REDIRECT_URL":            "",
	"OAUTH_PROVIDER_TIMEOUT":         5 * time.Second,
	"KAFKA_BROKERS":                  []string{},
	"KAFKA_SECURITY_TOPIC":           "auth.security-events",
	"SENTRY_DSN":                     "",
	"OTEL_METRICS_ENABLED":           false,
	"OTEL_TRACING_ENABLED":           false,
	"OTEL_LOGS_ENABLED":              false,
	"OTEL_EXPORTER_OTLP_ENDPOINT":    "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":    true,
	"OTEL_SERVICE_NAME":              "newsroom-auth-service",
	"OTEL_ENVIRONMENT":               "development",
	"OTEL_METRICS_EXPORT_INTERVAL":   15 * time.Second,
	"OTEL_TRACES_SAMPLER_RATIO":      1.0,
	"SHUTDOWN_TIMEOUT":               20 * time.Second,
	"SHUTDOWN_HTTP_DRAIN_TIMEOUT":    10 * time.Second,
	"SHUTDOWN_OBSERVABILITY_TIMEOUT": 5 * time.Second,
	"READINESS_PROBE_TIMEOUT":        2 * time.Second,
}

// Load reads configuration from the process environment. A .env file in the
// working directory is applied first without overriding variables that are
// already set.
func Load() (*Config, error) {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		recordConfigLoad(ctx, os.Getenv("APP_ENV"), loadStageDotenv, err)
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := newViper()
	v.AutomaticEnv()
	cfg, err := decode(v)
	if err != nil {
		recordConfigLoad(ctx, os.Getenv("APP_ENV"), loadStageLookup, err)
		return nil, err
	}
	recordConfigLoad(ctx, cfg.Env, loadStageLookup, nil)
	return cfg, nil
}

// FromLookup builds a Config from an arbitrary key lookup. Tests pass a map.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	v := newViper()
	for key := range defaults {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v.Set(key, strings.TrimSpace(raw))
		}
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w: %w", ErrMalformedValue, err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	cfg.CORSOrigins = compact(cfg.CORSOrigins)
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func compact(items []string) []string {
	out := items[:0:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	secrets := map[string]string{
		"JWT_ACCESS_SECRET":  c.JWTAccessSecret,
		"JWT_REFRESH_SECRET": c.JWTRefreshSecret,
		"JWT_ACTION_SECRET":  c.JWTActionSecret,
		"JWT_API_SECRET":     c.JWTAPISecret,
	}
	seen := make(map[string]string, len(secrets))
	for _, key := range []string{"JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "JWT_ACTION_SECRET", "JWT_API_SECRET"} {
		v := secrets[key]
		if len(v) < minSecretLength {
			errs = append(errs, fmt.Errorf("%s must be at least %d bytes", key, minSecretLength))
			continue
		}
		if other, dup := seen[v]; dup {
			errs = append(errs, fmt.Errorf("%s must differ from %s", key, other))
		}
		seen[v] = key
	}
	if len(c.TokenHashPepper) < 16 {
		errs = append(errs, errors.New("TOKEN_HASH_PEPPER must be at least 16 bytes"))
	}

	ttls := []struct {
		key string
		v   time.Duration
	}{
		{"JWT_ACCESS_TTL", c.AccessTokenTTL},
		{"JWT_REFRESH_TTL", c.RefreshTokenTTL},
		{"PASSWORD_RESET_TTL", c.PasswordResetTTL},
		{"EMAIL_VERIFICATION_TTL", c.EmailVerificationTTL},
		{"API_TOKEN_TTL", c.APITokenTTL},
		{"TWO_FACTOR_SETUP_TTL", c.TwoFactorSetupTTL},
		{"AUTH_LOCKOUT_DURATION", c.AuthLockoutDuration},
		{"OAUTH_PROVIDER_TIMEOUT", c.OAuthProviderTimeout},
	}
	for _, ttl := range ttls {
		if ttl.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", ttl.key))
		}
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL"))
	}
	if c.TokenSweepInterval < 0 {
		errs = append(errs, errors.New("TOKEN_SWEEP_INTERVAL must not be negative"))
	}
	if c.AuthMaxFailedAttempts < 1 {
		errs = append(errs, errors.New("AUTH_MAX_FAILED_ATTEMPTS must be at least 1"))
	}
	if c.AuthBackupCodeCount < 1 || c.AuthBackupCodeCount > 32 {
		errs = append(errs, errors.New("AUTH_BACKUP_CODE_COUNT must be between 1 and 32"))
	}
	if c.Argon2MemoryKiB < 8*1024 || c.Argon2Iterations < 1 || c.Argon2Parallelism < 1 {
		errs = append(errs, errors.New("argon2 parameters are below the supported minimum"))
	}
	if c.AuthGoogleEnabled && (c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleRedirectURL == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required when AUTH_GOOGLE_ENABLED=true"))
	}
	if c.OTELTracesSamplerRatio < 0 || c.OTELTracesSamplerRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return normalizeConfigProfile(c.Env) == "production" || normalizeConfigProfile(c.Env) == "prod"
}
