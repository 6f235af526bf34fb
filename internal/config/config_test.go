package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validEnv() map[string]string {
	return map[string]string{
		"DATABASE_DRIVER":    "sqlite",
		"DATABASE_URL":       "file::memory:",
		"JWT_ACCESS_SECRET":  "access-secret-abcdefghijklmnopqrstuvwxyz",
		"JWT_REFRESH_SECRET": "refresh-secret-abcdefghijklmnopqrstuvwxyz",
		"JWT_ACTION_SECRET":  "action-secret-abcdefghijklmnopqrstuvwxyz",
		"JWT_API_SECRET":     "api-secret-abcdefghijklmnopqrstuvwxyz0123",
		"TOKEN_HASH_PEPPER":  "pepper-1234567890",
	}
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(validEnv()))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl 15m, got %v", cfg.AccessTokenTTL)
	}
	if cfg.AuthMaxFailedAttempts != 5 || cfg.AuthLockoutDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: %d %v", cfg.AuthMaxFailedAttempts, cfg.AuthLockoutDuration)
	}
	if cfg.TokenSweepInterval != 0 {
		t.Fatalf("expected periodic sweep disabled by default, got %v", cfg.TokenSweepInterval)
	}
	if !cfg.DatabaseAutoMigrate {
		t.Fatal("expected auto migrate enabled by default")
	}
}

func TestLoadBindsProcessEnvironment(t *testing.T) {
	for k, v := range validEnv() {
		t.Setenv(k, v)
	}
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("AUTH_MAX_FAILED_ATTEMPTS", "7")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("ARGON2_PARALLELISM", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.AuthMaxFailedAttempts != 7 {
		t.Fatalf("environment not applied: ttl=%v attempts=%d", cfg.AccessTokenTTL, cfg.AuthMaxFailedAttempts)
	}
	if cfg.CookieSecure || cfg.Argon2Parallelism != 4 {
		t.Fatalf("unexpected cookie/argon2 values: %v %d", cfg.CookieSecure, cfg.Argon2Parallelism)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected default refresh ttl, got %v", cfg.RefreshTokenTTL)
	}
}

func TestFromLookupRejectsMalformedBool(t *testing.T) {
	env := validEnv()
	env["REDIS_ENABLED"] = "sometimes"
	_, err := FromLookup(lookupFrom(env))
	if !errors.Is(err, ErrMalformedValue) || !strings.Contains(err.Error(), "REDIS_ENABLED") {
		t.Fatalf("expected malformed REDIS_ENABLED, got %v", err)
	}
}

func TestFromLookupParsesLists(t *testing.T) {
	env := validEnv()
	env["KAFKA_BROKERS"] = " broker-1:9092, ,broker-2:9092 "
	env["CORS_ALLOWED_ORIGINS"] = "https://news.example"
	cfg, err := FromLookup(lookupFrom(env))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://news.example" {
		t.Fatalf("unexpected cors origins: %#v", cfg.CORSOrigins)
	}
}

func TestFromLookupParseErrorPrefix(t *testing.T) {
	env := validEnv()
	env["JWT_ACCESS_TTL"] = "fifteen minutes"
	_, err := FromLookup(lookupFrom(env))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.HasPrefix(err.Error(), "parse config:") || !strings.Contains(err.Error(), "JWT_ACCESS_TTL") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
}

func TestFromLookupValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{name: "short secret", mutate: func(e map[string]string) { e["JWT_ACCESS_SECRET"] = "short" }, want: "JWT_ACCESS_SECRET must be at least"},
		{name: "shared secret", mutate: func(e map[string]string) { e["JWT_REFRESH_SECRET"] = e["JWT_ACCESS_SECRET"] }, want: "JWT_REFRESH_SECRET must differ from JWT_ACCESS_SECRET"},
		{name: "driver", mutate: func(e map[string]string) { e["DATABASE_DRIVER"] = "mysql" }, want: "DATABASE_DRIVER"},
		{name: "missing url", mutate: func(e map[string]string) { delete(e, "DATABASE_URL") }, want: "DATABASE_URL is required"},
		{name: "ttl order", mutate: func(e map[string]string) { e["JWT_ACCESS_TTL"] = "200h" }, want: "shorter than JWT_REFRESH_TTL"},
		{name: "lockout threshold", mutate: func(e map[string]string) { e["AUTH_MAX_FAILED_ATTEMPTS"] = "0" }, want: "AUTH_MAX_FAILED_ATTEMPTS"},
		{name: "google creds", mutate: func(e map[string]string) { e["AUTH_GOOGLE_ENABLED"] = "true" }, want: "GOOGLE_CLIENT_ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validEnv()
			tc.mutate(env)
			_, err := FromLookup(lookupFrom(env))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "validate config:") || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in validation error, got %v", tc.want, err)
			}
		})
	}
}
