package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "driveport", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Contains(t, cfg.Database.DSN(), "dbname=driveport")

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenDuration)
	assert.Equal(t, 6, cfg.Auth.OTPLength)
	assert.Equal(t, 5*time.Minute, cfg.Auth.PermissionCacheTTL)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour, 24 * time.Hour}, cfg.RateLimit.BlockLadder)

	login := cfg.RateLimit.ScopeFor(ScopeLogin)
	assert.Equal(t, 5, login.Max)
	assert.Equal(t, CountFailures, login.CountMode)

	assert.True(t, cfg.Anomaly.Enabled)
	assert.Equal(t, 5, cfg.Anomaly.MaxFingerprints)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 90*24*time.Hour, cfg.Audit.Retention)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RATE_LIMIT_LOGIN_MAX", "10")
	t.Setenv("AUTH_OTP_LENGTH", "8")
	t.Setenv("ANOMALY_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.RateLimit.ScopeFor(ScopeLogin).Max)
	assert.Equal(t, 8, cfg.Auth.OTPLength)
	assert.False(t, cfg.Anomaly.Enabled)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing jwt secret",
			env:  map[string]string{"AUTH_JWT_SECRET": ""},
			want: "AUTH_JWT_SECRET is required",
		},
		{
			name: "short jwt secret",
			env:  map[string]string{"AUTH_JWT_SECRET": "short"},
			want: "at least 32 characters",
		},
		{
			name: "bad port",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "SERVER_PORT": "70000"},
			want: "invalid server port",
		},
		{
			name: "otp length out of range",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "AUTH_OTP_LENGTH": "2"},
			want: "AUTH_OTP_LENGTH",
		},
		{
			name: "zero scope max",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "RATE_LIMIT_LOGIN_MAX": "0"},
			want: "max must be at least 1",
		},
		{
			name: "window below a second",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "RATE_LIMIT_API_WINDOW": "100ms"},
			want: "window too short",
		},
		{
			name: "violation window too short",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "RATE_LIMIT_VIOLATION_WINDOW": "30s"},
			want: "violation window too short",
		},
		{
			name: "bad log level",
			env:  map[string]string{"AUTH_JWT_SECRET": testSecret, "LOG_LEVEL": "verbose"},
			want: "invalid LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ProductionHardening(t *testing.T) {
	prodSecret := testSecret + testSecret

	base := map[string]string{
		"APP_ENV":           "production",
		"AUTH_JWT_SECRET":   prodSecret,
		"DB_SSLMODE":        "require",
		"REDIS_PASSWORD":    "redis-secret",
		"REDIS_TLS_ENABLED": "true",
	}

	t.Run("valid production config", func(t *testing.T) {
		for k, v := range base {
			t.Setenv(k, v)
		}
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})

	overrides := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"short secret", "AUTH_JWT_SECRET", testSecret, "at least 64 characters in production"},
		{"plaintext database", "DB_SSLMODE", "disable", "database SSL must be enabled"},
		{"rate limiting off", "RATE_LIMIT_ENABLED", "false", "rate limiting must be enabled"},
		{"debug mode", "APP_DEBUG", "true", "debug mode must be disabled"},
		{"no redis password", "REDIS_PASSWORD", "", "redis password must be set"},
		{"no redis tls", "REDIS_TLS_ENABLED", "false", "redis TLS must be enabled"},
		{"tls skip verify", "REDIS_TLS_SKIP_VERIFY", "true", "skip verify must be false"},
	}

	for _, tt := range overrides {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range base {
				t.Setenv(k, v)
			}
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRateLimitConfig_LimitsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
login:
  max: 3
  window: 5m
  count_mode: failures
export:
  max: 2
  window: 1h
`), 0o600))

	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("RATE_LIMIT_LIMITS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	login := cfg.RateLimit.ScopeFor(ScopeLogin)
	assert.Equal(t, 3, login.Max)
	assert.Equal(t, 5*time.Minute, login.Window)
	assert.Equal(t, CountFailures, login.CountMode)

	// New scopes from the file default to counting every request.
	export := cfg.RateLimit.ScopeFor("export")
	assert.Equal(t, 2, export.Max)
	assert.Equal(t, CountAll, export.CountMode)

	// Untouched scopes keep their env defaults.
	assert.Equal(t, 120, cfg.RateLimit.ScopeFor(ScopeAPI).Max)
}

func TestRateLimitConfig_LimitsFileErrors(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_LIMITS_FILE", "/nonexistent/limits.yaml")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read rate limit file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "limits.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
		t.Setenv("RATE_LIMIT_LIMITS_FILE", path)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse rate limit file")
	})
}

func TestScopeFor_FallsBackToDefault(t *testing.T) {
	cfg := RateLimitConfig{
		Scopes:  map[string]ScopeLimit{"login": {Max: 5, Window: time.Minute, CountMode: CountFailures}},
		Default: ScopeLimit{Max: 60, Window: time.Minute, CountMode: CountAll},
	}

	assert.Equal(t, 5, cfg.ScopeFor("login").Max)
	assert.Equal(t, 60, cfg.ScopeFor("unknown").Max)
}

func TestCountMode_IsValid(t *testing.T) {
	assert.True(t, CountAll.IsValid())
	assert.True(t, CountFailures.IsValid())
	assert.False(t, CountMode("sometimes").IsValid())
}
