package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Anomaly   AnomalyConfig
	Worker    WorkerConfig
	Audit     AuditConfig
	Notify    NotifyConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration // Per-request handler timeout
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	// Skip logging health check endpoints (default: true)
	SkipHealthLogs bool
	// Log requests slower than this as warnings (default: 5)
	SlowRequestSeconds int
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret            string        // Secret key for signing JWTs (required)
	JWTIssuer            string        // Token issuer claim
	AccessTokenDuration  time.Duration // Access token lifetime (default: 15m)
	RefreshTokenDuration time.Duration // Refresh token lifetime (default: 7d)

	// OTP settings for sensitive-route re-verification
	OTPLength   int           // Digits in a generated passcode (default: 6)
	OTPDuration time.Duration // OTP validity window (default: 5m)
	BcryptCost  int           // Cost factor for PIN/OTP hashing (default: 12)

	// PermissionCacheTTL bounds staleness of cached permission sets.
	// Role or grant changes become visible within this window.
	PermissionCacheTTL time.Duration
}

// CountMode controls which requests consume rate-limit quota for a scope.
type CountMode string

const (
	// CountAll increments on every request in the scope.
	CountAll CountMode = "all"
	// CountFailures increments only when the guarded operation fails.
	// Used for credential scopes so successful logins do not consume quota.
	CountFailures CountMode = "failures"
)

// IsValid checks if the count mode is valid.
func (m CountMode) IsValid() bool {
	return m == CountAll || m == CountFailures
}

// ScopeLimit is the quota for one rate-limit scope.
type ScopeLimit struct {
	Max       int           `yaml:"max"`
	Window    time.Duration `yaml:"window"`
	CountMode CountMode     `yaml:"count_mode"`
}

// UnmarshalYAML decodes a scope limit with the window given as a Go
// duration string, e.g. "15m" or "1h".
func (s *ScopeLimit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Max       int       `yaml:"max"`
		Window    string    `yaml:"window"`
		CountMode CountMode `yaml:"count_mode"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Max = raw.Max
	s.CountMode = raw.CountMode
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		s.Window = d
	}
	return nil
}

// Well-known rate-limit scope names.
const (
	ScopeLogin        = "login"
	ScopeOTP          = "otp"
	ScopeAPI          = "api"
	ScopeAdmin        = "admin"
	ScopeVerification = "verification"
)

// RateLimitConfig holds rate limiting and progressive blocking configuration.
type RateLimitConfig struct {
	Enabled bool

	// Scopes maps scope name to its quota. Route directives may reference
	// any scope defined here; unknown scopes fall back to Default.
	Scopes  map[string]ScopeLimit
	Default ScopeLimit

	// BlockLadder is the escalating block duration per violation count
	// within the violation window. The last entry applies to all further
	// violations.
	BlockLadder     []time.Duration
	ViolationWindow time.Duration

	// LimitsFile optionally points to a YAML file overriding Scopes.
	LimitsFile string
}

// AnomalyConfig holds device and IP anomaly tracking configuration.
type AnomalyConfig struct {
	Enabled bool

	// MaxFingerprints is the size of the per-principal recent device set.
	MaxFingerprints int
	// FingerprintTTL is how long an unseen device stays in the set.
	FingerprintTTL time.Duration
	// IPFanoutThreshold is the distinct-principal count per IP above
	// which an alert is raised.
	IPFanoutThreshold int
	// IPWindow is the sliding window for IP fan-out counting.
	IPWindow time.Duration
}

// WorkerConfig holds background job processing configuration.
type WorkerConfig struct {
	Concurrency int
	// Queues maps queue name to priority weight.
	Queues map[string]int

	// SweepSchedule is the cron expression for the periodic anomaly sweep.
	SweepSchedule string
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled bool
	// WriteTimeout bounds each asynchronous audit write.
	WriteTimeout time.Duration
	// Retention is how long audit records are kept before the cleanup
	// job removes them.
	Retention time.Duration
}

// NotifyConfig holds outbound delivery settings. A channel whose host or
// URL is empty is simply not registered with the dispatcher.
type NotifyConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPStartTLS bool

	SMSGatewayURL string
	SMSAPIKey     string
	SMSSenderID   string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "driveport"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20), // 1MB default
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "driveport"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "driveport"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:              getEnv("LOG_LEVEL", "info"),
			Format:             getEnv("LOG_FORMAT", "json"),
			SkipHealthLogs:     getEnvBool("LOG_SKIP_HEALTH", true),
			SlowRequestSeconds: getEnvInt("LOG_SLOW_REQUEST_SECONDS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:            getEnv("AUTH_JWT_ISSUER", "driveport"),
			AccessTokenDuration:  getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvDuration("AUTH_REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			OTPLength:            getEnvInt("AUTH_OTP_LENGTH", 6),
			OTPDuration:          getEnvDuration("AUTH_OTP_DURATION", 5*time.Minute),
			BcryptCost:           getEnvInt("AUTH_BCRYPT_COST", 12),
			PermissionCacheTTL:   getEnvDuration("AUTH_PERMISSION_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Scopes: map[string]ScopeLimit{
				ScopeLogin:        {Max: getEnvInt("RATE_LIMIT_LOGIN_MAX", 5), Window: getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute), CountMode: CountFailures},
				ScopeOTP:          {Max: getEnvInt("RATE_LIMIT_OTP_MAX", 3), Window: getEnvDuration("RATE_LIMIT_OTP_WINDOW", 10*time.Minute), CountMode: CountFailures},
				ScopeAPI:          {Max: getEnvInt("RATE_LIMIT_API_MAX", 120), Window: getEnvDuration("RATE_LIMIT_API_WINDOW", time.Minute), CountMode: CountAll},
				ScopeAdmin:        {Max: getEnvInt("RATE_LIMIT_ADMIN_MAX", 60), Window: getEnvDuration("RATE_LIMIT_ADMIN_WINDOW", time.Minute), CountMode: CountAll},
				ScopeVerification: {Max: getEnvInt("RATE_LIMIT_VERIFICATION_MAX", 10), Window: getEnvDuration("RATE_LIMIT_VERIFICATION_WINDOW", time.Hour), CountMode: CountAll},
			},
			Default: ScopeLimit{
				Max:       getEnvInt("RATE_LIMIT_DEFAULT_MAX", 60),
				Window:    getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
				CountMode: CountAll,
			},
			BlockLadder: []time.Duration{
				5 * time.Minute,
				15 * time.Minute,
				time.Hour,
				24 * time.Hour,
			},
			ViolationWindow: getEnvDuration("RATE_LIMIT_VIOLATION_WINDOW", 24*time.Hour),
			LimitsFile:      getEnv("RATE_LIMIT_LIMITS_FILE", ""),
		},
		Anomaly: AnomalyConfig{
			Enabled:           getEnvBool("ANOMALY_ENABLED", true),
			MaxFingerprints:   getEnvInt("ANOMALY_MAX_FINGERPRINTS", 5),
			FingerprintTTL:    getEnvDuration("ANOMALY_FINGERPRINT_TTL", 30*24*time.Hour),
			IPFanoutThreshold: getEnvInt("ANOMALY_IP_FANOUT_THRESHOLD", 3),
			IPWindow:          getEnvDuration("ANOMALY_IP_WINDOW", 24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 10),
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			SweepSchedule: getEnv("WORKER_SWEEP_SCHEDULE", "*/15 * * * *"),
		},
		Audit: AuditConfig{
			Enabled:      getEnvBool("AUDIT_ENABLED", true),
			WriteTimeout: getEnvDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
			Retention:    getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),
		},
		Notify: NotifyConfig{
			SMTPHost:      getEnv("NOTIFY_SMTP_HOST", ""),
			SMTPPort:      getEnvInt("NOTIFY_SMTP_PORT", 587),
			SMTPUsername:  getEnv("NOTIFY_SMTP_USERNAME", ""),
			SMTPPassword:  getEnv("NOTIFY_SMTP_PASSWORD", ""),
			SMTPFrom:      getEnv("NOTIFY_SMTP_FROM", "no-reply@driveport.example"),
			SMTPFromName:  getEnv("NOTIFY_SMTP_FROM_NAME", "Driveport"),
			SMTPStartTLS:  getEnvBool("NOTIFY_SMTP_STARTTLS", true),
			SMSGatewayURL: getEnv("NOTIFY_SMS_GATEWAY_URL", ""),
			SMSAPIKey:     getEnv("NOTIFY_SMS_API_KEY", ""),
			SMSSenderID:   getEnv("NOTIFY_SMS_SENDER_ID", "Driveport"),
		},
	}

	if cfg.RateLimit.LimitsFile != "" {
		if err := cfg.RateLimit.loadLimitsFile(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadLimitsFile merges scope quotas from a YAML file over the env defaults.
func (c *RateLimitConfig) loadLimitsFile() error {
	data, err := os.ReadFile(c.LimitsFile)
	if err != nil {
		return fmt.Errorf("read rate limit file %s: %w", c.LimitsFile, err)
	}
	var overrides map[string]ScopeLimit
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse rate limit file %s: %w", c.LimitsFile, err)
	}
	for name, limit := range overrides {
		if limit.CountMode == "" {
			limit.CountMode = CountAll
		}
		c.Scopes[name] = limit
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateBasic validates basic configuration regardless of environment.
func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateAnomaly(); err != nil {
		return err
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	return nil
}

// validateAuth validates authentication configuration.
func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.OTPLength < 4 || c.Auth.OTPLength > 10 {
		return fmt.Errorf("AUTH_OTP_LENGTH must be between 4 and 10, got %d", c.Auth.OTPLength)
	}
	if c.Auth.PermissionCacheTTL <= 0 {
		return fmt.Errorf("AUTH_PERMISSION_CACHE_TTL must be positive")
	}
	return nil
}

// validateRateLimit validates rate limiting configuration.
func (c *Config) validateRateLimit() error {
	check := func(name string, limit ScopeLimit) error {
		if limit.Max < 1 {
			return fmt.Errorf("rate limit scope %q: max must be at least 1, got %d", name, limit.Max)
		}
		if limit.Window < time.Second {
			return fmt.Errorf("rate limit scope %q: window too short: %v (min 1s)", name, limit.Window)
		}
		if !limit.CountMode.IsValid() {
			return fmt.Errorf("rate limit scope %q: invalid count mode %q", name, limit.CountMode)
		}
		return nil
	}
	for name, limit := range c.RateLimit.Scopes {
		if err := check(name, limit); err != nil {
			return err
		}
	}
	if err := check("default", c.RateLimit.Default); err != nil {
		return err
	}
	if len(c.RateLimit.BlockLadder) == 0 {
		return fmt.Errorf("rate limit block ladder must not be empty")
	}
	for i, d := range c.RateLimit.BlockLadder {
		if d < time.Second {
			return fmt.Errorf("rate limit block ladder entry %d too short: %v", i, d)
		}
		if i > 0 && d < c.RateLimit.BlockLadder[i-1] {
			return fmt.Errorf("rate limit block ladder must be non-decreasing")
		}
	}
	if c.RateLimit.ViolationWindow < time.Minute {
		return fmt.Errorf("rate limit violation window too short: %v", c.RateLimit.ViolationWindow)
	}
	return nil
}

// validateAnomaly validates anomaly tracking configuration.
func (c *Config) validateAnomaly() error {
	if !c.Anomaly.Enabled {
		return nil
	}
	if c.Anomaly.MaxFingerprints < 1 {
		return fmt.Errorf("ANOMALY_MAX_FINGERPRINTS must be at least 1")
	}
	if c.Anomaly.IPFanoutThreshold < 1 {
		return fmt.Errorf("ANOMALY_IP_FANOUT_THRESHOLD must be at least 1")
	}
	if c.Anomaly.IPWindow < time.Minute {
		return fmt.Errorf("ANOMALY_IP_WINDOW too short: %v", c.Anomaly.IPWindow)
	}
	return nil
}

// validateLog validates logging configuration.
func (c *Config) validateLog() error {
	validLevels := map[string]bool{
		"debug": true, "DEBUG": true,
		"info": true, "INFO": true,
		"warn": true, "WARN": true,
		"error": true, "ERROR": true,
	}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validFormats := map[string]bool{
		"json": true, "JSON": true,
		"text": true, "TEXT": true,
		"": true, // Empty is allowed (defaults to json)
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	if c.Log.SlowRequestSeconds < 0 {
		return fmt.Errorf("LOG_SLOW_REQUEST_SECONDS must be non-negative, got %d", c.Log.SlowRequestSeconds)
	}

	return nil
}

// validateProduction validates production-specific configuration.
func (c *Config) validateProduction() error {
	if len(c.Auth.JWTSecret) < 64 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 64 characters in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return fmt.Errorf("rate limiting must be enabled in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if c.Log.Level == "debug" {
		return fmt.Errorf("log level should not be 'debug' in production")
	}
	return c.validateProductionRedis()
}

// validateProductionRedis validates Redis configuration for production.
func (c *Config) validateProductionRedis() error {
	if c.Redis.Password == "" {
		return fmt.Errorf("redis password must be set in production")
	}
	if !c.Redis.TLSEnabled {
		return fmt.Errorf("redis TLS must be enabled in production")
	}
	if c.Redis.TLSSkipVerify {
		return fmt.Errorf("redis TLS skip verify must be false in production")
	}
	if c.Redis.PoolSize < 10 || c.Redis.PoolSize > 500 {
		return fmt.Errorf("redis pool size must be between 10 and 500 in production, got %d", c.Redis.PoolSize)
	}
	return nil
}

// ScopeFor returns the quota for a named scope, falling back to Default.
func (c *RateLimitConfig) ScopeFor(name string) ScopeLimit {
	if limit, ok := c.Scopes[name]; ok {
		return limit
	}
	return c.Default
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
