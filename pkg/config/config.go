package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Grant store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreS3       = "s3"
)

// Auth modes
const (
	AuthModeHeader = "header"
	AuthModeOIDC   = "oidc"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Grant and profile storage
	Store StoreConfig

	// Sessions and the admin allow-list
	Access AccessConfig

	// Authentication
	Auth AuthConfig

	// Audit event forwarding
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Requests per minute; 0 disables the limit
	RateLimitPerMinute          int
	AnonymousRateLimitPerMinute int
}

// StoreConfig selects and configures the grant store stack
type StoreConfig struct {
	Type string

	PostgresURL string

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	S3UsePathStyle bool

	// Optional shared read-through cache
	RedisURL string
	RedisTTL time.Duration

	// Per-process cache
	CacheSize int
	CacheTTL  time.Duration
}

// AccessConfig holds session and permission settings
type AccessConfig struct {
	SystemAdmins []string
	CatalogPath  string
	SessionTTL   time.Duration
	MaxSessions  int
	FetchTimeout time.Duration

	// Cron spec for the grant statistics job; empty disables it
	StatsSchedule string
}

// AuthConfig selects how principals are authenticated
type AuthConfig struct {
	Mode             string
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	CookieSecure     bool
}

// AuditConfig configures the optional audit webhook. An empty WebhookURL
// disables it.
type AuditConfig struct {
	WebhookURL         string
	WebhookSecret      string
	WebhookEvents      []string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// Load loads configuration from GATEHOUSE_* environment variables and
// validates it
func Load() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Access:        loadAccessConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),

		RateLimitPerMinute:          getEnvInt("GATEHOUSE_RATE_LIMIT", 600),
		AnonymousRateLimitPerMinute: getEnvInt("GATEHOUSE_ANONYMOUS_RATE_LIMIT", 60),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:           strings.ToLower(getEnv("GATEHOUSE_STORE", StoreMemory)),
		PostgresURL:    getEnv("GATEHOUSE_POSTGRES_URL", ""),
		S3Bucket:       getEnv("GATEHOUSE_S3_BUCKET", ""),
		S3Region:       getEnv("GATEHOUSE_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("GATEHOUSE_S3_ENDPOINT", ""),
		S3Prefix:       getEnv("GATEHOUSE_S3_PREFIX", "grants"),
		S3UsePathStyle: getEnvBool("GATEHOUSE_S3_USE_PATH_STYLE", false),
		RedisURL:       getEnv("GATEHOUSE_REDIS_URL", ""),
		RedisTTL:       getEnvDuration("GATEHOUSE_REDIS_TTL", 5*time.Minute),
		CacheSize:      getEnvInt("GATEHOUSE_CACHE_SIZE", 1024),
		CacheTTL:       getEnvDuration("GATEHOUSE_CACHE_TTL", 30*time.Second),
	}
}

func loadAccessConfig() AccessConfig {
	return AccessConfig{
		SystemAdmins:  getEnvList("GATEHOUSE_SYSTEM_ADMINS", identity.DefaultSystemAdmins),
		CatalogPath:   getEnv("GATEHOUSE_CATALOG_PATH", ""),
		SessionTTL:    getEnvDuration("GATEHOUSE_SESSION_TTL", 12*time.Hour),
		MaxSessions:   getEnvInt("GATEHOUSE_MAX_SESSIONS", 10000),
		FetchTimeout:  getEnvDuration("GATEHOUSE_FETCH_TIMEOUT", 10*time.Second),
		StatsSchedule: getEnv("GATEHOUSE_STATS_SCHEDULE", "@every 5m"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:             strings.ToLower(getEnv("GATEHOUSE_AUTH_MODE", AuthModeHeader)),
		OIDCIssuer:       getEnv("GATEHOUSE_OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("GATEHOUSE_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("GATEHOUSE_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("GATEHOUSE_OIDC_REDIRECT_URL", ""),
		CookieSecure:     getEnvBool("GATEHOUSE_COOKIE_SECURE", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		WebhookURL:         getEnv("GATEHOUSE_AUDIT_WEBHOOK_URL", ""),
		WebhookSecret:      getEnv("GATEHOUSE_AUDIT_WEBHOOK_SECRET", ""),
		WebhookEvents:      getEnvList("GATEHOUSE_AUDIT_WEBHOOK_EVENTS", nil),
		WebhookTimeout:     getEnvDuration("GATEHOUSE_AUDIT_WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxAttempts: getEnvInt("GATEHOUSE_AUDIT_WEBHOOK_MAX_ATTEMPTS", 5),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.AnonymousRateLimitPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case StoreS3:
		if c.Store.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, postgres, or s3)", c.Store.Type)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}

	if len(c.Access.SystemAdmins) == 0 {
		return fmt.Errorf("at least one system admin is required")
	}
	for _, email := range c.Access.SystemAdmins {
		if _, err := identity.ParseEmail(email); err != nil {
			return fmt.Errorf("invalid system admin %q: %w", email, err)
		}
	}
	if c.Access.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Access.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive")
	}

	switch c.Auth.Mode {
	case AuthModeHeader:
	case AuthModeOIDC:
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client id are required for oidc auth")
		}
		if c.Auth.OIDCClientSecret == "" || c.Auth.OIDCRedirectURL == "" {
			return fmt.Errorf("OIDC client secret and redirect URL are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be header or oidc)", c.Auth.Mode)
	}

	if c.Audit.WebhookURL != "" {
		u, err := url.Parse(c.Audit.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid audit webhook URL: %s", c.Audit.WebhookURL)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r <= 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be in (0, 1], got %v", r)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
