package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Moderation    ModerationConfig
	Auth          AuthConfig
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
}

// DatabaseConfig holds the Postgres and Redis connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int

	// RedisURL enables the shared premium-status cache when set
	RedisURL string
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	PermissionTTL    time.Duration
	PremiumStatusTTL time.Duration
	SweepSchedule    string
}

// AuditConfig holds audit pipeline and detector settings
type AuditConfig struct {
	Window                time.Duration
	DenialThreshold       int
	PremiumProbeThreshold int
	FallbackCapacity      int
	RetentionDays         int
	RetentionSchedule     string
	// ReplaySchedule drains buffered entries back into the store
	ReplaySchedule string

	// AlertWebhookURLs receive every stored security alert
	AlertWebhookURLs   []string
	AlertWebhookSecret string
}

// ModerationConfig holds moderation rule settings
type ModerationConfig struct {
	// RulesFile is an optional YAML file of blocked words and custom rules
	RulesFile string
}

// AuthConfig holds bearer-token verification settings
type AuthConfig struct {
	OIDCIssuer   string
	OIDCClientID string
	AdminUserIDs []string

	// AllowHeaderAuth trusts the X-User-ID header when no OIDC issuer is
	// configured. Development only.
	AllowHeaderAuth bool

	// WebhookSecret authenticates subscription provider callbacks
	WebhookSecret string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel logrus.Level

	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Moderation:    ModerationConfig{RulesFile: getEnv("MURMUR_MODERATION_RULES_FILE", "")},
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MURMUR_HOST", "0.0.0.0"),
		Port:            getEnv("MURMUR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MURMUR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MURMUR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MURMUR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MURMUR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("MURMUR_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("MURMUR_DATABASE_URL", ""),
		MaxOpenConns: getEnvInt("MURMUR_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("MURMUR_DATABASE_MAX_IDLE_CONNS", 5),
		RedisURL:     getEnv("MURMUR_REDIS_URL", ""),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		PermissionTTL:    getEnvDuration("MURMUR_PERMISSION_CACHE_TTL", 5*time.Minute),
		PremiumStatusTTL: getEnvDuration("MURMUR_PREMIUM_STATUS_CACHE_TTL", 10*time.Minute),
		SweepSchedule:    getEnv("MURMUR_CACHE_SWEEP_SCHEDULE", "@every 2m"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Window:                getEnvDuration("MURMUR_AUDIT_WINDOW", time.Hour),
		DenialThreshold:       getEnvInt("MURMUR_AUDIT_DENIAL_THRESHOLD", 10),
		PremiumProbeThreshold: getEnvInt("MURMUR_AUDIT_PREMIUM_PROBE_THRESHOLD", 5),
		FallbackCapacity:      getEnvInt("MURMUR_AUDIT_FALLBACK_CAPACITY", 1000),
		RetentionDays:         getEnvInt("MURMUR_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule:     getEnv("MURMUR_AUDIT_RETENTION_SCHEDULE", "@daily"),
		ReplaySchedule:        getEnv("MURMUR_AUDIT_REPLAY_SCHEDULE", "@every 1m"),
		AlertWebhookURLs:      getEnvList("MURMUR_ALERT_WEBHOOK_URLS"),
		AlertWebhookSecret:    getEnv("MURMUR_ALERT_WEBHOOK_SECRET", ""),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:    getEnv("MURMUR_OIDC_ISSUER", ""),
		OIDCClientID:  getEnv("MURMUR_OIDC_CLIENT_ID", ""),
		AdminUserIDs:  getEnvList("MURMUR_ADMIN_USER_IDS"),
		WebhookSecret: getEnv("MURMUR_WEBHOOK_SECRET", ""),

		AllowHeaderAuth: getEnvBool("MURMUR_ALLOW_HEADER_AUTH", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("MURMUR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MURMUR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MURMUR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MURMUR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MURMUR_OTEL_SERVICE_NAME", "murmur"),
		OTelServiceVersion: getEnv("MURMUR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MURMUR_OTEL_INSECURE", true),
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

	if c.Cache.PermissionTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if c.Cache.PremiumStatusTTL <= 0 {
		return fmt.Errorf("premium status cache TTL must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Cache.SweepSchedule); err != nil {
		return fmt.Errorf("invalid cache sweep schedule %q: %w", c.Cache.SweepSchedule, err)
	}
	if c.Audit.RetentionDays > 0 {
		if _, err := parser.Parse(c.Audit.RetentionSchedule); err != nil {
			return fmt.Errorf("invalid audit retention schedule %q: %w", c.Audit.RetentionSchedule, err)
		}
	}

	if _, err := parser.Parse(c.Audit.ReplaySchedule); err != nil {
		return fmt.Errorf("invalid audit replay schedule %q: %w", c.Audit.ReplaySchedule, err)
	}

	if c.Audit.Window <= 0 {
		return fmt.Errorf("audit window must be positive")
	}
	if c.Audit.DenialThreshold < 1 || c.Audit.PremiumProbeThreshold < 1 {
		return fmt.Errorf("audit thresholds must be at least 1")
	}
	if c.Audit.FallbackCapacity < 1 {
		return fmt.Errorf("audit fallback capacity must be at least 1")
	}

	for _, raw := range c.Audit.AlertWebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid alert webhook URL %q", raw)
		}
	}

	if (c.Auth.OIDCIssuer == "") != (c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer and client ID must be set together")
	}
	if c.Auth.OIDCIssuer == "" && !c.Auth.AllowHeaderAuth {
		return fmt.Errorf("no authenticator configured: set MURMUR_OIDC_ISSUER, or MURMUR_ALLOW_HEADER_AUTH=true for development")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a trimmed list
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
