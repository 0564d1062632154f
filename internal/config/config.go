// Package config provides configuration management for tally-connect.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, TARGET_URL)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Target       TargetConfig       `mapstructure:"target"`
	Source       SourceConfig       `mapstructure:"source"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Notification NotificationConfig `mapstructure:"notification"`
	Priority     PriorityConfig     `mapstructure:"priority"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pool is shared by the request store, the audit logger and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains token verification settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies HS256 tokens. Generated on first boot when
	// missing, which only suits local runs.
	JWTSecret string `mapstructure:"jwt_secret"`
	// JWTVerificationKeys are extra HS256 keys accepted during rotation.
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
	Issuer              string   `mapstructure:"issuer"`
	RolesClaim          string   `mapstructure:"roles_claim"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	SyncPoolSize    int `mapstructure:"sync_pool_size"`
	NotifyPoolSize  int `mapstructure:"notify_pool_size"`
}

// TargetConfig describes the Tally endpoint.
type TargetConfig struct {
	Kind           string            `mapstructure:"kind"` // tally or mock
	URL            string            `mapstructure:"url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxNameLength  int               `mapstructure:"max_name_length"`
	HealthInterval time.Duration     `mapstructure:"health_interval"`
	CompanyMap     map[string]string `mapstructure:"company_map"`
}

// TargetCompany maps a source company to its Tally company name. Viper
// lowercases map keys, so the lookup ignores case. Unmapped companies keep
// their own name.
func (c TargetConfig) TargetCompany(company string) string {
	if v, ok := c.CompanyMap[company]; ok && v != "" {
		return v
	}
	for k, v := range c.CompanyMap {
		if strings.EqualFold(k, company) && v != "" {
			return v
		}
	}
	return company
}

// SourceConfig describes the host application's REST API.
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CatalogConfig controls the master catalog snapshot.
type CatalogConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
	RedisKeyPrefix  string        `mapstructure:"redis_key_prefix"`
	// Companies are refreshed by the periodic job.
	Companies []string `mapstructure:"companies"`
}

// RedisConfig contains the optional shared snapshot store settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotificationConfig selects the delivery sender.
type NotificationConfig struct {
	Sender     string        `mapstructure:"sender"` // log or webhook
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PriorityConfig holds the grand-total thresholds used to classify new
// requests. Values are decimal strings.
type PriorityConfig struct {
	HighThreshold   string `mapstructure:"high_threshold"`
	UrgentThreshold string `mapstructure:"urgent_threshold"`
}

// Thresholds parses the configured thresholds.
func (c PriorityConfig) Thresholds() (high, urgent decimal.Decimal, err error) {
	high, err = decimal.NewFromString(c.HighThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("priority.high_threshold: %w", err)
	}
	urgent, err = decimal.NewFromString(c.UrgentThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("priority.urgent_threshold: %w", err)
	}
	return high, urgent, nil
}

// SyncConfig controls transaction push and sync log housekeeping.
type SyncConfig struct {
	PushMaxAttempts int           `mapstructure:"push_max_attempts"`
	LogRetention    time.Duration `mapstructure:"log_retention"`
}

// ApprovalConfig configures the approver directory.
type ApprovalConfig struct {
	Directory    string           `mapstructure:"directory"` // postgres or static
	ApproverRole string           `mapstructure:"approver_role"`
	Approvers    []ApproverConfig `mapstructure:"approvers"`
}

// ApproverConfig is one statically configured approver.
type ApproverConfig struct {
	UserID string `mapstructure:"user_id"`
	Name   string `mapstructure:"name"`
	Email  string `mapstructure:"email"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Environment variables use standard names without prefix
// (DATABASE_URL, TARGET_URL, CATALOG_MAX_STALENESS, ...).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tally-connect")

	// database.max_conns -> DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	switch c.Target.Kind {
	case "tally":
		if c.Target.URL == "" {
			return fmt.Errorf("target.url is required for target.kind=tally")
		}
	case "mock":
	default:
		return fmt.Errorf("target.kind must be tally or mock, got %q", c.Target.Kind)
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("target.timeout must be positive")
	}
	if c.Target.MaxNameLength < 4 {
		return fmt.Errorf("target.max_name_length must be at least 4")
	}
	if c.Catalog.MaxStaleness <= 0 {
		return fmt.Errorf("catalog.max_staleness must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled")
	}
	switch c.Notification.Sender {
	case "log":
	case "webhook":
		if c.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required for notification.sender=webhook")
		}
	default:
		return fmt.Errorf("notification.sender must be log or webhook, got %q", c.Notification.Sender)
	}
	high, urgent, err := c.Priority.Thresholds()
	if err != nil {
		return err
	}
	if urgent.LessThan(high) {
		return fmt.Errorf("priority.urgent_threshold must not be below priority.high_threshold")
	}
	if c.Sync.PushMaxAttempts < 1 {
		return fmt.Errorf("sync.push_max_attempts must be at least 1")
	}
	switch c.Approval.Directory {
	case "postgres", "static":
	default:
		return fmt.Errorf("approval.directory must be postgres or static, got %q", c.Approval.Directory)
	}
	return nil
}

func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET to accept tokens issued by the host",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tally")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tally_connect")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 30)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_verification_keys", []string{})
	v.SetDefault("security.issuer", "")
	v.SetDefault("security.roles_claim", "roles")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.sync_pool_size", 8)
	v.SetDefault("worker.notify_pool_size", 16)

	// Target
	v.SetDefault("target.kind", "tally")
	v.SetDefault("target.url", "http://localhost:9000")
	v.SetDefault("target.timeout", "30s")
	v.SetDefault("target.max_name_length", 100)
	v.SetDefault("target.health_interval", "30s")
	v.SetDefault("target.company_map", map[string]string{})

	// Source
	v.SetDefault("source.base_url", "http://localhost:8000")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.api_secret", "")
	v.SetDefault("source.timeout", "15s")

	// Catalog
	v.SetDefault("catalog.refresh_interval", "5m")
	v.SetDefault("catalog.max_staleness", "30m")
	v.SetDefault("catalog.redis_key_prefix", "tally-connect:catalog:")
	v.SetDefault("catalog.companies", []string{})

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Notification
	v.SetDefault("notification.sender", "log")
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.timeout", "10s")

	// Priority
	v.SetDefault("priority.high_threshold", "100000")
	v.SetDefault("priority.urgent_threshold", "1000000")

	// Sync
	v.SetDefault("sync.push_max_attempts", 3)
	v.SetDefault("sync.log_retention", "720h")

	// Approval
	v.SetDefault("approval.directory", "postgres")
	v.SetDefault("approval.approver_role", "tally_approver")
}
