package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Audit sinks
const (
	AuditSinkDatabase = "database"
	AuditSinkFile     = "file"
	AuditSinkBoth     = "both"
	AuditSinkNone     = "none"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RBAC          RBACConfig
	Audit         AuditConfig
	Identity      IdentityConfig
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
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis settings. Redis is only dialed when the
// permission cache backend is redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	KeyPrefix  string
}

// RBACConfig holds permission cache settings
type RBACConfig struct {
	CacheBackend string
	CacheTTL     time.Duration
	CacheSize    int
	SeedFile     string
}

// AuditConfig selects where audit entries are written and where daily
// archives go
type AuditConfig struct {
	Sink        string
	FilePath    string
	FileMaxSize int64
	FileMaxKeep int
	LogDenials  bool
	Archive     ArchiveConfig
}

// ArchiveConfig names the S3 bucket that receives a copy of each day's
// entries. An empty bucket disables archiving.
type ArchiveConfig struct {
	Schedule     string
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// IdentityConfig names the trusted header carrying the caller's user ID
type IdentityConfig struct {
	Header string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	obs, err := loadObservabilityConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RBAC:          loadRBACConfig(),
		Audit:         loadAuditConfig(),
		Identity:      IdentityConfig{Header: getEnv("BASTION_IDENTITY_HEADER", "X-Authenticated-User-Id")},
		Observability: obs,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BASTION_HOST", "0.0.0.0"),
		Port:            getEnv("BASTION_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BASTION_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BASTION_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BASTION_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BASTION_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("BASTION_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("BASTION_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("BASTION_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("BASTION_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("BASTION_DATABASE_AUTO_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("BASTION_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("BASTION_REDIS_PASSWORD", ""),
		DB:         getEnvInt("BASTION_REDIS_DB", 0),
		PoolSize:   getEnvInt("BASTION_REDIS_POOL_SIZE", 0),
		MaxRetries: getEnvInt("BASTION_REDIS_MAX_RETRIES", 0),
		KeyPrefix:  getEnv("BASTION_REDIS_KEY_PREFIX", ""),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CacheBackend: strings.ToLower(getEnv("BASTION_RBAC_CACHE_BACKEND", CacheBackendMemory)),
		CacheTTL:     getEnvDuration("BASTION_RBAC_CACHE_TTL", 5*time.Minute),
		CacheSize:    getEnvInt("BASTION_RBAC_CACHE_SIZE", 10000),
		SeedFile:     getEnv("BASTION_RBAC_SEED_FILE", ""),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:        strings.ToLower(getEnv("BASTION_AUDIT_SINK", AuditSinkDatabase)),
		FilePath:    getEnv("BASTION_AUDIT_FILE_PATH", "/var/log/bastion/audit"),
		FileMaxSize: getEnvInt64("BASTION_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxKeep: getEnvInt("BASTION_AUDIT_FILE_MAX_FILES", 10),
		LogDenials:  getEnvBool("BASTION_AUDIT_LOG_DENIALS", false),

		Archive: ArchiveConfig{
			Schedule:     getEnv("BASTION_AUDIT_ARCHIVE_SCHEDULE", "30 0 * * *"),
			Bucket:       getEnv("BASTION_AUDIT_ARCHIVE_BUCKET", ""),
			Region:       getEnv("BASTION_AUDIT_ARCHIVE_REGION", "us-east-1"),
			Endpoint:     getEnv("BASTION_AUDIT_ARCHIVE_ENDPOINT", ""),
			Prefix:       getEnv("BASTION_AUDIT_ARCHIVE_PREFIX", "audit/"),
			AccessKey:    getEnv("BASTION_AUDIT_ARCHIVE_ACCESS_KEY", ""),
			SecretKey:    getEnv("BASTION_AUDIT_ARCHIVE_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("BASTION_AUDIT_ARCHIVE_PATH_STYLE", false),
		},
	}
}

func loadObservabilityConfig() (ObservabilityConfig, error) {
	level, err := observability.ParseLogLevel(getEnv("BASTION_LOG_LEVEL", "info"))
	if err != nil {
		return ObservabilityConfig{}, fmt.Errorf("BASTION_LOG_LEVEL: %w", err)
	}

	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("BASTION_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BASTION_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BASTION_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BASTION_OTEL_SERVICE_NAME", "bastion"),
		OTelServiceVersion: getEnv("BASTION_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("BASTION_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BASTION_OTEL_SAMPLE_RATIO", 1),
	}, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (BASTION_DATABASE_URL)")
	}

	switch c.RBAC.CacheBackend {
	case CacheBackendMemory, CacheBackendNone:
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.RBAC.CacheBackend)
	}
	if c.RBAC.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	switch c.Audit.Sink {
	case AuditSinkDatabase, AuditSinkNone:
	case AuditSinkFile, AuditSinkBoth:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for the %s audit sink", c.Audit.Sink)
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be database, file, both, or none)", c.Audit.Sink)
	}

	if c.Audit.Archive.Bucket != "" {
		if c.Audit.Sink != AuditSinkDatabase && c.Audit.Sink != AuditSinkBoth {
			return fmt.Errorf("audit archiving requires the database or both audit sink")
		}
		if _, err := cron.ParseStandard(c.Audit.Archive.Schedule); err != nil {
			return fmt.Errorf("invalid audit archive schedule %q: %w", c.Audit.Archive.Schedule, err)
		}
	}

	if c.Identity.Header == "" {
		return fmt.Errorf("identity header is required")
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
