package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	defaultPort      = 2333
	defaultEnv       = "development"
	defaultDBDriver  = DriverMySQL
	defaultDBHost    = "127.0.0.1"
	defaultDBUser    = "root"
	defaultDBName    = "courier"
	defaultDBCharset = "utf8mb4"
	defaultDBLoc     = "UTC"
	defaultSSLMode   = "disable"
	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	defaultRateLimit = 50

	defaultAuditTTL           = 7 * 24 * time.Hour
	defaultAuditFlushInterval = time.Hour
	defaultAuditFlushBatch    = 100
	defaultWebhookTimeout     = 10 * time.Second
	defaultWebhookBackoff     = time.Second
	defaultWebhookMaxFanout   = 50
	defaultWebhookExcerpt     = 1024
	defaultWebhookRetention   = 30
	defaultWebhookPruneEvery  = 24 * time.Hour
	maxWebhookBackoff         = 5 * time.Second
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int
	Env            string // "development" | "production"
	Database       DatabaseConfig
	Redis          RedisConfig
	JWTSecret      string
	AllowedOrigins []string

	// RateLimit is requests per second per client IP on /api. Zero disables.
	RateLimit int
	Paths     PathsConfig
	Audit     AuditConfig
	Webhook   WebhookConfig
}

type DatabaseConfig struct {
	Driver       string
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	Charset      string
	Loc          string
	SSLMode      string
	Params       map[string]string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

type PathsConfig struct {
	Logs string
}

// AuditConfig tunes the audit dead-letter buffer and its flush job.
type AuditConfig struct {
	DLQTTL         time.Duration
	FlushInterval  time.Duration
	FlushBatchSize int
}

// WebhookConfig tunes outbound delivery and history retention.
type WebhookConfig struct {
	Timeout              time.Duration
	RetryBackoff         time.Duration
	MaxFanout            int
	ResponseExcerptBytes int
	// RetentionDays of zero keeps delivery history forever.
	RetentionDays int
	PruneInterval time.Duration
}

// IsProduction reports whether the service runs with production defaults.
func (c *AppConfig) IsProduction() bool { return c.Env == "production" }

type rawAppConfig struct {
	Port           int               `yaml:"port"`
	Env            string            `yaml:"env"`
	DSN            string            `yaml:"dsn"`
	RedisURL       string            `yaml:"redis_url"`
	Database       rawDatabaseConfig `yaml:"database"`
	Redis          rawRedisConfig    `yaml:"redis"`
	JWTSecret      string            `yaml:"jwt_secret"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	RateLimit      *int              `yaml:"rate_limit"`
	Paths          rawPathsConfig    `yaml:"paths"`
	Audit          rawAuditConfig    `yaml:"audit"`
	Webhook        rawWebhookConfig  `yaml:"webhook"`
}

type rawDatabaseConfig struct {
	Driver       string            `yaml:"driver"`
	DSN          string            `yaml:"dsn"`
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	User         string            `yaml:"user"`
	Password     string            `yaml:"password"`
	Name         string            `yaml:"name"`
	Charset      string            `yaml:"charset"`
	Loc          string            `yaml:"loc"`
	SSLMode      string            `yaml:"sslmode"`
	Params       map[string]string `yaml:"params"`
	MaxOpenConns int               `yaml:"max_open_conns"`
	MaxIdleConns int               `yaml:"max_idle_conns"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

type rawAuditConfig struct {
	DLQTTL         time.Duration `yaml:"dlq_ttl"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushBatchSize int           `yaml:"flush_batch_size"`
}

type rawWebhookConfig struct {
	Timeout              time.Duration  `yaml:"timeout"`
	RetryBackoff         *time.Duration `yaml:"retry_backoff"`
	MaxFanout            int            `yaml:"max_fanout"`
	ResponseExcerptBytes int            `yaml:"response_excerpt_bytes"`
	RetentionDays        *int           `yaml:"retention_days"`
	PruneInterval        time.Duration  `yaml:"prune_interval"`
}
