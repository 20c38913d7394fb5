package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvDSN       = "COURIER_DSN"
	EnvRedisURL  = "COURIER_REDIS_URL"
	EnvJWTSecret = "COURIER_JWT_SECRET"
	EnvEnv       = "COURIER_ENV"
	EnvPort      = "COURIER_PORT"
)

// LoadDotEnv loads .env files into the process environment. Missing files are
// ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content, applies environment overrides and validates.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()

	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}

	applyRawAppConfig(&cfg, raw)
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port:      defaultPort,
		Env:       defaultEnv,
		RateLimit: defaultRateLimit,
		Database: DatabaseConfig{
			Driver:  defaultDBDriver,
			Host:    defaultDBHost,
			User:    defaultDBUser,
			Name:    defaultDBName,
			Charset: defaultDBCharset,
			Loc:     defaultDBLoc,
			SSLMode: defaultSSLMode,
		},
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Audit: AuditConfig{
			DLQTTL:         defaultAuditTTL,
			FlushInterval:  defaultAuditFlushInterval,
			FlushBatchSize: defaultAuditFlushBatch,
		},
		Webhook: WebhookConfig{
			Timeout:              defaultWebhookTimeout,
			RetryBackoff:         defaultWebhookBackoff,
			MaxFanout:            defaultWebhookMaxFanout,
			ResponseExcerptBytes: defaultWebhookExcerpt,
			RetentionDays:        defaultWebhookRetention,
			PruneInterval:        defaultWebhookPruneEvery,
		},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}

	db := &cfg.Database
	if v := strings.TrimSpace(raw.Database.Driver); v != "" {
		db.Driver = v
	}
	if v := strings.TrimSpace(raw.Database.DSN); v != "" {
		db.DSN = v
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		db.DSN = v
	}
	if v := strings.TrimSpace(raw.Database.Host); v != "" {
		db.Host = v
	}
	if raw.Database.Port != 0 {
		db.Port = raw.Database.Port
	}
	if v := strings.TrimSpace(raw.Database.User); v != "" {
		db.User = v
	}
	if raw.Database.Password != "" {
		db.Password = raw.Database.Password
	}
	if v := strings.TrimSpace(raw.Database.Name); v != "" {
		db.Name = v
	}
	if v := strings.TrimSpace(raw.Database.Charset); v != "" {
		db.Charset = v
	}
	if v := strings.TrimSpace(raw.Database.Loc); v != "" {
		db.Loc = v
	}
	if v := strings.TrimSpace(raw.Database.SSLMode); v != "" {
		db.SSLMode = v
	}
	if len(raw.Database.Params) > 0 {
		db.Params = raw.Database.Params
	}
	if raw.Database.MaxOpenConns > 0 {
		db.MaxOpenConns = raw.Database.MaxOpenConns
	}
	if raw.Database.MaxIdleConns > 0 {
		db.MaxIdleConns = raw.Database.MaxIdleConns
	}

	rc := &cfg.Redis
	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		rc.URL = v
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		rc.URL = v
	}
	if v := strings.TrimSpace(raw.Redis.Host); v != "" {
		rc.Host = v
	}
	if raw.Redis.Port != 0 {
		rc.Port = raw.Redis.Port
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		rc.Username = v
	}
	if raw.Redis.Password != "" {
		rc.Password = raw.Redis.Password
	}
	if raw.Redis.DB != nil {
		rc.DB = *raw.Redis.DB
	}
	if raw.Redis.TLS != nil {
		rc.TLS = *raw.Redis.TLS
	}

	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if raw.RateLimit != nil {
		cfg.RateLimit = *raw.RateLimit
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}

	if raw.Audit.DLQTTL > 0 {
		cfg.Audit.DLQTTL = raw.Audit.DLQTTL
	}
	if raw.Audit.FlushInterval > 0 {
		cfg.Audit.FlushInterval = raw.Audit.FlushInterval
	}
	if raw.Audit.FlushBatchSize > 0 {
		cfg.Audit.FlushBatchSize = raw.Audit.FlushBatchSize
	}

	wh := &cfg.Webhook
	if raw.Webhook.Timeout > 0 {
		wh.Timeout = raw.Webhook.Timeout
	}
	if raw.Webhook.RetryBackoff != nil {
		wh.RetryBackoff = *raw.Webhook.RetryBackoff
	}
	if raw.Webhook.MaxFanout > 0 {
		wh.MaxFanout = raw.Webhook.MaxFanout
	}
	if raw.Webhook.ResponseExcerptBytes > 0 {
		wh.ResponseExcerptBytes = raw.Webhook.ResponseExcerptBytes
	}
	if raw.Webhook.RetentionDays != nil {
		wh.RetentionDays = *raw.Webhook.RetentionDays
	}
	if raw.Webhook.PruneInterval > 0 {
		wh.PruneInterval = raw.Webhook.PruneInterval
	}
}

func applyEnv(cfg *AppConfig) error {
	if v := strings.TrimSpace(os.Getenv(EnvDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEnv)); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Port = port
	}
	return nil
}

func normalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	switch cfg.Database.Driver {
	case "postgresql", "pg":
		cfg.Database.Driver = DriverPostgres
	case "mariadb":
		cfg.Database.Driver = DriverMySQL
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDBPort(cfg.Database.Driver)
	}
	if cfg.Webhook.RetryBackoff > maxWebhookBackoff {
		cfg.Webhook.RetryBackoff = maxWebhookBackoff
	}
	cfg.Paths.Logs = ResolveRuntimePath(cfg.Paths.Logs, "logs")
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.Database.Driver != DriverMySQL && cfg.Database.Driver != DriverPostgres {
		return fmt.Errorf("unsupported database.driver %q, expected %s or %s", cfg.Database.Driver, DriverMySQL, DriverPostgres)
	}
	if cfg.Database.Driver == DriverMySQL && cfg.Database.DSN == "" {
		if _, err := time.LoadLocation(cfg.Database.Loc); err != nil {
			return fmt.Errorf("invalid database.loc %q: %w", cfg.Database.Loc, err)
		}
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", cfg.Redis.DB)
	}
	if cfg.RateLimit < 0 {
		return fmt.Errorf("invalid rate_limit %d, expected >= 0", cfg.RateLimit)
	}
	if cfg.Webhook.RetentionDays < 0 {
		return fmt.Errorf("invalid webhook.retention_days %d, expected >= 0", cfg.Webhook.RetentionDays)
	}
	if cfg.Webhook.RetryBackoff < 0 {
		return fmt.Errorf("invalid webhook.retry_backoff %s", cfg.Webhook.RetryBackoff)
	}
	if cfg.JWTSecret == "" && cfg.IsProduction() {
		return fmt.Errorf("jwt_secret (or %s) is required in production", EnvJWTSecret)
	}
	return nil
}

func normalizeEnv(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return "production"
	case "test", "testing":
		return "test"
	case "":
		return defaultEnv
	default:
		return "development"
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := map[string]struct{}{}
	for _, o := range origins {
		v := strings.TrimRight(strings.TrimSpace(o), "/")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
