package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-entropy.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Log LogConfig `yaml:"log"`

	// Engine database (PostgreSQL) holding the field statistics cache
	Database DatabaseConfig `yaml:"database"`

	// Optional Redis backend for the field statistics cache
	Redis RedisConfig `yaml:"redis"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// The datasource being analysed
	Source SourceConfig `yaml:"source"`

	Engine EngineConfig `yaml:"engine"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_entropy"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"4"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// SourceConfig describes the datasource whose tables are analysed.
type SourceConfig struct {
	Type     string `yaml:"type" env:"SOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"SOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"SOURCE_USER" env-default:"ekaya"`
	Password string `yaml:"-" env:"SOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"SOURCE_DATABASE" env-default:"facts"`
	SSLMode  string `yaml:"ssl_mode" env:"SOURCE_SSL_MODE" env-default:"disable"`
}

// EngineConfig holds the entropy engine defaults.
type EngineConfig struct {
	Table       string `yaml:"table" env:"ENGINE_TABLE" env-default:""`
	Mode        string `yaml:"mode" env:"ENGINE_MODE" env-default:"client"` // client | server
	RowLimit    int    `yaml:"row_limit" env:"ENGINE_ROW_LIMIT" env-default:"0"`
	HashScheme  string `yaml:"hash_scheme" env:"ENGINE_HASH_SCHEME" env-default:"digest"` // digest | radix256 | radix65536
	RowIDColumn string `yaml:"row_id_column" env:"ENGINE_ROW_ID_COLUMN" env-default:"id"`

	ServerRoutine          string `yaml:"server_routine" env:"ENGINE_SERVER_ROUTINE" env-default:"entropy_server"`
	ServerRoutineSignature string `yaml:"server_routine_signature" env:"ENGINE_SERVER_ROUTINE_SIGNATURE" env-default:"totalrowcount bigint, zcount bigint, hz numeric, sum_surprise numeric, stddev_surprise numeric"`
	InstallServerRoutine   bool   `yaml:"install_server_routine" env:"ENGINE_INSTALL_SERVER_ROUTINE" env-default:"false"`

	// EpochAnchor is subtracted from epoch seconds before timestamp binning.
	EpochAnchor  int64 `yaml:"epoch_anchor" env:"ENGINE_EPOCH_ANCHOR" env-default:"250100000"`
	StatsTTLDays int   `yaml:"stats_ttl_days" env:"ENGINE_STATS_TTL_DAYS" env-default:"30"`
	NGramN       int   `yaml:"ngram_default_n" env:"ENGINE_NGRAM_DEFAULT_N" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine.Mode {
	case "client", "server":
	default:
		return fmt.Errorf("engine.mode must be client or server, got %q", c.Engine.Mode)
	}

	switch c.Engine.HashScheme {
	case "digest", "radix256", "radix65536":
	default:
		return fmt.Errorf("engine.hash_scheme must be digest, radix256 or radix65536, got %q", c.Engine.HashScheme)
	}

	if c.Engine.RowLimit < 0 {
		return fmt.Errorf("engine.row_limit must not be negative")
	}
	if c.Engine.StatsTTLDays <= 0 {
		return fmt.Errorf("engine.stats_ttl_days must be positive")
	}
	if c.Engine.NGramN <= 0 {
		return fmt.Errorf("engine.ngram_default_n must be positive")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// AdapterConfig returns the generic map consumed by datasource adapter factories.
func (s *SourceConfig) AdapterConfig() map[string]any {
	m := map[string]any{
		"host":     ResolveHostForDocker(s.Host),
		"port":     s.Port,
		"user":     s.User,
		"password": s.Password,
		"database": s.Database,
	}
	if s.SSLMode != "" {
		m["ssl_mode"] = s.SSLMode
	}
	return m
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// ResolveHostForDocker maps loopback hosts to host.docker.internal when the process
// runs inside a container, so a local datasource stays reachable.
func ResolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if !isDockerResult {
		return host
	}

	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	}
	return host
}
