// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/fre-lookup/internal/dataset"
	"github.com/JakeFAU/fre-lookup/internal/transport"
)

// EnvPrefix namespaces environment overrides, e.g. FRE_CACHE_DRIVER.
const EnvPrefix = "FRE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Events   EventsConfig   `mapstructure:"events"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxUploadMB            int `mapstructure:"max_upload_mb"`
	// RelayRPS is the per-client rate of the archive relay; 0 disables the limit.
	RelayRPS   float64 `mapstructure:"relay_rps"`
	RelayBurst int     `mapstructure:"relay_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RuntimeConfig selects the execution context of the fetcher.
type RuntimeConfig struct {
	Mode   string `mapstructure:"mode"`
	Origin string `mapstructure:"origin"`
}

// SourceConfig holds the archive URL templates. "{year}" is substituted.
type SourceConfig struct {
	FRETemplate string `mapstructure:"fre_template"`
	PASTemplate string `mapstructure:"pas_template"`
	RelayBase   string `mapstructure:"relay_base"`
}

// HTTPConfig tunes the transports.
type HTTPConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `mapstructure:"read_timeout_seconds"`
}

// FetchConfig holds the fallback policy.
type FetchConfig struct {
	// UnpublishedYear is retried as year-1 on failure; 0 means the current year.
	UnpublishedYear int `mapstructure:"unpublished_year"`
}

// CacheConfig selects the archive blob cache backend.
type CacheConfig struct {
	Driver      string `mapstructure:"driver"`
	Dir         string `mapstructure:"dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// SnapshotConfig selects the key-value backend for saved summaries.
type SnapshotConfig struct {
	Driver        string `mapstructure:"driver"`
	Namespace     string `mapstructure:"namespace"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// EventsConfig holds metadata for query-completed notifications.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("server.relay_rps", 0.5)
	v.SetDefault("server.relay_burst", 4)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("runtime.mode", string(transport.ModeNative))
	v.SetDefault("runtime.origin", "")
	v.SetDefault("source.fre_template", dataset.DefaultFRETemplate)
	v.SetDefault("source.pas_template", "")
	v.SetDefault("source.relay_base", "")
	v.SetDefault("http.user_agent", "DiligenceGo/1.0 (+https://dados.cvm.gov.br)")
	v.SetDefault("http.timeout_seconds", 0)
	v.SetDefault("http.connect_timeout_seconds", 30)
	v.SetDefault("http.read_timeout_seconds", 120)
	v.SetDefault("fetch.unpublished_year", 0)
	v.SetDefault("cache.driver", "local")
	v.SetDefault("cache.dir", ".fre-cache/archives")
	v.SetDefault("cache.bucket", "")
	v.SetDefault("cache.prefix", "archives")
	v.SetDefault("cache.s3_region", "us-east-1")
	v.SetDefault("cache.s3_endpoint", "")
	v.SetDefault("cache.s3_path_style", false)
	v.SetDefault("snapshot.driver", "sqlite")
	v.SetDefault("snapshot.namespace", "DiligenceGo")
	v.SetDefault("snapshot.sqlite_path", ".fre-cache/snapshots.db")
	v.SetDefault("snapshot.postgres_dsn", "")
	v.SetDefault("snapshot.postgres_table", "kv_entries")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "fre-queries")
	v.SetDefault("tracing.service_name", "fre-lookup")
	v.SetDefault("tracing.sample_ratio", 0.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0")
	}
	if c.Server.RelayRPS < 0 || c.Server.RelayBurst < 0 {
		return fmt.Errorf("server.relay_rps and server.relay_burst must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch transport.Mode(c.Runtime.Mode) {
	case transport.ModeNative, transport.ModeHosted, transport.ModePackaged:
	default:
		return fmt.Errorf("runtime.mode must be one of native, hosted, packaged")
	}
	if !strings.Contains(c.Source.FRETemplate, "{year}") {
		return fmt.Errorf("source.fre_template must contain {year}")
	}
	if transport.Mode(c.Runtime.Mode) == transport.ModeHosted && c.Source.RelayBase == "" {
		return fmt.Errorf("source.relay_base must be set in hosted mode")
	}
	if c.HTTP.TimeoutSeconds < 0 || c.HTTP.ConnectTimeoutSeconds < 0 || c.HTTP.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("http timeouts must be >= 0")
	}
	if c.Fetch.UnpublishedYear < 0 {
		return fmt.Errorf("fetch.unpublished_year must be >= 0")
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("events.driver must be one of none, memory, pubsub")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c Config) validateCache() error {
	switch c.Cache.Driver {
	case "memory":
	case "local":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the local driver")
		}
	case "gcs", "s3":
		if c.Cache.Bucket == "" {
			return fmt.Errorf("cache.bucket must be set for the %s driver", c.Cache.Driver)
		}
	default:
		return fmt.Errorf("cache.driver must be one of memory, local, gcs, s3")
	}
	return nil
}

func (c Config) validateSnapshot() error {
	if c.Snapshot.Namespace == "" {
		return fmt.Errorf("snapshot.namespace must be set")
	}
	switch c.Snapshot.Driver {
	case "memory":
	case "sqlite":
		if c.Snapshot.SQLitePath == "" {
			return fmt.Errorf("snapshot.sqlite_path must be set for the sqlite driver")
		}
	case "postgres":
		if c.Snapshot.PostgresDSN == "" {
			return fmt.Errorf("snapshot.postgres_dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("snapshot.driver must be one of memory, sqlite, postgres")
	}
	return nil
}

// RequestTimeout is the budget of relay and direct requests; zero means none.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
