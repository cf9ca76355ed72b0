// Package config loads and validates kblog configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/policy/ratelimit"
	"github.com/JakeFAU/kblog/internal/sheets"
	"github.com/JakeFAU/kblog/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. KBLOG_SERVER_PORT.
const EnvPrefix = "KBLOG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Site        SiteConfig       `mapstructure:"site"`
	Content     content.Config   `mapstructure:"content"`
	Upload      UploadConfig     `mapstructure:"upload"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Sheets      sheets.Config    `mapstructure:"sheets"`
	Geo         GeoConfig        `mapstructure:"geo"`
	Storage     StorageConfig    `mapstructure:"storage"`
	PubSub      PubSubConfig     `mapstructure:"pubsub"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Telemetry   telemetry.Config `mapstructure:"telemetry"`
	RateLimit   ratelimit.Config `mapstructure:"rate_limit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ServeStatic     bool          `mapstructure:"serve_static"`
	FunctionsPath   string        `mapstructure:"functions_path"`
}

// SiteConfig describes the public blog.
type SiteConfig struct {
	Name           string `mapstructure:"name"`
	AppName        string `mapstructure:"app_name"`
	BaseURL        string `mapstructure:"base_url"`
	ProductionURL  string `mapstructure:"production_url"`
	DevelopmentURL string `mapstructure:"development_url"`
}

// UploadConfig bounds featured image uploads.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
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

// DatabaseConfig controls access to the submission database. An empty URL
// disables database writes.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	EventsTable     string        `mapstructure:"events_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// GeoConfig selects the geolocation cache and providers.
type GeoConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Cache       string        `mapstructure:"cache"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxEntries  int           `mapstructure:"max_entries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PrimaryURL  string        `mapstructure:"primary_url"`
	FallbackURL string        `mapstructure:"fallback_url"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisDB     int           `mapstructure:"redis_db"`
}

// StorageConfig selects where published images are mirrored.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Prefix       string `mapstructure:"prefix"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig configures article.published notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load builds a Config from disk/environment. With an empty path a
// kblog.yaml in the working directory is read if present.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("kblog")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// bindLegacyEnv keeps the unprefixed variables of earlier deployments working.
// The prefixed KBLOG_ form is listed first and wins.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"sheets.url":   {"KBLOG_SHEETS_URL", "GS_DATA_PIPELINE_URL", "GOOGLE_APPS_SCRIPT_URL"},
		"sheets.skip":  {"KBLOG_SHEETS_SKIP", "SKIP_SHEETS"},
		"database.url": {"KBLOG_DATABASE_URL", "DATABASE_URL"},
		"environment":  {"KBLOG_ENVIRONMENT", "NODE_ENV"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 1977)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.serve_static", true)
	v.SetDefault("server.functions_path", "/.netlify/functions")
	v.SetDefault("site.name", "Kerv Talks-Data")
	v.SetDefault("site.app_name", "kblog")
	v.SetDefault("site.production_url", "https://kblog.kervinapps.com")
	v.SetDefault("site.development_url", "http://localhost:1978")
	v.SetDefault("content.root_dir", ".")
	v.SetDefault("upload.max_bytes", 5<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("sheets.timeout", sheets.DefaultTimeout)
	v.SetDefault("geo.enabled", true)
	v.SetDefault("geo.cache", "memory")
	v.SetDefault("geo.ttl", time.Hour)
	v.SetDefault("geo.max_entries", 10000)
	v.SetDefault("geo.timeout", 5*time.Second)
	v.SetDefault("geo.primary_url", "http://ip-api.com")
	v.SetDefault("geo.fallback_url", "https://ipapi.co")
	v.SetDefault("geo.redis_addr", "localhost:6379")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.backend", "none")
	v.SetDefault("pubsub.topic_name", "kblog-articles")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "kblog")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 0.2)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.max_keys", 10000)
	v.SetDefault("rate_limit.trusted_hops", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if !strings.HasPrefix(c.Server.FunctionsPath, "/") {
		return fmt.Errorf("server.functions_path must start with /")
	}
	if strings.TrimSpace(c.Content.RootDir) == "" {
		return fmt.Errorf("content.root_dir is required")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Database.MigrateOnStart && c.Database.URL == "" {
		return fmt.Errorf("database.url must be set when database.migrate_on_start is enabled")
	}
	switch c.Geo.Cache {
	case "memory":
	case "redis":
		if c.Geo.RedisAddr == "" {
			return fmt.Errorf("geo.redis_addr must be set when geo.cache is redis")
		}
	default:
		return fmt.Errorf("geo.cache must be memory or redis, got %q", c.Geo.Cache)
	}
	if c.Geo.TTL <= 0 {
		return fmt.Errorf("geo.ttl must be > 0")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs, got %q", c.Storage.Backend)
	}
	switch c.PubSub.Backend {
	case "none", "memory":
	case "gcp":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the gcp backend")
		}
	default:
		return fmt.Errorf("pubsub.backend must be none, memory or gcp, got %q", c.PubSub.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.RateLimit.TrustedHops < 0 {
		return fmt.Errorf("rate_limit.trusted_hops must be >= 0")
	}
	return nil
}

// Production reports whether the environment is production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// BaseURL is the public origin used in article URLs and canonical links.
func (c Config) BaseURL() string {
	switch {
	case c.Site.BaseURL != "":
		return strings.TrimRight(c.Site.BaseURL, "/")
	case c.Production():
		return strings.TrimRight(c.Site.ProductionURL, "/")
	case c.Site.DevelopmentURL != "":
		return strings.TrimRight(c.Site.DevelopmentURL, "/")
	default:
		return "http://localhost:" + strconv.Itoa(c.Server.Port)
	}
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
