package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// FLOWWATCH_SERVER_LISTEN overrides server.listen.
	EnvPrefix = "FLOWWATCH"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultStalenessThresholdDays is the number of days without a run
	// after which a flow is considered inactive.
	DefaultStalenessThresholdDays = 30

	// DefaultCacheTTL is how long fetched table exports are reused.
	DefaultCacheTTL = "5m"

	// DefaultNotificationEndpoint is the subscription-management endpoint.
	DefaultNotificationEndpoint = "https://notification.keboola.com/project-subscriptions"

	// DefaultNotificationTimeout bounds a single subscription request.
	DefaultNotificationTimeout = "30s"

	// Default table ids of the exports read from storage.
	DefaultConfigurationsTable = "out.c-notifications.flow_configurations"
	DefaultRunsTable           = "out.c-notifications.flow_jobs"
	DefaultSubscriptionsTable  = "out.c-notifications.components_notif"

	// DefaultAuditSQLitePath is the audit database used when none is set.
	DefaultAuditSQLitePath = "./flowwatch.db"
)

// Config is the root configuration for flowwatch.
type Config struct {
	Global        GlobalConfig        `yaml:"global" mapstructure:"global"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Tables        TablesConfig        `yaml:"tables" mapstructure:"tables"`
	Dashboard     DashboardConfig     `yaml:"dashboard" mapstructure:"dashboard"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
	Audit         AuditConfig         `yaml:"audit" mapstructure:"audit"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Read     RateLimitTier `yaml:"read,omitempty" mapstructure:"read"`
	Dispatch RateLimitTier `yaml:"dispatch,omitempty" mapstructure:"dispatch"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// StorageConfig selects where table exports are read from.
// Only one backend (S3 or local) may be enabled at a time.
type StorageConfig struct {
	S3    *S3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Local *LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// LocalStorageConfig reads exports from a directory on disk.
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// S3Config contains settings for reading exports from S3-compatible storage.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// TablesConfig holds the table ids of the three exports.
type TablesConfig struct {
	Configurations string `yaml:"configurations" mapstructure:"configurations"`
	Runs           string `yaml:"runs" mapstructure:"runs"`
	Subscriptions  string `yaml:"subscriptions" mapstructure:"subscriptions"`
}

// DashboardConfig contains settings for the derived tables.
type DashboardConfig struct {
	StalenessThresholdDays int `yaml:"staleness_threshold_days" mapstructure:"staleness_threshold_days"`
}

// CacheConfig controls memoization of fetched exports. A TTL of "0"
// disables caching.
type CacheConfig struct {
	TTL string `yaml:"ttl" mapstructure:"ttl"`
	// RefreshInterval enables background refetching of the exports.
	// Empty disables it.
	RefreshInterval string `yaml:"refresh_interval,omitempty" mapstructure:"refresh_interval"`
}

// NotificationsConfig configures the subscription dispatcher.
type NotificationsConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout  string `yaml:"timeout" mapstructure:"timeout"`
	// ProjectTokens maps a project id to the storage token used when
	// creating subscriptions for flows of that project.
	ProjectTokens map[string]string `yaml:"project_tokens,omitempty" mapstructure:"project_tokens"`
}

// AuditConfig enables the dispatch audit log.
type AuditConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Load reads one or more configuration files, merged in order, and applies
// FLOWWATCH_* environment overrides on top.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set here rather than in applyDefaults so an explicit 0 is kept.
	v.SetDefault("dashboard.staleness_threshold_days", DefaultStalenessThresholdDays)

	for _, path := range paths {
		v.SetConfigFile(path)

		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvKeys(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("binding env overrides: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnvKeys registers every leaf key of the config struct with viper so
// AutomaticEnv picks up overrides for keys absent from the files.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) error {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	for i := range t.NumField() {
		field := t.Field(i)

		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch ft.Kind() {
		case reflect.Struct:
			if err := bindEnvKeys(v, ft, key); err != nil {
				return err
			}
		case reflect.Map:
			// Map entries cannot be addressed by a single env var.
			continue
		default:
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("binding %s: %w", key, err)
			}
		}
	}

	return nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Tables.Configurations == "" {
		c.Tables.Configurations = DefaultConfigurationsTable
	}

	if c.Tables.Runs == "" {
		c.Tables.Runs = DefaultRunsTable
	}

	if c.Tables.Subscriptions == "" {
		c.Tables.Subscriptions = DefaultSubscriptionsTable
	}

	if c.Cache.TTL == "" {
		c.Cache.TTL = DefaultCacheTTL
	}

	if c.Notifications.Endpoint == "" {
		c.Notifications.Endpoint = DefaultNotificationEndpoint
	}

	if c.Notifications.Timeout == "" {
		c.Notifications.Timeout = DefaultNotificationTimeout
	}

	if c.Notifications.ProjectTokens == nil {
		c.Notifications.ProjectTokens = make(map[string]string)
	}

	if c.Audit.Database.Driver == "" {
		c.Audit.Database.Driver = "sqlite"
	}

	if c.Audit.Database.Driver == "sqlite" && c.Audit.Database.SQLite.Path == "" {
		c.Audit.Database.SQLite.Path = DefaultAuditSQLitePath
	}

	if c.Audit.Database.Postgres.SSLMode == "" {
		c.Audit.Database.Postgres.SSLMode = "disable"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Dashboard.StalenessThresholdDays < 0 {
		return fmt.Errorf(
			"dashboard.staleness_threshold_days must not be negative, got %d",
			c.Dashboard.StalenessThresholdDays,
		)
	}

	ttl, err := c.Cache.TTLDuration()
	if err != nil {
		return err
	}

	refresh, err := c.Cache.RefreshIntervalDuration()
	if err != nil {
		return err
	}

	if refresh > 0 && ttl == 0 {
		return fmt.Errorf("cache.refresh_interval requires a non-zero cache.ttl")
	}

	if c.Notifications.Enabled {
		u, err := url.Parse(c.Notifications.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf(
				"notifications.endpoint: invalid url %q", c.Notifications.Endpoint,
			)
		}

		if _, err := c.Notifications.TimeoutDuration(); err != nil {
			return err
		}

		if len(c.Notifications.ProjectTokens) == 0 {
			return fmt.Errorf(
				"notifications.project_tokens: at least one project token is required",
			)
		}
	}

	if c.Audit.Enabled {
		switch c.Audit.Database.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf(
				"audit.database.driver: unsupported driver %q", c.Audit.Database.Driver,
			)
		}
	}

	for name, tier := range map[string]RateLimitTier{
		"read":     c.Server.RateLimit.Read,
		"dispatch": c.Server.RateLimit.Dispatch,
	} {
		if c.Server.RateLimit.Enabled && tier.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit.%s.requests_per_minute must be positive", name,
			)
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	s3Enabled := c.Storage.S3 != nil && c.Storage.S3.Enabled
	localEnabled := c.Storage.Local != nil && c.Storage.Local.Enabled

	switch {
	case s3Enabled && localEnabled:
		return fmt.Errorf("storage: only one of s3 or local may be enabled")
	case s3Enabled:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	case localEnabled:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required")
		}
	default:
		return fmt.Errorf("storage: no backend enabled (configure s3 or local)")
	}

	return nil
}

// TTLDuration parses the cache TTL.
func (c *CacheConfig) TTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("cache.ttl: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("cache.ttl must not be negative, got %s", c.TTL)
	}

	return d, nil
}

// RefreshIntervalDuration parses the background refresh interval. Zero
// means disabled.
func (c *CacheConfig) RefreshIntervalDuration() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("cache.refresh_interval: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("cache.refresh_interval must not be negative, got %s", c.RefreshInterval)
	}

	return d, nil
}

// TimeoutDuration parses the per-request notification timeout.
func (c *NotificationsConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("notifications.timeout: %w", err)
	}

	return d, nil
}

// StorageBackend returns the name of the enabled storage backend.
func (c *Config) StorageBackend() string {
	switch {
	case c.Storage.S3 != nil && c.Storage.S3.Enabled:
		return "s3"
	case c.Storage.Local != nil && c.Storage.Local.Enabled:
		return "local"
	default:
		return ""
	}
}
