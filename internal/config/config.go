// Package config loads and validates the registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the NGR_ prefix (e.g., NGR_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nuget-registry/nuget-registry/internal/mirror"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/retention"
	"github.com/nuget-registry/nuget-registry/internal/storage"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig          `mapstructure:"server"`
	Database     DatabaseConfig        `mapstructure:"database"`
	Storage      storage.Config        `mapstructure:"storage"`
	Auth         AuthConfig            `mapstructure:"auth"`
	Packages     PackagesConfig        `mapstructure:"packages"`
	Registration RegistrationConfig    `mapstructure:"registration"`
	Retention    retention.Options     `mapstructure:"retention"`
	Search       SearchConfig          `mapstructure:"search"`
	Mirrors      []mirror.SourceConfig `mapstructure:"mirrors"`
	Security     SecurityConfig        `mapstructure:"security"`
	Logging      LoggingConfig         `mapstructure:"logging"`
	Telemetry    TelemetryConfig       `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig holds push authentication configuration. When every field is
// blank the registry runs in open mode and accepts unauthenticated pushes.
type AuthConfig struct {
	// APIKey is a single plaintext push key, matched against the
	// X-NuGet-ApiKey header (or the basic-auth password clients fall back to).
	APIKey string `mapstructure:"api_key"`
	// APIKeyHash is the PBKDF2 hash form of a push key, as produced by
	// `nuget-registry-hash`. Prefer this over api_key so config files never
	// carry a usable secret.
	APIKeyHash string `mapstructure:"api_key_hash"`
	// Credentials lists additional accepted keys, useful for per-team keys
	// that can be rotated independently.
	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is one entry of auth.credentials
type CredentialConfig struct {
	Key     string `mapstructure:"key"`
	KeyHash string `mapstructure:"key_hash"`
}

// PackagesConfig holds package intake and deletion behavior
type PackagesConfig struct {
	// Overwrite controls re-pushing an id+version that already exists:
	// "forbid", "allow", or "prerelease-only"
	Overwrite string `mapstructure:"overwrite"`
	// DeletionBehavior controls what DELETE does: "unlist" (default, keeps
	// content available to restoring builds) or "hard-delete"
	DeletionBehavior string `mapstructure:"deletion_behavior"`
	// MaxPackageSize bounds uploaded nupkg size in bytes; 0 means unbounded
	MaxPackageSize int64 `mapstructure:"max_package_size"`
	// ReadOnly disables push, delete, and relist endpoints entirely
	ReadOnly bool `mapstructure:"read_only"`
}

// RegistrationConfig holds registration (package metadata) settings
type RegistrationConfig struct {
	// PageSize is how many versions a registration index inlines before
	// switching to paged output
	PageSize int `mapstructure:"page_size"`
}

// SearchConfig holds search engine configuration
type SearchConfig struct {
	// ReindexInterval is how often the background job resubmits the full
	// catalog to the search indexer
	ReindexInterval time.Duration `mapstructure:"reindex_interval"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration. When RedisURL is set
// limits are enforced through Redis so they hold across replicas; otherwise an
// in-process limiter is used.
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	RedisURL          string `mapstructure:"redis_url"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
// List-valued sections (auth.credentials, mirrors) can only come from the YAML file.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.azure.cdn_url",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.s3.web_identity_token_file",
		"storage.gcs.bucket",
		"storage.gcs.project_id",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",
		"storage.local.serve_directly",

		// Auth
		"auth.api_key",
		"auth.api_key_hash",

		// Packages
		"packages.overwrite",
		"packages.deletion_behavior",
		"packages.max_package_size",
		"packages.read_only",

		// Registration
		"registration.page_size",

		// Retention
		"retention.max_major_versions",
		"retention.max_minor_versions",
		"retention.max_patch_versions",
		"retention.max_prerelease_versions",

		// Search
		"search.reindex_interval",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.redis_url",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/nuget-registry")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("NGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.APIKey = expandEnv(cfg.Auth.APIKey)
	cfg.Auth.APIKeyHash = expandEnv(cfg.Auth.APIKeyHash)
	for i := range cfg.Mirrors {
		cfg.Mirrors[i].Auth.Password = expandEnv(cfg.Mirrors[i].Auth.Password)
		cfg.Mirrors[i].Auth.Token = expandEnv(cfg.Mirrors[i].Auth.Token)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "nuget_registry")
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.local.serve_directly", true)

	// Packages defaults
	v.SetDefault("packages.overwrite", string(packages.OverwriteForbid))
	v.SetDefault("packages.deletion_behavior", string(packages.DeletionUnlist))
	v.SetDefault("packages.max_package_size", int64(500*1024*1024))
	v.SetDefault("packages.read_only", false)

	// Registration defaults
	v.SetDefault("registration.page_size", 64)

	// Retention defaults: 0 means unlimited, retention disabled
	v.SetDefault("retention.max_major_versions", 0)
	v.SetDefault("retention.max_minor_versions", 0)
	v.SetDefault("retention.max_patch_versions", 0)
	v.SetDefault("retention.max_prerelease_versions", 0)

	// Search defaults
	v.SetDefault("search.reindex_interval", "1h")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "nuget-registry")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate the selected storage backend's settings
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	// Validate package intake settings
	switch packages.OverwritePolicy(c.Packages.Overwrite) {
	case packages.OverwriteForbid, packages.OverwriteAllow, packages.OverwritePrereleaseOnly:
	default:
		return fmt.Errorf("invalid packages.overwrite: %s (must be forbid, allow, or prerelease-only)", c.Packages.Overwrite)
	}
	switch packages.DeletionBehavior(c.Packages.DeletionBehavior) {
	case packages.DeletionUnlist, packages.DeletionHardDelete:
	default:
		return fmt.Errorf("invalid packages.deletion_behavior: %s (must be unlist or hard-delete)", c.Packages.DeletionBehavior)
	}
	if c.Packages.MaxPackageSize < 0 {
		return fmt.Errorf("packages.max_package_size must not be negative")
	}

	// Validate registration settings
	if c.Registration.PageSize < 1 {
		return fmt.Errorf("registration.page_size must be at least 1")
	}

	// Validate retention quotas
	if c.Retention.MaxMajorVersions < 0 || c.Retention.MaxMinorVersions < 0 ||
		c.Retention.MaxPatchVersions < 0 || c.Retention.MaxPrereleaseVersions < 0 {
		return fmt.Errorf("retention quotas must not be negative (0 disables a tier)")
	}

	// Validate search settings
	if c.Search.ReindexInterval <= 0 {
		return fmt.Errorf("search.reindex_interval must be positive")
	}

	// Validate mirror sources; disabled entries may be left incomplete
	for i, src := range c.Mirrors {
		if !src.Enabled {
			continue
		}
		if err := src.Validate(); err != nil {
			return fmt.Errorf("invalid mirrors[%d]: %w", i, err)
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
