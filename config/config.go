// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the root configuration structure.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Models        ModelsConfig        `yaml:"models"`
	Serialization SerializationConfig `yaml:"serialization"`
	Security      SecurityConfig      `yaml:"security"`
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Driver  string        `yaml:"driver"` // "memory", "sqlite" or "mongo"
	DSN     string        `yaml:"dsn"`    // File path for sqlite, URI for mongo
	Name    string        `yaml:"name"`   // Database name (mongo only)
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ModelsConfig configures where model definitions come from.
type ModelsConfig struct {
	// Dir holds extra YAML definitions. A definition for a built-in
	// collection replaces it.
	Dir string `yaml:"dir"`

	// SkipBuiltin disables the embedded CMS definitions.
	SkipBuiltin bool `yaml:"skip_builtin"`
}

// SerializationConfig configures the JSON form of documents.
type SerializationConfig struct {
	ExpandForeignKeys bool     `yaml:"expand_foreign_keys"`
	ExpandMaxDepth    int      `yaml:"expand_max_depth"`
	ExpandBlacklist   []string `yaml:"expand_blacklist"`
}

// SecurityConfig configures secret hashing.
type SecurityConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// ModelsDir returns cfg.Models.Dir resolved against the directory of the
// config file it was loaded from. It returns "" when no dir is configured.
func ModelsDir(cfg *Config, configPath string) string {
	dir := cfg.Models.Dir
	if dir == "" {
		return ""
	}
	if !filepath.IsAbs(dir) && configPath != "" {
		dir = filepath.Join(filepath.Dir(configPath), dir)
	}
	return filepath.Clean(dir)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	CMSODM_DATABASE_DRIVER   - memory, sqlite or mongo (default: sqlite)
//	CMSODM_DATABASE_DSN      - Database file or URI (default: cmsodm.db)
//	CMSODM_DATABASE_NAME     - Mongo database name (default: cmsodm)
//	CMSODM_DATABASE_TIMEOUT  - Connect timeout (default: 10s)
//	CMSODM_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	CMSODM_LOG_FORMAT        - Log format: json or console (default: console)
//	CMSODM_METRICS_ENABLED   - Collect Prometheus metrics (default: false)
//	CMSODM_MODELS_DIR        - Directory with extra model definitions
//	CMSODM_EXPAND_MAX_DEPTH  - Foreign key expansion depth (default: 1)
//	CMSODM_BCRYPT_COST       - Cost for secret items (default: bcrypt default)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from file when it exists and from the environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// HasEnvConfig returns true if a database is configured through the environment.
func HasEnvConfig() bool {
	return os.Getenv("CMSODM_DATABASE_DRIVER") != "" || os.Getenv("CMSODM_DATABASE_DSN") != ""
}

// applyEnvOverrides applies CMSODM_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Database configuration
	if v := os.Getenv("CMSODM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CMSODM_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CMSODM_DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CMSODM_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.Timeout = d
		}
	}

	// Logging configuration
	if v := os.Getenv("CMSODM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CMSODM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("CMSODM_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CMSODM_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	// Models configuration
	if v := os.Getenv("CMSODM_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("CMSODM_MODELS_SKIP_BUILTIN"); v != "" {
		cfg.Models.SkipBuiltin = parseBool(v)
	}

	// Serialization configuration
	if v := os.Getenv("CMSODM_EXPAND_FOREIGN_KEYS"); v != "" {
		cfg.Serialization.ExpandForeignKeys = parseBool(v)
	}
	if v := os.Getenv("CMSODM_EXPAND_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serialization.ExpandMaxDepth = n
		}
	}

	// Security configuration
	if v := os.Getenv("CMSODM_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.BcryptCost = n
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "cmsodm.db"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "cmsodm"
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "cmsodm"
	}

	if cfg.Serialization.ExpandMaxDepth <= 0 {
		cfg.Serialization.ExpandMaxDepth = 1
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{DriverMemory: true, DriverSQLite: true, DriverMongo: true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: memory, sqlite, mongo, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == DriverMongo && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'mongo'")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	// bcrypt accepts 4..31; 0 selects the library default.
	if c := cfg.Security.BcryptCost; c != 0 && (c < 4 || c > 31) {
		return fmt.Errorf("security.bcrypt_cost must be between 4 and 31, got %d", c)
	}

	if cfg.Models.SkipBuiltin && cfg.Models.Dir == "" {
		return fmt.Errorf("models.dir is required when models.skip_builtin is set")
	}

	return nil
}
