// Package config provides unified configuration for the MediaRec
// reconciliation engine and daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mediarec/mediarec/pkg/types"
)

// Config holds the full configuration for the engine and daemon.
type Config struct {
	// DataDir is the base directory for local data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Usage lookup configuration
	Usage UsageConfig `json:"usage" yaml:"usage"`

	// Convention configuration
	Convention ConventionConfig `json:"convention" yaml:"convention"`

	// Lister configuration
	Lister ListerConfig `json:"lister" yaml:"lister"`

	// Repair executor configuration
	Repair RepairConfig `json:"repair" yaml:"repair"`

	// Daemon configuration
	Daemon DaemonConfig `json:"daemon" yaml:"daemon"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing, required for MinIO and
	// most other S3-compatible endpoints
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// CatalogConfig holds metadata catalog configuration.
type CatalogConfig struct {
	// Path is the catalog database path
	Path string `json:"path" yaml:"path"`
}

// UsageConfig holds the content-reference lookup configuration.
type UsageConfig struct {
	// Enabled turns the lookup on. Off, duplicate tie-breaks use the
	// convention and age rules alone.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the content-reference database path
	Path string `json:"path" yaml:"path"`
}

// ConventionConfig holds canonical path convention configuration.
type ConventionConfig struct {
	// BasePrefix is the root prefix canonical paths live under
	BasePrefix string `json:"base_prefix" yaml:"base_prefix"`
}

// ListerConfig holds store listing configuration.
type ListerConfig struct {
	// PageSize is the listing page size (1–1000)
	PageSize int `json:"page_size" yaml:"page_size"`

	// Workers bounds the sub-prefix listing fan-out
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries bounds per-page retry attempts
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// DeepHash streams object contents through the hasher during listing
	DeepHash bool `json:"deep_hash" yaml:"deep_hash"`
}

// RepairConfig holds repair execution configuration.
type RepairConfig struct {
	// Workers bounds cross-scope executor parallelism
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries bounds per-action retry attempts
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// AllowPhysicalDelete authorizes object deletion for duplicate losers
	AllowPhysicalDelete bool `json:"allow_physical_delete" yaml:"allow_physical_delete"`
}

// DaemonConfig holds background reconciler configuration.
type DaemonConfig struct {
	// Addr is the HTTP address for the health and trigger endpoints
	Addr string `json:"addr" yaml:"addr"`

	// CheckInterval is the interval between scheduled runs
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// DryRun keeps scheduled runs report-only
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// ReportPrefix is the store prefix run reports are archived under
	ReportPrefix string `json:"report_prefix" yaml:"report_prefix"`

	// Scopes are the owner scopes reconciled each cycle, in the textual
	// form accepted by ParseScope (e.g. "customer:a", "all")
	Scopes []string `json:"scopes" yaml:"scopes"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/mediarec",
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
		Catalog: CatalogConfig{
			Path: "",
		},
		Usage: UsageConfig{
			Enabled: false,
			Path:    "",
		},
		Convention: ConventionConfig{
			BasePrefix: "originals",
		},
		Lister: ListerConfig{
			PageSize:   1000,
			Workers:    4,
			MaxRetries: 3,
		},
		Repair: RepairConfig{
			Workers:    4,
			MaxRetries: 3,
		},
		Daemon: DaemonConfig{
			Addr:          ":8080",
			CheckInterval: time.Hour,
			DryRun:        true,
			ReportPrefix:  "reports",
			Scopes:        []string{"all"},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/mediarec"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Usage.Enabled && c.Usage.Path == "" {
		c.Usage.Path = filepath.Join(c.DataDir, "references.db")
	}
}

// Scopes parses the daemon's configured scopes.
func (c *Config) Scopes() ([]types.OwnerScope, error) {
	out := make([]types.OwnerScope, 0, len(c.Daemon.Scopes))
	for _, raw := range c.Daemon.Scopes {
		scope, err := types.ParseScope(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid daemon scope %q: %w", raw, err)
		}
		out = append(out, scope)
	}
	return out, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Lister.PageSize < 1 || c.Lister.PageSize > 1000 {
		return fmt.Errorf("lister.page_size must be between 1 and 1000, got %d", c.Lister.PageSize)
	}
	if c.Lister.Workers < 1 {
		return fmt.Errorf("lister.workers must be at least 1, got %d", c.Lister.Workers)
	}
	if c.Repair.Workers < 1 {
		return fmt.Errorf("repair.workers must be at least 1, got %d", c.Repair.Workers)
	}

	if c.Daemon.CheckInterval <= 0 {
		return fmt.Errorf("daemon.check_interval must be positive, got %s", c.Daemon.CheckInterval)
	}
	if _, err := c.Scopes(); err != nil {
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MEDIAREC_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MEDIAREC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Storage configuration
	if v := os.Getenv("MEDIAREC_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("MEDIAREC_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MEDIAREC_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("MEDIAREC_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("MEDIAREC_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("MEDIAREC_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Catalog and usage configuration
	if v := os.Getenv("MEDIAREC_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("MEDIAREC_USAGE_ENABLED"); v != "" {
		cfg.Usage.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MEDIAREC_USAGE_PATH"); v != "" {
		cfg.Usage.Path = v
	}

	// Convention configuration
	if v := os.Getenv("MEDIAREC_BASE_PREFIX"); v != "" {
		cfg.Convention.BasePrefix = v
	}

	// Lister configuration
	if v := os.Getenv("MEDIAREC_LISTER_PAGE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Lister.PageSize)
	}
	if v := os.Getenv("MEDIAREC_LISTER_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Lister.Workers)
	}
	if v := os.Getenv("MEDIAREC_LISTER_DEEP_HASH"); v != "" {
		cfg.Lister.DeepHash = v == "true" || v == "1"
	}

	// Repair configuration
	if v := os.Getenv("MEDIAREC_REPAIR_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Repair.Workers)
	}
	if v := os.Getenv("MEDIAREC_ALLOW_PHYSICAL_DELETE"); v != "" {
		cfg.Repair.AllowPhysicalDelete = v == "true" || v == "1"
	}

	// Daemon configuration
	if v := os.Getenv("MEDIAREC_DAEMON_ADDR"); v != "" {
		cfg.Daemon.Addr = v
	}
	if v := os.Getenv("MEDIAREC_DAEMON_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.CheckInterval = d
		}
	}
	if v := os.Getenv("MEDIAREC_DAEMON_DRY_RUN"); v != "" {
		cfg.Daemon.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("MEDIAREC_DAEMON_SCOPES"); v != "" {
		cfg.Daemon.Scopes = strings.Split(v, ",")
	}
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
