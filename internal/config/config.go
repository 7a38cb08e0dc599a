// Package config provides unified configuration for the docrune services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents which API surfaces to run.
type Mode string

const (
	ModeAll  Mode = "all"
	ModeHTTP Mode = "http"
	ModeGRPC Mode = "grpc"
)

// Config holds the unified configuration for docrune.
type Config struct {
	// Mode specifies which surfaces to run: all, http, grpc
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for the catalog, journal and local snapshots
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Container ContainerConfig `json:"container" yaml:"container"`
	Query     QueryConfig     `json:"query" yaml:"query"`
	Cost      CostConfig      `json:"cost" yaml:"cost"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Snapshot  SnapshotConfig  `json:"snapshot" yaml:"snapshot"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	GRPC      GRPCConfig      `json:"grpc" yaml:"grpc"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// ContainerConfig describes the single document container served.
type ContainerConfig struct {
	// Database and Name identify the container in the catalog
	Database string `json:"database" yaml:"database"`
	Name     string `json:"name" yaml:"name"`

	// PartitionKeyPath is the slash path of the partition key, e.g. /foodGroup
	PartitionKeyPath string `json:"partition_key_path" yaml:"partition_key_path"`

	// IndexingMode is consistent or none
	IndexingMode string `json:"indexing_mode" yaml:"indexing_mode"`

	// IncludedPaths lists the field paths indexed on creation
	IncludedPaths []string `json:"included_paths" yaml:"included_paths"`

	// SchemaFile optionally points at a JSON Schema every document must satisfy
	SchemaFile string `json:"schema_file" yaml:"schema_file"`

	// PhysicalRanges is the number of physical ranges logical partitions hash into
	PhysicalRanges int `json:"physical_ranges" yaml:"physical_ranges"`

	AutoIndex AutoIndexConfig `json:"auto_index" yaml:"auto_index"`
}

// AutoIndexConfig controls indexes created from observed query predicates.
type AutoIndexConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CreateThreshold is how many unindexed uses of a path trigger an index
	CreateThreshold int64 `json:"create_threshold" yaml:"create_threshold"`

	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// MaxIndexes caps the total number of indexes, explicit ones included
	MaxIndexes int `json:"max_indexes" yaml:"max_indexes"`

	// StatsWindow is how long predicate usage is remembered
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// QueryConfig holds query engine configuration.
type QueryConfig struct {
	// Concurrency bounds the number of physical ranges scanned in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxItemCount is the default page size for paged reads
	MaxItemCount int `json:"max_item_count" yaml:"max_item_count"`

	// MaxPageSize is the largest page size a request may ask for
	MaxPageSize int `json:"max_page_size" yaml:"max_page_size"`

	// Timeout caps a single query execution
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// PopulateIndexMetrics includes the index metrics report in API responses
	PopulateIndexMetrics bool `json:"populate_index_metrics" yaml:"populate_index_metrics"`
}

// CostConfig holds the request unit price list.
type CostConfig struct {
	QueryBase         float64 `json:"query_base" yaml:"query_base"`
	PerDocumentRead   float64 `json:"per_document_read" yaml:"per_document_read"`
	PerScanExamined   float64 `json:"per_scan_examined" yaml:"per_scan_examined"`
	PerIndexCandidate float64 `json:"per_index_candidate" yaml:"per_index_candidate"`
	PerIndexSeek      float64 `json:"per_index_seek" yaml:"per_index_seek"`
	PointRead         float64 `json:"point_read" yaml:"point_read"`
	WriteBase         float64 `json:"write_base" yaml:"write_base"`
	PerIndexWrite     float64 `json:"per_index_write" yaml:"per_index_write"`
	PerKB             float64 `json:"per_kb" yaml:"per_kb"`
}

// JournalConfig holds write-ahead journal configuration.
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`

	// SyncEveryWrite fsyncs after each appended mutation
	SyncEveryWrite bool `json:"sync_every_write" yaml:"sync_every_write"`
}

// StorageConfig holds snapshot storage configuration.
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
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// SnapshotConfig controls periodic snapshot export.
type SnapshotConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Retain is how many snapshots are kept in storage
	Retain int `json:"retain" yaml:"retain"`

	// RestoreOnStart loads the latest snapshot before replaying the journal
	RestoreOnStart bool `json:"restore_on_start" yaml:"restore_on_start"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// RateLimit is the per-client request rate in requests per second; 0 disables limiting
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	// Env is prod for JSON output or dev for console output
	Env   string `json:"env" yaml:"env"`
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/docrune",
		Container: ContainerConfig{
			Database:         "NutritionDatabase",
			Name:             "FoodCollection",
			PartitionKeyPath: "/foodGroup",
			IndexingMode:     "consistent",
			IncludedPaths:    []string{"foodGroup", "description", "manufacturerName", "version"},
			PhysicalRanges:   4,
			AutoIndex: AutoIndexConfig{
				Enabled:         false,
				CreateThreshold: 100,
				CheckInterval:   time.Minute,
				MaxIndexes:      16,
				StatsWindow:     24 * time.Hour,
			},
		},
		Query: QueryConfig{
			Concurrency:          10,
			MaxItemCount:         100,
			MaxPageSize:          1000,
			Timeout:              30 * time.Second,
			PopulateIndexMetrics: true,
		},
		Cost: CostConfig{
			QueryBase:         2.0,
			PerDocumentRead:   1.0,
			PerScanExamined:   0.4,
			PerIndexCandidate: 0.05,
			PerIndexSeek:      0.2,
			PointRead:         1.0,
			WriteBase:         5.0,
			PerIndexWrite:     0.5,
			PerKB:             0.1,
		},
		Journal: JournalConfig{
			Enabled:        true,
			SyncEveryWrite: false,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Snapshot: SnapshotConfig{
			Enabled:        false,
			Interval:       10 * time.Minute,
			Retain:         3,
			RestoreOnStart: true,
		},
		HTTP: HTTPConfig{
			Addr:         ":8081",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    0,
			RateBurst:    20,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Env:   "dev",
			Level: "info",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/docrune"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeHTTP, ModeGRPC:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, http, or grpc)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Container.Name == "" {
		return fmt.Errorf("container.name is required")
	}
	if !strings.HasPrefix(c.Container.PartitionKeyPath, "/") || len(c.Container.PartitionKeyPath) < 2 {
		return fmt.Errorf("container.partition_key_path must be a slash path like /foodGroup, got %q", c.Container.PartitionKeyPath)
	}
	if c.Container.IndexingMode != "consistent" && c.Container.IndexingMode != "none" {
		return fmt.Errorf("invalid container.indexing_mode: %s (must be consistent or none)", c.Container.IndexingMode)
	}
	if c.Container.PhysicalRanges < 1 || c.Container.PhysicalRanges > 1024 {
		return fmt.Errorf("container.physical_ranges must be between 1 and 1024, got %d", c.Container.PhysicalRanges)
	}

	if c.Container.AutoIndex.Enabled {
		if c.Container.IndexingMode == "none" {
			return fmt.Errorf("container.auto_index requires indexing_mode consistent")
		}
		if c.Container.AutoIndex.CreateThreshold < 1 || c.Container.AutoIndex.CheckInterval <= 0 {
			return fmt.Errorf("container.auto_index needs a positive create_threshold and check_interval")
		}
	}

	if c.Query.Concurrency < 1 {
		return fmt.Errorf("query.concurrency must be positive, got %d", c.Query.Concurrency)
	}
	if c.Query.MaxItemCount < 1 {
		return fmt.Errorf("query.max_item_count must be positive, got %d", c.Query.MaxItemCount)
	}
	if c.Query.MaxPageSize < c.Query.MaxItemCount {
		return fmt.Errorf("query.max_page_size (%d) must be at least query.max_item_count (%d)",
			c.Query.MaxPageSize, c.Query.MaxItemCount)
	}

	if c.Cost.QueryBase < 0 || c.Cost.PerDocumentRead < 0 || c.Cost.PerScanExamined < 0 ||
		c.Cost.PerIndexCandidate < 0 || c.Cost.PerIndexSeek < 0 || c.Cost.PointRead < 0 ||
		c.Cost.WriteBase < 0 || c.Cost.PerIndexWrite < 0 || c.Cost.PerKB < 0 {
		return fmt.Errorf("cost prices must not be negative")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Snapshot.Enabled && (c.Snapshot.Interval <= 0 || c.Snapshot.Retain < 1) {
		return fmt.Errorf("snapshot needs a positive interval and retain count")
	}

	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}

	return nil
}

// ShouldRunHTTP returns true if the HTTP API should run.
func (c *Config) ShouldRunHTTP() bool {
	return c.Mode == ModeAll || c.Mode == ModeHTTP
}

// ShouldRunGRPC returns true if the gRPC API should run.
func (c *Config) ShouldRunGRPC() bool {
	return c.GRPC.Enabled && (c.Mode == ModeAll || c.Mode == ModeGRPC)
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
// Environment variables use the DOCRUNE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DOCRUNE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("DOCRUNE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Container configuration
	if v := os.Getenv("DOCRUNE_CONTAINER_NAME"); v != "" {
		cfg.Container.Name = v
	}
	if v := os.Getenv("DOCRUNE_PARTITION_KEY_PATH"); v != "" {
		cfg.Container.PartitionKeyPath = v
	}
	if v := os.Getenv("DOCRUNE_INDEXING_MODE"); v != "" {
		cfg.Container.IndexingMode = v
	}
	if v := os.Getenv("DOCRUNE_INCLUDED_PATHS"); v != "" {
		cfg.Container.IncludedPaths = splitList(v)
	}
	if v := os.Getenv("DOCRUNE_SCHEMA_FILE"); v != "" {
		cfg.Container.SchemaFile = v
	}
	if v := os.Getenv("DOCRUNE_PHYSICAL_RANGES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Container.PhysicalRanges)
	}

	if v := os.Getenv("DOCRUNE_AUTO_INDEX"); v != "" {
		cfg.Container.AutoIndex.Enabled = v == "true" || v == "1"
	}

	// Query configuration
	if v := os.Getenv("DOCRUNE_QUERY_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.Concurrency)
	}
	if v := os.Getenv("DOCRUNE_QUERY_MAX_ITEM_COUNT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.MaxItemCount)
	}
	if v := os.Getenv("DOCRUNE_QUERY_MAX_PAGE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.MaxPageSize)
	}
	if v := os.Getenv("DOCRUNE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.Timeout = d
		}
	}

	// Journal configuration
	if v := os.Getenv("DOCRUNE_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCRUNE_JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}

	// HTTP / gRPC configuration
	if v := os.Getenv("DOCRUNE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DOCRUNE_HTTP_RATE_LIMIT"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.HTTP.RateLimit)
	}
	if v := os.Getenv("DOCRUNE_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("DOCRUNE_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("DOCRUNE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("DOCRUNE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DOCRUNE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("DOCRUNE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("DOCRUNE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	if v := os.Getenv("DOCRUNE_SNAPSHOT_ENABLED"); v != "" {
		cfg.Snapshot.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCRUNE_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.Interval = d
		}
	}

	// Logging configuration
	if v := os.Getenv("DOCRUNE_LOG_ENV"); v != "" {
		cfg.Logging.Env = v
	}
	if v := os.Getenv("DOCRUNE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Journal.Enabled {
		dirs = append(dirs, c.Journal.Dir)
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
