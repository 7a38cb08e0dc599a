package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/foodGroup", cfg.Container.PartitionKeyPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "journal"), cfg.Journal.Dir)
	assert.True(t, cfg.ShouldRunHTTP())
	assert.True(t, cfg.ShouldRunGRPC())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "compact" }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"relative pk path", func(c *Config) { c.Container.PartitionKeyPath = "foodGroup" }},
		{"bad indexing mode", func(c *Config) { c.Container.IndexingMode = "lazy" }},
		{"zero ranges", func(c *Config) { c.Container.PhysicalRanges = 0 }},
		{"zero concurrency", func(c *Config) { c.Query.Concurrency = 0 }},
		{"page cap below default page", func(c *Config) { c.Query.MaxPageSize = c.Query.MaxItemCount - 1 }},
		{"negative price", func(c *Config) { c.Cost.PerScanExamined = -1 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"auto index without indexing", func(c *Config) {
			c.Container.AutoIndex.Enabled = true
			c.Container.IndexingMode = "none"
		}},
		{"auto index zero threshold", func(c *Config) {
			c.Container.AutoIndex.Enabled = true
			c.Container.AutoIndex.CreateThreshold = 0
		}},
		{"snapshot without retention", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Retain = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docrune.yaml")
	content := `
mode: http
data_dir: /tmp/docrune
container:
  name: Foods
  partition_key_path: /category
  included_paths: [category, version]
query:
  concurrency: 3
  timeout: 5s
cost:
  query_base: 3.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeHTTP, cfg.Mode)
	assert.Equal(t, "Foods", cfg.Container.Name)
	assert.Equal(t, "/category", cfg.Container.PartitionKeyPath)
	assert.Equal(t, []string{"category", "version"}, cfg.Container.IncludedPaths)
	assert.Equal(t, 3, cfg.Query.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 3.5, cfg.Cost.QueryBase)
	// unset fields keep their defaults
	assert.Equal(t, 1.0, cfg.Cost.PerDocumentRead)
	assert.False(t, cfg.ShouldRunGRPC())
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrune.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'all'"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOCRUNE_MODE", "grpc")
	t.Setenv("DOCRUNE_INCLUDED_PATHS", "a, b.c ,")
	t.Setenv("DOCRUNE_QUERY_CONCURRENCY", "7")
	t.Setenv("DOCRUNE_JOURNAL_ENABLED", "0")
	t.Setenv("DOCRUNE_S3_BUCKET", "snaps")
	t.Setenv("DOCRUNE_AUTO_INDEX", "true")
	t.Setenv("DOCRUNE_SNAPSHOT_INTERVAL", "90s")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ModeGRPC, cfg.Mode)
	assert.Equal(t, []string{"a", "b.c"}, cfg.Container.IncludedPaths)
	assert.Equal(t, 7, cfg.Query.Concurrency)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "snaps", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Container.AutoIndex.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Snapshot.Interval)
}
