package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/indexlab.yaml")
	require.Error(t, err)

	// Load with empty path searches the working directory and falls back to defaults.
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "indexlab_data", cfg.Storage.Path)
	assert.Equal(t, "BPTREE", cfg.Index.DefaultKind)
	assert.Equal(t, 16, cfg.Index.BPTreeFanout)
	assert.Equal(t, 4, cfg.Index.HashBucketCapacity)
	assert.Equal(t, 200, cfg.Index.ScanLimit)
	assert.Equal(t, "text", cfg.Log.Format)
}

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := write(t, `
storage:
  path: "test_data"
index:
  default_kind: "b+tree"
  isam_block_factor: 3
  hash_bucket_capacity: 2
  hash_max_chain: 1
  rtree_max_entries: 4
log:
  level: "DEBUG"
  format: "JSON"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test_data", cfg.Storage.Path)
	assert.Equal(t, "BPTREE", cfg.Index.DefaultKind)
	assert.Equal(t, 3, cfg.Index.ISAMBlockFactor)
	assert.Equal(t, 16, cfg.Index.ISAMFanout, "unset fields keep defaults")
	assert.Equal(t, 2, cfg.Index.HashBucketCapacity)
	assert.Equal(t, 1, cfg.Index.HashMaxChain)
	assert.Equal(t, 4, cfg.Index.RTreeMaxEntries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadKeepsZeroMaxChain(t *testing.T) {
	cfg, err := Load(write(t, "index:\n  hash_max_chain: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Index.HashMaxChain)

	cfg, err = Load(write(t, "index:\n  hash_max_chain: -3\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Index.HashMaxChain)
}

func TestLoadRejectsBadIndexSettings(t *testing.T) {
	_, err := Load(write(t, "index:\n  default_kind: \"trie\"\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "index:\n  default_kind: \"rtree\"\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "index:\n  hash_initial_depth: 9\n  hash_max_depth: 4\n"))
	assert.Error(t, err)
}
