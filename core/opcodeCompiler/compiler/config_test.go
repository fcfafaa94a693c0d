package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jit.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
HotThreshold = 25
CacheSize = 64
ValidationMode = true
ValidationRuns = 3
`), 0o600))

	cfg := DefaultConfig
	require.NoError(t, LoadConfig(file, &cfg))
	assert.Equal(t, uint64(25), cfg.HotThreshold)
	assert.Equal(t, 64, cfg.CacheSize)
	assert.True(t, cfg.ValidationMode)
	assert.Equal(t, uint64(3), cfg.ValidationRuns)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig.QueueSize, cfg.QueueSize)
	assert.True(t, cfg.Enabled)
}

func TestLoadConfigUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jit.toml")
	require.NoError(t, os.WriteFile(file, []byte("HotTreshold = 25\n"), 0o600))

	cfg := DefaultConfig
	err := LoadConfig(file, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HotTreshold")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := DefaultConfig
	assert.Error(t, LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), &cfg))
}

func TestSanitize(t *testing.T) {
	cfg := Config{Enabled: true, ValidationRuns: 4}
	got := cfg.Sanitize()

	assert.Equal(t, DefaultConfig.HotThreshold, got.HotThreshold)
	assert.Equal(t, DefaultConfig.CounterCapacity, got.CounterCapacity)
	assert.Equal(t, DefaultConfig.CacheSize, got.CacheSize)
	assert.Equal(t, DefaultConfig.QueueSize, got.QueueSize)
	assert.Equal(t, DefaultConfig.CompilerWorkers, got.CompilerWorkers)
	assert.Equal(t, DefaultConfig.MaxOptimizationPasses, got.MaxOptimizationPasses)
	assert.Equal(t, DefaultConfig.MaxBytecodeSize, got.MaxBytecodeSize)
	assert.Equal(t, uint64(4), got.ValidationRuns)
	// The receiver is not modified.
	assert.Zero(t, cfg.HotThreshold)
}
