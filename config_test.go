package vstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
version: 2
object_cache_size: 256
type_cache_size: 64
type_hash_cache: true
max_depth: 16
limits:
  max_len: 100
  value:
    min_len: 1
    max_len: 10
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, 256, cfg.ObjectCacheSize)
	assert.Equal(t, 64, cfg.TypeCacheSize)
	assert.True(t, cfg.TypeHashCache)
	assert.Equal(t, 16, cfg.MaxDepth)
	require.NotNil(t, cfg.Limits)
	assert.Equal(t, 100, cfg.Limits.MaxLen)
	assert.Equal(t, &FieldOptions{MinLen: 1, MaxLen: 10}, cfg.Limits.Value)
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("object_cache_size: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, 8, cfg.ObjectCacheSize)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("version: [1"))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = ParseConfig([]byte("version: 9\nobject_cache_size: -1\nmax_depth: 0\n"))
	require.ErrorIs(t, err, ErrConfig)

	var se *SerializerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validate config", se.Op)
	// every problem is reported
	assert.Contains(t, err.Error(), "version 9")
	assert.Contains(t, err.Error(), "object_cache_size -1")
	assert.Contains(t, err.Error(), "max_depth 0")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"version 1", func(c *Config) { c.Version = Version1 }, true},
		{"version 0", func(c *Config) { c.Version = 0 }, false},
		{"max cache", func(c *Config) { c.TypeCacheSize = MaxCacheSize }, true},
		{"cache too large", func(c *Config) { c.TypeCacheSize = MaxCacheSize + 1 }, false},
		{"negative depth", func(c *Config) { c.MaxDepth = -3 }, false},
		{"negative limit", func(c *Config) { c.Limits = &FieldOptions{MaxLen: -1} }, false},
		{"inverted limit", func(c *Config) { c.Limits = &FieldOptions{MinLen: 5, MaxLen: 2} }, false},
		{"bad nested limit", func(c *Config) { c.Limits = &FieldOptions{Key: &FieldOptions{MinLen: -1}} }, false},
		{"min only", func(c *Config) { c.Limits = &FieldOptions{MinLen: 5} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfig)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("object_cache_size: 16\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.ObjectCacheSize)

	// both ends configured from the same file agree on the caches
	data := marshal(t, []string{"ab", "ab"}, WithConfig(cfg))
	assert.Equal(t, []string{"ab", "ab"}, unmarshal[[]string](t, data, WithConfig(cfg)))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestFieldOptionsCheck(t *testing.T) {
	var unbounded *FieldOptions
	assert.NoError(t, unbounded.check(1<<20))
	assert.Nil(t, unbounded.key())
	assert.Nil(t, unbounded.value())

	o := &FieldOptions{MinLen: 1, MaxLen: 3}
	assert.NoError(t, o.check(1))
	assert.NoError(t, o.check(3))
	assert.ErrorIs(t, o.check(0), ErrConfig)
	assert.ErrorIs(t, o.check(4), ErrConfig)

	minOnly := &FieldOptions{MinLen: 2}
	assert.NoError(t, minOnly.check(1000))
	assert.ErrorIs(t, minOnly.check(1), ErrConfig)
}

func TestOptionsApplyInOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObjectCacheSize = 4
	s, err := resolveSettings([]Option{WithObjectCache(99), WithConfig(cfg), WithTypeCache(7)})
	require.NoError(t, err)
	assert.Equal(t, 4, s.cfg.ObjectCacheSize)
	assert.Equal(t, 7, s.cfg.TypeCacheSize)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.registry)
	assert.NotNil(t, s.temp)
}
