package loadpipe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"0":      0,
		"123":    123,
		"16KiB":  16 * 1024,
		"64K":    64 * 1024,
		"10MiB":  10 << 20,
		"10 mb":  10 << 20,
		"2G":     2 << 30,
		" 1gib ": 1 << 30,
	}
	for in, want := range tests {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "K", "12TB", "-4"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrUsage), bad)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ByteSize(16*1024), cfg.BatchBytes)
	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
	assert.Equal(t, MalformedSkip, cfg.OnMalformedLine)
	assert.Equal(t, []string{"loadcsv", "-x", "-z", "IRI"}, cfg.SinkCommand)
	assert.Equal(t, "-i", cfg.InputFlag)
	assert.Equal(t, uint(1), cfg.StartAttempts)
	assert.Contains(t, cfg.Favorites, "count")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"negative batch size", func(cfg *Config) { cfg.BatchSize = -1 }},
		{"negative batch bytes", func(cfg *Config) { cfg.BatchBytes = -1 }},
		{"zero flush interval", func(cfg *Config) { cfg.FlushInterval = 0 }},
		{"negative queue", func(cfg *Config) { cfg.MaxQueue = -2 }},
		{"bad delimiter", func(cfg *Config) { cfg.Delimiter = "|" }},
		{"bad policy", func(cfg *Config) { cfg.OnMalformedLine = "ignore" }},
		{"no sink", func(cfg *Config) { cfg.SinkCommand = nil }},
		{"no attempts", func(cfg *Config) { cfg.StartAttempts = 0 }},
		{"negative timeout", func(cfg *Config) { cfg.SinkTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUsage))
		})
	}

	t.Run("no sink is fine with no-load", func(t *testing.T) {
		cfg := NewConfig()
		cfg.SinkCommand = nil
		cfg.NoLoad = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestDelimiterRune(t *testing.T) {
	for _, d := range []string{",", "comma", "CSV"} {
		cfg := &Config{Delimiter: d}
		r, err := cfg.DelimiterRune()
		require.NoError(t, err)
		assert.Equal(t, ',', r)
	}
	for _, d := range []string{"\t", `\t`, "tab", "TSV"} {
		cfg := &Config{Delimiter: d}
		r, err := cfg.DelimiterRune()
		require.NoError(t, err)
		assert.Equal(t, '\t', r)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadpipe.toml")
	content := `
batch_size = 500
batch_bytes = "1MiB"
flush_interval = "2s"
delimiter = "tab"
on_malformed_line = "ABORT"
max_queue = 3
sink_command = ["loadcsv", "-x"]
loader_args = ["-a", "target"]
array = "trades"

[favorites]
top = "top({{.Array}})"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := NewConfig()
	require.NoError(t, LoadConfigFile(path, cfg))
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, ByteSize(1<<20), cfg.BatchBytes)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, "tab", cfg.Delimiter)
	assert.Equal(t, MalformedAbort, cfg.OnMalformedLine)
	assert.Equal(t, 3, cfg.MaxQueue)
	assert.Equal(t, []string{"loadcsv", "-x"}, cfg.SinkCommand)
	assert.Equal(t, []string{"-a", "target"}, cfg.LoaderArgs)
	assert.Equal(t, "trades", cfg.Array)
	assert.Equal(t, "top({{.Array}})", cfg.Favorites["top"])
	// untouched keys keep their defaults
	assert.Equal(t, "-i", cfg.InputFlag)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte("batch_lines = 4\n"), 0600))

	err := LoadConfigFile(path, NewConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Contains(t, err.Error(), "batch_lines")
}

func TestLoadConfigFileMissing(t *testing.T) {
	err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.toml"), NewConfig())
	assert.Error(t, err)
}

func TestPreenLoaderArgs(t *testing.T) {
	kept, dropped := PreenLoaderArgs(
		[]string{"--", "-a", "target", "-i", "file.csv", "-X", "-s", "<int64 x>[i=0:*,1000,0]", "-z", "IRI", "-q"},
		DisallowedLoaderOptions,
	)
	assert.Equal(t, []string{"-a", "target", "-s", "<int64 x>[i=0:*,1000,0]", "-q"}, kept)
	assert.Equal(t, []string{"-i", "file.csv", "-X", "-z", "IRI"}, dropped)

	kept, dropped = PreenLoaderArgs(nil, DisallowedLoaderOptions)
	assert.Empty(t, kept)
	assert.Empty(t, dropped)
}
