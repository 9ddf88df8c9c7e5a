package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func validConfig() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		panic(err)
	}
	return *cfg
}

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance, no user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "nex.db", cfg.Database.Path)
	assert.Equal(t, CounterSQLite, cfg.Counter.Backend)
	assert.Equal(t, "names-table", cfg.Counter.DynamoTable)
	assert.Equal(t, 8, cfg.Counter.Concurrency)
	assert.Equal(t, "nex-source", cfg.Buckets.Source)
	assert.Equal(t, "nex-tags", cfg.Buckets.Tags)
	assert.Equal(t, ObjectStoreFS, cfg.ObjectStore.Backend)
	assert.Equal(t, 1, cfg.Pulse.Workers)
	assert.Equal(t, ModeAsync, cfg.Pulse.Mode)
	assert.Equal(t, PacingFixed, cfg.Upload.Pacing)
	assert.Equal(t, 100, cfg.Upload.DelayMS)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"zero workers is valid (disabled)", func(c *Config) { c.Pulse.Workers = 0 }, ""},
		{"negative workers", func(c *Config) { c.Pulse.Workers = -1 }, "pulse.workers must be >= 0"},
		{"unknown counter backend", func(c *Config) { c.Counter.Backend = "redis" }, "counter.backend must be one of"},
		{"postgres without dsn", func(c *Config) { c.Counter.Backend = CounterPostgres }, "postgres_dsn cannot be empty"},
		{"postgres with dsn", func(c *Config) {
			c.Counter.Backend = CounterPostgres
			c.Counter.PostgresDSN = "postgres://localhost/nex"
		}, ""},
		{"dynamodb without table", func(c *Config) {
			c.Counter.Backend = CounterDynamoDB
			c.Counter.DynamoTable = ""
		}, "dynamo_table cannot be empty"},
		{"negative concurrency", func(c *Config) { c.Counter.Concurrency = -2 }, "counter.concurrency"},
		{"same bucket twice", func(c *Config) { c.Buckets.Tags = c.Buckets.Source }, "must differ"},
		{"missing bucket", func(c *Config) { c.Buckets.Source = "" }, "must both be set"},
		{"fs without root", func(c *Config) { c.ObjectStore.Root = "" }, "object_store.root"},
		{"bad mode", func(c *Config) { c.Pulse.Mode = "lambda" }, "pulse.mode"},
		{"token bucket needs rate", func(c *Config) {
			c.Upload.Pacing = PacingTokenBucket
			c.Upload.RatePerSecond = 0
		}, "rate_per_second"},
		{"no pacing is valid", func(c *Config) { c.Upload.Pacing = PacingNone }, ""},
		{"unknown pacing", func(c *Config) { c.Upload.Pacing = "jitter" }, "upload.pacing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[counter]
backend = "memory"
concurrency = 2

[buckets]
source = "raw"
tags = "tagged"

[upload]
pacing = "none"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, CounterMemory, cfg.Counter.Backend)
	assert.Equal(t, 2, cfg.Counter.Concurrency)
	assert.Equal(t, "raw", cfg.Buckets.Source)
	assert.Equal(t, "tagged", cfg.Buckets.Tags)
	assert.Equal(t, PacingNone, cfg.Upload.Pacing)
	// Untouched keys keep their defaults
	assert.Equal(t, "nex.db", cfg.Database.Path)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestCheckFile_ReportsUnknownKeys(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[counter]
backend = "sqlite"
backnd = "typo"

[pulse]
workers = 2
`)

	unknown, err := CheckFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"counter.backnd"}, unknown)
}

func TestGetDatabasePath_EnvOverride(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/override.db")
	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", path)
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := writeConfig(t, dir, "[pulse]\nworkers = 1\n")

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	cw.SetDebounce(20 * time.Millisecond)

	reloaded := make(chan int, 4)
	cw.OnReload(func(c *Config) error {
		reloaded <- c.Pulse.Workers
		return nil
	})
	cw.Start()

	// Unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("[pulse]\nworkers = 4\n"), 0644))

	select {
	case workers := <-reloaded:
		assert.Equal(t, 4, workers)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	require.NoError(t, cw.Stop())
}

func TestConfigWatcher_StopWithoutStart(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	cw, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	assert.NoError(t, cw.Stop())
}
