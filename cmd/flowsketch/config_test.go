package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsketch/internal/scheduler"
	"github.com/rendis/flowsketch/internal/store"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLOWSKETCH_HOME", dir)
	t.Setenv("GEMINI_API_KEY", "")
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg := loadConfig()
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, store.BackendLibSQL, cfg.StoreBackend)
	assert.Equal(t, filepath.Join(home, "flowsketch.db"), cfg.DBPath)
	assert.Equal(t, scheduler.DefaultResetSpec, cfg.ResetSpec)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.True(t, cfg.Metrics)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadConfig_Layering(t *testing.T) {
	home := isolateHome(t)
	settings := `{"listen_addr": ":8080", "log_level": "debug", "store_backend": "redis", "redis_addr": "localhost:6379", "gemini_api_key": "ignored"}`
	require.NoError(t, os.WriteFile(filepath.Join(home, "settings.json"), []byte(settings), 0o600))

	t.Setenv("FLOWSKETCH_LOG_LEVEL", "warn")
	t.Setenv("FLOWSKETCH_REDIS_DB", "3")
	t.Setenv("FLOWSKETCH_METRICS", "false")
	t.Setenv("GEMINI_API_KEY", "AIza-from-env")

	cfg := loadConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr, "settings.json over defaults")
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "warn", cfg.LogLevel, "env over settings.json")
	assert.Equal(t, store.BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, "AIza-from-env", cfg.APIKey)

	opts := cfg.storeOptions()
	assert.Equal(t, "localhost:6379", opts.Redis.Addr)
	assert.Equal(t, "flowsketch", opts.Redis.Prefix)
}

func TestLoadConfig_BadValuesIgnored(t *testing.T) {
	home := isolateHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "settings.json"), []byte("{not json"), 0o600))
	t.Setenv("FLOWSKETCH_RENDER_CACHE_SIZE", "lots")

	cfg := loadConfig()
	assert.Equal(t, defaultConfig().CacheSize, cfg.CacheSize)
	assert.Equal(t, ":3000", cfg.ListenAddr)
}

func TestDiffConfigs(t *testing.T) {
	base := defaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		handler bool
		level   bool
		restart []string
	}{
		{name: "unchanged", mutate: func(*Config) {}},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "debug" }, level: true},
		{name: "model", mutate: func(c *Config) { c.GeminiModel = "gemini-2.0-flash" }, handler: true},
		{name: "api key", mutate: func(c *Config) { c.APIKey = "AIza" }, handler: true},
		{name: "listen addr", mutate: func(c *Config) { c.ListenAddr = ":1" }, restart: []string{"listen_addr"}},
		{
			name:    "storage",
			mutate:  func(c *Config) { c.StoreBackend = "redis"; c.RedisAddr = "x:1" },
			restart: []string{"store_backend", "redis"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := base
			tc.mutate(&next)
			d := diffConfigs(base, next)
			assert.Equal(t, tc.handler, d.HandlerChanged)
			assert.Equal(t, tc.level, d.LogLevelChanged)
			assert.Equal(t, tc.restart, d.RestartNeeded)
		})
	}
}

func TestWithRestartFields(t *testing.T) {
	running := defaultConfig()
	next := running
	next.ListenAddr = ":9"
	next.DBPath = "/elsewhere.db"
	next.LogLevel = "debug"

	kept := next.withRestartFields(running)
	assert.Equal(t, running.ListenAddr, kept.ListenAddr)
	assert.Equal(t, running.DBPath, kept.DBPath)
	assert.Equal(t, "debug", kept.LogLevel)
}
