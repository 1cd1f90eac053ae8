package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rendis/flowsketch/internal/scheduler"
	"github.com/rendis/flowsketch/internal/store"
)

// Config holds all flowsketch configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr    string `json:"listen_addr"`
	BaseURL       string `json:"base_url"`
	StoreBackend  string `json:"store_backend"`
	DBPath        string `json:"db_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	GeminiModel   string `json:"gemini_model"`
	GeminiBaseURL string `json:"gemini_base_url"`
	ResetSpec     string `json:"reset_spec"`
	CacheSize     int    `json:"render_cache_size"`
	Metrics       bool   `json:"metrics"`

	// APIKey only comes from the environment; the persisted key lives in the
	// vault.
	APIKey string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:   ":3000",
		StoreBackend: store.BackendLibSQL,
		DBPath:       filepath.Join(flowsketchDir(), "flowsketch.db"),
		RedisPrefix:  "flowsketch",
		LogLevel:     "info",
		LogFormat:    "pretty",
		ResetSpec:    scheduler.DefaultResetSpec,
		CacheSize:    256,
		Metrics:      true,
	}
}

func flowsketchDir() string {
	if v := os.Getenv("FLOWSKETCH_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowsketch"
	}
	return filepath.Join(home, ".flowsketch")
}

func settingsPath() string {
	return filepath.Join(flowsketchDir(), "settings.json")
}

func masterKeyPath() string {
	return filepath.Join(flowsketchDir(), "master.key")
}

func pidPath() string {
	return filepath.Join(flowsketchDir(), "flowsketch.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	envString(&cfg.ListenAddr, "FLOWSKETCH_LISTEN_ADDR")
	envString(&cfg.BaseURL, "FLOWSKETCH_BASE_URL")
	envString(&cfg.StoreBackend, "FLOWSKETCH_STORE")
	envString(&cfg.DBPath, "FLOWSKETCH_DB_PATH")
	envString(&cfg.RedisAddr, "FLOWSKETCH_REDIS_ADDR")
	envString(&cfg.RedisPassword, "FLOWSKETCH_REDIS_PASSWORD")
	envInt(&cfg.RedisDB, "FLOWSKETCH_REDIS_DB")
	envString(&cfg.RedisPrefix, "FLOWSKETCH_REDIS_PREFIX")
	envString(&cfg.LogLevel, "FLOWSKETCH_LOG_LEVEL")
	envString(&cfg.LogFormat, "FLOWSKETCH_LOG_FORMAT")
	envString(&cfg.GeminiModel, "FLOWSKETCH_GEMINI_MODEL")
	envString(&cfg.GeminiBaseURL, "FLOWSKETCH_GEMINI_BASE_URL")
	envString(&cfg.ResetSpec, "FLOWSKETCH_RESET_SPEC")
	envInt(&cfg.CacheSize, "FLOWSKETCH_RENDER_CACHE_SIZE")
	if v := os.Getenv("FLOWSKETCH_METRICS"); v != "" {
		cfg.Metrics = v == "true" || v == "1"
	}
	envString(&cfg.APIKey, "GEMINI_API_KEY")

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	return cfg
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c Config) storeOptions() store.Options {
	return store.Options{
		Backend: c.StoreBackend,
		DBPath:  c.DBPath,
		Redis: store.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
		},
	}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	HandlerChanged  bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.APIKey != new.APIKey || old.GeminiModel != new.GeminiModel ||
		old.GeminiBaseURL != new.GeminiBaseURL || old.Metrics != new.Metrics ||
		old.BaseURL != new.BaseURL || old.CacheSize != new.CacheSize {
		d.HandlerChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.StoreBackend != new.StoreBackend {
		d.RestartNeeded = append(d.RestartNeeded, "store_backend")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.RedisAddr != new.RedisAddr || old.RedisDB != new.RedisDB || old.RedisPrefix != new.RedisPrefix {
		d.RestartNeeded = append(d.RestartNeeded, "redis")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.ResetSpec != new.ResetSpec {
		d.RestartNeeded = append(d.RestartNeeded, "reset_spec")
	}
	return d
}

// withRestartFields returns c with the fields that only take effect on
// restart copied from running.
func (c Config) withRestartFields(running Config) Config {
	c.ListenAddr = running.ListenAddr
	c.StoreBackend = running.StoreBackend
	c.DBPath = running.DBPath
	c.RedisAddr = running.RedisAddr
	c.RedisPassword = running.RedisPassword
	c.RedisDB = running.RedisDB
	c.RedisPrefix = running.RedisPrefix
	c.LogFormat = running.LogFormat
	c.ResetSpec = running.ResetSpec
	return c
}
