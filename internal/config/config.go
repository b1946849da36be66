// Package config layers paperlens configuration: built-in defaults, then a
// JSON config file, then PAPERLENS_* environment variables. Secrets (the
// Gemini API key) come from the environment only and are never written to
// the config file.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Storage  StorageConfig
	Index    IndexConfig
	Analysis AnalysisConfig
	Review   ReviewConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// ProviderConfig selects and configures the model backend. Kind is "gemini"
// or "mock"; mock exists for offline development and tests.
type ProviderConfig struct {
	Kind         string
	GeminiAPIKey string
	FastModel    string
	DeepModel    string
	EmbedModel   string
}

type StorageConfig struct {
	DataDir      string
	UploadDir    string
	CacheBackend string // "sqlite" or "memory"
	CacheTTL     string // duration string, e.g. "24h"
}

type IndexConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type AnalysisConfig struct {
	SchemaVersion string
}

type ReviewConfig struct {
	MaxParallel int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Provider: ProviderConfig{
			Kind:       "gemini",
			FastModel:  "gemini-2.5-flash",
			DeepModel:  "gemini-2.5-pro",
			EmbedModel: "text-embedding-004",
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			CacheBackend: "sqlite",
			CacheTTL:     "24h",
		},
		Index: IndexConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         5,
		},
		Analysis: AnalysisConfig{
			SchemaVersion: "1",
		},
		Review: ReviewConfig{
			MaxParallel: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/paperlens/config.json and applies PAPERLENS_*
// environment overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks the structural settings every command depends on. Provider
// credentials are deliberately not checked here: client commands (stop,
// status, task) never touch the provider and must load config without a key.
func (c Config) validate() error {
	switch c.Provider.Kind {
	case "gemini", "mock":
	default:
		return fmt.Errorf("unknown provider kind %q (want gemini or mock)", c.Provider.Kind)
	}

	switch c.Storage.CacheBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q (want sqlite or memory)", c.Storage.CacheBackend)
	}

	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}
	return nil
}

// ValidateProvider checks that the selected provider is usable. Called by
// the serve path right before the provider is constructed.
func (c Config) ValidateProvider() error {
	if c.Provider.Kind == "gemini" && c.Provider.GeminiAPIKey == "" {
		return fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable PAPERLENS_GEMINI_API_KEY")
	}
	return nil
}

// CacheTTL parses the configured cache lifetime.
func (c Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Storage.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache TTL %q: %w", c.Storage.CacheTTL, err)
	}
	return d, nil
}
