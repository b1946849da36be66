package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAPERLENS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "provider.kind", typ: kString, env: "PAPERLENS_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Kind = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Kind },
	},
	{
		key: "provider.gemini_api_key", typ: kString, env: "PAPERLENS_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.GeminiAPIKey },
	},
	{
		key: "provider.fast_model", typ: kString, env: "PAPERLENS_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.FastModel },
	},
	{
		key: "provider.deep_model", typ: kString, env: "PAPERLENS_DEEP_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.DeepModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.DeepModel },
	},
	{
		key: "provider.embed_model", typ: kString, env: "PAPERLENS_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAPERLENS_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.upload_dir", typ: kString, env: "PAPERLENS_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.UploadDir },
	},
	{
		key: "storage.cache_backend", typ: kString, env: "PAPERLENS_CACHE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.CacheBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.CacheBackend },
	},
	{
		key: "storage.cache_ttl", typ: kString, env: "PAPERLENS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Storage.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.CacheTTL },
	},
	{
		key: "index.chunk_size", typ: kInt, env: "PAPERLENS_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkSize },
	},
	{
		key: "index.chunk_overlap", typ: kInt, env: "PAPERLENS_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkOverlap },
	},
	{
		key: "index.top_k", typ: kInt, env: "PAPERLENS_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Index.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.TopK },
	},
	{
		key: "analysis.schema_version", typ: kString, env: "PAPERLENS_SCHEMA_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Analysis.SchemaVersion = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.SchemaVersion },
	},
	{
		key: "review.max_parallel", typ: kInt, env: "PAPERLENS_REVIEW_MAX_PARALLEL",
		apply:   func(cfg *Config, v any) { cfg.Review.MaxParallel = v.(int) },
		extract: func(cfg Config) any { return cfg.Review.MaxParallel },
	},
	{
		key: "log.level", typ: kString, env: "PAPERLENS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
