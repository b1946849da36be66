package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAPERLENS_PROVIDER", "mock")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json")))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Provider.FastModel != "gemini-2.5-flash" || cfg.Provider.DeepModel != "gemini-2.5-pro" {
		t.Errorf("models = %s / %s", cfg.Provider.FastModel, cfg.Provider.DeepModel)
	}
	if cfg.Index.ChunkSize != 1000 || cfg.Index.ChunkOverlap != 200 || cfg.Index.TopK != 5 {
		t.Errorf("index defaults = %+v", cfg.Index)
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("ttl = %v, want 24h", ttl)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("PAPERLENS_PROVIDER", "mock")

	b := writeConfigFile(t, `{
		"server.port": 9090,
		"storage.cache_backend": "memory",
		"index.chunk_size": 500
	}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090 from file", cfg.Server.Port)
	}
	if cfg.Storage.CacheBackend != "memory" {
		t.Errorf("cache backend = %s", cfg.Storage.CacheBackend)
	}
	if cfg.Index.ChunkSize != 500 {
		t.Errorf("chunk size = %d", cfg.Index.ChunkSize)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Index.ChunkOverlap != 200 {
		t.Errorf("chunk overlap = %d, want default 200", cfg.Index.ChunkOverlap)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PAPERLENS_PROVIDER", "mock")
	t.Setenv("PAPERLENS_SERVER_PORT", "7070")
	t.Setenv("PAPERLENS_FAST_MODEL", "gemini-experimental")

	b := writeConfigFile(t, `{"server.port": 9090}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, env should win over file", cfg.Server.Port)
	}
	if cfg.Provider.FastModel != "gemini-experimental" {
		t.Errorf("fast model = %s", cfg.Provider.FastModel)
	}
}

func TestSecretComesFromEnvOnly(t *testing.T) {
	t.Setenv("PAPERLENS_GEMINI_API_KEY", "env-secret")

	// A key smuggled into the config file is ignored.
	b := writeConfigFile(t, `{"provider.gemini_api_key": "file-secret"}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.GeminiAPIKey != "env-secret" {
		t.Errorf("api key = %q, want the env value", cfg.Provider.GeminiAPIKey)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"unknown provider",
			func(c *Config) { c.Provider.Kind = "openai" },
			"unknown provider kind",
		},
		{
			"unknown cache backend",
			func(c *Config) { c.Provider.Kind = "mock"; c.Storage.CacheBackend = "redis" },
			"unknown cache backend",
		},
		{
			"bad ttl",
			func(c *Config) { c.Provider.Kind = "mock"; c.Storage.CacheTTL = "whenever" },
			"invalid cache TTL",
		},
		{
			"overlap too large",
			func(c *Config) { c.Provider.Kind = "mock"; c.Index.ChunkSize = 100; c.Index.ChunkOverlap = 100 },
			"chunk overlap",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	cfg := defaults()
	cfg.Provider.Kind = "mock"
	if err := cfg.validate(); err != nil {
		t.Errorf("mock provider should validate without a key: %v", err)
	}
}

// Loading succeeds without provider credentials; only the serve path, via
// ValidateProvider, insists on a key. Client commands (stop, status, task)
// must not need secrets just to read the server port.
func TestLoadWithoutProviderKey(t *testing.T) {
	t.Setenv("PAPERLENS_GEMINI_API_KEY", "")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json")))
	if err != nil {
		t.Fatalf("load must not require a provider key: %v", err)
	}
	if cfg.Provider.Kind != "gemini" {
		t.Fatalf("kind = %s", cfg.Provider.Kind)
	}

	err = cfg.ValidateProvider()
	if err == nil {
		t.Fatal("expected ValidateProvider to demand a key for gemini")
	}
	if !strings.Contains(err.Error(), "PAPERLENS_GEMINI_API_KEY") {
		t.Errorf("error %q does not name the env var", err)
	}

	cfg.Provider.GeminiAPIKey = "k"
	if err := cfg.ValidateProvider(); err != nil {
		t.Errorf("ValidateProvider with key: %v", err)
	}
	cfg.Provider.Kind = "mock"
	cfg.Provider.GeminiAPIKey = ""
	if err := cfg.ValidateProvider(); err != nil {
		t.Errorf("mock provider needs no key: %v", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperlens", "config.json")
	b := newFileBackend(path)

	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("server.port", 8081); err != nil {
		t.Fatal(err)
	}

	// Re-open from disk.
	b = newFileBackend(path)
	s, ok, err := b.GetString("log.level")
	if err != nil || !ok || s != "debug" {
		t.Errorf("GetString = %q, %v, %v", s, ok, err)
	}
	i, ok, err := b.GetInt("server.port")
	if err != nil || !ok || i != 8081 {
		t.Errorf("GetInt = %d, %v, %v", i, ok, err)
	}

	if err := b.Delete("log.level"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ = b.GetString("log.level")
	if ok {
		t.Error("deleted key still present")
	}
}

func TestSettingsExcludeSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Provider.GeminiAPIKey = "super-secret"

	for _, s := range Settings(cfg) {
		if strings.Contains(s.Key, "api_key") {
			t.Errorf("secret key %s exposed by Settings", s.Key)
		}
		if s.Value == "super-secret" {
			t.Errorf("secret value leaked under key %s", s.Key)
		}
	}
}

func TestSetKeyRejectsSecretsAndUnknownKeys(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := SetKey("provider.gemini_api_key", "super-secret")
	if err == nil {
		t.Fatal("SetKey accepted a secret key")
	}
	if !strings.Contains(err.Error(), "PAPERLENS_GEMINI_API_KEY") {
		t.Errorf("secret rejection should point at the env var, got: %v", err)
	}

	err = SetKey("no.such.key", "x")
	if err == nil {
		t.Fatal("SetKey accepted an unknown key")
	}
	if !strings.Contains(err.Error(), "settable keys") {
		t.Errorf("unknown-key error should list settable keys, got: %v", err)
	}
	if strings.Contains(err.Error(), "api_key") {
		t.Errorf("secret key listed as settable: %v", err)
	}
}
