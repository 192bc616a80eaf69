package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME and the config path at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CONDUIT_HOME", "")
	t.Setenv("CONDUIT_CONFIG", "")
	t.Setenv("CONDUIT_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Bus.Driver != "memory" || cfg.Bus.Prefix != "conduit" {
		t.Errorf("unexpected bus defaults: %+v", cfg.Bus)
	}
	if cfg.Model.Timeout != 120*time.Second {
		t.Errorf("expected model timeout 120s, got %v", cfg.Model.Timeout)
	}
	if cfg.Model.MaxRounds != 10 {
		t.Errorf("expected maxRounds 10, got %d", cfg.Model.MaxRounds)
	}
	if cfg.Store.ActivityMaxLen != 1000 {
		t.Errorf("expected activityMaxLen 1000, got %d", cfg.Store.ActivityMaxLen)
	}
	if cfg.API.Addr != "127.0.0.1:8089" {
		t.Errorf("expected api addr 127.0.0.1:8089, got %s", cfg.API.Addr)
	}
	if cfg.Service.MaxConcurrent != 0 {
		t.Errorf("expected unbounded concurrency by default, got %d", cfg.Service.MaxConcurrent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.HistoryTurns != 3 {
		t.Errorf("expected historyTurns 3, got %d", cfg.Service.HistoryTurns)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)
	t.Setenv("REDIS_SECRET", `pa"ss`)

	configDir := filepath.Join(home, ".conduit")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `{
		"bus": {"driver": "redis", "redisPassword": "${REDIS_SECRET}"},
		"model": {"provider": "ollama", "name": "llama3.1", "maxRounds": 4},
		"store": {"path": "~/data/conduit.db"}
	}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Bus.Driver != "redis" || cfg.Bus.RedisPassword != `pa"ss` {
		t.Errorf("bus not loaded from file: %+v", cfg.Bus)
	}
	if cfg.Model.Provider != "ollama" || cfg.Model.Name != "llama3.1" || cfg.Model.MaxRounds != 4 {
		t.Errorf("model not loaded from file: %+v", cfg.Model)
	}
	if cfg.Model.Timeout != 120*time.Second {
		t.Errorf("unset fields should keep defaults, timeout = %v", cfg.Model.Timeout)
	}
	if cfg.Store.Path != filepath.Join(home, "data", "conduit.db") {
		t.Errorf("store path not expanded: %s", cfg.Store.Path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.json")
	if err := os.WriteFile(path, []byte(`{"service": {"maxConcurrent": 2}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUIT_CONFIG", path)
	t.Setenv("CONDUIT_SERVICE_MAX_CONCURRENT", "8")
	t.Setenv("CONDUIT_MODEL_TIMEOUT", "5s")
	t.Setenv("CONDUIT_BUS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.MaxConcurrent != 8 {
		t.Errorf("env should override file, got %d", cfg.Service.MaxConcurrent)
	}
	if cfg.Model.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Model.Timeout)
	}
	if len(cfg.Bus.KafkaBrokers) != 2 || cfg.Bus.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Bus.KafkaBrokers)
	}
}

func TestEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	home := isolate(t)
	envPath := filepath.Join(home, "conduit.env")
	content := "CONDUIT_LOG_LEVEL=debug\nCONDUIT_LOG_FORMAT=json\n"
	if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUIT_ENV_FILE", envPath)
	t.Setenv("CONDUIT_LOG_FORMAT", "text")
	// Registered so t.Setenv restores it after the env file sets it.
	t.Setenv("CONDUIT_LOG_LEVEL", "")
	os.Unsetenv("CONDUIT_LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env file value not applied, level = %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("process env must win, format = %s", cfg.Log.Format)
	}
}

func TestAPIKeyFallback(t *testing.T) {
	isolate(t)
	t.Setenv("CONDUIT_MODEL_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.APIKey != "sk-ant-test" {
		t.Errorf("api key fallback not applied: %q", cfg.Model.APIKey)
	}
	if cfg.Redacted().Model.APIKey != "********" {
		t.Error("Redacted should mask the api key")
	}
	if cfg.Model.APIKey != "sk-ant-test" {
		t.Error("Redacted must not modify the original")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Driver = "nats"
	cfg.Model.MaxRounds = 0
	cfg.Service.MaxConcurrent = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"bus.driver", "model.maxRounds", "service.maxConcurrent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Bus.Driver = "kafka"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".conduit", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Bus.Driver != "kafka" {
		t.Errorf("driver = %s", loaded.Bus.Driver)
	}
}
