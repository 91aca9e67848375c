package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Health.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Health.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_AITimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.AITimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for aiTimeoutSeconds=0")
	}
}

func TestValidate_UseAIRequiresProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.UseAI = true
	cfg.General.DefaultProvider = "nonexistent"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for useAI with unknown default provider")
	}
}

func TestValidate_MissingDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Store.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty dbPath")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("VALET_TEST_TOKEN", "secret123")
	out := ExpandEnvVars(`{"token": "${VALET_TEST_TOKEN}"}`)
	if out != `{"token": "secret123"}` {
		t.Errorf("unexpected expansion: %s", out)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("VALET_TEST_UNSET")
	out := ExpandEnvVars(`${VALET_TEST_UNSET:-fallback}`)
	if out != "fallback" {
		t.Errorf("expected fallback, got %s", out)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("VALET_TEST_UNSET")
	out := ExpandEnvVars(`${VALET_TEST_UNSET}`)
	if out != "${VALET_TEST_UNSET}" {
		t.Errorf("expected original string kept, got %s", out)
	}
}

// --- Load / Save ---

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "tok"
	cfg.Store.DBPath = filepath.Join(dir, "valet.db")

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Channels.Telegram.Enabled {
		t.Error("telegram.enabled not preserved")
	}
	if loaded.Channels.Telegram.Token != "tok" {
		t.Error("telegram.token not preserved")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestFlexStringList_MixedTypes(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`["123", 456]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "123" || f[1] != "456" {
		t.Errorf("unexpected list: %v", f)
	}
}
