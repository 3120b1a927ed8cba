package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_HasSaneBaseline(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 {
		t.Error("expected a non-zero default port")
	}
	if cfg.Auth.Mode != "legacy" {
		t.Errorf("Auth.Mode = %q, want legacy", cfg.Auth.Mode)
	}
	if cfg.DefaultConversationScope == "" {
		t.Error("expected a non-empty default conversation scope")
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != Default().Port {
		t.Errorf("Port = %d, want the default", cfg.Port)
	}
}

func TestLoad_ParsesJSON5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	contents := `{
		// comments are allowed
		port: 9000,
		auth: { mode: "ed25519" },
	}`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Auth.Mode != "ed25519" {
		t.Errorf("Auth.Mode = %q, want ed25519", cfg.Auth.Mode)
	}
}

func TestLoad_EnvOverridesFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	os.WriteFile(path, []byte(`{port: 9000}`), 0600)

	t.Setenv("GATEWAYD_PORT", "7000")
	t.Setenv("GATEWAYD_SHARED_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 (env override)", cfg.Port)
	}
	if cfg.Auth.SharedSecret != "env-secret" {
		t.Errorf("Auth.SharedSecret = %q, want env-secret", cfg.Auth.SharedSecret)
	}
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	cfg := Default()
	cfg.Port = 5555
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty saved config")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Port != 5555 {
		t.Errorf("Port = %d, want 5555 after round trip", loaded.Port)
	}
}

func TestHash_ChangesWithContent(t *testing.T) {
	cfg := Default()
	h1 := cfg.Hash()
	cfg.Port = cfg.Port + 1
	h2 := cfg.Hash()
	if h1 == h2 {
		t.Error("expected the hash to change after modifying the config")
	}
}
