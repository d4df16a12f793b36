package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridworks/gridcore/internal/config"
)

func TestDefault_ReturnsIndependentCopies(t *testing.T) {
	a := config.Default()
	b := config.Default()
	a.ListenAddr = "mutated"
	if b.ListenAddr == "mutated" {
		t.Fatal("expected Default() to return independent copies")
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := config.Default()
	if cfg.MaxPlacementAttempts != 3 {
		t.Errorf("expected default MaxPlacementAttempts 3, got %d", cfg.MaxPlacementAttempts)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected default HeartbeatInterval 30s, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoad_OverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw, _ := json.Marshal(map[string]any{
		"listen_addr":         ":9999",
		"registration_secret": "s3cr3t",
	})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected overridden ListenAddr, got %s", cfg.ListenAddr)
	}
	if cfg.RegistrationSecret != "s3cr3t" {
		t.Errorf("expected overridden RegistrationSecret, got %s", cfg.RegistrationSecret)
	}
	if cfg.MaxPlacementAttempts != 3 {
		t.Errorf("expected unset fields to keep their default, got %d", cfg.MaxPlacementAttempts)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw, _ := json.Marshal(map[string]any{"not_a_real_field": true})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an unknown field to be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestInformationalSet_AlwaysIncludesBrowserVersion(t *testing.T) {
	cfg := config.Default()
	cfg.InformationalCapabilities = []string{"se:recordVideo"}
	set := cfg.InformationalSet()
	if !set["browserVersion"] {
		t.Error("expected browserVersion to always be informational")
	}
	if !set["se:recordVideo"] {
		t.Error("expected configured informational key to be present")
	}
	if set["browserName"] {
		t.Error("expected an unconfigured key to not be informational")
	}
}
