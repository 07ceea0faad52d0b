package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ingest.Port != 8765 {
		t.Errorf("expected default port 8765, got %d", cfg.Ingest.Port)
	}
	if cfg.StateKV.Backend != "sqlite" {
		t.Errorf("expected default state_kv backend sqlite, got %s", cfg.StateKV.Backend)
	}
}

func TestLoadParsesYAMLAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := "ingest:\n  host: 0.0.0.0\n  port: 9000\nstorage:\n  path: /tmp/custom.db\nstate_kv:\n  backend: redis\n  redis:\n    addr: localhost:6379\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ingest.Host != "0.0.0.0" || cfg.Ingest.Port != 9000 {
		t.Errorf("ingest overrides not applied: %+v", cfg.Ingest)
	}
	if cfg.Storage.Path != "/tmp/custom.db" {
		t.Errorf("storage path override not applied: %s", cfg.Storage.Path)
	}
	if cfg.StateKV.Backend != "redis" || cfg.StateKV.Redis.Addr != "localhost:6379" {
		t.Errorf("state_kv overrides not applied: %+v", cfg.StateKV)
	}
	// Fields untouched by the YAML document keep their defaults.
	if cfg.Bus.QueueSize != 1000 {
		t.Errorf("expected default queue size to survive partial override, got %d", cfg.Bus.QueueSize)
	}
}

func TestLoadRejectsInvalidValidationLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  validation_level: bogus\n"), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid bus.validation_level")
	}
}

func TestLoadRejectsInvalidStateKVBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("state_kv:\n  backend: memcached\n"), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid state_kv.backend")
	}
}

func TestLoadParsesActivityDetailOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := "activity_detail:\n  enabled: true\n  min_duration_sec: 30\n  full_title_apps:\n    - Editor\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.ActivityDetail.Enabled || cfg.ActivityDetail.MinDurationSec != 30 {
		t.Errorf("activity_detail overrides not applied: %+v", cfg.ActivityDetail)
	}
	if len(cfg.ActivityDetail.FullTitleApps) != 1 || cfg.ActivityDetail.FullTitleApps[0] != "Editor" {
		t.Errorf("expected full_title_apps override, got %+v", cfg.ActivityDetail.FullTitleApps)
	}
	// store_hint and max_title_len are untouched by the YAML document.
	if !cfg.ActivityDetail.StoreHint || cfg.ActivityDetail.MaxTitleLen != 256 {
		t.Errorf("expected defaults to survive partial override, got %+v", cfg.ActivityDetail)
	}
}

func TestSettingsStoreMergeAndDefaults(t *testing.T) {
	dataDir := t.TempDir()
	debounce := 2.0
	store, err := NewSettingsStore(dataDir, Settings{
		Priority: PrioritySettings{DebounceSeconds: &debounce},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merged := store.GetMerged()
	if merged.Priority.DebounceSeconds == nil || *merged.Priority.DebounceSeconds != 2.0 {
		t.Fatalf("expected merged debounce seconds 2.0, got %+v", merged.Priority.DebounceSeconds)
	}

	override := 5.0
	if err := store.SaveLocal(Settings{Priority: PrioritySettings{DebounceSeconds: &override}}); err != nil {
		t.Fatalf("saving local settings: %v", err)
	}
	merged = store.GetMerged()
	if merged.Priority.DebounceSeconds == nil || *merged.Priority.DebounceSeconds != 5.0 {
		t.Fatalf("expected local override 5.0 to win, got %+v", merged.Priority.DebounceSeconds)
	}

	if err := store.ResetToDefault(); err != nil {
		t.Fatalf("resetting settings: %v", err)
	}
	merged = store.GetMerged()
	if merged.Priority.DebounceSeconds == nil || *merged.Priority.DebounceSeconds != 2.0 {
		t.Fatalf("expected reset to restore default 2.0, got %+v", merged.Priority.DebounceSeconds)
	}
}

func TestSettingsStorePersistsAcrossReload(t *testing.T) {
	dataDir := t.TempDir()
	mode := "domain"
	store, err := NewSettingsStore(dataDir, Settings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SaveLocal(Settings{Privacy: PrivacySettings{URLMode: &mode}}); err != nil {
		t.Fatalf("saving local settings: %v", err)
	}

	reloaded, err := NewSettingsStore(dataDir, Settings{})
	if err != nil {
		t.Fatalf("reloading settings store: %v", err)
	}
	local := reloaded.GetLocal()
	if local.Privacy.URLMode == nil || *local.Privacy.URLMode != "domain" {
		t.Fatalf("expected reloaded local settings to include url_mode override, got %+v", local.Privacy)
	}
}
