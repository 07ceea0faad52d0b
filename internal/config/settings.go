package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings represents runtime-adjustable collector settings, layered over
// the YAML Config the way ELIDA's SettingsStore layers local.json over its
// built-in defaults: a default + local pair merged at read time, with only
// the fields a local override actually touches ever diverging.
type Settings struct {
	Privacy   PrivacySettings   `json:"privacy"`
	Priority  PrioritySettings  `json:"priority"`
	Retention RetentionSettings `json:"retention"`
}

// PrivacySettings holds privacy-related runtime overrides.
type PrivacySettings struct {
	URLMode        *string `json:"url_mode,omitempty"`
	DenylistAction *string `json:"denylist_action,omitempty"`
}

// PrioritySettings holds priority-processor runtime overrides.
type PrioritySettings struct {
	DebounceSeconds     *float64 `json:"debounce_seconds,omitempty"`
	DropP2WhenQueueOver *float64 `json:"drop_p2_when_queue_over,omitempty"`
}

// RetentionSettings holds retention runtime overrides.
type RetentionSettings struct {
	MaxDBMB *int `json:"max_db_mb,omitempty"`
}

// SettingsStore manages settings with layered configuration: built-in
// defaults plus an optional settings.json override file.
type SettingsStore struct {
	mu       sync.RWMutex
	defaults Settings
	local    Settings
	path     string
}

// NewSettingsStore creates a new settings store backed by <dataDir>/settings.json.
func NewSettingsStore(dataDir string, defaults Settings) (*SettingsStore, error) {
	store := &SettingsStore{
		defaults: defaults,
		path:     filepath.Join(dataDir, "settings.json"),
	}
	if err := store.loadLocal(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading local settings: %w", err)
		}
	}
	return store, nil
}

// GetDefaults returns the built-in default settings.
func (s *SettingsStore) GetDefaults() Settings {
	return s.defaults
}

// GetLocal returns only the user's customizations.
func (s *SettingsStore) GetLocal() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// GetMerged returns settings with local overriding defaults.
func (s *SettingsStore) GetMerged() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mergeSettings(s.defaults, s.local)
}

// SaveLocal persists user customizations to disk.
func (s *SettingsStore) SaveLocal(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.local = settings

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// ResetToDefault removes all local customizations.
func (s *SettingsStore) ResetToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.local = Settings{}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing settings file: %w", err)
	}
	return nil
}

func (s *SettingsStore) loadLocal() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.local); err != nil {
		return fmt.Errorf("parsing settings file: %w", err)
	}
	return nil
}

// mergeSettings merges local settings over defaults, field by field.
func mergeSettings(defaults, local Settings) Settings {
	merged := defaults

	if local.Privacy.URLMode != nil {
		merged.Privacy.URLMode = local.Privacy.URLMode
	}
	if local.Privacy.DenylistAction != nil {
		merged.Privacy.DenylistAction = local.Privacy.DenylistAction
	}
	if local.Priority.DebounceSeconds != nil {
		merged.Priority.DebounceSeconds = local.Priority.DebounceSeconds
	}
	if local.Priority.DropP2WhenQueueOver != nil {
		merged.Priority.DropP2WhenQueueOver = local.Priority.DropP2WhenQueueOver
	}
	if local.Retention.MaxDBMB != nil {
		merged.Retention.MaxDBMB = local.Retention.MaxDBMB
	}

	return merged
}
