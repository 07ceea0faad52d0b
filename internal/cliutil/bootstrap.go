// Package cliutil holds the config-load-then-open-store bootstrap shared by
// the derivation and retention CLIs (build-sessions, build-routines,
// build-handoff, build-daily-summary, build-pattern-summary, run-retention),
// factored out of original_source/scripts/*.py's near-identical preambles
// (load_config -> SQLiteStore(...).connect().migrate(...)).
package cliutil

import (
	"fmt"

	"collector/internal/config"
	"collector/internal/cryptoutil"
	"collector/internal/storage"
)

// Open loads the config at path and opens the Store it names, including
// at-rest encryption when configured.
func Open(path string) (*config.Config, *storage.Store, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	var cipher *cryptoutil.Cipher
	if cfg.Storage.EncryptionEnabled {
		key, err := cryptoutil.LoadKey(cfg.Storage.EncryptionKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading encryption key: %w", err)
		}
		cipher, err = cryptoutil.NewCipher(key)
		if err != nil {
			return nil, nil, fmt.Errorf("building cipher: %w", err)
		}
	}

	store, err := storage.Open(storage.Options{
		Path:          cfg.Storage.Path,
		WALMode:       cfg.Storage.WALMode,
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
		Cipher:        cipher,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}
