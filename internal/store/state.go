// Package store persists the last hardware settings the daemon applied.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/archsense/internal/model"
)

// CurrentSchemaVersion is the version written by Save.
const CurrentSchemaVersion = 1

// DefaultStatePath is where archsensed keeps its persisted settings.
const DefaultStatePath = "/var/lib/archsense/state.json"

// storeError is a sentinel error string.
type storeError string

func (e storeError) Error() string { return string(e) }

// Load errors. Both mean the file must be ignored.
const (
	ErrCorrupt       = storeError("persisted config is corrupt")
	ErrSchemaTooNew  = storeError("persisted config schema is newer than supported")
	ErrInvalidConfig = storeError("persisted config has out-of-domain values")
)

// PersistedConfig is the on-disk record of settings confirmed applied to
// the hardware.
type PersistedConfig struct {
	model.HardwareState
	SchemaVersion int   `json:"schema_version"`
	SavedAt       int64 `json:"saved_at,omitempty"`
}

// Persistence loads and saves a PersistedConfig.
type Persistence interface {
	// Load returns nil, nil when nothing has been saved yet.
	Load() (*PersistedConfig, error)
	Save(cfg PersistedConfig) error
}

// FileStore keeps the PersistedConfig in a single JSON file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore for path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the persisted config. A missing file yields nil, nil.
func (s *FileStore) Load() (*PersistedConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var cfg PersistedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if cfg.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: version %d", ErrSchemaTooNew, cfg.SchemaVersion)
	}
	if cfg.ThermalProfile == "" {
		// Saved before thermal profiles were tracked.
		cfg.ThermalProfile = model.DefaultHardwareState().ThermalProfile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	return &cfg, nil
}

// Save writes cfg atomically: temp file, fsync, rename, then fsync of the
// directory. Out-of-domain state is never written.
func (s *FileStore) Save(cfg PersistedConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to persist: %w", err)
	}
	cfg.SchemaVersion = CurrentSchemaVersion
	if cfg.SavedAt == 0 {
		cfg.SavedAt = time.Now().Unix()
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.logger.Debug("failed to sync state directory", "dir", dir, "error", err)
		}
		d.Close()
	}
	return nil
}
