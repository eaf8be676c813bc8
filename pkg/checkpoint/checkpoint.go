package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	errs "batchrun/pkg/errors"
	"batchrun/pkg/logger"
	"batchrun/pkg/progress"
)

// ErrNotFound is returned by Load when no checkpoint has been written yet
var ErrNotFound = errors.New("checkpoint not found")

// Store handles checkpoint operations for one batch
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a store backed by the file at path
func NewStore(path string, log logger.Logger) (*Store, error) {
	if path == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "checkpoint path is required", nil)
	}
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errs.Checkpoint("failed to create checkpoint directory", err)
	}

	return &Store{path: path, logger: log}, nil
}

// DefaultPath returns the checkpoint location for a named batch inside the
// platform data directory
func DefaultPath(name string) (string, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return "", fmt.Errorf("failed to get data directory: %w", err)
	}
	return filepath.Join(dataDir, "checkpoints", fmt.Sprintf("%s.checkpoint.json", name)), nil
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Save writes the state to disk atomically
func (s *Store) Save(state *progress.State) error {
	data, err := state.Marshal()
	if err != nil {
		return errs.Checkpoint("failed to encode checkpoint", err)
	}

	file, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errs.Checkpoint("failed to create temporary checkpoint file", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Checkpoint("failed to write checkpoint", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Checkpoint("failed to sync checkpoint file", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Checkpoint("failed to close checkpoint file", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Checkpoint("failed to replace checkpoint file", err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"path":      s.path,
		"completed": state.Completed,
		"total":     state.Total,
		"status":    string(state.Status),
	})

	return nil
}

// Load reads the checkpoint. It returns ErrNotFound when the file does not exist.
func (s *Store) Load() (*progress.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errs.Checkpoint("failed to read checkpoint file", err)
	}

	state, err := progress.Unmarshal(data)
	if err != nil {
		return nil, errs.Checkpoint("failed to decode checkpoint", err)
	}
	if err := state.Validate(); err != nil {
		return nil, errs.Checkpoint("invalid checkpoint", err)
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path":      s.path,
		"completed": state.Completed,
		"total":     state.Total,
		"status":    string(state.Status),
	})

	return state, nil
}

// Clear removes the checkpoint file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Checkpoint("failed to delete checkpoint", err)
	}

	s.logger.DebugWithFields("Checkpoint cleared", map[string]interface{}{
		"path": s.path,
	})
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Info returns a summary of the stored checkpoint, or nil when none exists
func (s *Store) Info() (map[string]interface{}, error) {
	state, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(s.path)
	if err != nil {
		return nil, errs.Checkpoint("failed to stat checkpoint", err)
	}

	return map[string]interface{}{
		"path":         s.path,
		"status":       string(state.Status),
		"total":        state.Total,
		"completed":    state.Completed,
		"success":      state.Success,
		"failed":       state.Failed,
		"skipped":      state.Skipped,
		"percent":      state.CompletionPercentage(),
		"updated_at":   stat.ModTime(),
		"age":          time.Since(stat.ModTime()),
		"failed_items": len(state.FailedItems),
	}, nil
}

// Backup copies the current checkpoint next to it with a .backup suffix
func (s *Store) Backup() error {
	if !s.Exists() {
		return nil
	}

	src, err := os.Open(s.path)
	if err != nil {
		return errs.Checkpoint("failed to open checkpoint for backup", err)
	}
	defer src.Close()

	dst, err := os.Create(s.BackupPath())
	if err != nil {
		return errs.Checkpoint("failed to create backup file", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errs.Checkpoint("failed to copy checkpoint to backup", err)
	}
	if err := dst.Close(); err != nil {
		return errs.Checkpoint("failed to close backup file", err)
	}

	s.logger.Debug("Checkpoint backed up")
	return nil
}

// BackupPath returns where Backup writes its copy
func (s *Store) BackupPath() string {
	return s.path + ".backup"
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "batchrun")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "batchrun")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "batchrun")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "batchrun")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return dataDir, nil
}
