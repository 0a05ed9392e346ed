package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	configDirName   = "dashgate"
	sessionFileName = "session.json"
)

// DefaultFilePath returns ~/.config/dashgate/session.json
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", configDirName, sessionFileName), nil
}

// FileStore keeps the session in a JSON file shared by every dashgate process of the user
type FileStore struct {
	path    string
	watcher *Watcher
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store polling for external changes every pollInterval
func NewFileStore(path string, pollInterval time.Duration, logger zerolog.Logger) *FileStore {
	s := &FileStore{path: path}
	s.watcher = NewWatcher(s.Load, pollInterval, logger)
	return s
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the session file. A missing or unreadable record is treated as logged out.
func (s *FileStore) Load(ctx context.Context) (Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoggedOut(), nil
		}
		return LoggedOut(), fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A torn or hand-edited file is not a session
		return LoggedOut(), nil
	}

	return normalize(sess), nil
}

// Save writes the whole record through a temp file and rename
func (s *FileStore) Save(ctx context.Context, role Role, identity string) error {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return err
	}
	return s.write(sess)
}

// Clear removes the session file
func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Subscribe polls the file for changes made by other processes
func (s *FileStore) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	return s.watcher.Subscribe(ctx, onChange)
}

func (s *FileStore) write(sess Session) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, sessionFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}
