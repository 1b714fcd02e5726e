// Package file implements token persistence as a single file on local disk.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the token payload at a fixed path. Writes are atomic: the
// payload lands in a temp file first and is renamed into place, so a crash
// mid-write never leaves a truncated token behind.
type Store struct {
	path string
}

// Config holds file driver configuration.
type Config struct {
	// Path is the location of the persisted token file.
	Path string
}

// New creates a file driver. The parent directory is created on demand.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Write persists data atomically with owner-only permissions.
func (s *Store) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Read returns the persisted payload, or (nil, nil) when no file exists.
func (s *Store) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return data, nil
}

// Delete removes the persisted file. A missing file is not an error.
func (s *Store) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
