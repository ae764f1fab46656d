package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/port"
)

var ErrInvalidName = errors.New("invalid artifact name")

// Store resolves artifact names against a base directory. Absolute names are
// used as is, since artifacts stay where they were recorded even after the
// download path changes.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *Store) Size(_ context.Context, name string) (int64, error) {
	path, err := s.resolve(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, &domain.StorageIOError{Op: "stat", Path: path, Err: err}
	}
	return info.Size(), nil
}

// Remove deletes the artifact. An artifact that is already gone counts as removed.
func (s *Store) Remove(_ context.Context, name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.StorageIOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Open returns the artifact for streaming to a client.
func (s *Store) Open(_ context.Context, name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.StorageIOError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

var _ port.ArtifactStore = (*Store)(nil)
