package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/port"
)

const fileName = "jobs.json"

// Store checkpoints the job table as one JSON document, replaced atomically
// on every save.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dataDir, fileName)}, nil
}

type document struct {
	Version int          `json:"version"`
	Jobs    []domain.Job `json:"jobs"`
}

const documentVersion = 1

func (s *Store) SaveJobs(_ context.Context, jobs []domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobs == nil {
		jobs = []domain.Job{}
	}
	data, err := json.MarshalIndent(document{Version: documentVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return &domain.StorageIOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &domain.StorageIOError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

// LoadJobs returns nil when no checkpoint has been written yet.
func (s *Store) LoadJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageIOError{Op: "read", Path: s.path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", doc.Version)
	}
	return doc.Jobs, nil
}

func (s *Store) Close() error {
	return nil
}

var _ port.JobCheckpoint = (*Store)(nil)
