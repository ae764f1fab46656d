package port

import (
	"context"

	"github.com/bnema/tikrec/internal/domain"
)

// JobCheckpoint persists snapshots of the job table for crash recovery.
type JobCheckpoint interface {
	SaveJobs(ctx context.Context, jobs []domain.Job) error
	LoadJobs(ctx context.Context) ([]domain.Job, error)
	Close() error
}
