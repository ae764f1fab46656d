package service

import (
	"context"
	"sort"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/port"
)

// QuotaManager tracks the bytes held by completed jobs and evicts the oldest
// ones when the budget is exceeded. It is not safe for concurrent use; the
// engine calls it while holding its lock.
type QuotaManager struct {
	artifacts port.ArtifactStore
	total     int64
}

func NewQuotaManager(artifacts port.ArtifactStore) *QuotaManager {
	return &QuotaManager{artifacts: artifacts}
}

type QuotaResult struct {
	Evicted  []string
	Exceeded *domain.QuotaExceededError
}

func (q *QuotaManager) Track(sizeBytes int64) {
	q.total += sizeBytes
}

func (q *QuotaManager) Release(sizeBytes int64) {
	q.total -= sizeBytes
	if q.total < 0 {
		q.total = 0
	}
}

func (q *QuotaManager) Total() int64 {
	return q.total
}

// Enforce brings usage back under cfg.StorageLimitBytes by deleting the
// artifacts of the oldest completed jobs. Candidates whose artifact cannot be
// removed are skipped. With AutoCleanup disabled it only reports the overage.
func (q *QuotaManager) Enforce(ctx context.Context, cfg domain.EngineConfig, completed []*domain.Job) QuotaResult {
	var result QuotaResult
	if q.total <= cfg.StorageLimitBytes {
		return result
	}

	if !cfg.AutoCleanup {
		result.Exceeded = &domain.QuotaExceededError{UsedBytes: q.total, LimitBytes: cfg.StorageLimitBytes}
		logger.Warn.Printf("storage quota exceeded and auto cleanup disabled: %d of %d bytes", q.total, cfg.StorageLimitBytes)
		return result
	}

	candidates := oldestCompletedFirst(completed)
	for _, job := range candidates {
		if q.total <= cfg.StorageLimitBytes {
			break
		}

		if err := q.artifacts.Remove(ctx, job.Artifact.Filename); err != nil {
			logger.Error.Printf("eviction of job %s skipped: %v", job.ID, err)
			continue
		}

		q.Release(job.Artifact.SizeBytes)
		result.Evicted = append(result.Evicted, job.ID)
		logger.Info.Printf("evicted job %s (%d bytes) to free storage", job.ID, job.Artifact.SizeBytes)
	}

	if q.total > cfg.StorageLimitBytes {
		result.Exceeded = &domain.QuotaExceededError{UsedBytes: q.total, LimitBytes: cfg.StorageLimitBytes}
		logger.Warn.Printf("storage still over quota after eviction: %d of %d bytes", q.total, cfg.StorageLimitBytes)
	}

	return result
}

// oldestCompletedFirst orders by completion time, then by creation sequence.
func oldestCompletedFirst(jobs []*domain.Job) []*domain.Job {
	out := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.State == domain.JobStateCompleted && j.Artifact != nil && j.CompletedAt != nil {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := *out[a].CompletedAt, *out[b].CompletedAt
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return out[a].Seq < out[b].Seq
	})
	return out
}
