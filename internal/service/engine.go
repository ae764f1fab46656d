package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/port"
)

var ErrEngineClosed = errors.New("engine is shut down")

// Engine owns the job table. All mutations happen under mu, so completions
// and their quota checks are processed one at a time.
type Engine struct {
	mu     sync.Mutex
	cfg    domain.EngineConfig
	jobs   map[string]*domain.Job
	queue  []string
	active map[string]*captureRun
	seq    int64
	closed bool

	capturer   port.Capturer
	artifacts  port.ArtifactStore
	checkpoint port.JobCheckpoint
	bus        *EventBus
	quota      *QuotaManager

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	flushMu    sync.Mutex
	now        func() time.Time
}

// NewEngine builds an engine. checkpoint may be nil.
func NewEngine(
	cfg domain.EngineConfig,
	capturer port.Capturer,
	artifacts port.ArtifactStore,
	checkpoint port.JobCheckpoint,
	bus *EventBus,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		bus = NewEventBus(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		jobs:       make(map[string]*domain.Job),
		active:     make(map[string]*captureRun),
		capturer:   capturer,
		artifacts:  artifacts,
		checkpoint: checkpoint,
		bus:        bus,
		quota:      NewQuotaManager(artifacts),
		baseCtx:    ctx,
		baseCancel: cancel,
		now:        time.Now,
	}, nil
}

// Submit validates the request and queues a new job. It never waits for the capture.
func (e *Engine) Submit(sourceURL string, duration int, quality domain.Quality) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrEngineClosed
	}

	job, err := domain.NewJob(sourceURL, duration, quality, e.now())
	if err != nil {
		logger.Warn.Printf("rejected capture request for %s: %v", logger.SanitizeForLog(sourceURL), err)
		return "", err
	}
	e.seq++
	job.Seq = e.seq
	e.jobs[job.ID] = job
	e.queue = append(e.queue, job.ID)

	logger.Info.Printf("job %s queued: url=%s duration=%ds quality=%s", job.ID, logger.SanitizeForLog(sourceURL), duration, quality)
	e.publish(domain.EventQueued, job)
	e.dispatchLocked()

	return job.ID, nil
}

// Cancel stops a queued job immediately. For a recording job it only signals
// the capture; the job becomes Cancelled once the capture acknowledges.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.lookup(id)
	if err != nil {
		return err
	}

	switch job.State {
	case domain.JobStateQueued:
		e.removeFromQueue(id)
		if err := job.Cancel(e.now()); err != nil {
			return err
		}
		logger.Info.Printf("job %s cancelled while queued", id)
		e.publish(domain.EventCancelled, job)
		return nil
	case domain.JobStateRecording:
		run := e.active[id]
		if run != nil && !run.cancelRequested {
			run.cancelRequested = true
			run.cancel()
			logger.Info.Printf("job %s cancellation requested", id)
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot cancel %s job %s", domain.ErrInvalidState, job.State, id)
	}
}

// Retry re-admits a Failed job at the tail of the queue.
func (e *Engine) Retry(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	job, err := e.lookup(id)
	if err != nil {
		return err
	}
	if err := job.Requeue(); err != nil {
		return err
	}
	e.queue = append(e.queue, id)

	logger.Info.Printf("job %s re-queued for attempt %d", id, job.Attempts+1)
	e.publish(domain.EventQueued, job)
	e.dispatchLocked()
	return nil
}

// Delete removes a finished job and its artifact.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.lookup(id)
	if err != nil {
		return err
	}
	if !job.Deletable() {
		return fmt.Errorf("%w: cannot delete %s job %s", domain.ErrInvalidState, job.State, id)
	}

	if job.State == domain.JobStateCompleted && job.Artifact != nil {
		if err := e.artifacts.Remove(ctx, job.Artifact.Filename); err != nil {
			logger.Error.Printf("failed to delete artifact of job %s: %v", id, err)
			return &domain.StorageIOError{Op: "delete", Path: job.Artifact.Filename, Err: err}
		}
		e.quota.Release(job.Artifact.SizeBytes)
	}

	delete(e.jobs, id)
	logger.Info.Printf("job %s deleted", id)
	return nil
}

func (e *Engine) Get(id string) (domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	return job.Snapshot(), nil
}

// ListJobs returns snapshots in creation order.
func (e *Engine) ListJobs() []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Subscribe() *Subscription {
	return e.bus.Subscribe()
}

// SetConfig applies a new configuration to future dispatch and quota decisions.
// Running captures are never preempted.
func (e *Engine) SetConfig(cfg domain.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	logger.Info.Printf("engine config updated: parallel=%d limit=%d auto_cleanup=%t", cfg.MaxConcurrentJobs, cfg.StorageLimitBytes, cfg.AutoCleanup)
	e.dispatchLocked()
	return nil
}

func (e *Engine) Config() domain.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// IsRecording is derived from the table.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, job := range e.jobs {
		if job.State == domain.JobStateRecording {
			return true
		}
	}
	return false
}

func (e *Engine) Usage() domain.Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usageLocked()
}

// Restore loads the checkpoint into an empty table. Jobs that were queued or
// recording are queued again in their original order.
func (e *Engine) Restore(ctx context.Context) error {
	if e.checkpoint == nil {
		return nil
	}

	saved, err := e.checkpoint.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	saved = e.verifyArtifacts(ctx, saved)

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.jobs) > 0 {
		return fmt.Errorf("restore into non-empty job table")
	}

	sort.SliceStable(saved, func(a, b int) bool { return saved[a].Seq < saved[b].Seq })

	var requeued int
	for i := range saved {
		job := saved[i]
		if !job.State.Valid() {
			logger.Warn.Printf("skipping checkpointed job %s with unknown state %q", job.ID, job.State)
			continue
		}
		if job.State.IsActive() {
			_ = job.Interrupt()
			e.queue = append(e.queue, job.ID)
			requeued++
		}
		if job.State == domain.JobStateCompleted && job.Artifact != nil {
			e.quota.Track(job.Artifact.SizeBytes)
		}
		if job.Seq > e.seq {
			e.seq = job.Seq
		}
		e.jobs[job.ID] = &job
	}

	logger.Info.Printf("restored %d jobs from checkpoint (%d re-queued)", len(e.jobs), requeued)
	e.dispatchLocked()
	return nil
}

// verifyArtifacts drops Completed jobs whose recording is gone or empty and
// corrects recorded sizes that no longer match the file. Files that cannot be
// checked keep their recorded size.
func (e *Engine) verifyArtifacts(ctx context.Context, saved []domain.Job) []domain.Job {
	kept := make([]domain.Job, 0, len(saved))
	for _, job := range saved {
		if job.State != domain.JobStateCompleted || job.Artifact == nil {
			kept = append(kept, job)
			continue
		}

		size, err := e.artifacts.Size(ctx, job.Artifact.Filename)
		switch {
		case errors.Is(err, os.ErrNotExist), err == nil && size <= 0:
			logger.Warn.Printf("dropping completed job %s: recording %s is missing", job.ID, logger.SanitizeForLog(job.Artifact.Filename))
			continue
		case err != nil:
			logger.Warn.Printf("could not check recording of job %s: %v", job.ID, err)
		case size != job.Artifact.SizeBytes:
			logger.Warn.Printf("job %s recording is %d bytes, checkpoint said %d", job.ID, size, job.Artifact.SizeBytes)
			artifact := *job.Artifact
			artifact.SizeBytes = size
			job.Artifact = &artifact
		}
		kept = append(kept, job)
	}
	return kept
}

// Flush writes a snapshot of the job table to the checkpoint.
func (e *Engine) Flush(ctx context.Context) error {
	if e.checkpoint == nil {
		return nil
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	jobs := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.checkpoint.SaveJobs(ctx, jobs); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Shutdown aborts running captures, waits for them to acknowledge and
// flushes the checkpoint. Interrupted jobs are left queued.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for captures: %w", ctx.Err())
	}

	return e.Flush(ctx)
}

// dispatchLocked starts queued jobs, oldest first, while slots are free.
func (e *Engine) dispatchLocked() {
	if e.closed {
		return
	}

	for len(e.active) < e.cfg.MaxConcurrentJobs && len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]

		job, ok := e.jobs[id]
		if !ok || job.State != domain.JobStateQueued {
			continue
		}
		if err := job.Start(e.now()); err != nil {
			logger.Error.Printf("failed to start job %s: %v", id, err)
			continue
		}

		ctx, cancel := context.WithCancel(e.baseCtx)
		run := &captureRun{jobID: id, attempt: job.Attempts, cancel: cancel}
		e.active[id] = run

		req := port.CaptureRequest{
			JobID:     job.ID,
			SourceURL: job.SourceURL,
			Duration:  job.Duration,
			Quality:   job.Quality,
			OutputDir: e.cfg.DownloadPath,
		}

		logger.Info.Printf("job %s recording (attempt %d, %d/%d slots)", id, job.Attempts, len(e.active), e.cfg.MaxConcurrentJobs)
		e.publish(domain.EventRecording, job)

		e.wg.Add(1)
		go e.runCapture(ctx, run, req)
	}
}

func (e *Engine) enforceQuotaLocked() {
	completed := make([]*domain.Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		if job.State == domain.JobStateCompleted {
			completed = append(completed, job)
		}
	}

	result := e.quota.Enforce(context.Background(), e.cfg, completed)
	for _, id := range result.Evicted {
		delete(e.jobs, id)
	}

	if len(result.Evicted) == 0 && result.Exceeded == nil {
		return
	}

	usage := e.usageLocked()
	ev := domain.Event{
		Kind:    domain.EventQuota,
		Usage:   &usage,
		Evicted: result.Evicted,
		At:      e.now(),
	}
	if result.Exceeded != nil {
		ev.Error = result.Exceeded.Error()
	}
	e.bus.Publish(ev)
}

func (e *Engine) usageLocked() domain.Usage {
	var completed int
	for _, job := range e.jobs {
		if job.State == domain.JobStateCompleted {
			completed++
		}
	}
	total := e.quota.Total()
	return domain.Usage{
		TotalCompletedBytes: total,
		StorageLimitBytes:   e.cfg.StorageLimitBytes,
		CompletedJobs:       completed,
		OverBudget:          total > e.cfg.StorageLimitBytes,
	}
}

func (e *Engine) snapshotLocked() []domain.Job {
	out := make([]domain.Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		out = append(out, job.Snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out
}

func (e *Engine) lookup(id string) (*domain.Job, error) {
	job, ok := e.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (e *Engine) removeFromQueue(id string) {
	for i, queued := range e.queue {
		if queued == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

func (e *Engine) publish(kind domain.EventKind, job *domain.Job) {
	e.bus.Publish(domain.JobEvent(kind, job, e.now()))
}
