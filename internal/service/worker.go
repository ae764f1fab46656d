package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/port"
)

// captureRun is the engine's handle on one in-flight attempt. Its fields are
// guarded by Engine.mu.
type captureRun struct {
	jobID           string
	attempt         int
	cancel          context.CancelFunc
	cancelRequested bool
	finished        bool
}

// runCapture executes one attempt outside the engine lock and reports the
// outcome back through finish.
func (e *Engine) runCapture(ctx context.Context, run *captureRun, req port.CaptureRequest) {
	defer e.wg.Done()
	defer run.cancel()

	var (
		artifact *domain.Artifact
		err      error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("capture panicked: %v", r)
			}
		}()
		artifact, err = e.capturer.Capture(ctx, req, func(percent float64) {
			e.onProgress(run, percent)
		})
	}()

	e.finish(run, artifact, err)
}

func (e *Engine) onProgress(run *captureRun, percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Late events from a finished or cancelling attempt are discarded.
	if run.finished || run.cancelRequested || e.active[run.jobID] != run {
		return
	}

	job, ok := e.jobs[run.jobID]
	if !ok {
		return
	}
	if job.AdvanceProgress(percent) {
		e.publish(domain.EventProgress, job)
	}
}

func (e *Engine) finish(run *captureRun, artifact *domain.Artifact, captureErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run.finished = true
	if e.active[run.jobID] == run {
		delete(e.active, run.jobID)
	}

	job, ok := e.jobs[run.jobID]
	if !ok || job.State != domain.JobStateRecording {
		logger.Error.Printf("capture for job %s finished but the job is no longer recording", run.jobID)
		e.discardArtifact(run.jobID, artifact, captureErr)
		e.dispatchLocked()
		return
	}

	now := e.now()
	aborted := isAbort(captureErr)

	switch {
	case run.cancelRequested:
		e.discardArtifact(run.jobID, artifact, captureErr)
		_ = job.Cancel(now)
		logger.Info.Printf("job %s cancelled after capture acknowledged abort", job.ID)
		e.publish(domain.EventCancelled, job)

	case e.closed && aborted:
		_ = job.Interrupt()
		logger.Info.Printf("job %s interrupted by shutdown, left queued", job.ID)

	case captureErr != nil:
		reason := (&domain.CaptureError{Err: captureErr}).Error()
		_ = job.Fail(reason, now)
		logger.Error.Printf("job %s failed: %s", job.ID, logger.SanitizeForLog(reason))
		e.publish(domain.EventFailed, job)

	case artifact == nil:
		_ = job.Fail("capture returned no artifact", now)
		logger.Error.Printf("job %s failed: capture returned no artifact", job.ID)
		e.publish(domain.EventFailed, job)

	default:
		if err := job.Complete(*artifact, now); err != nil {
			_ = job.Fail(err.Error(), now)
			logger.Error.Printf("job %s failed: %v", job.ID, err)
			e.discardArtifact(job.ID, artifact, nil)
			e.publish(domain.EventFailed, job)
			break
		}
		e.quota.Track(artifact.SizeBytes)
		logger.Info.Printf("job %s completed: %s (%d bytes)", job.ID, logger.SanitizeForLog(artifact.Filename), artifact.SizeBytes)
		e.publish(domain.EventCompleted, job)
		e.enforceQuotaLocked()
	}

	e.dispatchLocked()
}

// discardArtifact removes a file produced by an attempt whose result is not kept.
func (e *Engine) discardArtifact(jobID string, artifact *domain.Artifact, captureErr error) {
	if artifact == nil || captureErr != nil || artifact.Filename == "" {
		return
	}
	if err := e.artifacts.Remove(context.Background(), artifact.Filename); err != nil {
		logger.Warn.Printf("failed to discard artifact of job %s: %v", jobID, err)
	}
}

func isAbort(err error) bool {
	return errors.Is(err, domain.ErrAborted) || errors.Is(err, context.Canceled)
}
