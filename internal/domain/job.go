package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	MinDuration = 5
	MaxDuration = 180
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRecording JobState = "recording"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsActive reports whether a job in this state occupies the queue or a slot.
func (s JobState) IsActive() bool {
	return s == JobStateQueued || s == JobStateRecording
}

// IsTerminal reports whether the state ends an attempt.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRecording, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

type Quality string

const (
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
	Quality1440p Quality = "1440p"
)

// Height returns the maximum video height for the quality, or 0 if unknown.
func (q Quality) Height() int {
	switch q {
	case Quality720p:
		return 720
	case Quality1080p:
		return 1080
	case Quality1440p:
		return 1440
	}
	return 0
}

func (q Quality) Valid() bool {
	return q.Height() > 0
}

type Artifact struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

type Job struct {
	ID          string     `json:"id"`
	SourceURL   string     `json:"source_url"`
	Duration    int        `json:"duration"`
	Quality     Quality    `json:"quality"`
	State       JobState   `json:"state"`
	Progress    float64    `json:"progress"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	Seq         int64      `json:"seq"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob validates a capture request and returns a Queued job.
func NewJob(sourceURL string, duration int, quality Quality, now time.Time) (*Job, error) {
	if err := ValidateRequest(sourceURL, duration, quality); err != nil {
		return nil, err
	}
	return &Job{
		ID:        uuid.NewString(),
		SourceURL: sourceURL,
		Duration:  duration,
		Quality:   quality,
		State:     JobStateQueued,
		CreatedAt: now,
	}, nil
}

// Start moves a Queued job to Recording for a new attempt.
func (j *Job) Start(now time.Time) error {
	if j.State != JobStateQueued {
		return invalidTransition(j, JobStateRecording)
	}
	j.State = JobStateRecording
	j.Progress = 0
	j.Attempts++
	j.StartedAt = &now
	return nil
}

// AdvanceProgress records a progress update. Values are clamped to [0,100] and
// updates that would move progress backwards are ignored. It reports whether
// the stored progress changed. NaN is dropped.
func (j *Job) AdvanceProgress(percent float64) bool {
	if j.State != JobStateRecording || math.IsNaN(percent) {
		return false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= j.Progress {
		return false
	}
	j.Progress = percent
	return true
}

func (j *Job) Complete(artifact Artifact, now time.Time) error {
	if j.State != JobStateRecording {
		return invalidTransition(j, JobStateCompleted)
	}
	if artifact.SizeBytes <= 0 {
		return &StorageIOError{Op: "complete", Path: artifact.Filename, Err: ErrEmptyArtifact}
	}
	j.State = JobStateCompleted
	j.Progress = 100
	j.Artifact = &artifact
	j.Error = ""
	j.CompletedAt = &now
	return nil
}

func (j *Job) Fail(reason string, now time.Time) error {
	if j.State != JobStateRecording {
		return invalidTransition(j, JobStateFailed)
	}
	j.State = JobStateFailed
	j.Error = reason
	j.Artifact = nil
	j.CompletedAt = &now
	return nil
}

func (j *Job) Cancel(now time.Time) error {
	if !j.State.IsActive() {
		return invalidTransition(j, JobStateCancelled)
	}
	j.State = JobStateCancelled
	j.Artifact = nil
	j.CompletedAt = &now
	return nil
}

// Requeue resets a Failed job for another attempt.
func (j *Job) Requeue() error {
	if j.State != JobStateFailed {
		return invalidTransition(j, JobStateQueued)
	}
	j.State = JobStateQueued
	j.Progress = 0
	j.Error = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	return nil
}

// Interrupt returns a Recording job to the queue without counting it as a
// failure. Used when the process stops mid-capture.
func (j *Job) Interrupt() error {
	if !j.State.IsActive() {
		return invalidTransition(j, JobStateQueued)
	}
	j.State = JobStateQueued
	j.Progress = 0
	j.StartedAt = nil
	return nil
}

// Deletable reports whether the record may be removed from the table.
func (j *Job) Deletable() bool {
	return j.State.IsTerminal()
}

func (j *Job) Snapshot() Job {
	c := *j
	if j.Artifact != nil {
		a := *j.Artifact
		c.Artifact = &a
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
