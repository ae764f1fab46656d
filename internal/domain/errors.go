package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidState  = errors.New("invalid job state")
	ErrInvalidConfig = errors.New("invalid engine config")
	ErrAborted       = errors.New("capture aborted")
	ErrEmptyArtifact = errors.New("artifact is empty")
)

// ValidationError rejects a capture request before any job exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CaptureError is a failure reported by the capture capability.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// QuotaExceededError reports an overage that was not cleaned up.
type QuotaExceededError struct {
	UsedBytes  int64
	LimitBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d of %d bytes used", e.UsedBytes, e.LimitBytes)
}

type StorageIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageIOError) Unwrap() error {
	return e.Err
}

func invalidTransition(j *Job, to JobState) error {
	return fmt.Errorf("%w: job %s is %s, cannot become %s", ErrInvalidState, j.ID, j.State, to)
}
