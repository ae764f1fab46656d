package port

import (
	"context"

	"github.com/bnema/tikrec/internal/domain"
)

type CaptureRequest struct {
	JobID     string
	SourceURL string
	Duration  int
	Quality   domain.Quality
	OutputDir string
}

// ProgressFunc receives percentages in [0,100] in the order they were produced.
type ProgressFunc func(percent float64)

// Capturer performs one capture. It calls onProgress zero or more times and
// returns exactly one outcome: an artifact, a failure, or an abort
// acknowledgment (an error matching domain.ErrAborted or context.Canceled)
// once ctx is cancelled. It must not call onProgress after returning.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest, onProgress ProgressFunc) (*domain.Artifact, error)
}
