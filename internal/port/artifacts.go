package port

import "context"

// ArtifactStore owns stored capture files.
type ArtifactStore interface {
	Size(ctx context.Context, filename string) (int64, error)
	Remove(ctx context.Context, filename string) error
}
