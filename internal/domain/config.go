package domain

import "fmt"

const (
	MinConcurrentJobs = 1
	MaxConcurrentJobs = 5
)

type EngineConfig struct {
	DownloadPath      string `json:"download_path"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	StorageLimitBytes int64  `json:"storage_limit_bytes"`
	AutoCleanup       bool   `json:"auto_cleanup"`
}

func (c EngineConfig) Validate() error {
	if c.MaxConcurrentJobs < MinConcurrentJobs || c.MaxConcurrentJobs > MaxConcurrentJobs {
		return fmt.Errorf("%w: max concurrent jobs %d outside [%d,%d]", ErrInvalidConfig, c.MaxConcurrentJobs, MinConcurrentJobs, MaxConcurrentJobs)
	}
	if c.StorageLimitBytes < 0 {
		return fmt.Errorf("%w: negative storage limit %d", ErrInvalidConfig, c.StorageLimitBytes)
	}
	if c.DownloadPath == "" {
		return fmt.Errorf("%w: download path is required", ErrInvalidConfig)
	}
	return nil
}

// Usage is the storage accounting snapshot reported by the engine.
type Usage struct {
	TotalCompletedBytes int64 `json:"total_completed_bytes"`
	StorageLimitBytes   int64 `json:"storage_limit_bytes"`
	CompletedJobs       int   `json:"completed_jobs"`
	OverBudget          bool  `json:"over_budget"`
}
