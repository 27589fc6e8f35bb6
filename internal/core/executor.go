package core

import (
	"context"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// ExecutorClient is the abstract handle to the external batch system (C2, spec.md §4.2).
// Implementations must be safe for concurrent calls; the manager never holds a process-wide
// lock across one of these RPCs.
type ExecutorClient interface {
	// Submit is idempotent by jobKey: calling it twice for the same key must not start two runs.
	Submit(ctx context.Context, jobKey string, state model.JobState) (batchState string, err error)
	// PollMany reports current executor status for a batch of (jobKey, batchState) pairs,
	// positionally aligned with the input.
	PollMany(ctx context.Context, handles []ExecutorHandle) ([]model.ExecutorJobInfo, error)
	// FetchResult pulls the final artifacts and object definitions a completed job produced.
	FetchResult(ctx context.Context, jobKey, batchState string) (model.RuntimeJobResult, error)
	// CleanUp best-effort releases batch resources; errors are logged, never fatal to the job.
	CleanUp(ctx context.Context, jobKey, batchState string) error
}

// ExecutorHandle pairs a job key with its opaque batch handle for PollMany.
type ExecutorHandle struct {
	JobKey     string
	BatchState string
}
