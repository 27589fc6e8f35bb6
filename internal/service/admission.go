package service

import (
	"context"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
)

// runningSetStatuses is admission's view of "running": LAUNCH_SCHEDULED plus every in-executor
// status. LAUNCH_SCHEDULED counts against maxConcurrentJobs — admission is pessimistic about
// jobs that have been handed off to launchJob but may not yet have reached the executor
// (SPEC_FULL.md §9 Open Question decision).
var runningSetStatuses = []model.CacheStatus{
	model.CacheStatusLaunchScheduled,
	model.CacheStatusSentToExecutor,
	model.CacheStatusQueuedInExecutor,
	model.CacheStatusRunningInExecutor,
}

// admitLaunchable implements spec.md §4.6 cache poll step 3: query the launchable (QUEUED_IN_TRAC)
// and running sets, compute available = max(0, maxConcurrentJobs - |running|), and return the
// first `available` launchable entries in enumeration order (FIFO admission, spec.md §8 S6).
//
// The running-set query includes ticketed entries so a job mid-launch on another replica still
// counts against the cap; the launchable query does not, since an already-ticketed QUEUED_IN_TRAC
// entry is already being dispatched and would otherwise be offered twice.
func admitLaunchable(ctx context.Context, cache core.JobCache, maxConcurrentJobs int) ([]core.CacheEntry, error) {
	launchable, err := cache.QueryState(ctx, []model.CacheStatus{model.CacheStatusQueuedInTrac}, false)
	if err != nil {
		return nil, err
	}
	if len(launchable) == 0 {
		return nil, nil
	}

	running, err := cache.QueryState(ctx, runningSetStatuses, true)
	if err != nil {
		return nil, err
	}

	available := maxConcurrentJobs - len(running)
	if available <= 0 {
		return nil, nil
	}
	if available > len(launchable) {
		available = len(launchable)
	}
	return launchable[:available], nil
}
