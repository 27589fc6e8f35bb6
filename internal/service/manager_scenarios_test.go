package service

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

// waitFor polls check every 5ms until it returns true or the deadline elapses, failing the test
// on timeout. These scenario tests are driven by a real, ticking Manager; they cannot assert on a
// fixed number of poll cycles, only on the terminal state the control loop eventually reaches.
func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// S1: a healthy IMPORT_MODEL job runs end to end from admission through removal with no faults.
func TestScenario_HappyPathRunsToRemoval(t *testing.T) {
	executor := &fakeExecutor{
		pollFn: func(_ context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
			infos := make([]model.ExecutorJobInfo, 0, len(handles))
			for _, h := range handles {
				infos = append(infos, model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusSucceeded})
			}
			return infos, nil
		},
		fetchFn: func(_ context.Context, _, _ string) (model.RuntimeJobResult, error) {
			return model.RuntimeJobResult{Outputs: map[string]model.RuntimeOutput{
				"model": {ObjectType: model.ObjectTypeModel, Payload: []byte(`{"weights":"..."}`)},
			}}, nil
		},
	}
	mgr, cache := newTestManager(t, &fakeMetadata{}, executor)
	mgr.cfg.ScheduledRemovalDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := mgr.AddNewJob(ctx, model.JobState{Tenant: "tenant-a", JobType: model.JobTypeImportModel, Definition: []byte(`{"inputs":[]}`)})
	require.NoError(t, err)

	go mgr.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		_, _, _, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
		return err == nil && !ok
	})
}

// S2: the executor reports the job FAILED; the job still reaches RESULTS_SAVED with tracStatus
// FAILED and is eventually removed, rather than getting stuck.
func TestScenario_ExecutorFailureEndsInResultsSavedFailed(t *testing.T) {
	executor := &fakeExecutor{
		pollFn: func(_ context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
			infos := make([]model.ExecutorJobInfo, 0, len(handles))
			for _, h := range handles {
				infos = append(infos, model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusFailed, Diagnostics: "container exited 1"})
			}
			return infos, nil
		},
	}
	mgr, cache := newTestManager(t, &fakeMetadata{}, executor)
	// Long enough that the RESULTS_SAVED/FAILED state is reliably observable before removal.
	mgr.cfg.ScheduledRemovalDelay = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := mgr.AddNewJob(ctx, model.JobState{Tenant: "tenant-a", JobType: model.JobTypeImportModel, Definition: []byte(`{"inputs":[]}`)})
	require.NoError(t, err)

	go mgr.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		state, _, status, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
		return err == nil && ok && status == model.CacheStatusResultsSaved && state.TracStatus == model.TracStatusFailed
	})

	waitFor(t, 2*time.Second, func() bool {
		_, _, _, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
		return err == nil && !ok
	})
}

// S3: the executor is transiently unavailable during launch; the retry-or-fail wrapper retries
// rather than failing the job outright, and the job still reaches the executor once it recovers.
func TestScenario_TransientExecutorUnavailableDuringLaunchRecovers(t *testing.T) {
	executor := &fakeExecutor{
		submitFn: flakySubmit(2, "batch-s3"),
		pollFn: func(_ context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
			infos := make([]model.ExecutorJobInfo, 0, len(handles))
			for _, h := range handles {
				infos = append(infos, model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusRunning})
			}
			return infos, nil
		},
	}
	mgr, cache := newTestManager(t, &fakeMetadata{}, executor)
	mgr.cfg.ProcessingRetryLimit = 5 // the two transient failures must not exhaust the budget

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := mgr.AddNewJob(ctx, model.JobState{Tenant: "tenant-a", JobType: model.JobTypeImportModel, Definition: []byte(`{"inputs":[]}`)})
	require.NoError(t, err)

	go mgr.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		state, _, status, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
		return err == nil && ok && status == model.CacheStatusRunningInExecutor && state.BatchState != nil && *state.BatchState == "batch-s3"
	})

	_, _, status, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, model.CacheStatusProcessingFailed, status, "a recovered transient executor outage must not fail the job")
}

// S4: fetchJobResult fails every attempt with a retryable executor-unavailable error; once
// ProcessingRetryLimit is exhausted the job transitions to PROCESSING_FAILED and, on the next
// dispatch, still reaches a terminal RESULTS_SAVED/FAILED record rather than being stuck.
func TestScenario_RetryLimitExceededReachesProcessingFailed(t *testing.T) {
	executor := &fakeExecutor{
		pollFn: func(_ context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
			infos := make([]model.ExecutorJobInfo, 0, len(handles))
			for _, h := range handles {
				infos = append(infos, model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusSucceeded})
			}
			return infos, nil
		},
		fetchFn: func(_ context.Context, _, _ string) (model.RuntimeJobResult, error) {
			return model.RuntimeJobResult{}, errors.ExecutorUnavailable("executor storage endpoint unreachable")
		},
	}
	mgr, cache := newTestManager(t, &fakeMetadata{}, executor)
	mgr.cfg.ProcessingRetryLimit = 2
	mgr.cfg.CachePollInterval = 5 * time.Millisecond
	mgr.cfg.ExecutorTicketDuration = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := mgr.AddNewJob(ctx, model.JobState{Tenant: "tenant-a", JobType: model.JobTypeImportModel, Definition: []byte(`{"inputs":[]}`)})
	require.NoError(t, err)

	go mgr.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		_, _, status, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
		return err == nil && ok && status == model.CacheStatusResultsSaved
	})

	state, _, _, ok, err := cache.GetLatestEntry(ctx, job.JobKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TracStatusFailed, state.TracStatus)
}

// S6: with a concurrency cap of 2, only 2 of 5 queued jobs are admitted at a time; admission
// backfills as running jobs complete rather than ever over-admitting.
func TestScenario_AdmissionCapLimitsConcurrentLaunches(t *testing.T) {
	const cap = 2
	const total = 5

	var inFlight atomic.Int32
	var maxObserved atomic.Int32
	bumpMax := func() {
		for {
			cur := maxObserved.Load()
			n := inFlight.Load()
			if n <= cur || maxObserved.CompareAndSwap(cur, n) {
				return
			}
		}
	}

	var mu stdsync.Mutex
	settled := map[string]bool{}

	executor := &fakeExecutor{
		submitFn: func(_ context.Context, _ string, _ model.JobState) (string, error) {
			inFlight.Add(1)
			bumpMax()
			return "batch", nil
		},
		// pollFn reports every in-flight job SUCCEEDED on its very first observation, and each
		// job leaves the running set (admission's view of "in flight") exactly once, the moment
		// that first observation is made.
		pollFn: func(_ context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
			infos := make([]model.ExecutorJobInfo, 0, len(handles))
			for _, h := range handles {
				infos = append(infos, model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusSucceeded})

				mu.Lock()
				already := settled[h.JobKey]
				settled[h.JobKey] = true
				mu.Unlock()
				if !already {
					inFlight.Add(-1)
				}
			}
			return infos, nil
		},
		fetchFn: func(_ context.Context, _, _ string) (model.RuntimeJobResult, error) {
			return model.RuntimeJobResult{Outputs: map[string]model.RuntimeOutput{
				"model": {ObjectType: model.ObjectTypeModel, Payload: []byte(`{}`)},
			}}, nil
		},
	}
	mgr, cache := newTestManager(t, &fakeMetadata{}, executor)
	mgr.cfg.MaxConcurrentJobs = cap
	mgr.cfg.ScheduledRemovalDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make([]model.JobState, 0, total)
	for i := 0; i < total; i++ {
		job, err := mgr.AddNewJob(ctx, model.JobState{Tenant: "tenant-a", JobType: model.JobTypeImportModel, Definition: []byte(`{"inputs":[]}`)})
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	go mgr.Run(ctx)

	waitFor(t, 3*time.Second, func() bool {
		for _, j := range jobs {
			_, _, _, ok, err := cache.GetLatestEntry(ctx, j.JobKey)
			if err != nil || ok {
				return false
			}
		}
		return true
	})

	assert.LessOrEqualf(t, int(maxObserved.Load()), cap, "admission must never let more than %d jobs run concurrently", cap)
}
