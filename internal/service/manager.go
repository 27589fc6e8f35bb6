package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tracorch/jobcore/config"
	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/job"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
	"github.com/tracorch/jobcore/internal/observability/metrics"
	"github.com/tracorch/jobcore/internal/observability/statsd"
)

// updateSetStatuses is the set of cacheStatus values the cache poll loop dispatches directly
// (spec.md §4.6 step 1). QUEUED_IN_TRAC is excluded — it is admission-gated and dispatched
// separately by admitLaunchable — and so is SCHEDULED_TO_REMOVE, whose removeFromCache runs only
// after its delay elapses (scheduleDelayedRemoval), never from this poll.
var updateSetStatuses = []model.CacheStatus{
	model.CacheStatusLaunchScheduled,
	model.CacheStatusExecutorComplete,
	model.CacheStatusExecutorSucceeded,
	model.CacheStatusExecutorFailed,
	model.CacheStatusResultsReceived,
	model.CacheStatusResultsInvalid,
	model.CacheStatusResultsSaved,
	model.CacheStatusReadyToRemove,
	model.CacheStatusProcessingFailed,
}

// executorRunningStatuses is the set the executor poller watches (spec.md §4.6: "driven only by
// the executor poller", row 3 of the state machine table).
var executorRunningStatuses = []model.CacheStatus{
	model.CacheStatusSentToExecutor,
	model.CacheStatusQueuedInExecutor,
	model.CacheStatusRunningInExecutor,
}

type ticketKind int

const (
	ticketCache ticketKind = iota
	ticketExecutor
)

type dispatchEntry struct {
	ticket ticketKind
	op     func(ctx context.Context, state model.JobState) (model.JobState, error)
}

// Manager implements C6 (spec.md §4.6): the control loop that polls the cache and the executor,
// dispatches operations through JobProcessor under ticket discipline, and bounds concurrency
// with a worker pool independent of the admission ceiling (spec.md §5), the way the teacher's
// scheduler.Runner drives scheduler.Tick off a ticker and rulesrunner fans work out across a
// fixed errgroup of workers.
type Manager struct {
	cache     core.JobCache
	executor  core.ExecutorClient
	processor *JobProcessor
	cfg       config.ManagerConfig
	logger    *slog.Logger
	metrics   statsd.Sink

	sem           *semaphore.Weighted
	dispatchTable map[model.CacheStatus]dispatchEntry

	cachePollErrors    atomic.Int64
	executorPollErrors atomic.Int64
}

// NewManager builds a Manager. metrics may be nil, in which case metric emission is a no-op.
func NewManager(cache core.JobCache, executor core.ExecutorClient, processor *JobProcessor, cfg config.ManagerConfig, logger *slog.Logger, sink statsd.Sink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Sanitize()
	cfg.CacheTicketDuration = normalizeTicketDuration(logger, "cache", cfg.CacheTicketDuration)
	cfg.ExecutorTicketDuration = normalizeTicketDuration(logger, "executor", cfg.ExecutorTicketDuration)

	m := &Manager{
		cache:     cache,
		executor:  executor,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		metrics:   sink,
		sem:       semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
	}
	m.dispatchTable = m.buildDispatchTable()
	return m
}

// normalizeTicketDuration clamps a configured ticket lease to whole seconds via job.LeasePolicy,
// the same lease-duration normalization the teacher uses for caller-supplied visibility timeouts,
// generalized here to the manager's own configured cache/executor ticket durations so a
// sub-second value from a hand-edited environment can't produce a lease shorter than the cache
// backend's own second-granularity TTL.
func normalizeTicketDuration(logger *slog.Logger, label string, d time.Duration) time.Duration {
	policy, err := job.NewLeasePolicy(d)
	if err != nil {
		return d
	}
	decision := policy.Resolve(d)
	if decision.Clamped() {
		logger.Warn("ticket duration clamped to whole seconds", "ticket", label, "requested", d, "resolvedSeconds", decision.Seconds)
	}
	return time.Duration(decision.Seconds) * time.Second
}

func (m *Manager) buildDispatchTable() map[model.CacheStatus]dispatchEntry {
	p := m.processor
	return map[model.CacheStatus]dispatchEntry{
		model.CacheStatusLaunchScheduled:   {ticket: ticketExecutor, op: p.LaunchJob},
		model.CacheStatusExecutorComplete:  {ticket: ticketExecutor, op: p.FetchJobResult},
		model.CacheStatusExecutorSucceeded: {ticket: ticketExecutor, op: p.FetchJobResult},
		model.CacheStatusExecutorFailed:    {ticket: ticketCache, op: p.SaveResultMetadata},
		model.CacheStatusResultsReceived:   {ticket: ticketCache, op: p.SaveResultMetadata},
		model.CacheStatusResultsInvalid:    {ticket: ticketCache, op: p.SaveResultMetadata},
		model.CacheStatusResultsSaved:      {ticket: ticketCache, op: p.CleanUpJob},
		model.CacheStatusReadyToRemove: {ticket: ticketCache, op: func(ctx context.Context, s model.JobState) (model.JobState, error) {
			return p.ScheduleRemoval(ctx, s, m.cfg.ScheduledRemovalDelay)
		}},
		model.CacheStatusProcessingFailed: {ticket: ticketCache, op: func(ctx context.Context, s model.JobState) (model.JobState, error) {
			return p.HandleProcessingFailed(ctx, s, statusOrDefault(s.StatusMessage, "processing failed"), lastError(s))
		}},
	}
}

func statusOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func lastError(state model.JobState) error {
	if state.Error == "" {
		return errors.ProcessingFailed("processing failed")
	}
	return errors.ProcessingFailed(state.Error)
}

// Run starts the cache and executor poll loops and blocks until ctx is cancelled or either loop
// returns a terminal error (an exhausted poll error budget, spec.md §4.7).
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("starting job manager", "startupDelay", m.cfg.StartupDelay)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(m.cfg.StartupDelay):
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.runCachePollLoop(gctx) })
	group.Go(func() error { return m.runExecutorPollLoop(gctx) })
	return group.Wait()
}

func (m *Manager) runCachePollLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CachePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.cachePollTick(ctx); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) runExecutorPollLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ExecutorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.executorPollTick(ctx); err != nil {
				return err
			}
		}
	}
}

// cachePollTick implements spec.md §4.6 cache poll steps 1-4: dispatch every update-set entry,
// then admit and dispatch as many QUEUED_IN_TRAC jobs as the running-set headroom allows.
func (m *Manager) cachePollTick(ctx context.Context) error {
	dispatched := 0

	entries, err := m.cache.QueryState(ctx, updateSetStatuses, false)
	if err != nil {
		if termErr := m.recordCachePollError(err); termErr != nil {
			return termErr
		}
	} else {
		for _, e := range entries {
			m.dispatchKnown(ctx, e.Key, e.Revision, e.CacheStatus)
			dispatched++
		}
	}

	launchable, err := admitLaunchable(ctx, m.cache, m.cfg.MaxConcurrentJobs)
	if err != nil {
		if termErr := m.recordCachePollError(err); termErr != nil {
			return termErr
		}
	} else {
		for _, e := range launchable {
			m.dispatchScheduleLaunch(ctx, e)
			dispatched++
		}
	}

	metrics.EmitPollTick(m.metrics, "cache", dispatched, int(m.cachePollErrors.Load()))
	return nil
}

// executorPollTick implements spec.md §4.6's executor poll algorithm: batch pollMany over every
// in-flight handle, then dispatch recordJobStatus only for jobs whose status actually changed.
func (m *Manager) executorPollTick(ctx context.Context) error {
	entries, err := m.cache.QueryState(ctx, executorRunningStatuses, false)
	if err != nil {
		return m.recordExecutorPollError(err)
	}

	handles := make([]core.ExecutorHandle, 0, len(entries))
	byKey := make(map[string]core.CacheEntry, len(entries))
	for _, e := range entries {
		if e.Value.BatchState == nil {
			continue
		}
		handles = append(handles, core.ExecutorHandle{JobKey: e.Key, BatchState: *e.Value.BatchState})
		byKey[e.Key] = e
	}
	if len(handles) == 0 {
		metrics.EmitPollTick(m.metrics, "executor", 0, int(m.executorPollErrors.Load()))
		return nil
	}

	infos, err := m.executor.PollMany(ctx, handles)
	if err != nil {
		return m.recordExecutorPollError(err)
	}

	dispatched := 0
	for _, info := range infos {
		e, ok := byKey[info.JobKey]
		if !ok || info.Status == e.Value.BatchStatus {
			continue
		}
		m.dispatchRecordJobStatus(ctx, e, info)
		dispatched++
	}

	metrics.EmitPollTick(m.metrics, "executor", dispatched, int(m.executorPollErrors.Load()))
	return nil
}

// recordCachePollError implements spec.md §4.6/§4.7's cache poll error handling: a transient
// CacheUnavailable is logged and the loop continues; any other error counts against
// CachePollErrorLimit, and exceeding it terminates the process.
func (m *Manager) recordCachePollError(err error) error {
	if errors.IsCacheUnavailable(err) {
		m.logger.Warn("cache unavailable during poll, continuing", "error", err)
		return nil
	}
	count := m.cachePollErrors.Add(1)
	m.logger.Error("unexpected cache poll error", "error", err, "count", count)
	if int(count) > m.cfg.CachePollErrorLimit {
		return fmt.Errorf("cache poll error limit (%d) exceeded, last error: %w", m.cfg.CachePollErrorLimit, err)
	}
	return nil
}

func (m *Manager) recordExecutorPollError(err error) error {
	if errors.IsExecutorUnavailable(err) {
		m.logger.Warn("executor unavailable during poll, continuing", "error", err)
		return nil
	}
	count := m.executorPollErrors.Add(1)
	m.logger.Error("unexpected executor poll error", "error", err, "count", count)
	if int(count) > m.cfg.ExecutorPollErrorLimit {
		return fmt.Errorf("executor poll error limit (%d) exceeded, last error: %w", m.cfg.ExecutorPollErrorLimit, err)
	}
	return nil
}

func (m *Manager) spawn(ctx context.Context, fn func(ctx context.Context)) {
	if !m.sem.TryAcquire(1) {
		m.logger.Warn("worker pool saturated, dropping this dispatch; the next poll will retry")
		return
	}
	go func() {
		defer m.sem.Release(1)
		fn(ctx)
	}()
}

func (m *Manager) dispatchKnown(ctx context.Context, key string, revision int64, status model.CacheStatus) {
	entry, ok := m.dispatchTable[status]
	op := entry.op
	duration := m.cfg.CacheTicketDuration
	if ok && entry.ticket == ticketExecutor {
		duration = m.cfg.ExecutorTicketDuration
	}
	if !ok {
		op = m.internalErrorOp
	}
	m.spawn(ctx, func(ctx context.Context) {
		m.runOperation(ctx, key, revision, duration, op)
	})
}

func (m *Manager) dispatchScheduleLaunch(ctx context.Context, e core.CacheEntry) {
	m.spawn(ctx, func(ctx context.Context) {
		m.runOperation(ctx, e.Key, e.Revision, m.cfg.CacheTicketDuration, m.processor.ScheduleLaunch)
	})
}

func (m *Manager) dispatchRecordJobStatus(ctx context.Context, e core.CacheEntry, info model.ExecutorJobInfo) {
	m.spawn(ctx, func(ctx context.Context) {
		m.runOperation(ctx, e.Key, e.Revision, m.cfg.CacheTicketDuration, func(ctx context.Context, state model.JobState) (model.JobState, error) {
			return m.processor.RecordJobStatus(ctx, state, info)
		})
	})
}

// internalErrorOp is the "anything else" branch of spec.md §4.6's state machine table: a
// cacheStatus this manager build doesn't recognize is an invariant violation, not a crash.
func (m *Manager) internalErrorOp(ctx context.Context, state model.JobState) (model.JobState, error) {
	return m.processor.HandleProcessingFailed(ctx, state, "Internal job state error", errors.Internalf("unrecognized cacheStatus %q", state.CacheStatus))
}

// runOperation implements spec.md §4.6's dispatch/operation-execution sequence: open a ticket at
// the observed revision, bail quietly if another replica already won or the entry is gone, apply
// the operation through the retry-or-fail wrapper, commit, and chain the next step.
func (m *Manager) runOperation(ctx context.Context, key string, revision int64, ticketDuration time.Duration, op func(ctx context.Context, state model.JobState) (model.JobState, error)) {
	ticket, err := m.cache.OpenTicket(ctx, key, revision, ticketDuration)
	if err != nil {
		m.logger.Error("open ticket failed", "jobKey", key, "error", err)
		return
	}
	defer m.cache.Close(ctx, ticket)

	if ticket.Superseded() || ticket.Missing() {
		return
	}

	state, _, fromStatus, err := m.cache.GetEntry(ctx, ticket)
	if err != nil {
		m.logger.Error("get entry failed", "jobKey", key, "error", err)
		return
	}

	start := time.Now()
	next, opErr := op(ctx, state)
	result := metrics.ResultSuccess
	if opErr != nil {
		next = retryOrFail(m.processor.Clock(), m.cfg.ProcessingRetryLimit, state, opErr)
		result = metrics.ResultError
	}

	metrics.EmitOperation(m.metrics, metrics.OperationMetric{
		JobType:    string(state.JobType),
		FromStatus: string(fromStatus),
		ToStatus:   string(next.CacheStatus),
		Result:     result,
		Duration:   time.Since(start),
		Err:        opErr,
	})

	newRev, err := m.cache.UpdateEntry(ctx, ticket, next.CacheStatus, next)
	if err != nil {
		if errors.IsCacheUnavailable(err) {
			m.logger.Warn("update entry failed: cache unavailable", "jobKey", key, "error", err)
			return
		}
		m.logger.Error("update entry failed", "jobKey", key, "error", err)
		return
	}

	m.afterCommit(ctx, key, newRev, next)
}

// retryOrFail implements spec.md §4.6's retry-or-fail wrapper: a retryable error bumps retries
// and leaves cacheStatus unchanged for the next attempt; once retries reaches the limit, or the
// error isn't retryable at all, the job transitions straight to PROCESSING_FAILED (spec.md §8
// invariant 4). The actual terminal bookkeeping happens the next time PROCESSING_FAILED is
// dispatched, which calls handleProcessingFailed.
func retryOrFail(now time.Time, retryLimit int, state model.JobState, opErr error) model.JobState {
	out := state.Clone()
	out.Error = opErr.Error()
	out.UpdatedAt = now

	if errors.IsRetryable(opErr) {
		out.Retries++
		if out.Retries < retryLimit {
			return out
		}
	}

	out.CacheStatus = model.CacheStatusProcessingFailed
	out.StatusMessage = opErr.Error()
	return out
}

// afterCommit implements spec.md §4.6's dispatch optimization and delayed-removal scheduling: a
// newly committed status in the update set is submitted directly rather than waiting for the
// next poll; SCHEDULED_TO_REMOVE instead schedules the delayed removeFromCache.
func (m *Manager) afterCommit(ctx context.Context, key string, revision int64, state model.JobState) {
	if state.CacheStatus == model.CacheStatusScheduledToRemove {
		m.scheduleDelayedRemoval(ctx, key, revision, state)
		return
	}
	if _, ok := m.dispatchTable[state.CacheStatus]; ok {
		m.dispatchKnown(ctx, key, revision, state.CacheStatus)
	}
}

func (m *Manager) scheduleDelayedRemoval(ctx context.Context, key string, revision int64, state model.JobState) {
	var delay time.Duration
	if state.RemoveAfter != nil {
		delay = time.Until(*state.RemoveAfter)
	}
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		if !m.sem.TryAcquire(1) {
			time.AfterFunc(time.Second, func() { m.scheduleDelayedRemoval(ctx, key, revision, state) })
			return
		}
		defer m.sem.Release(1)
		m.runRemoval(ctx, key, revision)
	})
}

// runRemoval is the "on a successful removeFromCache operation, delete the entry" step
// (spec.md §4.6 step 6): unlike every other dispatched operation it doesn't produce a new
// JobState to commit — success means the key is gone.
func (m *Manager) runRemoval(ctx context.Context, key string, revision int64) {
	ticket, err := m.cache.OpenTicket(ctx, key, revision, m.cfg.CacheTicketDuration)
	if err != nil {
		m.logger.Error("open ticket for removal failed", "jobKey", key, "error", err)
		return
	}
	defer m.cache.Close(ctx, ticket)

	if ticket.Superseded() || ticket.Missing() {
		return
	}

	if err := m.cache.RemoveEntry(ctx, ticket); err != nil {
		m.logger.Error("remove entry failed", "jobKey", key, "error", err)
		return
	}
	m.logger.Info("job removed from cache", "jobKey", key)
}

// AddNewJob is spec.md §6's addNewJob: the only externally synchronous entry point. It runs
// saveInitialMetadata, then creates the cache entry; it is idempotent on the caller retrying
// with a seed that has already produced a jobKey (OpenNewTicket superseded => return the
// existing entry rather than erroring).
func (m *Manager) AddNewJob(ctx context.Context, seed model.JobState) (model.JobState, error) {
	saved, err := m.processor.SaveInitialMetadata(ctx, seed)
	if err != nil {
		return model.JobState{}, err
	}

	ticket, err := m.cache.OpenNewTicket(ctx, saved.JobKey, m.cfg.CacheTicketDuration)
	if err != nil {
		return model.JobState{}, errors.Wrap(err, errors.CodeCacheUnavailable, "open new ticket")
	}
	defer m.cache.Close(ctx, ticket)

	if ticket.Superseded() {
		existing, _, _, ok, err := m.cache.GetLatestEntry(ctx, saved.JobKey)
		if err != nil {
			return model.JobState{}, err
		}
		if ok {
			return existing, nil
		}
		return model.JobState{}, errors.CacheUnavailablef("job %s superseded but no entry found", saved.JobKey)
	}

	if err := m.cache.AddEntry(ctx, ticket, saved.CacheStatus, saved); err != nil {
		return model.JobState{}, err
	}

	return saved, nil
}

// QueryJob is spec.md §6's queryJob: a lock-free read of the latest committed state.
func (m *Manager) QueryJob(ctx context.Context, jobKey string) (model.JobState, bool, error) {
	state, _, _, ok, err := m.cache.GetLatestEntry(ctx, jobKey)
	return state, ok, err
}
