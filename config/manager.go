package config

import "time"

// ManagerConfig holds the tunables governing the job manager's control loop (spec.md §6):
// poll cadences, ticket durations, admission limits, and retry/error budgets.
type ManagerConfig struct {
	// CachePollInterval is how often the manager scans the cache for jobs whose cacheStatus
	// requires an operation.
	CachePollInterval time.Duration `env:"MANAGER_CACHE_POLL_INTERVAL" envDefault:"2s"`
	// CacheTicketDuration is the lease length requested when opening a ticket on a cache entry.
	CacheTicketDuration time.Duration `env:"MANAGER_CACHE_TICKET_DURATION" envDefault:"10s"`

	// ExecutorPollInterval is how often pollMany is called against in-flight executor handles.
	ExecutorPollInterval time.Duration `env:"MANAGER_EXECUTOR_POLL_INTERVAL" envDefault:"30s"`
	// ExecutorTicketDuration bounds how long an executor-facing operation may hold its ticket.
	ExecutorTicketDuration time.Duration `env:"MANAGER_EXECUTOR_TICKET_DURATION" envDefault:"120s"`

	// MaxConcurrentJobs is the admission ceiling on jobs in the running set (spec.md §4.5 admission
	// control); LAUNCH_SCHEDULED counts against it (see DESIGN.md Open Question decision).
	MaxConcurrentJobs int `env:"MANAGER_MAX_CONCURRENT_JOBS" envDefault:"6"`

	// StartupDelay is how long the manager waits after process start before polling begins, so
	// adapters have time to establish their backend connections.
	StartupDelay time.Duration `env:"MANAGER_STARTUP_DELAY" envDefault:"10s"`

	// ScheduledRemovalDelay is the grace interval a job sits in SCHEDULED_TO_REMOVE before
	// removeFromCache runs, so a late queryJob can still observe the terminal state.
	ScheduledRemovalDelay time.Duration `env:"MANAGER_SCHEDULED_REMOVAL_DELAY" envDefault:"120s"`

	// ProcessingRetryLimit is the number of retry-or-fail attempts (spec.md §4.6) a single
	// operation may make before the job is moved to PROCESSING_FAILED.
	ProcessingRetryLimit int `env:"MANAGER_PROCESSING_RETRY_LIMIT" envDefault:"2"`

	// CachePollErrorLimit bounds the unexpected (non-CacheUnavailable) cache poll errors the
	// manager tolerates. The count is never reset; once it exceeds the limit, Manager.Run returns
	// an error and the process exits (spec.md §7 C1).
	CachePollErrorLimit int `env:"MANAGER_CACHE_POLL_ERROR_LIMIT" envDefault:"100"`

	// ExecutorPollErrorLimit is the analogous budget for unexpected (non-ExecutorUnavailable)
	// executor poll errors, counted the same way.
	ExecutorPollErrorLimit int `env:"MANAGER_EXECUTOR_POLL_ERROR_LIMIT" envDefault:"20"`

	// WorkerConcurrency bounds the number of operations the manager may have in flight at once,
	// independent of MaxConcurrentJobs (spec.md §5: the worker pool, not the admission ceiling).
	WorkerConcurrency int `env:"MANAGER_WORKER_CONCURRENCY" envDefault:"16"`
}

// Sanitize applies guardrails to manager configuration values loaded from env.
func (c *ManagerConfig) Sanitize() {
	if c.CachePollInterval <= 0 {
		c.CachePollInterval = 2 * time.Second
	}
	if c.CacheTicketDuration <= 0 {
		c.CacheTicketDuration = 10 * time.Second
	}
	if c.ExecutorPollInterval <= 0 {
		c.ExecutorPollInterval = 30 * time.Second
	}
	if c.ExecutorTicketDuration <= 0 {
		c.ExecutorTicketDuration = 120 * time.Second
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 6
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 10 * time.Second
	}
	if c.ScheduledRemovalDelay <= 0 {
		c.ScheduledRemovalDelay = 120 * time.Second
	}
	if c.ProcessingRetryLimit < 0 {
		c.ProcessingRetryLimit = 2
	}
	if c.CachePollErrorLimit <= 0 {
		c.CachePollErrorLimit = 100
	}
	if c.ExecutorPollErrorLimit <= 0 {
		c.ExecutorPollErrorLimit = 20
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 16
	}
}
