// Package core hosts the ports the job orchestration core depends on: the job cache, the
// executor client, the metadata client, and the job-type logic registry. Concrete
// implementations live under internal/data and internal/domain/jobtype; internal/service wires
// them together behind these interfaces the way the teacher's internal/core wires repository
// ports to internal/adapters.
package core

import (
	"context"
	"time"

	"github.com/tracorch/jobcore/internal/domain/model"
)

// Ticket grants its holder the exclusive right to commit the next revision of a cache entry
// (spec.md glossary). It is returned by openNewTicket/openTicket and must be released via
// JobCache.Close on every exit path from the guarded region.
type Ticket interface {
	// Key is the job key this ticket was opened against.
	Key() string
	// Superseded reports whether the ticket lost the race: for openNewTicket, the key already
	// existed; for openTicket, the current revision no longer matches the requested one.
	Superseded() bool
	// Missing reports whether the key was gone when openTicket was attempted.
	Missing() bool
	// Revision is the revision this ticket was opened against (0 for openNewTicket).
	Revision() int64
}

// CacheEntry is one committed observation of a job's state: its value, the revision it was
// committed at, and its cacheStatus (duplicated from the value for query-by-status without a
// full deserialize).
type CacheEntry struct {
	Key         string
	Value       model.JobState
	Revision    int64
	CacheStatus model.CacheStatus
}

// JobCache is the leased key/value store of JobState (C1, spec.md §4.1). No replica may mutate a
// job without holding a ticket; every method that accepts a Ticket must treat a superseded or
// expired ticket as a benign no-op, never a crash.
type JobCache interface {
	// OpenNewTicket acquires a lease on a key that must not exist yet. Ticket.Superseded is true
	// iff the key already exists.
	OpenNewTicket(ctx context.Context, key string, timeout time.Duration) (Ticket, error)
	// OpenTicket acquires a lease at a specific revision. Ticket.Superseded is true iff the
	// current revision does not match revision; Ticket.Missing is true iff the key is gone.
	OpenTicket(ctx context.Context, key string, revision int64, timeout time.Duration) (Ticket, error)

	// AddEntry creates key under ticket; fails if the key already exists.
	AddEntry(ctx context.Context, ticket Ticket, status model.CacheStatus, value model.JobState) error
	// GetEntry reads the value ticket was opened against.
	GetEntry(ctx context.Context, ticket Ticket) (model.JobState, int64, model.CacheStatus, error)
	// GetLatestEntry is a lock-free read for query endpoints; it does not require a ticket.
	GetLatestEntry(ctx context.Context, key string) (model.JobState, int64, model.CacheStatus, bool, error)
	// UpdateEntry performs an atomic compare-and-swap against the revision ticket holds,
	// bumping the revision by exactly one on success.
	UpdateEntry(ctx context.Context, ticket Ticket, newStatus model.CacheStatus, newValue model.JobState) (int64, error)
	// RemoveEntry deletes the key ticket holds.
	RemoveEntry(ctx context.Context, ticket Ticket) error

	// QueryState returns keys whose last-committed status is in statuses. When includeTicketed
	// is true the result also includes keys currently under a live ticket, for admission
	// counting (spec.md §4.6 step 3).
	QueryState(ctx context.Context, statuses []model.CacheStatus, includeTicketed bool) ([]CacheEntry, error)

	// Close releases ticket's lease. Safe to call on an already-superseded or expired ticket.
	Close(ctx context.Context, ticket Ticket) error
}
