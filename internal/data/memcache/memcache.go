// Package memcache is an in-process core.JobCache, used for single-replica deployments and as
// the reference implementation rediscache's Lua scripts are checked against (spec.md §4.1).
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

type entry struct {
	value       model.JobState
	revision    int64
	cacheStatus model.CacheStatus
	leased      bool
	leaseExpiry time.Time
	leaseID     uint64
}

// committed reports whether e holds a value written by AddEntry, as opposed to a bare
// reservation created by OpenNewTicket awaiting one.
func (e *entry) committed() bool {
	return e.value.Tenant != "" || e.value.JobKey != ""
}

type ticket struct {
	key        string
	revision   int64
	id         uint64
	superseded bool
	missing    bool
}

func (t *ticket) Key() string        { return t.key }
func (t *ticket) Superseded() bool   { return t.superseded }
func (t *ticket) Missing() bool      { return t.missing }
func (t *ticket) Revision() int64    { return t.revision }

// Cache is a mutex-guarded map of job keys to entries, each gated by a single-holder lease.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
	now     func() time.Time
}

// New constructs an empty Cache. nowFn defaults to time.Now; tests inject a fixed clock.
func New(nowFn func() time.Time) *Cache {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Cache{entries: make(map[string]*entry), now: nowFn}
}

var _ core.JobCache = (*Cache)(nil)

func (c *Cache) OpenNewTicket(_ context.Context, key string, timeout time.Duration) (core.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && (e.committed() || e.leased) {
		return &ticket{key: key, superseded: true}, nil
	}

	c.nextID++
	id := c.nextID
	c.entries[key] = &entry{leased: true, leaseExpiry: c.now().Add(timeout), leaseID: id}
	return &ticket{key: key, revision: 0, id: id}, nil
}

func (c *Cache) OpenTicket(_ context.Context, key string, revision int64, timeout time.Duration) (core.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.committed() {
		return &ticket{key: key, missing: true}, nil
	}
	if e.revision != revision {
		return &ticket{key: key, revision: e.revision, superseded: true}, nil
	}
	if e.leased && c.now().Before(e.leaseExpiry) {
		return &ticket{key: key, revision: e.revision, superseded: true}, nil
	}

	c.nextID++
	id := c.nextID
	e.leased = true
	e.leaseExpiry = c.now().Add(timeout)
	e.leaseID = id
	return &ticket{key: key, revision: revision, id: id}, nil
}

// resolve validates t against the live entry, returning (entry, ticket, ok). ok is false whenever
// the ticket is stale (superseded, released, or its lease has expired); callers must treat that as
// a benign no-op.
func (c *Cache) resolve(t core.Ticket) (*entry, *ticket, bool) {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return nil, nil, false
	}
	e, exists := c.entries[tk.key]
	if !exists || e.leaseID != tk.id || !e.leased || !c.now().Before(e.leaseExpiry) {
		return nil, nil, false
	}
	return e, tk, true
}

func (c *Cache) AddEntry(_ context.Context, t core.Ticket, status model.CacheStatus, value model.JobState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, _, ok := c.resolve(t)
	if !ok {
		return errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}
	if e.value.JobKey != "" {
		return errors.CacheUnavailablef("entry for %q already exists", t.Key())
	}
	e.value = value
	e.cacheStatus = status
	e.revision = 1
	e.leased = false
	return nil
}

func (c *Cache) GetEntry(_ context.Context, t core.Ticket) (model.JobState, int64, model.CacheStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, tk, ok := c.resolve(t)
	if !ok {
		return model.JobState{}, 0, "", errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}
	_ = tk
	return e.value.Clone(), e.revision, e.cacheStatus, nil
}

func (c *Cache) GetLatestEntry(_ context.Context, key string) (model.JobState, int64, model.CacheStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.committed() {
		return model.JobState{}, 0, "", false, nil
	}
	return e.value.Clone(), e.revision, e.cacheStatus, true, nil
}

func (c *Cache) UpdateEntry(_ context.Context, t core.Ticket, newStatus model.CacheStatus, newValue model.JobState) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, _, ok := c.resolve(t)
	if !ok {
		return 0, errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}
	e.value = newValue
	e.cacheStatus = newStatus
	e.revision++
	e.leased = false
	return e.revision, nil
}

func (c *Cache) RemoveEntry(_ context.Context, t core.Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, tk, ok := c.resolve(t)
	if !ok {
		return errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}
	delete(c.entries, tk.key)
	return nil
}

func (c *Cache) QueryState(_ context.Context, statuses []model.CacheStatus, includeTicketed bool) ([]core.CacheEntry, error) {
	want := make(map[model.CacheStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []core.CacheEntry
	for key, e := range c.entries {
		if !e.committed() {
			continue
		}
		if e.leased && !includeTicketed {
			continue
		}
		if _, ok := want[e.cacheStatus]; !ok {
			continue
		}
		out = append(out, core.CacheEntry{
			Key:         key,
			Value:       e.value.Clone(),
			Revision:    e.revision,
			CacheStatus: e.cacheStatus,
		})
	}
	return out, nil
}

func (c *Cache) Close(_ context.Context, t core.Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return nil
	}
	e, exists := c.entries[tk.key]
	if !exists || e.leaseID != tk.id {
		return nil
	}
	e.leased = false
	return nil
}
