package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

func newState(tenant string) model.JobState {
	return model.JobState{
		Tenant:      tenant,
		JobType:     model.JobTypeRunModel,
		CacheStatus: model.CacheStatusQueuedInTrac,
		TracStatus:  model.TracStatusQueued,
	}
}

func TestCache_OpenNewTicket_AddEntry(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	assert.False(t, tk.Superseded())

	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	value, rev, status, ok, err := c.GetLatestEntry(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, model.CacheStatusQueuedInTrac, status)
	assert.Equal(t, "tenant-a", value.Tenant)
}

func TestCache_OpenNewTicket_SupersededWhenKeyExists(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	tk2, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	assert.True(t, tk2.Superseded())
}

func TestCache_OpenTicket_MissingWhenKeyAbsent(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenTicket(ctx, "ghost", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, tk.Missing())
}

func TestCache_OpenTicket_SupersededWhenRevisionStale(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	stale, err := c.OpenTicket(ctx, "job-1", 99, time.Second)
	require.NoError(t, err)
	assert.True(t, stale.Superseded())
}

func TestCache_UpdateEntry_BumpsRevision(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	readTk, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	require.False(t, readTk.Superseded())

	updated := newState("tenant-a")
	updated.TracStatus = model.TracStatusRunning
	rev, err := c.UpdateEntry(ctx, readTk, model.CacheStatusSentToExecutor, updated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	value, rev, status, ok, err := c.GetLatestEntry(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), rev)
	assert.Equal(t, model.CacheStatusSentToExecutor, status)
	assert.Equal(t, model.TracStatusRunning, value.TracStatus)
}

func TestCache_RemoveEntry(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	removeTk, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.RemoveEntry(ctx, removeTk))

	_, _, _, ok, err := c.GetLatestEntry(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_UpdateEntry_StaleTicketIsCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	first, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	second, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, second.Superseded(), "a live lease must block a concurrent opener")

	_, err = c.UpdateEntry(ctx, first, model.CacheStatusSentToExecutor, newState("tenant-a"))
	require.NoError(t, err)

	_, err = c.UpdateEntry(ctx, second, model.CacheStatusRunningInExecutor, newState("tenant-a"))
	assert.True(t, errors.IsCacheUnavailable(err), "an update through the superseded ticket must be CacheUnavailable")
}

func TestCache_QueryState_FiltersByStatusAndTicketing(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	tk2, err := c.OpenNewTicket(ctx, "job-2", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk2, model.CacheStatusRunningInExecutor, newState("tenant-a")))

	entries, err := c.QueryState(ctx, []model.CacheStatus{model.CacheStatusQueuedInTrac}, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1", entries[0].Key)
}

func TestCache_QueryState_IncludesTicketedWhenRequested(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	leaseTk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, leaseTk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	heldTk, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	require.False(t, heldTk.Superseded())

	excluded, err := c.QueryState(ctx, []model.CacheStatus{model.CacheStatusQueuedInTrac}, false)
	require.NoError(t, err)
	assert.Empty(t, excluded, "a live lease excludes the key unless includeTicketed")

	included, err := c.QueryState(ctx, []model.CacheStatus{model.CacheStatusQueuedInTrac}, true)
	require.NoError(t, err)
	assert.Len(t, included, 1)
}

func TestCache_Close_ReleasesLeaseForReuse(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	tk, err := c.OpenNewTicket(ctx, "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.AddEntry(ctx, tk, model.CacheStatusQueuedInTrac, newState("tenant-a")))

	held, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx, held))

	next, err := c.OpenTicket(ctx, "job-1", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, next.Superseded())
}
