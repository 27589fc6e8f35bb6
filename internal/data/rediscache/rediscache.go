// Package rediscache implements core.JobCache against Redis via redis/go-redis/v9. Ticket
// acquisition and the compare-and-swap update are each a single Lua script (EVAL) for atomicity,
// the same pattern the teacher uses for TTL-based session state
// (internal/adapters/redis/session_store.go), generalized from "whole value with TTL" to
// "value + revision counter + lease owner token with TTL".
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

var openNewTicketScript = redis.NewScript(`
local dataKey = KEYS[1]
local leaseKey = KEYS[2]
local leaseID = ARGV[1]
local ttlMs = ARGV[2]

if redis.call("EXISTS", dataKey) == 1 then
  return "exists"
end
if redis.call("EXISTS", leaseKey) == 1 then
  return "leased"
end
redis.call("SET", leaseKey, leaseID, "PX", ttlMs)
return "ok"
`)

var openTicketScript = redis.NewScript(`
local dataKey = KEYS[1]
local leaseKey = KEYS[2]
local wantRev = ARGV[1]
local leaseID = ARGV[2]
local ttlMs = ARGV[3]

if redis.call("EXISTS", dataKey) == 0 then
  return "missing"
end
local rev = redis.call("HGET", dataKey, "revision")
if rev ~= wantRev then
  return "superseded:" .. rev
end
if redis.call("EXISTS", leaseKey) == 1 then
  return "superseded:" .. rev
end
redis.call("SET", leaseKey, leaseID, "PX", ttlMs)
return "ok"
`)

var addEntryScript = redis.NewScript(`
local dataKey = KEYS[1]
local leaseKey = KEYS[2]
local keysSet = KEYS[3]
local leaseID = ARGV[1]
local value = ARGV[2]
local status = ARGV[3]
local keyName = ARGV[4]

local held = redis.call("GET", leaseKey)
if held ~= leaseID then
  return "stale"
end
if redis.call("EXISTS", dataKey) == 1 then
  return "exists"
end
redis.call("HSET", dataKey, "value", value, "revision", "1", "status", status)
redis.call("SADD", keysSet, keyName)
redis.call("DEL", leaseKey)
return "ok"
`)

var updateEntryScript = redis.NewScript(`
local dataKey = KEYS[1]
local leaseKey = KEYS[2]
local leaseID = ARGV[1]
local value = ARGV[2]
local status = ARGV[3]

local held = redis.call("GET", leaseKey)
if held ~= leaseID then
  return "stale"
end
local rev = redis.call("HINCRBY", dataKey, "revision", 1)
redis.call("HSET", dataKey, "value", value, "status", status)
redis.call("DEL", leaseKey)
return tostring(rev)
`)

var removeEntryScript = redis.NewScript(`
local dataKey = KEYS[1]
local leaseKey = KEYS[2]
local keysSet = KEYS[3]
local leaseID = ARGV[1]
local keyName = ARGV[2]

local held = redis.call("GET", leaseKey)
if held ~= leaseID then
  return "stale"
end
redis.call("DEL", dataKey)
redis.call("DEL", leaseKey)
redis.call("SREM", keysSet, keyName)
return "ok"
`)

var closeTicketScript = redis.NewScript(`
local leaseKey = KEYS[1]
local leaseID = ARGV[1]

local held = redis.call("GET", leaseKey)
if held == leaseID then
  redis.call("DEL", leaseKey)
end
return "ok"
`)

type ticket struct {
	key        string
	revision   int64
	leaseID    string
	superseded bool
	missing    bool
}

func (t *ticket) Key() string      { return t.key }
func (t *ticket) Superseded() bool { return t.superseded }
func (t *ticket) Missing() bool    { return t.missing }
func (t *ticket) Revision() int64  { return t.revision }

// Cache is the Redis-backed core.JobCache.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// New constructs a Cache. prefix namespaces every key this cache touches (config.CacheConfig.KeyPrefix).
func New(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

var _ core.JobCache = (*Cache)(nil)

func (c *Cache) dataKey(key string) string  { return c.prefix + ":job:" + key }
func (c *Cache) leaseKey(key string) string { return c.prefix + ":lease:" + key }
func (c *Cache) keysSet() string            { return c.prefix + ":keys" }

func (c *Cache) OpenNewTicket(ctx context.Context, key string, timeout time.Duration) (core.Ticket, error) {
	leaseID := uuid.NewString()
	res, err := openNewTicketScript.Run(ctx, c.client, []string{c.dataKey(key), c.leaseKey(key)}, leaseID, timeout.Milliseconds()).Text()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheUnavailable, "redis openNewTicket failed")
	}
	switch res {
	case "ok":
		return &ticket{key: key, revision: 0, leaseID: leaseID}, nil
	default:
		return &ticket{key: key, superseded: true}, nil
	}
}

func (c *Cache) OpenTicket(ctx context.Context, key string, revision int64, timeout time.Duration) (core.Ticket, error) {
	leaseID := uuid.NewString()
	res, err := openTicketScript.Run(ctx, c.client,
		[]string{c.dataKey(key), c.leaseKey(key)},
		strconv.FormatInt(revision, 10), leaseID, timeout.Milliseconds(),
	).Text()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheUnavailable, "redis openTicket failed")
	}
	switch {
	case res == "missing":
		return &ticket{key: key, missing: true}, nil
	case res == "ok":
		return &ticket{key: key, revision: revision, leaseID: leaseID}, nil
	default:
		return &ticket{key: key, revision: revision, superseded: true}, nil
	}
}

func (c *Cache) AddEntry(ctx context.Context, t core.Ticket, status model.CacheStatus, value model.JobState) error {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}

	res, err := addEntryScript.Run(ctx, c.client,
		[]string{c.dataKey(tk.key), c.leaseKey(tk.key), c.keysSet()},
		tk.leaseID, payload, string(status), tk.key,
	).Text()
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "redis addEntry failed")
	}
	if res != "ok" {
		return errors.CacheUnavailablef("addEntry for %q rejected: %s", tk.key, res)
	}
	return nil
}

func (c *Cache) GetEntry(ctx context.Context, t core.Ticket) (model.JobState, int64, model.CacheStatus, error) {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return model.JobState{}, 0, "", errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}

	held, err := c.client.Get(ctx, c.leaseKey(tk.key)).Result()
	if err != nil && err != redis.Nil {
		return model.JobState{}, 0, "", errors.Wrap(err, errors.CodeCacheUnavailable, "redis get lease failed")
	}
	if held != tk.leaseID {
		return model.JobState{}, 0, "", errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}

	return c.readEntry(ctx, tk.key)
}

func (c *Cache) readEntry(ctx context.Context, key string) (model.JobState, int64, model.CacheStatus, error) {
	fields, err := c.client.HGetAll(ctx, c.dataKey(key)).Result()
	if err != nil {
		return model.JobState{}, 0, "", errors.Wrap(err, errors.CodeCacheUnavailable, "redis hgetall failed")
	}
	if len(fields) == 0 {
		return model.JobState{}, 0, "", errors.CacheUnavailablef("no entry for %q", key)
	}

	var value model.JobState
	if err := json.Unmarshal([]byte(fields["value"]), &value); err != nil {
		return model.JobState{}, 0, "", fmt.Errorf("unmarshal job state: %w", err)
	}
	rev, err := strconv.ParseInt(fields["revision"], 10, 64)
	if err != nil {
		return model.JobState{}, 0, "", fmt.Errorf("parse revision: %w", err)
	}
	return value, rev, model.CacheStatus(fields["status"]), nil
}

func (c *Cache) GetLatestEntry(ctx context.Context, key string) (model.JobState, int64, model.CacheStatus, bool, error) {
	exists, err := c.client.Exists(ctx, c.dataKey(key)).Result()
	if err != nil {
		return model.JobState{}, 0, "", false, errors.Wrap(err, errors.CodeCacheUnavailable, "redis exists failed")
	}
	if exists == 0 {
		return model.JobState{}, 0, "", false, nil
	}
	value, rev, status, err := c.readEntry(ctx, key)
	if err != nil {
		return model.JobState{}, 0, "", false, err
	}
	return value, rev, status, true, nil
}

func (c *Cache) UpdateEntry(ctx context.Context, t core.Ticket, newStatus model.CacheStatus, newValue model.JobState) (int64, error) {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return 0, errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}

	payload, err := json.Marshal(newValue)
	if err != nil {
		return 0, fmt.Errorf("marshal job state: %w", err)
	}

	res, err := updateEntryScript.Run(ctx, c.client,
		[]string{c.dataKey(tk.key), c.leaseKey(tk.key)},
		tk.leaseID, payload, string(newStatus),
	).Text()
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeCacheUnavailable, "redis updateEntry failed")
	}
	if res == "stale" {
		return 0, errors.CacheUnavailablef("ticket for %q is superseded or expired", tk.key)
	}
	rev, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse updated revision: %w", err)
	}
	return rev, nil
}

func (c *Cache) RemoveEntry(ctx context.Context, t core.Ticket) error {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return errors.CacheUnavailablef("ticket for %q is superseded or expired", t.Key())
	}

	res, err := removeEntryScript.Run(ctx, c.client,
		[]string{c.dataKey(tk.key), c.leaseKey(tk.key), c.keysSet()},
		tk.leaseID, tk.key,
	).Text()
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "redis removeEntry failed")
	}
	if res == "stale" {
		return errors.CacheUnavailablef("ticket for %q is superseded or expired", tk.key)
	}
	return nil
}

func (c *Cache) QueryState(ctx context.Context, statuses []model.CacheStatus, includeTicketed bool) ([]core.CacheEntry, error) {
	want := make(map[model.CacheStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	keys, err := c.client.SMembers(ctx, c.keysSet()).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheUnavailable, "redis smembers failed")
	}

	var out []core.CacheEntry
	for _, key := range keys {
		if !includeTicketed {
			leased, err := c.client.Exists(ctx, c.leaseKey(key)).Result()
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeCacheUnavailable, "redis exists (lease) failed")
			}
			if leased == 1 {
				continue
			}
		}

		value, rev, status, err := c.readEntry(ctx, key)
		if err != nil {
			if errors.IsCacheUnavailable(err) {
				continue
			}
			return nil, err
		}
		if _, ok := want[status]; !ok {
			continue
		}
		out = append(out, core.CacheEntry{Key: key, Value: value, Revision: rev, CacheStatus: status})
	}
	return out, nil
}

func (c *Cache) Close(ctx context.Context, t core.Ticket) error {
	tk, ok := t.(*ticket)
	if !ok || tk.superseded || tk.missing {
		return nil
	}
	_, err := closeTicketScript.Run(ctx, c.client, []string{c.leaseKey(tk.key)}, tk.leaseID).Text()
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "redis closeTicket failed")
	}
	return nil
}
