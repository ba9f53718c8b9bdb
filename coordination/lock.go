// Package coordination provides a Redis-backed distributed lock that
// controller replicas sharing the same queue storage use to elect one
// active maintainer. The lock only records and renews ownership; it
// does not itself stop other replicas from running maintenance or
// saving the queue.
package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// MaintenanceLock is a TTL-bounded, single-owner lock keyed by name,
// backed by SET NX for acquisition and a Lua script for
// owner-checked renewal and release.
type MaintenanceLock struct {
	client  *redis.Client
	key     string
	ownerID string
	ttl     time.Duration
}

// NewMaintenanceLock returns a lock at key, identifying this holder as
// ownerID (typically the replica's hostname or pod name).
func NewMaintenanceLock(client *redis.Client, key, ownerID string, ttl time.Duration) *MaintenanceLock {
	return &MaintenanceLock{client: client, key: key, ownerID: ownerID, ttl: ttl}
}

// Acquire attempts to take the lock, returning whether it succeeded.
func (l *MaintenanceLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.ownerID, l.ttl).Result()
}

// Renew extends the lock's TTL, succeeding only if this holder still
// owns it.
func (l *MaintenanceLock) Renew(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.ownerID, int64(l.ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	val, ok := res.(int64)
	if !ok {
		return false, errors.New("coordination: unexpected renew reply type")
	}
	return val == 1, nil
}

// Release drops the lock if still held by this holder; releasing a
// lock this holder does not own is a no-op.
func (l *MaintenanceLock) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.ownerID).Result()
	return err
}

// Owner returns the current holder, or "" if the lock is free.
func (l *MaintenanceLock) Owner(ctx context.Context) (string, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Hold acquires the lock, then renews it every ttl/3 until ctx is
// cancelled or a renewal is lost; it calls onAcquired once the lock is
// first taken, and returns when ctx is done or the lock is lost. It
// releases the lock before returning unless the lock was lost out from
// under it.
func (l *MaintenanceLock) Hold(ctx context.Context, onAcquired func()) error {
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.ttl / 3):
		}
	}

	if onAcquired != nil {
		onAcquired()
	}

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			release, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return l.Release(release)
		case <-ticker.C:
			ok, err := l.Renew(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("coordination: lost maintenance lock")
			}
		}
	}
}
