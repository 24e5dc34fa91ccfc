package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockKeyPrefix = "ledgerd:runlock:"

// RunLock is a Redis lease serializing scheduled invocations of the same
// job across processes. Receipt stamping is only race-free within one
// process; two overlapping cron runs could each pass the in-process
// re-check and double-send, so a second invocation simply yields.
//
// With no Redis configured the lock is a no-op, which is fine for
// single-instance deployments where the scheduler never overlaps runs.
type RunLock struct {
	client *redis.Client
	token  string
	ttl    time.Duration
}

// NewRunLock builds a run lock. client may be nil (lock disabled).
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	return &RunLock{client: client, token: uuid.NewString(), ttl: ttl}
}

// Acquire attempts to take the lease for job. Returns false if another
// process holds it.
func (l *RunLock) Acquire(ctx context.Context, job string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, runLockKeyPrefix+job, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return ok, nil
}

// releaseScript deletes the lease only when this process still owns it, so
// an expired-and-retaken lease is never released out from under its new
// holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release gives the lease back.
func (l *RunLock) Release(ctx context.Context, job string) error {
	if l.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{runLockKeyPrefix + job}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
