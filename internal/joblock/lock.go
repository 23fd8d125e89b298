package joblock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/ledgersync/internal/domain"
)

// ScopeSheet is the coarse per-owner scope the request path checks before
// enqueuing another sheet job. Creation sub-steps lock on the resource kind.
const ScopeSheet = "sheet"

// releaseScript deletes the key only while we still hold it, so an expired
// lock re-acquired by someone else is never released from under them.
var releaseScript = r.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Lock is a short-lived Redis mutex per (owner, role, scope). There is no
// heartbeat renewal: the TTL is the sole recovery path after a crash, so it
// must exceed the slowest expected job with margin.
type Lock struct {
	rdb *r.Client
	ttl time.Duration
}

func New(rdb *r.Client, ttl time.Duration) *Lock { return &Lock{rdb, ttl} }

func key(ownerID int64, role domain.OwnerRole, scope string) string {
	return fmt.Sprintf("sheetjob:%d:%s:%s", ownerID, role, scope)
}

// TryAcquire marks a job active if none is. Returns the holder token on
// success; ok=false means another job is already in flight, which is not an
// error.
func (l *Lock) TryAcquire(ctx context.Context, ownerID int64, role domain.OwnerRole, scope string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key(ownerID, role, scope), token, l.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "joblock: acquire")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release is idempotent; releasing a lock that expired or was never held is a
// no-op.
func (l *Lock) Release(ctx context.Context, ownerID int64, role domain.OwnerRole, scope, token string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{key(ownerID, role, scope)}, token).Err()
	if err != nil && !errors.Is(err, r.Nil) {
		return errors.Wrap(err, "joblock: release")
	}
	return nil
}

// IsActive reports whether a job currently holds the lock.
func (l *Lock) IsActive(ctx context.Context, ownerID int64, role domain.OwnerRole, scope string) (bool, error) {
	n, err := l.rdb.Exists(ctx, key(ownerID, role, scope)).Result()
	if err != nil {
		return false, errors.Wrap(err, "joblock: is active")
	}
	return n > 0, nil
}

// IsHolder reports whether token still owns the lock. Long-running jobs check
// this before writing results in case the TTL lapsed mid-flight.
func (l *Lock) IsHolder(ctx context.Context, ownerID int64, role domain.OwnerRole, scope, token string) (bool, error) {
	v, err := l.rdb.Get(ctx, key(ownerID, role, scope)).Result()
	if errors.Is(err, r.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "joblock: is holder")
	}
	return v == token, nil
}
