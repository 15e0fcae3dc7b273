package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockRetryInterval is the spin interval between acquisition
// attempts while waiting for a held lock.
const DefaultLockRetryInterval = 50 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a lease-based mutual-exclusion primitive over the shared store.
// Acquisition is a token write under NX with a lease TTL; release and renew
// are scripted compare-token operations so only the holder can perform
// them. The lease self-expires on crash.
type Lock struct {
	clients       *Clients
	key           string
	token         string
	retryInterval time.Duration
}

func NewLock(clients *Clients, key string) *Lock {
	return &Lock{
		clients:       clients,
		key:           key,
		token:         uuid.NewString(),
		retryInterval: DefaultLockRetryInterval,
	}
}

func (l *Lock) Key() string {
	return l.key
}

// TryAcquire attempts a single acquisition without waiting.
func (l *Lock) TryAcquire(ctx context.Context, lease time.Duration) (bool, error) {
	return l.clients.Master().SetNX(ctx, l.key, l.token, lease).Result()
}

// Acquire spins at the retry interval until the lock is obtained or
// waitTimeout elapses. A lock held under a different token makes each
// attempt fail; Acquire never blocks past waitTimeout.
func (l *Lock) Acquire(ctx context.Context, lease, waitTimeout time.Duration) (bool, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		ok, err := l.TryAcquire(ctx, lease)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().Add(l.retryInterval).After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

// Release deletes the lock only if the stored token matches the holder's.
// A mismatch surfaces as ErrLockMismatch.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.clients.Master(), []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockMismatch
	}
	return nil
}

// Renew extends the lease by extra, only for the holder. Returns false when
// the lock is no longer held under this token.
func (l *Lock) Renew(ctx context.Context, extra time.Duration) (bool, error) {
	remaining, err := l.clients.Master().PTTL(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	if remaining < 0 {
		return false, nil
	}
	n, err := renewScript.Run(ctx, l.clients.Master(),
		[]string{l.key}, l.token, (remaining + extra).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
