// Package distlock provides a Redis-backed distributed lock, adapting the
// teacher's internal/skills/redis_cache.go connection-and-key-prefix pattern
// to cross-node coordination instead of response caching. cmd/ragserver uses
// it to keep each scheduler job from running on more than one node at a
// time; the BM25 cache and the prompt loader do not use it (their locks are
// in-process).
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when the key is already held.
var ErrNotAcquired = errors.New("distlock: lock not acquired")

// Locker is a Redis-backed mutual-exclusion lock keyed by name, with a TTL
// so a crashed holder doesn't wedge the lock forever.
type Locker struct {
	client *redis.Client
	prefix string
}

// New builds a Locker over an existing Redis client. prefix namespaces lock
// keys (e.g. "ragcore:lock:") so they don't collide with other Redis usage.
func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Handle represents one acquired lock, used to release it safely (only the
// holder that set the token can delete the key).
type Handle struct {
	key   string
	token string
}

func (l *Locker) key(name string) string {
	return l.prefix + name
}

// TryLock attempts to acquire name for ttl, returning ErrNotAcquired if
// already held elsewhere.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("distlock: setnx: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Handle{key: l.key(name), token: token}, nil
}

// releaseScript deletes the key only if its value still matches the token
// this holder set, avoiding releasing a lock some other holder has since
// acquired after TTL expiry.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end`

// Unlock releases h if it is still the current holder.
func (l *Locker) Unlock(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	_, err := l.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Result()
	if err != nil {
		return fmt.Errorf("distlock: release: %w", err)
	}
	return nil
}

// WithLock acquires name, blocking with simple retry-with-backoff until
// acquired or ctx is cancelled, runs fn, then releases.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func() error) error {
	backoff := 10 * time.Millisecond
	for {
		h, err := l.TryLock(ctx, name, ttl)
		if err == nil {
			defer l.Unlock(ctx, h)
			return fn()
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}
