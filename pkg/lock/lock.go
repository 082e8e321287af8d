package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the lock only when it is still owned by the
// caller. A lock that expired and was re-acquired by someone else must
// never be deleted by the previous owner.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Rediser is the subset of redis.Client the manager needs.
type Rediser interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type Manager struct {
	rdb        Rediser
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

func NewManager(rdb Rediser, ttl time.Duration, retries int, retryDelay time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &Manager{rdb: rdb, ttl: ttl, retries: retries, retryDelay: retryDelay}
}

// Acquire tries to take the lock once. It returns an opaque token that
// must be passed back to Release, or ErrNotAcquired when someone else
// holds the lock.
func (m *Manager) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

// AcquireRetry takes the lock, retrying with a fixed delay up to the
// configured retry budget. It returns ErrNotAcquired when the budget is
// exhausted.
func (m *Manager) AcquireRetry(ctx context.Context, key string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
		token, err := m.Acquire(ctx, key)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Release gives the lock back. Releasing a lock we no longer own is a
// no-op. Errors are logged, not returned, so callers can defer it on
// every exit path.
func (m *Manager) Release(ctx context.Context, key, token string) {
	if token == "" {
		return
	}
	if err := m.rdb.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		zap.L().Warn("failed to release lock", zap.String("key", key), zap.Error(err))
	}
}
