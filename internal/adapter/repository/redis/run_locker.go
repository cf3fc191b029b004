package redis

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLocker implements usecase.RunLocker using Redis SET NX.
type RunLocker struct {
	client redis.UniversalClient
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRunLocker creates a new RunLocker.
func NewRunLocker(client redis.UniversalClient) *RunLocker {
	return &RunLocker{
		client: client,
		prefix: "lock:",
		tokens: make(map[string]string),
	}
}

// TryLock takes key for ttl. It reports false when another holder has it.
func (l *RunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := ulid.Make().String()

	acquired, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil || !acquired {
		return false, err
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Unlock releases key if this locker still holds it.
func (l *RunLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}
