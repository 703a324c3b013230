package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

const (
	loginLockKeySegment = "login-lock"
	defaultLockTTL      = 5 * time.Minute
)

// releaseScript deletes the lock only while it still carries our token,
// so a holder whose lock expired cannot release a newer holder's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLoginLock implements sapo.LoginLock with SET NX and a TTL.
// The TTL bounds how long a crashed replica can block other logins.
type RedisLoginLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

var _ sapo.LoginLock = (*RedisLoginLock)(nil)

// NewRedisLoginLock creates the cross-replica login lock
func NewRedisLoginLock(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisLoginLock {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLoginLock{client: client, key: keyPrefix + loginLockKeySegment, ttl: ttl}
}

// TryLock acquires the lock without waiting.
// Returns false when another holder owns it.
func (l *RedisLoginLock) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire login lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

// Unlock releases the lock if this process still holds it
func (l *RedisLoginLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release login lock: %w", err)
	}
	return nil
}
