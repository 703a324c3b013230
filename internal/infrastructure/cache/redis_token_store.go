package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

const tokenKeySegment = "session:"

// RedisTokenStore implements sapo.TokenStore using Redis.
// Replicas sharing it reuse each other's logins instead of driving their own browser.
type RedisTokenStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ sapo.TokenStore = (*RedisTokenStore)(nil)

// NewRedisTokenStore creates a token store on an existing client.
// A positive ttl expires stored credentials; zero keeps them until overwritten.
func NewRedisTokenStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisTokenStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTokenStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisTokenStore) key(kind integration.SessionKind) string {
	return s.keyPrefix + tokenKeySegment + kind.String()
}

// Load returns the stored credentials for kind, ok=false when none are stored
func (s *RedisTokenStore) Load(ctx context.Context, kind integration.SessionKind) (integration.Credentials, bool, error) {
	data, err := s.client.Get(ctx, s.key(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return integration.Credentials{}, false, nil
	}
	if err != nil {
		return integration.Credentials{}, false, fmt.Errorf("failed to load %s token: %w", kind, err)
	}

	var creds integration.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return integration.Credentials{}, false, fmt.Errorf("failed to decode %s token: %w", kind, err)
	}
	creds = integration.NewCredentials(creds.Headers, creds.CapturedAt)
	if creds.IsEmpty() {
		return integration.Credentials{}, false, nil
	}
	return creds, true, nil
}

// Save overwrites the stored credentials for kind
func (s *RedisTokenStore) Save(ctx context.Context, kind integration.SessionKind, creds integration.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode %s token: %w", kind, err)
	}
	if err := s.client.Set(ctx, s.key(kind), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s token: %w", kind, err)
	}
	return nil
}
