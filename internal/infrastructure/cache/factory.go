package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/infrastructure/config"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

// DefaultKeyPrefix namespaces every key this service writes to Redis
const DefaultKeyPrefix = "opscore:"

const pingTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SessionStores is what the session manager persists through: a token store
// and, when shared with other replicas, a login lock.
type SessionStores struct {
	Tokens sapo.TokenStore
	Lock   sapo.LoginLock // nil when logins are only serialized in-process
	client *redis.Client
}

// Close releases the Redis connection, if any
func (s *SessionStores) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Shared reports whether the stores are backed by Redis
func (s *SessionStores) Shared() bool {
	return s.client != nil
}

// SessionStoreFactory creates session stores based on configuration
type SessionStoreFactory struct {
	redisConfig       config.RedisConfig
	sapoConfig        config.SapoConfig
	logger            *zap.Logger
	allowFileFallback bool
	dial              func(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error)
}

// SessionStoreFactoryOption is a functional option for configuring the factory
type SessionStoreFactoryOption func(*SessionStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.logger = logger
	}
}

// WithFileFallback controls whether to fall back to token files when Redis is unavailable.
// Default is true.
func WithFileFallback(allow bool) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.allowFileFallback = allow
	}
}

// NewSessionStoreFactory creates a new factory
func NewSessionStoreFactory(redisCfg config.RedisConfig, sapoCfg config.SapoConfig, opts ...SessionStoreFactoryOption) *SessionStoreFactory {
	f := &SessionStoreFactory{
		redisConfig:       redisCfg,
		sapoConfig:        sapoCfg,
		logger:            zap.NewNop(),
		allowFileFallback: true,
		dial:              NewRedisClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateFileStores creates token-file stores with in-process login serialization.
// Suitable for a single replica.
func (f *SessionStoreFactory) CreateFileStores() *SessionStores {
	return &SessionStores{
		Tokens: sapo.NewFileTokenStore(f.sapoConfig.CoreTokenFile, f.sapoConfig.MarketplaceTokenFile),
	}
}

// CreateRedisStores creates Redis-backed token store and login lock
func (f *SessionStoreFactory) CreateRedisStores(ctx context.Context) (*SessionStores, error) {
	client, err := f.dial(ctx, f.redisConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis session stores: %w", err)
	}
	return &SessionStores{
		Tokens: NewRedisTokenStore(client, f.redisConfig.KeyPrefix, f.sapoConfig.TokenTTL),
		Lock:   NewRedisLoginLock(client, f.redisConfig.KeyPrefix, f.redisConfig.LockTTL),
		client: client,
	}, nil
}

// CreateStores uses Redis when enabled and reachable, token files otherwise
func (f *SessionStoreFactory) CreateStores(ctx context.Context) (*SessionStores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Using token files for Sapo sessions")
		return f.CreateFileStores(), nil
	}

	stores, err := f.CreateRedisStores(ctx)
	if err == nil {
		f.logger.Info("Using Redis for Sapo sessions")
		return stores, nil
	}
	if !f.allowFileFallback {
		return nil, fmt.Errorf("redis required for session stores but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to token files. "+
		"Replicas will not share logins and may each drive the browser.",
		zap.Error(err),
	)
	return f.CreateFileStores(), nil
}
