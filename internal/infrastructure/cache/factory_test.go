package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/giadungplus/opscore/internal/infrastructure/config"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

func redisConfig(host string, port int) config.RedisConfig {
	return config.RedisConfig{Enabled: true, Host: host, Port: port, KeyPrefix: "test:"}
}

func testSapoConfig(t *testing.T) config.SapoConfig {
	dir := t.TempDir()
	return config.SapoConfig{
		CoreTokenFile:        dir + "/core.json",
		MarketplaceTokenFile: dir + "/marketplace.json",
	}
}

func TestSessionStoreFactory_Disabled(t *testing.T) {
	f := NewSessionStoreFactory(config.RedisConfig{}, testSapoConfig(t))

	stores, err := f.CreateStores(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &sapo.FileTokenStore{}, stores.Tokens)
	assert.Nil(t, stores.Lock)
	assert.False(t, stores.Shared())
	assert.NoError(t, stores.Close())
}

func TestSessionStoreFactory_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	f := NewSessionStoreFactory(redisConfig(mr.Host(), port), testSapoConfig(t))
	stores, err := f.CreateStores(context.Background())
	require.NoError(t, err)
	defer stores.Close()

	assert.True(t, stores.Shared())
	assert.IsType(t, &RedisTokenStore{}, stores.Tokens)
	assert.IsType(t, &RedisLoginLock{}, stores.Lock)
}

func TestSessionStoreFactory_Fallback(t *testing.T) {
	unreachable := func(context.Context, config.RedisConfig) (*redis.Client, error) {
		return nil, errors.New("connection refused")
	}

	t.Run("falls back to token files", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		f := NewSessionStoreFactory(redisConfig("localhost", 6379), testSapoConfig(t), WithLogger(zap.New(core)))
		f.dial = unreachable

		stores, err := f.CreateStores(context.Background())
		require.NoError(t, err)
		assert.False(t, stores.Shared())
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("fails without fallback", func(t *testing.T) {
		f := NewSessionStoreFactory(redisConfig("localhost", 6379), testSapoConfig(t), WithFileFallback(false))
		f.dial = unreachable

		_, err := f.CreateStores(context.Background())
		assert.Error(t, err)
	})
}
