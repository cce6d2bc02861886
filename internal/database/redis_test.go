package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"barista/internal/models"
)

func newTestRedisStore(t *testing.T, cfg RedisConfig) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg.Addr = mr.Addr()
	store := NewRedisStoreWithClient(rdb, cfg, zap.NewNop().Sugar())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreStats(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{})
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	stats, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats)

	saved := models.NewBrewStatistics()
	saved.RecordCompletion("Cappuccino", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save(ctx, saved))
	assert.True(t, mr.Exists("barista:stats"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.BrewCount, loaded.BrewCount)
	assert.Equal(t, "Cappuccino", loaded.LastRecipeName)
}

func TestRedisStoreRejectsGarbage(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{Key: "stats"})
	require.NoError(t, mr.Set("stats", "not json"))

	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisStoreHistoryIsCapped(t *testing.T) {
	store, _ := newTestRedisStore(t, RedisConfig{HistorySize: 2})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordExecution(ctx, &models.RecipeExecution{RecipeName: name, Status: "completed"}))
	}

	list, err := store.ListExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].RecipeName)
	assert.Equal(t, "b", list[1].RecipeName)
}
