package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"barista/internal/models"
)

// RedisConfig locates the redis keys of a RedisStore
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	HistoryKey string
	// HistorySize caps the history list; older runs are trimmed
	HistorySize int
}

// RedisStore keeps statistics as a JSON blob and the history as a capped list
type RedisStore struct {
	rdb redis.UniversalClient
	cfg RedisConfig
	log *zap.SugaredLogger
}

// NewRedisStore connects to redis
func NewRedisStore(cfg RedisConfig, log *zap.SugaredLogger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(rdb, cfg, log)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(rdb redis.UniversalClient, cfg RedisConfig, log *zap.SugaredLogger) *RedisStore {
	if cfg.Key == "" {
		cfg.Key = "barista:stats"
	}
	if cfg.HistoryKey == "" {
		cfg.HistoryKey = "barista:executions"
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	return &RedisStore{rdb: rdb, cfg: cfg, log: log}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis at %s is not available: %w", s.cfg.Addr, err)
	}
	return nil
}

// Load returns the stored statistics, or nil when none were saved yet
func (s *RedisStore) Load(ctx context.Context) (*models.BrewStatistics, error) {
	data, err := s.rdb.Get(ctx, s.cfg.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.cfg.Key, err)
	}

	stats := models.NewBrewStatistics()
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.cfg.Key, err)
	}
	if stats.BrewCount == nil {
		stats.BrewCount = make(map[string]int)
	}
	return stats, nil
}

// Save overwrites the statistics blob
func (s *RedisStore) Save(ctx context.Context, stats *models.BrewStatistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode brew statistics: %w", err)
	}
	if err := s.rdb.Set(ctx, s.cfg.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.cfg.Key, err)
	}
	s.log.Debugw("saved brew statistics", "key", s.cfg.Key)
	return nil
}

// RecordExecution pushes a run onto the history list
func (s *RedisStore) RecordExecution(ctx context.Context, exec *models.RecipeExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.cfg.HistoryKey, data)
		pipe.LTrim(ctx, s.cfg.HistoryKey, 0, int64(s.cfg.HistorySize-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record execution of %q: %w", exec.RecipeName, err)
	}
	return nil
}

// ListExecutions returns the most recent runs, newest first
func (s *RedisStore) ListExecutions(ctx context.Context, limit int) ([]models.RecipeExecution, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	items, err := s.rdb.LRange(ctx, s.cfg.HistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	out := make([]models.RecipeExecution, 0, len(items))
	for _, item := range items {
		var exec models.RecipeExecution
		if err := json.Unmarshal([]byte(item), &exec); err != nil {
			s.log.Warnw("skipping undecodable execution", "error", err)
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
