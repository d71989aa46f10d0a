package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

const (
	LockKey   = "catalog:ingest:lock"
	StatusKey = "catalog:ingest:last_run"
)

// Deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store keeps the cross-process ingestion lock and the last run summary in Redis.
type Store struct {
	redis   redis.UniversalClient
	logger  *zap.Logger
	lockTTL time.Duration
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func New(rdb redis.UniversalClient, logger *zap.Logger, lockTTL time.Duration) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Store{redis: rdb, logger: logger, lockTTL: lockTTL}
}

// Acquire takes the ingestion lock for token. It expires after the lock TTL so a
// crashed holder cannot block ingestion forever.
func (s *Store) Acquire(ctx context.Context, token string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, LockKey, token, s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if ok {
		s.logger.Debug("runstate.lock_acquired", zap.String("token", token))
	} else {
		s.logger.Info("runstate.lock_busy")
	}
	return ok, nil
}

// Release frees the lock if token still holds it.
func (s *Store) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, s.redis, []string{LockKey}, token).Int()
	if err != nil {
		return fmt.Errorf("release ingest lock: %w", err)
	}
	if n == 0 {
		s.logger.Warn("runstate.lock_lost", zap.String("token", token))
	}
	return nil
}

func (s *Store) SaveSummary(ctx context.Context, summary model.RunSummary) error {
	return s.SetJSON(ctx, StatusKey, summary, 0)
}

// LastSummary returns nil when no run has been recorded.
func (s *Store) LastSummary(ctx context.Context) (*model.RunSummary, error) {
	var summary model.RunSummary
	if err := s.GetJSON(ctx, StatusKey, &summary); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load last run: %w", err)
	}
	return &summary, nil
}

func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
