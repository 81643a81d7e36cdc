package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"home-orchestrator/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore keeps sessions in Redis. A session idle for longer than the
// idle timeout is expired on its next Load, which runs the OnExpire hook.
// Keys live for twice the idle timeout, so sessions never touched again are
// dropped by Redis without reaching the hook.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	idle     time.Duration
	now      func() time.Time
	onExpire func(*domain.Session)
	logger   *slog.Logger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, idle time.Duration, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("connected to Redis session store", "addr", cfg.Addr, "db", cfg.DB)

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, idle, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string, idle time.Duration, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "home-orchestrator:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		idle:   idle,
		now:    time.Now,
		logger: logger,
	}
}

// OnExpire registers fn to be called with every session found idle on Load.
// It must be set before the store is shared.
func (r *RedisStore) OnExpire(fn func(*domain.Session)) {
	r.onExpire = fn
}

func (r *RedisStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewSession(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Warn("discarding unreadable session", "session_id", id, "error", err)
		return domain.NewSession(id), nil
	}
	s.ID = id

	if r.idle > 0 && r.now().Sub(s.UpdatedAt) > r.idle {
		r.logger.Debug("session idle, resetting", "session_id", id, "pending", s.PendingQuestion)
		if r.onExpire != nil {
			r.onExpire(&s)
		}
		if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
			r.logger.Warn("deleting idle session", "session_id", id, "error", err)
		}
		return domain.NewSession(id), nil
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *domain.Session) error {
	c := s.Clone()
	c.UpdatedAt = r.now()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(s.ID), data, 2*r.idle).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}
