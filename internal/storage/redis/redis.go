package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis.
type Store struct {
	client    *redis.Client
	users     *userStore
	sessions  *sessionStore
	intervals *intervalStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:    client,
		users:     &userStore{client: client},
		sessions:  &sessionStore{client: client},
		intervals: &intervalStore{client: client},
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Users returns the UserStore implementation.
func (s *Store) Users() storage.UserStore { return s.users }

// Sessions returns the SessionStore implementation.
func (s *Store) Sessions() storage.SessionStore { return s.sessions }

// Intervals returns the IntervalStore implementation.
func (s *Store) Intervals() storage.IntervalStore { return s.intervals }
