// Package redis implements token persistence in a Redis key, for desktops
// whose profile roams between machines through a shared cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the token payload under a single Redis key.
type Store struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Config holds Redis driver configuration.
type Config struct {
	// Connection
	Host     string
	Port     string
	Password string
	Database int
	URL      string

	// Key is the Redis key the payload is stored under.
	Key string

	// TTL bounds how long a persisted token outlives its last write.
	// Zero keeps it until deleted.
	TTL time.Duration
}

// New creates a Redis driver.
func New(cfg Config) (*Store, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}

	opts := &redis.UniversalOptions{
		Addrs:    []string{buildAddr(cfg)},
		Password: cfg.Password,
		DB:       cfg.Database,
	}

	// Use URL if provided
	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = &redis.UniversalOptions{
			Addrs:    []string{opt.Addr},
			Password: opt.Password,
			DB:       opt.DB,
		}
		if opt.TLSConfig != nil {
			opts.TLSConfig = opt.TLSConfig
		}
	}

	return &Store{
		client: redis.NewUniversalClient(opts),
		key:    cfg.Key,
		ttl:    cfg.TTL,
	}, nil
}

// Write persists data under the configured key.
func (s *Store) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token to redis: %w", err)
	}
	return nil
}

// Read returns the persisted payload, or (nil, nil) when the key is absent.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token from redis: %w", err)
	}
	return data, nil
}

// Delete removes the key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func buildAddr(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}
