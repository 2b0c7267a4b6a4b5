package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "varmatrix:session:"

// RedisStore implements Store on Redis. Every Put refreshes the TTL, so an
// abandoned dialog expires on its own.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Claimer = (*RedisStore)(nil)
)

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, opts ...StoreOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...StoreOption) *RedisStore {
	cfg := storeConfig{prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Get loads a session.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(raw)
}

// Put saves a session with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) claimKey(id string) string {
	return s.prefix + id + ":submit"
}

// Claim takes the submission claim for id with SETNX.
func (s *RedisStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim session in redis: %w", err)
	}
	return ok, nil
}

// Release drops the submission claim for id.
func (s *RedisStore) Release(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.claimKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release session claim: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
