package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatapp/models"
)

// Redis key prefixes
const sessionKeyPrefix = "session:" // session:{token} - JSON session

// RedisSessionStore keeps sessions in Redis; each key expires with its session.
type RedisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore wraps an existing client.
func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

// OpenRedisSessionStore connects to addr and verifies the connection.
func OpenRedisSessionStore(ctx context.Context, addr string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		// Plain host:port is accepted as well as redis:// URLs.
		opts = &redis.Options{Addr: addr}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSessionStore(rdb), nil
}

// CreateSession stores the session with a TTL matching its expiry.
func (s *RedisSessionStore) CreateSession(ctx context.Context, session models.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return errors.New("create session: session already expired")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowMillisTime()
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession returns ErrNotFound once the key has expired.
func (s *RedisSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if !session.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return &session, nil
}

// DeleteSession removes the session key.
func (s *RedisSessionStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}
