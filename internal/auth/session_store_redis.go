package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore shares sessions between instances; expiry is the key TTL
type RedisSessionStore struct {
	client redis.UniversalClient
	clock  clock.Clock
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, clk clock.Clock) *RedisSessionStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisSessionStore{client: client, clock: clk, prefix: "session:"}
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sess.ExpiresAt.After(s.clock.Now()) {
		return nil, models.ErrSessionNotFound
	}

	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+sess.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller
func (s *RedisSessionStore) Close() error {
	return nil
}
