package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists tokens in Redis instead of the local filesystem, for
// deployments where the container filesystem does not survive restarts. The
// record expires together with the refresh token's usefulness, capped at the
// same 7-day ceiling the in-process cache uses.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis at url (redis://...) and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) key(language string) string {
	return "magioproxy:token:" + language
}

func (s *RedisStore) Load(language string) (*TokenSet, error) {
	data, err := s.client.Get(context.Background(), s.key(language)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, nil
	}
	return &tokens, nil
}

func (s *RedisStore) Save(tokens TokenSet, language string) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("could not marshal tokens: %w", err)
	}

	ttl := time.Until(tokens.ExpiresAt())
	if ttl <= 0 || ttl > cacheTTLCeiling {
		ttl = cacheTTLCeiling
	}

	if err := s.client.Set(context.Background(), s.key(language), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(language string) error {
	if err := s.client.Del(context.Background(), s.key(language)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
