package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

// RedisSlot stores blobs as Redis strings that expire with the retention
// window, so stale consent disappears without a sweeper.
type RedisSlot struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSlot builds a slot on top of an existing client. A zero ttl keeps
// keys forever.
func NewRedisSlot(client redis.Cmdable, ttl time.Duration) *RedisSlot {
	return &RedisSlot{client: client, ttl: ttl}
}

func (s *RedisSlot) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("redis get consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return data, nil
}

func (s *RedisSlot) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisSlot) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete consent: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}
