package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// CacheRepo хранит снимки сессий в Redis под общим префиксом
type CacheRepo struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewCacheRepo создает кеш снимков
func NewCacheRepo(client redis.UniversalClient, keyPrefix string) (*CacheRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil for CacheRepo")
	}
	return &CacheRepo{client: client, keyPrefix: keyPrefix}, nil
}

func (r *CacheRepo) key(k string) string {
	return r.keyPrefix + k
}

// SetJSON сериализует value и сохраняет его с TTL (0 - без срока)
func (r *CacheRepo) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: cache set %s: %w", apperrors.ErrTransient, key, err)
	}
	return nil
}

// GetJSON читает снимок в dest
func (r *CacheRepo) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return apperrors.ErrNotFound
	case err != nil:
		return fmt.Errorf("%w: cache get %s: %w", apperrors.ErrTransient, key, err)
	}
	return json.Unmarshal(data, dest)
}

// Delete удаляет ключ; отсутствие ключа не ошибка
func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: cache del %s: %w", apperrors.ErrTransient, key, err)
	}
	return nil
}
