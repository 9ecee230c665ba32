package repository

import (
	"context"
	"time"
)

// CacheRepository хранит последние снимки сессий для чтения при недоступной БД.
// Отсутствующий или просроченный ключ - apperrors.ErrNotFound.
type CacheRepository interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}
