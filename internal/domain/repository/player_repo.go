package repository

import (
	"context"

	"github.com/yourusername/live-trivia/internal/domain/entity"
)

// PlayerRepository определяет методы для работы с игроками
type PlayerRepository interface {
	Create(ctx context.Context, player *entity.Player) error
	GetByID(ctx context.Context, id string) (*entity.Player, error)
}

// PlayerSessionRepository управляет участием игроков в сессиях
type PlayerSessionRepository interface {
	// Join создаёт участие или переводит left обратно в active.
	// rejoined = true, если запись уже существовала.
	Join(ctx context.Context, sessionID uint, playerID string) (ps *entity.PlayerSession, rejoined bool, err error)
	Leave(ctx context.Context, sessionID uint, playerID string) error
	Get(ctx context.Context, sessionID uint, playerID string) (*entity.PlayerSession, error)
	CountActive(ctx context.Context, sessionID uint) (int64, error)
	ListActive(ctx context.Context, sessionID uint) ([]entity.PlayerSession, error)
}
