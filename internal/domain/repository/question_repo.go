package repository

import (
	"context"

	"github.com/yourusername/live-trivia/internal/domain/entity"
)

// QuestionRepository определяет методы для работы с вопросами сессии
type QuestionRepository interface {
	CreateBatch(ctx context.Context, questions []entity.Question) error
	GetByID(ctx context.Context, id uint) (*entity.Question, error)
	// ListBySession возвращает вопросы, упорядоченные по order_index
	ListBySession(ctx context.Context, sessionID uint) ([]entity.Question, error)
	CountBySession(ctx context.Context, sessionID uint) (int64, error)
	DeleteBySession(ctx context.Context, sessionID uint) error
}
