package websocket

import (
	"context"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
)

// MetricsProvider отдаёт метрики для HTTP-эндпоинтов
type MetricsProvider interface {
	GetMetrics() map[string]interface{}
	ClientCount() int
}

// GameService - операции контроллера фаз, доступные по WebSocket
type GameService interface {
	JoinSession(ctx context.Context, sessionID uint, playerID string) (*dto.SessionState, error)
	GetState(ctx context.Context, sessionID uint) (*dto.SessionState, error)
	SubmitAnswer(ctx context.Context, sessionID uint, playerID string, questionID uint, option *int) (*quizmanager.SubmitResult, error)
}
