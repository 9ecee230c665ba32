package quizmanager

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yourusername/live-trivia/internal/domain/repository"
	"github.com/yourusername/live-trivia/internal/service/rounds"
)

// Значения по умолчанию
const (
	DefaultQuestionDuration = 20 * time.Second
	DefaultRevealDuration   = 3 * time.Second
	DefaultBreakDuration    = 30 * time.Second
	DefaultPointsPerCorrect = 100
	DefaultMinPlayers       = 2
	DefaultMaxPlayers       = 12
)

// Config содержит настройки игрового цикла
type Config struct {
	// Длительности фаз
	QuestionDuration time.Duration // Время на ответ
	RevealDuration   time.Duration // Показ правильного ответа
	BreakDuration    time.Duration // Перерыв между раундами; 0 - только оператор

	// Лобби
	MinPlayersToStart int // Минимум активных игроков для старта
	MaxPlayers        int // Максимум игроков в сессии; 0 - без ограничения

	PointsPerCorrect int // Очки за верный ответ

	// Повторы записи при временных ошибках
	Retry RetryPolicy

	// Повторы загрузки вопросов перед стартом
	ContentRetry RetryPolicy

	// Сколько хранить последний снимок сессии в кеше
	SnapshotTTL time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		QuestionDuration:  DefaultQuestionDuration,
		RevealDuration:    DefaultRevealDuration,
		BreakDuration:     DefaultBreakDuration,
		MinPlayersToStart: DefaultMinPlayers,
		MaxPlayers:        DefaultMaxPlayers,
		PointsPerCorrect:  DefaultPointsPerCorrect,
		Retry: RetryPolicy{
			Attempts:       4,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		ContentRetry: RetryPolicy{
			Attempts:       3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     8 * time.Second,
		},
		SnapshotTTL: 6 * time.Hour,
	}
}

// Publisher доставляет события клиентам
type Publisher interface {
	// PublishToSession рассылает событие всем подписчикам сессии
	PublishToSession(ctx context.Context, sessionID uint, eventType string, payload interface{}) error
	// SendToPlayer отправляет событие одному игроку
	SendToPlayer(playerID string, eventType string, payload interface{}) error
}

// Dependencies содержит зависимости игрового цикла
type Dependencies struct {
	SessionRepo       repository.SessionRepository
	QuestionRepo      repository.QuestionRepository
	PlayerSessionRepo repository.PlayerSessionRepository
	AnswerRepo        repository.AnswerRepository
	CacheRepo         repository.CacheRepository
	Publisher         Publisher
	Rounds            *rounds.Calculator
	Clock             clockwork.Clock
}
