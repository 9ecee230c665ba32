package repository

import (
	"context"

	"github.com/yourusername/live-trivia/internal/domain/entity"
)

// AnswerRepository - журнал ответов и производные от него очки
type AnswerRepository interface {
	// Record в одной транзакции вставляет ответ и аддитивно обновляет ScoreEntry
	// (award добавляется к total_score только для верного ответа).
	// Если ответ на (session, player, question) уже есть, возвращает
	// сохранённую запись и created = false, ScoreEntry не меняется.
	Record(ctx context.Context, answer *entity.Answer, award int) (stored *entity.Answer, created bool, err error)
	Get(ctx context.Context, sessionID uint, playerID string, questionID uint) (*entity.Answer, error)
	CountForQuestion(ctx context.Context, sessionID uint, questionID uint) (int64, error)
	GetScore(ctx context.Context, sessionID uint, playerID string) (*entity.ScoreEntry, error)
	// Ranking возвращает всех участников сессии: total_score DESC, joined_at ASC.
	Ranking(ctx context.Context, sessionID uint) ([]entity.RankingEntry, error)
	// RebuildScores пересчитывает score_entries сессии из журнала.
	RebuildScores(ctx context.Context, sessionID uint, award int) error
}
