package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// AnswerRepo реализует repository.AnswerRepository
type AnswerRepo struct {
	db *gorm.DB
}

// NewAnswerRepo создает новый репозиторий журнала ответов
func NewAnswerRepo(db *gorm.DB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

// Record вставляет ответ и аддитивно обновляет счёт в одной транзакции.
// Уникальный индекс idx_answers_unique отсекает повторные ответы.
func (r *AnswerRepo) Record(ctx context.Context, answer *entity.Answer, award int) (*entity.Answer, bool, error) {
	points, correct := 0, 0
	if answer.IsCorrect {
		points, correct = award, 1
	}
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(answer).Error; err != nil {
			return err
		}

		score := entity.ScoreEntry{
			SessionID:         answer.SessionID,
			PlayerID:          answer.PlayerID,
			TotalScore:        points,
			QuestionsAnswered: 1,
			CorrectAnswers:    correct,
			UpdatedAt:         now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "player_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_score":        gorm.Expr("score_entries.total_score + ?", points),
				"questions_answered": gorm.Expr("score_entries.questions_answered + 1"),
				"correct_answers":    gorm.Expr("score_entries.correct_answers + ?", correct),
				"updated_at":         now,
			}),
		}).Create(&score).Error
	})
	if err == nil {
		return answer, true, nil
	}

	if isUniqueViolation(err) {
		existing, getErr := r.Get(ctx, answer.SessionID, answer.PlayerID, answer.QuestionID)
		if getErr != nil {
			return nil, false, fmt.Errorf("load existing answer: %w", getErr)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("%w: record answer: %w", apperrors.ErrTransient, err)
}

// Get возвращает ответ игрока на вопрос
func (r *AnswerRepo) Get(ctx context.Context, sessionID uint, playerID string, questionID uint) (*entity.Answer, error) {
	var answer entity.Answer
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND player_id = ? AND question_id = ?", sessionID, playerID, questionID).
		First(&answer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &answer, nil
}

// CountForQuestion возвращает количество ответов на вопрос
func (r *AnswerRepo) CountForQuestion(ctx context.Context, sessionID uint, questionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Answer{}).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Count(&count).Error
	return count, err
}

// GetScore возвращает счёт игрока
func (r *AnswerRepo) GetScore(ctx context.Context, sessionID uint, playerID string) (*entity.ScoreEntry, error) {
	var score entity.ScoreEntry
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &score, nil
}

// Ranking возвращает таблицу лидеров. Игроки без ответов участвуют с нулём.
func (r *AnswerRepo) Ranking(ctx context.Context, sessionID uint) ([]entity.RankingEntry, error) {
	var rows []entity.RankingEntry
	err := r.db.WithContext(ctx).Raw(`
		SELECT ps.player_id,
		       p.name AS player_name,
		       COALESCE(se.total_score, 0) AS total_score,
		       COALESCE(se.questions_answered, 0) AS questions_answered,
		       COALESCE(se.correct_answers, 0) AS correct_answers,
		       ps.joined_at
		FROM player_sessions ps
		JOIN players p ON p.id = ps.player_id
		LEFT JOIN score_entries se ON se.session_id = ps.session_id AND se.player_id = ps.player_id
		WHERE ps.session_id = ?
		ORDER BY total_score DESC, ps.joined_at ASC, ps.player_id ASC`, sessionID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Position = i + 1
	}
	return rows, nil
}

// RebuildScores пересчитывает score_entries сессии из журнала ответов
func (r *AnswerRepo) RebuildScores(ctx context.Context, sessionID uint, award int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&entity.ScoreEntry{}).Error; err != nil {
			return err
		}
		return tx.Exec(`
			INSERT INTO score_entries (session_id, player_id, total_score, questions_answered, correct_answers, updated_at)
			SELECT session_id,
			       player_id,
			       SUM(CASE WHEN is_correct THEN ? ELSE 0 END),
			       COUNT(*),
			       SUM(CASE WHEN is_correct THEN 1 ELSE 0 END),
			       NOW()
			FROM answers
			WHERE session_id = ?
			GROUP BY session_id, player_id`, award, sessionID).Error
	})
}
