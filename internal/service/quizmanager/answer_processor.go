package quizmanager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// SubmitResult - итог отправки ответа
type SubmitResult struct {
	Answer    *entity.Answer
	Duplicate bool // повтор с тем же содержимым: возвращён исходный результат
	Score     *entity.ScoreEntry
}

// AnswerProcessor записывает ответы в журнал и рассылает изменения счёта.
// Состояние сессии не меняет.
type AnswerProcessor struct {
	config *Config
	deps   *Dependencies
	logger zerolog.Logger
}

// NewAnswerProcessor создает новый процессор ответов
func NewAnswerProcessor(config *Config, deps *Dependencies) *AnswerProcessor {
	return &AnswerProcessor{
		config: config,
		deps:   deps,
		logger: log.With().Str("component", "AnswerProcessor").Logger(),
	}
}

// Submit записывает ответ игрока на вопрос. selected = nil означает "нет ответа".
// Идентичный повтор возвращает исходный результат с Duplicate = true,
// другой вариант для уже отвеченного вопроса - ErrDuplicateSubmission
// вместе с исходным результатом.
func (ap *AnswerProcessor) Submit(
	ctx context.Context,
	session *entity.Session,
	question *entity.Question,
	playerID string,
	selected *int,
) (*SubmitResult, error) {
	if selected != nil && !question.IsValidOption(*selected) {
		return nil, fmt.Errorf("%w: option %d out of range", apperrors.ErrValidation, *selected)
	}

	now := ap.deps.Clock.Now()
	var latencyMs int64
	if session.PhaseStartedAt != nil {
		latencyMs = now.Sub(*session.PhaseStartedAt).Milliseconds()
		if latencyMs < 0 {
			latencyMs = 0
		}
	}

	answer := &entity.Answer{
		SessionID:      session.ID,
		PlayerID:       playerID,
		QuestionID:     question.ID,
		SelectedOption: selected,
		IsCorrect:      question.IsCorrect(selected),
		LatencyMs:      latencyMs,
		SubmittedAt:    now,
	}

	type recorded struct {
		answer  *entity.Answer
		created bool
	}
	rec, err := Retry(ctx, ap.deps.Clock, ap.config.Retry, IsTransient, func(ctx context.Context) (recorded, error) {
		stored, created, err := ap.deps.AnswerRepo.Record(ctx, answer, ap.config.PointsPerCorrect)
		return recorded{stored, created}, err
	})
	if err != nil {
		ap.logger.Error().Err(err).
			Uint("session_id", session.ID).Str("player_id", playerID).Uint("question_id", question.ID).
			Msg("Не удалось записать ответ")
		return nil, fmt.Errorf("record answer: %w", err)
	}

	if !rec.created {
		return ap.Replay(ctx, rec.answer, selected)
	}

	result := &SubmitResult{Answer: rec.answer}
	if score, err := ap.deps.AnswerRepo.GetScore(ctx, session.ID, playerID); err == nil {
		result.Score = score
	}

	ap.logger.Info().
		Uint("session_id", session.ID).Str("player_id", playerID).Uint("question_id", question.ID).
		Bool("correct", answer.IsCorrect).Int64("latency_ms", latencyMs).
		Msg("Ответ записан")

	ap.notify(ctx, session.ID, result)
	return result, nil
}

// Replay отвечает на повторную отправку уже записанного ответа:
// то же содержимое - исходный результат, другое - ErrDuplicateSubmission.
func (ap *AnswerProcessor) Replay(ctx context.Context, existing *entity.Answer, selected *int) (*SubmitResult, error) {
	result := &SubmitResult{Answer: existing, Duplicate: true}
	if score, err := ap.deps.AnswerRepo.GetScore(ctx, existing.SessionID, existing.PlayerID); err == nil {
		result.Score = score
	}

	if !existing.SamePayload(selected) {
		ap.logger.Info().Uint("session_id", existing.SessionID).Str("player_id", existing.PlayerID).
			Uint("question_id", existing.QuestionID).Msg("Отклонён повторный ответ с другим вариантом")
		return result, fmt.Errorf("%w: question #%d already answered", apperrors.ErrDuplicateSubmission, existing.QuestionID)
	}
	ap.logger.Debug().Uint("session_id", existing.SessionID).Str("player_id", existing.PlayerID).
		Uint("question_id", existing.QuestionID).Msg("Повторная отправка того же ответа, возвращаем исходный результат")
	return result, nil
}

// AnswerResultDTO собирает ответ клиенту
func AnswerResultDTO(res *SubmitResult) dto.AnswerResult {
	out := dto.AnswerResult{
		SessionID:      res.Answer.SessionID,
		QuestionID:     res.Answer.QuestionID,
		SelectedOption: res.Answer.SelectedOption,
		IsCorrect:      res.Answer.IsCorrect,
		LatencyMs:      res.Answer.LatencyMs,
		Duplicate:      res.Duplicate,
	}
	if res.Score != nil {
		out.TotalScore = res.Score.TotalScore
	}
	return out
}

// notify отправляет результат игроку и новую таблицу лидеров всем.
// Ошибки доставки не отменяют записанный ответ.
func (ap *AnswerProcessor) notify(ctx context.Context, sessionID uint, res *SubmitResult) {
	if ap.deps.Publisher == nil {
		return
	}
	if err := ap.deps.Publisher.SendToPlayer(res.Answer.PlayerID, dto.EventAnswerResult, AnswerResultDTO(res)); err != nil {
		ap.logger.Warn().Err(err).Str("player_id", res.Answer.PlayerID).Msg("Не удалось отправить результат ответа")
	}

	ranking, err := ap.deps.AnswerRepo.Ranking(ctx, sessionID)
	if err != nil {
		ap.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("Не удалось построить таблицу лидеров")
		return
	}
	payload := dto.RankingResponse{SessionID: sessionID, Entries: ranking}
	if err := ap.deps.Publisher.PublishToSession(ctx, sessionID, dto.EventRanking, payload); err != nil {
		ap.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("Не удалось разослать таблицу лидеров")
	}
}
