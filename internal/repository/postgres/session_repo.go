package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// SessionRepo реализует repository.SessionRepository
type SessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo создает новый репозиторий сессий
func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create создает новую сессию в статусе waiting
func (r *SessionRepo) Create(ctx context.Context, session *entity.Session) error {
	if session.Status == "" {
		session.Status = entity.SessionStatusWaiting
	}
	if session.Phase == "" {
		session.Phase = entity.PhaseQuestion
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID возвращает сессию по ID
func (r *SessionRepo) GetByID(ctx context.Context, id uint) (*entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}
	return &session, nil
}

// GetCurrent возвращает идущую сессию или самую новую ожидающую
func (r *SessionRepo) GetCurrent(ctx context.Context) (*entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{entity.SessionStatusActive, entity.SessionStatusPaused}).
		Order("id DESC").
		First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}

	err = r.db.WithContext(ctx).
		Where("status = ?", entity.SessionStatusWaiting).
		Order("created_at DESC, id DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}
	return &session, nil
}

// List возвращает список сессий с пагинацией, новые первыми
func (r *SessionRepo) List(ctx context.Context, limit, offset int) ([]entity.Session, error) {
	var sessions []entity.Session
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	return sessions, err
}

// UpdateQuestionCount обновляет количество вопросов (только для waiting)
func (r *SessionRepo) UpdateQuestionCount(ctx context.Context, id uint, count int) error {
	result := r.db.WithContext(ctx).Model(&entity.Session{}).
		Where("id = ? AND status = ?", id, entity.SessionStatusWaiting).
		Update("question_count", count)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: session #%d is not waiting", apperrors.ErrConflict, id)
	}
	return nil
}

// ApplyTransition выполняет compare-and-set по версии.
// Partial unique index idx_sessions_single_running гарантирует одну идущую сессию.
func (r *SessionRepo) ApplyTransition(ctx context.Context, id uint, fromVersion int64, next *entity.Session) (*entity.Session, error) {
	updates := map[string]interface{}{
		"status":                 next.Status,
		"phase":                  next.Phase,
		"current_question_index": next.CurrentQuestionIndex,
		"show_result":            next.ShowResult,
		"phase_started_at":       next.PhaseStartedAt,
		"phase_deadline":         next.PhaseDeadline,
		"paused_remaining_ms":    next.PausedRemainingMs,
		"started_at":             next.StartedAt,
		"finished_at":            next.FinishedAt,
		"version":                gorm.Expr("version + 1"),
		"updated_at":             time.Now(),
	}

	result := r.db.WithContext(ctx).Model(&entity.Session{}).
		Where("id = ? AND version = ? AND current_question_index <= ?", id, fromVersion, next.CurrentQuestionIndex).
		Updates(updates)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return nil, fmt.Errorf("%w: session #%d", repository.ErrAnotherSessionActive, id)
		}
		return nil, fmt.Errorf("%w: apply transition for session #%d: %w", apperrors.ErrTransient, id, result.Error)
	}

	stored, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 1 || repository.SameTarget(stored, fromVersion, next) {
		return stored, nil
	}
	return nil, fmt.Errorf("%w: session #%d is at version %d, expected %d",
		apperrors.ErrStaleTransition, id, stored.Version, fromVersion)
}
