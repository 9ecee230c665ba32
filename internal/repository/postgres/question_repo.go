package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// CreateBatch создает несколько вопросов за одну транзакцию
func (r *QuestionRepo) CreateBatch(ctx context.Context, questions []entity.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&questions).Error
}

// GetByID возвращает вопрос по ID
func (r *QuestionRepo) GetByID(ctx context.Context, id uint) (*entity.Question, error) {
	var question entity.Question
	err := r.db.WithContext(ctx).First(&question, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// ListBySession возвращает вопросы сессии по порядку
func (r *QuestionRepo) ListBySession(ctx context.Context, sessionID uint) ([]entity.Question, error) {
	var questions []entity.Question
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_index ASC").
		Find(&questions).Error
	return questions, err
}

// CountBySession возвращает количество вопросов сессии
func (r *QuestionRepo) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Question{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// DeleteBySession удаляет все вопросы сессии
func (r *QuestionRepo) DeleteBySession(ctx context.Context, sessionID uint) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&entity.Question{}).Error
}
