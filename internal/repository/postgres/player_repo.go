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

// PlayerRepo реализует repository.PlayerRepository
type PlayerRepo struct {
	db *gorm.DB
}

// NewPlayerRepo создает новый репозиторий игроков
func NewPlayerRepo(db *gorm.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// Create сохраняет нового игрока
func (r *PlayerRepo) Create(ctx context.Context, player *entity.Player) error {
	return r.db.WithContext(ctx).Create(player).Error
}

// GetByID возвращает игрока по ID
func (r *PlayerRepo) GetByID(ctx context.Context, id string) (*entity.Player, error) {
	var player entity.Player
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &player, nil
}

// PlayerSessionRepo реализует repository.PlayerSessionRepository
type PlayerSessionRepo struct {
	db *gorm.DB
}

// NewPlayerSessionRepo создает новый репозиторий участий
func NewPlayerSessionRepo(db *gorm.DB) *PlayerSessionRepo {
	return &PlayerSessionRepo{db: db}
}

// Join создаёт участие или возвращает игрока в сессию. joined_at не меняется при повторном входе.
func (r *PlayerSessionRepo) Join(ctx context.Context, sessionID uint, playerID string) (*entity.PlayerSession, bool, error) {
	var ps entity.PlayerSession
	rejoined := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("session_id = ? AND player_id = ?", sessionID, playerID).First(&ps).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ps = entity.PlayerSession{
				SessionID: sessionID,
				PlayerID:  playerID,
				Status:    entity.PlayerSessionActive,
				JoinedAt:  time.Now(),
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ps)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				return nil
			}
			// Параллельный вход того же игрока успел раньше
			if err := tx.Where("session_id = ? AND player_id = ?", sessionID, playerID).First(&ps).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		rejoined = true
		if ps.Status == entity.PlayerSessionActive {
			return nil
		}
		ps.Status = entity.PlayerSessionActive
		ps.LeftAt = nil
		return tx.Model(&entity.PlayerSession{}).
			Where("id = ?", ps.ID).
			Updates(map[string]interface{}{"status": entity.PlayerSessionActive, "left_at": nil}).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("join session #%d: %w", sessionID, err)
	}
	return &ps, rejoined, nil
}

// Leave помечает участие как left
func (r *PlayerSessionRepo) Leave(ctx context.Context, sessionID uint, playerID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.PlayerSession{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Updates(map[string]interface{}{"status": entity.PlayerSessionLeft, "left_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Get возвращает участие игрока в сессии
func (r *PlayerSessionRepo) Get(ctx context.Context, sessionID uint, playerID string) (*entity.PlayerSession, error) {
	var ps entity.PlayerSession
	err := r.db.WithContext(ctx).Where("session_id = ? AND player_id = ?", sessionID, playerID).First(&ps).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &ps, nil
}

// CountActive возвращает количество активных участников
func (r *PlayerSessionRepo) CountActive(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.PlayerSession{}).
		Where("session_id = ? AND status = ?", sessionID, entity.PlayerSessionActive).
		Count(&count).Error
	return count, err
}

// ListActive возвращает активных участников вместе с профилями
func (r *PlayerSessionRepo) ListActive(ctx context.Context, sessionID uint) ([]entity.PlayerSession, error) {
	var list []entity.PlayerSession
	err := r.db.WithContext(ctx).
		Preload("Player").
		Where("session_id = ? AND status = ?", sessionID, entity.PlayerSessionActive).
		Order("joined_at ASC").
		Find(&list).Error
	return list, err
}
