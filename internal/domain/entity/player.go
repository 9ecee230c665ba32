package entity

import "time"

// Player - участник игры. Профиль минимальный: имя и идентификатор.
type Player struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:50;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Player) TableName() string {
	return "players"
}

// Статусы участия в сессии
const (
	PlayerSessionActive = "active"
	PlayerSessionLeft   = "left"
)

// PlayerSession - участие игрока в сессии, уникально по (player, session)
type PlayerSession struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SessionID uint       `gorm:"not null;uniqueIndex:idx_player_sessions_unique" json:"session_id"`
	PlayerID  string     `gorm:"type:uuid;not null;uniqueIndex:idx_player_sessions_unique" json:"player_id"`
	Status    string     `gorm:"size:20;not null;default:'active'" json:"status"`
	JoinedAt  time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`

	Player *Player `gorm:"foreignKey:PlayerID" json:"player,omitempty"`
}

// TableName определяет имя таблицы для GORM
func (PlayerSession) TableName() string {
	return "player_sessions"
}

// IsActive проверяет, находится ли игрок в сессии
func (ps *PlayerSession) IsActive() bool {
	return ps.Status == PlayerSessionActive
}
