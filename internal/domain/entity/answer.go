package entity

import "time"

// Answer - запись журнала ответов. Уникальна по (session, player, question),
// повторная отправка не перезаписывает её.
type Answer struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      uint      `gorm:"not null;uniqueIndex:idx_answers_unique" json:"session_id"`
	PlayerID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_answers_unique" json:"player_id"`
	QuestionID     uint      `gorm:"not null;uniqueIndex:idx_answers_unique" json:"question_id"`
	SelectedOption *int      `json:"selected_option"` // nil - игрок не ответил
	IsCorrect      bool      `gorm:"not null" json:"is_correct"`
	LatencyMs      int64     `gorm:"not null;default:0" json:"latency_ms"`
	SubmittedAt    time.Time `gorm:"not null" json:"submitted_at"`
}

// TableName определяет имя таблицы для GORM
func (Answer) TableName() string {
	return "answers"
}

// SamePayload сообщает, совпадает ли содержимое ответа с другим ответом
func (a *Answer) SamePayload(selected *int) bool {
	if a.SelectedOption == nil || selected == nil {
		return a.SelectedOption == nil && selected == nil
	}
	return *a.SelectedOption == *selected
}

// ScoreEntry - накопленный счёт игрока. Кеш над журналом ответов:
// может быть полностью пересчитан из answers.
type ScoreEntry struct {
	SessionID         uint      `gorm:"primaryKey" json:"session_id"`
	PlayerID          string    `gorm:"type:uuid;primaryKey" json:"player_id"`
	TotalScore        int       `gorm:"not null;default:0" json:"total_score"`
	QuestionsAnswered int       `gorm:"not null;default:0" json:"questions_answered"`
	CorrectAnswers    int       `gorm:"not null;default:0" json:"correct_answers"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (ScoreEntry) TableName() string {
	return "score_entries"
}

// RankingEntry - строка таблицы лидеров
type RankingEntry struct {
	Position          int       `json:"position"`
	PlayerID          string    `json:"player_id"`
	PlayerName        string    `json:"player_name"`
	TotalScore        int       `json:"total_score"`
	QuestionsAnswered int       `json:"questions_answered"`
	CorrectAnswers    int       `json:"correct_answers"`
	JoinedAt          time.Time `json:"joined_at"`
}
