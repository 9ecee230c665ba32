package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// OptionsPerQuestion - количество вариантов ответа у каждого вопроса
const OptionsPerQuestion = 4

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
func (o *StringArray) Scan(value interface{}) error {
	if value == nil {
		*o = StringArray{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSONB value: expected []byte or string")
	}

	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
func (o StringArray) Value() (driver.Value, error) {
	if len(o) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// Question - вопрос сессии. Неизменяем после посева, удаляется только вместе с сессией.
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	SessionID     uint        `gorm:"not null;uniqueIndex:idx_questions_session_order" json:"session_id"`
	OrderIndex    int         `gorm:"not null;uniqueIndex:idx_questions_session_order" json:"order_index"`
	Text          string      `gorm:"size:500;not null" json:"text"`
	Category      string      `gorm:"size:100" json:"category,omitempty"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectOption int         `gorm:"not null" json:"-"` // Скрыто от клиента
	CreatedAt     time.Time   `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsCorrect проверяет, является ли выбранный вариант правильным.
// nil (нет ответа) всегда неверен.
func (q *Question) IsCorrect(selectedOption *int) bool {
	return selectedOption != nil && *selectedOption == q.CorrectOption
}

// IsValidOption проверяет, является ли выбранный вариант допустимым
func (q *Question) IsValidOption(selectedOption int) bool {
	return selectedOption >= 0 && selectedOption < len(q.Options)
}

// Validate проверяет инварианты вопроса перед сохранением
func (q *Question) Validate() error {
	if q.Text == "" {
		return errors.New("question text is empty")
	}
	if q.OrderIndex < 1 {
		return errors.New("order index must be >= 1")
	}
	if len(q.Options) != OptionsPerQuestion {
		return errors.New("question must have exactly 4 options")
	}
	if !q.IsValidOption(q.CorrectOption) {
		return errors.New("correct option out of range")
	}
	return nil
}
