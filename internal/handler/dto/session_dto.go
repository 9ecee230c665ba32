package dto

import (
	"encoding/json"
	"time"

	"github.com/yourusername/live-trivia/internal/domain/entity"
)

// Типы событий реального времени
const (
	EventSessionState = "session:state"
	EventRanking      = "ranking:update"
	EventAnswerResult = "answer:result"
	EventPlayers      = "session:players"
	EventServerError  = "server:error"
)

// Envelope - кадр, который рассылается подписчикам сессии.
// Seq монотонно растёт внутри сессии; подписчики отбрасывают Seq ≤ последнего.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID uint            `json:"session_id"`
	Seq       uint64          `json:"seq"`
	SentAt    int64           `json:"sent_at"`
	Data      json.RawMessage `json:"data"`
}

// PublicQuestion - вопрос без правильного ответа
type PublicQuestion struct {
	ID         uint     `json:"id"`
	OrderIndex int      `json:"order_index"`
	Text       string   `json:"text"`
	Category   string   `json:"category,omitempty"`
	Options    []string `json:"options"`
}

// NewPublicQuestion скрывает правильный вариант
func NewPublicQuestion(q *entity.Question) *PublicQuestion {
	if q == nil {
		return nil
	}
	return &PublicQuestion{
		ID:         q.ID,
		OrderIndex: q.OrderIndex,
		Text:       q.Text,
		Category:   q.Category,
		Options:    append([]string(nil), q.Options...),
	}
}

// SessionState - авторитетный снимок сессии для клиентов
type SessionState struct {
	SessionID            uint            `json:"session_id"`
	Name                 string          `json:"name"`
	Status               string          `json:"status"`
	Phase                string          `json:"phase"`
	ShowResult           bool            `json:"show_result"`
	CurrentQuestionIndex int             `json:"current_question_index"`
	QuestionCount        int             `json:"question_count"`
	Round                int             `json:"round"`
	TotalRounds          int             `json:"total_rounds"`
	TimeRemainingMs      int64           `json:"time_remaining_ms"`
	Question             *PublicQuestion `json:"question,omitempty"`
	CorrectOption        *int            `json:"correct_option,omitempty"`
	ActivePlayers        int64           `json:"active_players"`
	MaxPlayers           int             `json:"max_players"`
	Version              int64           `json:"version"`
	ServerTime           int64           `json:"server_time"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	FinishedAt           *time.Time      `json:"finished_at,omitempty"`
	Stale                bool            `json:"stale,omitempty"`
}

// AnswerRequest - отправка ответа. OptionIndex = null означает "нет ответа".
type AnswerRequest struct {
	QuestionID  uint `json:"question_id" binding:"required"`
	OptionIndex *int `json:"option_index"`
}

// AnswerResult - результат принятого (или повторённого) ответа
type AnswerResult struct {
	SessionID      uint   `json:"session_id"`
	QuestionID     uint   `json:"question_id"`
	SelectedOption *int   `json:"selected_option"`
	IsCorrect      bool   `json:"is_correct"`
	LatencyMs      int64  `json:"latency_ms"`
	Duplicate      bool   `json:"duplicate"`
	TotalScore     int    `json:"total_score"`
	Message        string `json:"message,omitempty"`
}

// RankingResponse - таблица лидеров
type RankingResponse struct {
	SessionID uint                  `json:"session_id"`
	Entries   []entity.RankingEntry `json:"entries"`
}

// PlayersResponse - список подключённых к сессии игроков
type PlayersResponse struct {
	SessionID uint          `json:"session_id"`
	Count     int           `json:"count"`
	Players   []PlayerBrief `json:"players"`
}

// PlayerBrief - краткая информация об игроке
type PlayerBrief struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// AdvanceRequest - ожидаемое оператором состояние. Если поля заданы и
// сессия уже ушла дальше, переход отклоняется как устаревший.
type AdvanceRequest struct {
	FromIndex *int   `json:"from_index"`
	FromPhase string `json:"from_phase"`
}

// TransitionResponse - результат административного перехода
type TransitionResponse struct {
	Applied bool          `json:"applied"`
	Session *SessionState `json:"session"`
}

// CreateSessionRequest - создание сессии
type CreateSessionRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	QuestionSet string `json:"question_set"`
	MaxPlayers  int    `json:"max_players" binding:"omitempty,min=1,max=1000"`
}

// RegisterPlayerRequest - регистрация игрока
type RegisterPlayerRequest struct {
	Name string `json:"name" binding:"required,min=1,max=50"`
}

// RegisterPlayerResponse - игрок и его токен
type RegisterPlayerResponse struct {
	Player entity.Player `json:"player"`
	Token  string        `json:"token"`
}

// AdminLoginRequest - вход оператора
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// TokenResponse - выданный токен
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
