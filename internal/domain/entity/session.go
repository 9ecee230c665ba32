package entity

import "time"

// Статусы сессии
const (
	SessionStatusWaiting  = "waiting"
	SessionStatusActive   = "active"
	SessionStatusPaused   = "paused"
	SessionStatusFinished = "finished"
)

// Фазы сессии. Фаза result хранится как question + ShowResult.
const (
	PhaseQuestion = "question"
	PhaseBreak    = "break"
	PhaseResult   = "result"
)

// Session - единственный источник истины об игре.
// Пишет в неё только контроллер фаз.
type Session struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"size:100;not null" json:"name"`
	Status               string     `gorm:"size:20;not null;default:'waiting';index" json:"status"`
	Phase                string     `gorm:"size:20;not null;default:'question'" json:"phase"`
	CurrentQuestionIndex int        `gorm:"not null;default:0" json:"current_question_index"`
	ShowResult           bool       `gorm:"not null;default:false" json:"show_result"`
	QuestionCount        int        `gorm:"not null;default:0" json:"question_count"`
	MaxPlayers           int        `gorm:"not null;default:12" json:"max_players"`
	PhaseStartedAt       *time.Time `json:"phase_started_at,omitempty"`
	PhaseDeadline        *time.Time `json:"phase_deadline,omitempty"`
	PausedRemainingMs    int64      `gorm:"not null;default:0" json:"paused_remaining_ms"`
	Version              int64      `gorm:"not null;default:0" json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
}

// TableName определяет имя таблицы для GORM
func (Session) TableName() string {
	return "sessions"
}

// SessionState - часть сессии, которой управляет конечный автомат
type SessionState struct {
	Status     string
	Phase      string
	Index      int
	ShowResult bool
}

// State возвращает текущее состояние автомата
func (s *Session) State() SessionState {
	return SessionState{
		Status:     s.Status,
		Phase:      s.Phase,
		Index:      s.CurrentQuestionIndex,
		ShowResult: s.ShowResult,
	}
}

// IsCurrent - сессия принимает игроков и показывается клиентам
func (s *Session) IsCurrent() bool {
	return s.Status == SessionStatusWaiting || s.Status == SessionStatusActive || s.Status == SessionStatusPaused
}

// IsRunning - игра идёт (возможно, на паузе)
func (s *Session) IsRunning() bool {
	return s.Status == SessionStatusActive || s.Status == SessionStatusPaused
}

// IsFinished проверяет, завершена ли сессия
func (s *Session) IsFinished() bool {
	return s.Status == SessionStatusFinished
}

// DisplayPhase возвращает фазу для клиентов: question, result или break
func (s *Session) DisplayPhase() string {
	if s.Phase == PhaseQuestion && s.ShowResult {
		return PhaseResult
	}
	return s.Phase
}

// TimeRemaining возвращает остаток текущей фазы, не меньше нуля.
// На паузе возвращается сохранённый остаток.
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	if s.Status == SessionStatusPaused {
		return time.Duration(s.PausedRemainingMs) * time.Millisecond
	}
	if s.Status != SessionStatusActive || s.PhaseDeadline == nil {
		return 0
	}
	remaining := s.PhaseDeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
