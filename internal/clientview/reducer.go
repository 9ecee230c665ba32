// Package clientview сводит авторитетные снимки сессии и локальный таймер
// в то, что видит игрок: экран, остаток времени, состояние своего ответа.
package clientview

import (
	"errors"
	"sync"
	"time"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
)

// Screen - экран клиента
type Screen string

// Экраны
const (
	ScreenWaiting  Screen = "waiting"
	ScreenQuestion Screen = "question"
	ScreenResult   Screen = "result"
	ScreenBreak    Screen = "break"
	ScreenPaused   Screen = "paused"
	ScreenFinished Screen = "finished"
)

// Ошибки выбора варианта
var (
	ErrNotOpen          = errors.New("question is not open")
	ErrAlreadySubmitted = errors.New("answer already submitted")
	ErrInvalidOption    = errors.New("option out of range")
)

// TickInterval - шаг локального таймера
const TickInterval = time.Second

// Submission - ответ, который клиент должен отправить
type Submission struct {
	SessionID   uint
	QuestionID  uint
	OptionIndex *int // nil - "нет ответа"
}

// View - готовое к отрисовке состояние
type View struct {
	Screen           Screen
	SessionID        uint
	SessionName      string
	QuestionIndex    int
	QuestionCount    int
	Round            int
	TotalRounds      int
	SecondsRemaining int
	Question         *dto.PublicQuestion
	CorrectOption    *int
	Selected         *int
	Submitted        bool
	Result           *dto.AnswerResult
	ActivePlayers    int64
	Stale            bool
}

// Reducer хранит локальное состояние одного клиента. Безопасен для
// вызова из горутины чтения сокета и горутины таймера одновременно.
type Reducer struct {
	mu sync.Mutex

	state   *dto.SessionState
	lastSeq uint64

	remaining time.Duration

	selected    *int
	submitted   bool
	result      *dto.AnswerResult
	noneEmitted bool

	stale bool
}

// New создает пустой редьюсер (экран ожидания)
func New() *Reducer {
	return &Reducer{}
}

// Apply принимает снимок сессии. Возвращает false, если снимок отброшен:
// устаревший seq или позиция (индекс, фаза) позади уже показанной.
// Пауза и завершение применяются всегда.
func (r *Reducer) Apply(seq uint64, state *dto.SessionState) bool {
	if state == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != nil && r.state.SessionID != state.SessionID {
		r.reset()
	}

	if r.state != nil {
		if seq != 0 && seq < r.lastSeq {
			return false
		}
		if r.state.Status == entity.SessionStatusFinished && state.Status != entity.SessionStatusFinished {
			return false
		}
		if !isOverride(state) && behind(state, r.state) {
			return false
		}
	}

	if r.state == nil || questionKey(r.state) != questionKey(state) {
		r.selected = nil
		r.submitted = false
		r.result = nil
		r.noneEmitted = false
	}
	// Результат от сервера заменяет локальный выбор
	if state.ShowResult || state.Phase != entity.PhaseQuestion {
		r.selected = nil
	}

	if seq > r.lastSeq {
		r.lastSeq = seq
	}
	r.state = state
	r.remaining = time.Duration(state.TimeRemainingMs) * time.Millisecond
	if r.remaining < 0 {
		r.remaining = 0
	}
	r.stale = false
	return true
}

// Tick продвигает локальный таймер на один шаг. Если время вопроса вышло,
// а ответа нет, один раз возвращает Submission с пустым вариантом.
func (r *Reducer) Tick() *Submission {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil || r.state.Status != entity.SessionStatusActive {
		return nil
	}
	if r.remaining > 0 {
		r.remaining -= TickInterval
		if r.remaining < 0 {
			r.remaining = 0
		}
	}
	if r.remaining > 0 || !r.questionOpen() || r.submitted || r.noneEmitted {
		return nil
	}

	r.noneEmitted = true
	r.submitted = true
	return &Submission{SessionID: r.state.SessionID, QuestionID: r.state.Question.ID}
}

// Select запоминает выбор игрока и возвращает ответ для отправки
func (r *Reducer) Select(option int) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.questionOpen() || r.remaining <= 0 {
		return nil, ErrNotOpen
	}
	if r.submitted {
		return nil, ErrAlreadySubmitted
	}
	if option < 0 || option >= len(r.state.Question.Options) {
		return nil, ErrInvalidOption
	}
	r.selected = &option
	return &Submission{SessionID: r.state.SessionID, QuestionID: r.state.Question.ID, OptionIndex: &option}, nil
}

// MarkSubmitted отмечает, что ответ на вопрос отправлен
func (r *Reducer) MarkSubmitted(questionID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentQuestionID() == questionID {
		r.submitted = true
	}
}

// ApplyAnswerResult принимает результат ответа от сервера.
// Результат для другого вопроса игнорируется.
func (r *Reducer) ApplyAnswerResult(res dto.AnswerResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil || res.SessionID != r.state.SessionID || res.QuestionID != r.currentQuestionID() {
		return false
	}
	r.result = &res
	r.submitted = true
	r.selected = nil
	return true
}

// MarkDisconnected оставляет последний снимок, но помечает его устаревшим
func (r *Reducer) MarkDisconnected() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// LastSeq возвращает seq последнего принятого кадра
func (r *Reducer) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// View возвращает текущее представление
func (r *Reducer) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{Screen: ScreenWaiting, Stale: r.stale, Submitted: r.submitted, Result: r.result}
	if r.selected != nil {
		sel := *r.selected
		v.Selected = &sel
	}
	s := r.state
	if s == nil {
		return v
	}

	v.SessionID = s.SessionID
	v.SessionName = s.Name
	v.QuestionIndex = s.CurrentQuestionIndex
	v.QuestionCount = s.QuestionCount
	v.Round = s.Round
	v.TotalRounds = s.TotalRounds
	v.ActivePlayers = s.ActivePlayers
	v.Question = s.Question
	v.CorrectOption = s.CorrectOption
	v.SecondsRemaining = int((r.remaining + time.Second - 1) / time.Second)
	v.Screen = screenOf(s)
	return v
}

func (r *Reducer) reset() {
	r.state = nil
	r.lastSeq = 0
	r.remaining = 0
	r.selected = nil
	r.submitted = false
	r.result = nil
	r.noneEmitted = false
}

func (r *Reducer) questionOpen() bool {
	return r.state != nil && r.state.Status == entity.SessionStatusActive &&
		r.state.Phase == entity.PhaseQuestion && !r.state.ShowResult && r.state.Question != nil
}

func (r *Reducer) currentQuestionID() uint {
	if r.state == nil || r.state.Question == nil {
		return 0
	}
	return r.state.Question.ID
}

func screenOf(s *dto.SessionState) Screen {
	switch s.Status {
	case entity.SessionStatusPaused:
		return ScreenPaused
	case entity.SessionStatusFinished:
		return ScreenFinished
	case entity.SessionStatusActive:
		switch s.Phase {
		case entity.PhaseBreak:
			return ScreenBreak
		case entity.PhaseResult:
			return ScreenResult
		default:
			if s.ShowResult {
				return ScreenResult
			}
			return ScreenQuestion
		}
	}
	return ScreenWaiting
}

func isOverride(s *dto.SessionState) bool {
	return s.Status == entity.SessionStatusPaused || s.Status == entity.SessionStatusFinished
}

// position упорядочивает снимки одной сессии: статус, индекс, фаза
type position struct {
	status int
	index  int
	phase  int
}

func positionOf(s *dto.SessionState) position {
	p := position{index: s.CurrentQuestionIndex}
	switch s.Status {
	case entity.SessionStatusWaiting:
		p.status = 0
	case entity.SessionStatusFinished:
		p.status = 2
	default:
		p.status = 1
	}
	switch {
	case s.Phase == entity.PhaseBreak:
		p.phase = 2
	case s.Phase == entity.PhaseResult || s.ShowResult:
		p.phase = 1
	}
	return p
}

func behind(next, current *dto.SessionState) bool {
	a, b := positionOf(next), positionOf(current)
	if a.status != b.status {
		return a.status < b.status
	}
	if a.index != b.index {
		return a.index < b.index
	}
	return a.phase < b.phase
}

func questionKey(s *dto.SessionState) int {
	return s.CurrentQuestionIndex
}
