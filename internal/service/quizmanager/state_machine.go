package quizmanager

import (
	"fmt"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/internal/service/rounds"
)

// Event - событие конечного автомата сессии
type Event string

// События автомата
const (
	EventStart    Event = "start"     // waiting → question(0)
	EventReveal   Event = "reveal"    // question(i) → result(i)
	EventAdvance  Event = "advance"   // result(i) → break(i) | question(i+1) | finished
	EventEndBreak Event = "end_break" // break(i) → question(i+1)
	EventSkip     Event = "skip"      // ручной шаг оператора: следующий по порядку переход
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventEnd      Event = "end" // принудительное завершение
)

// Machine - чистая функция переходов. Не знает о времени и хранилище.
type Machine struct {
	rounds *rounds.Calculator
}

// NewMachine создает автомат с заданной таблицей раундов
func NewMachine(calc *rounds.Calculator) *Machine {
	return &Machine{rounds: calc}
}

// Resolve заменяет EventSkip конкретным событием для текущего состояния
func (m *Machine) Resolve(cur entity.SessionState, ev Event) Event {
	if ev != EventSkip || cur.Status != entity.SessionStatusActive {
		return ev
	}
	switch {
	case cur.Phase == entity.PhaseBreak:
		return EventEndBreak
	case cur.ShowResult:
		return EventAdvance
	default:
		return EventReveal
	}
}

// Next вычисляет следующее состояние. Недопустимое событие - ErrStaleTransition.
func (m *Machine) Next(cur entity.SessionState, ev Event, questionCount int) (entity.SessionState, error) {
	ev = m.Resolve(cur, ev)
	next := cur

	stale := func() (entity.SessionState, error) {
		return cur, fmt.Errorf("%w: %s in %s/%s(%d)", apperrors.ErrStaleTransition, ev, cur.Status, cur.Phase, cur.Index)
	}

	if cur.Status == entity.SessionStatusFinished {
		return stale()
	}

	switch ev {
	case EventStart:
		if cur.Status != entity.SessionStatusWaiting {
			return stale()
		}
		if questionCount <= 0 {
			return cur, fmt.Errorf("%w: session has no questions", apperrors.ErrContentUnavailable)
		}
		next = entity.SessionState{Status: entity.SessionStatusActive, Phase: entity.PhaseQuestion, Index: 0}

	case EventReveal:
		if cur.Status != entity.SessionStatusActive || cur.Phase != entity.PhaseQuestion || cur.ShowResult {
			return stale()
		}
		next.ShowResult = true

	case EventAdvance:
		if cur.Status != entity.SessionStatusActive || cur.Phase != entity.PhaseQuestion || !cur.ShowResult {
			return stale()
		}
		nextIndex := cur.Index + 1
		switch {
		case nextIndex >= questionCount:
			next.Status = entity.SessionStatusFinished
		case m.rounds.NeedsBreakBefore(nextIndex):
			next.Phase = entity.PhaseBreak
			next.ShowResult = false
		default:
			next = entity.SessionState{Status: entity.SessionStatusActive, Phase: entity.PhaseQuestion, Index: nextIndex}
		}

	case EventEndBreak:
		if cur.Status != entity.SessionStatusActive || cur.Phase != entity.PhaseBreak {
			return stale()
		}
		if cur.Index+1 >= questionCount {
			next.Status = entity.SessionStatusFinished
			break
		}
		next = entity.SessionState{Status: entity.SessionStatusActive, Phase: entity.PhaseQuestion, Index: cur.Index + 1}

	case EventPause:
		if cur.Status != entity.SessionStatusActive {
			return stale()
		}
		next.Status = entity.SessionStatusPaused

	case EventResume:
		if cur.Status != entity.SessionStatusPaused {
			return stale()
		}
		next.Status = entity.SessionStatusActive

	case EventEnd:
		next.Status = entity.SessionStatusFinished

	case EventSkip:
		// Resolve оставляет Skip только вне активной игры
		return stale()

	default:
		return cur, fmt.Errorf("%w: unknown event %q", apperrors.ErrValidation, ev)
	}

	return next, nil
}

// RoundOf возвращает раунд для индекса вопроса
func (m *Machine) RoundOf(index int) int {
	return m.rounds.RoundOf(index)
}

// TotalRounds возвращает количество раундов игры
func (m *Machine) TotalRounds(questionCount int) int {
	return m.rounds.TotalRounds(questionCount)
}
