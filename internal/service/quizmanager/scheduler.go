package quizmanager

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Scheduler держит не более одного отложенного перехода на сессию.
// Отменённый или заменённый таймер никогда не вызывает свой обработчик.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	timers  map[uint]*phaseTimer
	stopped bool
	wg      sync.WaitGroup
}

type phaseTimer struct {
	timer clockwork.Timer
	done  chan struct{}
	fires time.Time
}

// NewScheduler создает планировщик на заданных часах
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:  clock,
		timers: make(map[uint]*phaseTimer),
	}
}

// Schedule заменяет таймер сессии: через d будет вызван fn
func (s *Scheduler) Schedule(sessionID uint, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked(sessionID)

	pt := &phaseTimer{
		timer: s.clock.NewTimer(d),
		done:  make(chan struct{}),
		fires: s.clock.Now().Add(d),
	}
	s.timers[sessionID] = pt

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-pt.timer.Chan():
			s.mu.Lock()
			current := s.timers[sessionID] == pt
			if current {
				delete(s.timers, sessionID)
			}
			s.mu.Unlock()

			if !current {
				return
			}
			log.Debug().Str("component", "Scheduler").Uint("session_id", sessionID).Msg("Сработал таймер фазы")
			fn()
		case <-pt.done:
		}
	}()
}

// Cancel отменяет таймер сессии, если он есть
func (s *Scheduler) Cancel(sessionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(sessionID)
}

// Pending возвращает время срабатывания таймера сессии
func (s *Scheduler) Pending(sessionID uint) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, ok := s.timers[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return pt.fires, true
}

// Stop отменяет все таймеры и ждёт завершения их горутин
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.timers {
		s.cancelLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) cancelLocked(sessionID uint) {
	pt, ok := s.timers[sessionID]
	if !ok {
		return
	}
	stopAndDrainTimer(pt.timer)
	close(pt.done)
	delete(s.timers, sessionID)
}

// stopAndDrainTimer останавливает таймер и вычитывает канал, если он уже сработал
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
