package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
)

const (
	currentSessionKey = "session:current"
	// Повтор перехода по таймеру после исчерпания ретраев записи
	timerRetryDelay = 2 * time.Second
)

func sessionStateKey(id uint) string {
	return fmt.Sprintf("session:%d:state", id)
}

// QuestionSource выдаёт вопросы для посева в сессию
type QuestionSource interface {
	Build(set string, sessionID uint) ([]entity.Question, error)
}

// FinishHook вызывается один раз, когда сессия переходит в finished
type FinishHook interface {
	SessionFinished(ctx context.Context, session *entity.Session, ranking []entity.RankingEntry)
}

// Expectation - состояние, в котором оператор видел сессию перед нажатием "дальше"
type Expectation struct {
	Index int
	Phase string // question, result или break
}

// SessionManager - контроллер фаз: единственный писатель состояния сессии.
// Все переходы одной сессии выполняются под её мьютексом.
type SessionManager struct {
	config  *quizmanager.Config
	deps    *quizmanager.Dependencies
	machine *quizmanager.Machine
	timers  *quizmanager.Scheduler
	answers *quizmanager.AnswerProcessor

	playerRepo repository.PlayerRepository
	content    QuestionSource
	finishHook FinishHook

	locks     sync.Map // map[uint]*sync.Mutex
	questions sync.Map // map[uint][]entity.Question, только для идущих сессий

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewSessionManager создает контроллер фаз
func NewSessionManager(
	config *quizmanager.Config,
	deps *quizmanager.Dependencies,
	playerRepo repository.PlayerRepository,
	content QuestionSource,
	finishHook FinishHook,
) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &SessionManager{
		config:     config,
		deps:       deps,
		machine:    quizmanager.NewMachine(deps.Rounds),
		timers:     quizmanager.NewScheduler(deps.Clock),
		answers:    quizmanager.NewAnswerProcessor(config, deps),
		playerRepo: playerRepo,
		content:    content,
		finishHook: finishHook,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With().Str("component", "SessionManager").Logger(),
	}

	m.logger.Info().Msg("Контроллер фаз инициализирован")
	return m
}

// Shutdown останавливает таймеры
func (m *SessionManager) Shutdown() {
	m.cancel()
	m.timers.Stop()
	m.logger.Info().Msg("Контроллер фаз остановлен")
}

func (m *SessionManager) lock(sessionID uint) func() {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ============================================================================
// Административные операции
// ============================================================================

// CreateSession создает сессию в статусе waiting и засевает вопросы
func (m *SessionManager) CreateSession(ctx context.Context, name, questionSet string, maxPlayers int) (*entity.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: session name is required", apperrors.ErrValidation)
	}
	if maxPlayers <= 0 {
		maxPlayers = m.config.MaxPlayers
	}

	// Проверяем набор до создания сессии
	if _, err := m.content.Build(questionSet, 0); err != nil {
		return nil, err
	}

	session := &entity.Session{
		Name:       name,
		Status:     entity.SessionStatusWaiting,
		Phase:      entity.PhaseQuestion,
		MaxPlayers: maxPlayers,
	}
	if err := m.deps.SessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	count, err := m.seed(ctx, session.ID, questionSet)
	if err != nil {
		return nil, err
	}
	session.QuestionCount = count

	m.logger.Info().Uint("session_id", session.ID).Str("name", name).Int("questions", count).
		Msg("Сессия создана")

	m.publishState(ctx, session)
	return session, nil
}

// ReseedQuestions заменяет вопросы ожидающей сессии
func (m *SessionManager) ReseedQuestions(ctx context.Context, sessionID uint, questionSet string) (*entity.Session, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != entity.SessionStatusWaiting {
		return nil, fmt.Errorf("%w: questions can be replaced only before start", apperrors.ErrConflict)
	}
	if _, err := m.content.Build(questionSet, sessionID); err != nil {
		return nil, err
	}

	if err := m.deps.QuestionRepo.DeleteBySession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("delete questions: %w", err)
	}
	count, err := m.seed(ctx, sessionID, questionSet)
	if err != nil {
		return nil, err
	}
	session.QuestionCount = count
	m.questions.Delete(sessionID)

	m.logger.Info().Uint("session_id", sessionID).Int("questions", count).Msg("Вопросы сессии обновлены")
	m.publishState(ctx, session)
	return session, nil
}

func (m *SessionManager) seed(ctx context.Context, sessionID uint, questionSet string) (int, error) {
	questions, err := m.content.Build(questionSet, sessionID)
	if err != nil {
		return 0, err
	}
	if err := m.deps.QuestionRepo.CreateBatch(ctx, questions); err != nil {
		return 0, fmt.Errorf("seed questions: %w", err)
	}
	if err := m.deps.SessionRepo.UpdateQuestionCount(ctx, sessionID, len(questions)); err != nil {
		return 0, fmt.Errorf("update question count: %w", err)
	}
	return len(questions), nil
}

// StartSession переводит waiting → active с первым вопросом
func (m *SessionManager) StartSession(ctx context.Context, sessionID uint) (*dto.SessionState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != entity.SessionStatusWaiting {
		return m.snapshot(ctx, session), fmt.Errorf("%w: session #%d is %s", apperrors.ErrStaleTransition, sessionID, session.Status)
	}

	active, err := m.deps.PlayerSessionRepo.CountActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count players: %w", err)
	}
	if int(active) < m.config.MinPlayersToStart {
		return nil, fmt.Errorf("%w: need at least %d players, have %d",
			apperrors.ErrConflict, m.config.MinPlayersToStart, active)
	}

	// Вопросы могут ещё дописываться: ждём с backoff, но не стартуем без них
	questions, err := quizmanager.Retry(ctx, m.deps.Clock, m.config.ContentRetry,
		func(err error) bool {
			return quizmanager.IsTransient(err) || errors.Is(err, apperrors.ErrContentUnavailable)
		},
		func(ctx context.Context) ([]entity.Question, error) {
			list, err := m.deps.QuestionRepo.ListBySession(ctx, sessionID)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
			}
			if len(list) == 0 {
				m.logger.Warn().Uint("session_id", sessionID).Msg("Вопросы не найдены, повторяем загрузку")
				return nil, fmt.Errorf("%w: session #%d has no questions", apperrors.ErrContentUnavailable, sessionID)
			}
			return list, nil
		})
	if err != nil {
		return nil, err
	}
	session.QuestionCount = len(questions)
	m.questions.Store(sessionID, questions)

	stored, err := m.applyLocked(ctx, session, quizmanager.EventStart)
	if err != nil {
		m.questions.Delete(sessionID)
		return nil, err
	}

	m.logger.Info().Uint("session_id", sessionID).Int64("players", active).Int("questions", len(questions)).
		Msg("Сессия запущена")
	return m.snapshot(ctx, stored), nil
}

// AdvanceQuestion выполняет следующий шаг по кнопке оператора.
// Если expect задан и сессия уже в другом состоянии, возвращает ErrStaleTransition.
func (m *SessionManager) AdvanceQuestion(ctx context.Context, sessionID uint, expect *Expectation) (*dto.SessionState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if expect != nil && (session.CurrentQuestionIndex != expect.Index || session.DisplayPhase() != expect.Phase) {
		return m.snapshot(ctx, session), fmt.Errorf("%w: expected %s(%d), session is at %s(%d)",
			apperrors.ErrStaleTransition, expect.Phase, expect.Index, session.DisplayPhase(), session.CurrentQuestionIndex)
	}

	stored, err := m.applyLocked(ctx, session, quizmanager.EventSkip)
	if err != nil {
		return m.snapshot(ctx, session), err
	}
	return m.snapshot(ctx, stored), nil
}

// PauseToggle ставит на паузу активную сессию или снимает с паузы
func (m *SessionManager) PauseToggle(ctx context.Context, sessionID uint) (*dto.SessionState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ev := quizmanager.EventPause
	if session.Status == entity.SessionStatusPaused {
		ev = quizmanager.EventResume
	}
	stored, err := m.applyLocked(ctx, session, ev)
	if err != nil {
		return m.snapshot(ctx, session), err
	}
	m.logger.Info().Uint("session_id", sessionID).Str("status", stored.Status).Msg("Пауза переключена")
	return m.snapshot(ctx, stored), nil
}

// EndSession принудительно завершает сессию и отменяет её таймеры
func (m *SessionManager) EndSession(ctx context.Context, sessionID uint) (*dto.SessionState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stored, err := m.applyLocked(ctx, session, quizmanager.EventEnd)
	if err != nil {
		return m.snapshot(ctx, session), err
	}
	m.logger.Info().Uint("session_id", sessionID).Int("index", stored.CurrentQuestionIndex).Msg("Сессия завершена оператором")
	return m.snapshot(ctx, stored), nil
}

// RebuildScores пересчитывает счёт из журнала и рассылает таблицу лидеров
func (m *SessionManager) RebuildScores(ctx context.Context, sessionID uint) ([]entity.RankingEntry, error) {
	if _, err := m.deps.SessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := m.deps.AnswerRepo.RebuildScores(ctx, sessionID, m.config.PointsPerCorrect); err != nil {
		return nil, fmt.Errorf("rebuild scores: %w", err)
	}
	ranking, err := m.deps.AnswerRepo.Ranking(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, sessionID, dto.EventRanking, dto.RankingResponse{SessionID: sessionID, Entries: ranking})
	return ranking, nil
}

// ListSessions возвращает сессии для панели оператора
func (m *SessionManager) ListSessions(ctx context.Context, limit, offset int) ([]entity.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.deps.SessionRepo.List(ctx, limit, offset)
}

// Recover восстанавливает таймер идущей сессии после перезапуска процесса
// и пересобирает её счёт из журнала.
func (m *SessionManager) Recover(ctx context.Context) error {
	session, err := m.deps.SessionRepo.GetCurrent(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if !session.IsRunning() {
		return nil
	}

	unlock := m.lock(session.ID)
	defer unlock()

	if err := m.deps.AnswerRepo.RebuildScores(ctx, session.ID, m.config.PointsPerCorrect); err != nil {
		m.logger.Warn().Err(err).Uint("session_id", session.ID).Msg("Не удалось пересобрать счёт при восстановлении")
	}
	m.scheduleNext(session)
	m.cacheState(ctx, m.snapshot(ctx, session))

	m.logger.Info().Uint("session_id", session.ID).Str("status", session.Status).
		Int("index", session.CurrentQuestionIndex).Str("phase", session.DisplayPhase()).
		Msg("Сессия восстановлена после перезапуска")
	return nil
}

// ============================================================================
// Операции игроков
// ============================================================================

// JoinSession добавляет игрока в сессию (повторный вход возвращает его в active).
// Проверка лимита и вход выполняются под блокировкой сессии.
func (m *SessionManager) JoinSession(ctx context.Context, sessionID uint, playerID string) (*dto.SessionState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: session #%d", apperrors.ErrNoActiveSession, sessionID)
		}
		return nil, err
	}
	if !session.IsCurrent() {
		return nil, fmt.Errorf("%w: session #%d is finished", apperrors.ErrNoActiveSession, sessionID)
	}
	if _, err := m.playerRepo.GetByID(ctx, playerID); err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}

	if session.MaxPlayers > 0 {
		existing, err := m.deps.PlayerSessionRepo.Get(ctx, sessionID, playerID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if existing == nil || !existing.IsActive() {
			active, err := m.deps.PlayerSessionRepo.CountActive(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if int(active) >= session.MaxPlayers {
				return nil, fmt.Errorf("%w: session #%d is full (%d players)", apperrors.ErrConflict, sessionID, session.MaxPlayers)
			}
		}
	}

	_, rejoined, err := m.deps.PlayerSessionRepo.Join(ctx, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	m.logger.Info().Uint("session_id", sessionID).Str("player_id", playerID).Bool("rejoined", rejoined).
		Msg("Игрок вошёл в сессию")

	m.publishPlayers(ctx, sessionID)
	return m.snapshot(ctx, session), nil
}

// LeaveSession отмечает выход игрока
func (m *SessionManager) LeaveSession(ctx context.Context, sessionID uint, playerID string) error {
	if err := m.deps.PlayerSessionRepo.Leave(ctx, sessionID, playerID); err != nil {
		return err
	}
	m.logger.Info().Uint("session_id", sessionID).Str("player_id", playerID).Msg("Игрок покинул сессию")
	m.publishPlayers(ctx, sessionID)

	// Оставшиеся игроки могли уже ответить все
	if session, err := m.deps.SessionRepo.GetByID(ctx, sessionID); err == nil {
		go m.revealIfAllAnswered(session.ID, session.CurrentQuestionIndex)
	}
	return nil
}

// SubmitAnswer принимает ответ на текущий вопрос. option = nil - "нет ответа"
// (разрешён и во время показа результата, чтобы клиентский таймаут не терялся).
func (m *SessionManager) SubmitAnswer(ctx context.Context, sessionID uint, playerID string, questionID uint, option *int) (*quizmanager.SubmitResult, error) {
	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: session #%d", apperrors.ErrNoActiveSession, sessionID)
		}
		return nil, err
	}
	if !session.IsRunning() {
		return nil, fmt.Errorf("%w: session #%d is %s", apperrors.ErrNoActiveSession, sessionID, session.Status)
	}

	participant, err := m.deps.PlayerSessionRepo.Get(ctx, sessionID, playerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: player has not joined session #%d", apperrors.ErrForbidden, sessionID)
		}
		return nil, err
	}
	if !participant.IsActive() {
		return nil, fmt.Errorf("%w: player left session #%d", apperrors.ErrForbidden, sessionID)
	}

	questions, err := m.sessionQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var question *entity.Question
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return nil, fmt.Errorf("%w: question #%d", apperrors.ErrNotFound, questionID)
	}

	isCurrent := session.CurrentQuestionIndex < len(questions) &&
		questions[session.CurrentQuestionIndex].ID == question.ID
	open := session.Status == entity.SessionStatusActive &&
		session.Phase == entity.PhaseQuestion &&
		isCurrent &&
		(!session.ShowResult || option == nil)
	if !open {
		// Повтор уже записанного ответа возвращает исходный результат даже после закрытия вопроса
		existing, getErr := m.deps.AnswerRepo.Get(ctx, sessionID, playerID, questionID)
		if getErr == nil {
			return m.answers.Replay(ctx, existing, option)
		}
		return nil, fmt.Errorf("%w: question #%d is not open for answers", apperrors.ErrConflict, questionID)
	}

	res, err := m.answers.Submit(ctx, session, question, playerID, option)
	if err != nil {
		return res, err
	}
	if !res.Duplicate {
		go m.revealIfAllAnswered(sessionID, session.CurrentQuestionIndex)
	}
	return res, nil
}

// GetRanking возвращает таблицу лидеров
func (m *SessionManager) GetRanking(ctx context.Context, sessionID uint) ([]entity.RankingEntry, error) {
	if _, err := m.deps.SessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.deps.AnswerRepo.Ranking(ctx, sessionID)
}

// GetState возвращает снимок сессии. При временной ошибке хранилища
// отдаёт последний известный снимок с флагом stale.
func (m *SessionManager) GetState(ctx context.Context, sessionID uint) (*dto.SessionState, error) {
	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if quizmanager.IsTransient(err) {
			if cached, ok := m.cachedState(ctx, sessionStateKey(sessionID)); ok {
				return cached, nil
			}
		}
		return nil, err
	}
	return m.snapshot(ctx, session), nil
}

// GetCurrentState возвращает снимок текущей сессии (для подключения и ресинхронизации)
func (m *SessionManager) GetCurrentState(ctx context.Context) (*dto.SessionState, error) {
	session, err := m.deps.SessionRepo.GetCurrent(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNoActiveSession
		}
		if quizmanager.IsTransient(err) {
			if cached, ok := m.cachedState(ctx, currentSessionKey); ok {
				return cached, nil
			}
		}
		return nil, err
	}
	return m.snapshot(ctx, session), nil
}

// ListPlayers возвращает активных игроков сессии
func (m *SessionManager) ListPlayers(ctx context.Context, sessionID uint) (*dto.PlayersResponse, error) {
	list, err := m.deps.PlayerSessionRepo.ListActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resp := &dto.PlayersResponse{SessionID: sessionID, Count: len(list), Players: make([]dto.PlayerBrief, 0, len(list))}
	for _, ps := range list {
		brief := dto.PlayerBrief{ID: ps.PlayerID, JoinedAt: ps.JoinedAt}
		if ps.Player != nil {
			brief.Name = ps.Player.Name
		}
		resp.Players = append(resp.Players, brief)
	}
	return resp, nil
}

// PublicQuestions возвращает вопросы сессии без правильных ответов
func (m *SessionManager) PublicQuestions(ctx context.Context, sessionID uint) ([]dto.PublicQuestion, error) {
	if _, err := m.deps.SessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	questions, err := m.sessionQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.PublicQuestion, 0, len(questions))
	for i := range questions {
		out = append(out, *dto.NewPublicQuestion(&questions[i]))
	}
	return out, nil
}

// ============================================================================
// Переходы
// ============================================================================

// applyLocked вычисляет и записывает переход. Вызывается под мьютексом сессии.
// Повтор записи использует ту же цель ("индекс = N"), поэтому безопасен.
func (m *SessionManager) applyLocked(ctx context.Context, session *entity.Session, ev quizmanager.Event) (*entity.Session, error) {
	cur := session.State()
	resolved := m.machine.Resolve(cur, ev)
	nextState, err := m.machine.Next(cur, resolved, session.QuestionCount)
	if err != nil {
		return nil, err
	}

	now := m.deps.Clock.Now()
	next := *session
	next.Status = nextState.Status
	next.Phase = nextState.Phase
	next.CurrentQuestionIndex = nextState.Index
	next.ShowResult = nextState.ShowResult
	m.applyTiming(session, &next, resolved, now)

	stored, err := quizmanager.Retry(ctx, m.deps.Clock, m.config.Retry, quizmanager.IsTransient,
		func(ctx context.Context) (*entity.Session, error) {
			return m.deps.SessionRepo.ApplyTransition(ctx, session.ID, session.Version, &next)
		})
	if err != nil {
		if errors.Is(err, repository.ErrAnotherSessionActive) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
		}
		return nil, err
	}

	m.logger.Info().
		Uint("session_id", stored.ID).Str("event", string(resolved)).
		Str("status", stored.Status).Str("phase", stored.DisplayPhase()).
		Int("index", stored.CurrentQuestionIndex).Int64("version", stored.Version).
		Msg("Переход применён")

	m.afterTransition(ctx, stored)
	return stored, nil
}

// applyTiming выставляет дедлайн и временные метки новой фазы
func (m *SessionManager) applyTiming(prev, next *entity.Session, ev quizmanager.Event, now time.Time) {
	at := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}
	startPhase := func(d time.Duration) {
		next.PhaseStartedAt = at(0)
		next.PhaseDeadline = at(d)
		next.PausedRemainingMs = 0
	}

	if next.Status == entity.SessionStatusFinished {
		next.FinishedAt = at(0)
		next.PhaseDeadline = nil
		next.PausedRemainingMs = 0
		return
	}

	switch ev {
	case quizmanager.EventStart:
		next.StartedAt = at(0)
		startPhase(m.config.QuestionDuration)

	case quizmanager.EventReveal:
		startPhase(m.config.RevealDuration)

	case quizmanager.EventAdvance, quizmanager.EventEndBreak:
		switch {
		case next.Phase == entity.PhaseBreak && m.config.BreakDuration > 0:
			startPhase(m.config.BreakDuration)
		case next.Phase == entity.PhaseBreak:
			startPhase(0)
			next.PhaseDeadline = nil
		default:
			startPhase(m.config.QuestionDuration)
		}

	case quizmanager.EventPause:
		next.PausedRemainingMs = prev.TimeRemaining(now).Milliseconds()
		next.PhaseDeadline = nil

	case quizmanager.EventResume:
		remaining := time.Duration(prev.PausedRemainingMs) * time.Millisecond
		if next.Phase == entity.PhaseBreak && m.config.BreakDuration == 0 {
			next.PhaseDeadline = nil
		} else {
			next.PhaseDeadline = at(remaining)
		}
		if next.Phase == entity.PhaseQuestion && !next.ShowResult {
			// Время на паузе не засчитывается в задержку ответа
			next.PhaseStartedAt = at(remaining - m.config.QuestionDuration)
		}
		next.PausedRemainingMs = 0
	}
}

// afterTransition перепланирует таймер, рассылает и кеширует снимок
func (m *SessionManager) afterTransition(ctx context.Context, stored *entity.Session) {
	m.scheduleNext(stored)
	m.publishState(ctx, stored)

	if stored.IsFinished() {
		m.questions.Delete(stored.ID)
		if m.finishHook != nil {
			ranking, err := m.deps.AnswerRepo.Ranking(ctx, stored.ID)
			if err != nil {
				m.logger.Error().Err(err).Uint("session_id", stored.ID).Msg("Не удалось получить итоговую таблицу")
				return
			}
			session := *stored
			go m.finishHook.SessionFinished(m.ctx, &session, ranking)
		}
	}
}

// scheduleNext ставит таймер следующего автоматического перехода.
// Таймер несёт версию строки: если к моменту срабатывания версия изменилась,
// переход не применяется.
func (m *SessionManager) scheduleNext(s *entity.Session) {
	if s.Status != entity.SessionStatusActive || s.PhaseDeadline == nil {
		m.timers.Cancel(s.ID)
		return
	}

	var ev quizmanager.Event
	switch {
	case s.Phase == entity.PhaseBreak:
		ev = quizmanager.EventEndBreak
	case s.ShowResult:
		ev = quizmanager.EventAdvance
	default:
		ev = quizmanager.EventReveal
	}

	sessionID, version := s.ID, s.Version
	delay := s.PhaseDeadline.Sub(m.deps.Clock.Now())
	m.timers.Schedule(sessionID, delay, func() {
		m.onTimer(sessionID, version, ev)
	})
}

func (m *SessionManager) onTimer(sessionID uint, version int64, ev quizmanager.Event) {
	unlock := m.lock(sessionID)
	defer unlock()

	ctx := m.ctx
	if ctx.Err() != nil {
		return
	}

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		m.logger.Error().Err(err).Uint("session_id", sessionID).Msg("Таймер: не удалось прочитать сессию")
		m.retryTimer(sessionID, version, ev)
		return
	}
	if session.Version != version {
		m.logger.Debug().Uint("session_id", sessionID).Int64("expected", version).Int64("actual", session.Version).
			Msg("Таймер устарел, переход пропущен")
		return
	}

	if _, err := m.applyLocked(ctx, session, ev); err != nil {
		if errors.Is(err, apperrors.ErrStaleTransition) {
			return
		}
		m.logger.Error().Err(err).Uint("session_id", sessionID).Str("event", string(ev)).
			Msg("Таймер: переход не записан, повторим")
		m.retryTimer(sessionID, version, ev)
	}
}

func (m *SessionManager) retryTimer(sessionID uint, version int64, ev quizmanager.Event) {
	m.timers.Schedule(sessionID, timerRetryDelay, func() {
		m.onTimer(sessionID, version, ev)
	})
}

// revealIfAllAnswered досрочно показывает результат, когда ответили все активные игроки
func (m *SessionManager) revealIfAllAnswered(sessionID uint, index int) {
	ctx := m.ctx
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.deps.SessionRepo.GetByID(ctx, sessionID)
	if err != nil || session.Status != entity.SessionStatusActive || session.Phase != entity.PhaseQuestion ||
		session.ShowResult || session.CurrentQuestionIndex != index {
		return
	}

	questions, err := m.sessionQuestions(ctx, sessionID)
	if err != nil || index >= len(questions) {
		return
	}
	answered, err := m.deps.AnswerRepo.CountForQuestion(ctx, sessionID, questions[index].ID)
	if err != nil {
		return
	}
	active, err := m.deps.PlayerSessionRepo.CountActive(ctx, sessionID)
	if err != nil || active == 0 || answered < active {
		return
	}

	m.logger.Debug().Uint("session_id", sessionID).Int("index", index).Msg("Все игроки ответили, показываем результат")
	if _, err := m.applyLocked(ctx, session, quizmanager.EventReveal); err != nil && !errors.Is(err, apperrors.ErrStaleTransition) {
		m.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("Не удалось досрочно показать результат")
	}
}

// ============================================================================
// Снимки и рассылка
// ============================================================================

func (m *SessionManager) sessionQuestions(ctx context.Context, sessionID uint) ([]entity.Question, error) {
	if v, ok := m.questions.Load(sessionID); ok {
		return v.([]entity.Question), nil
	}
	questions, err := m.deps.QuestionRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: session #%d has no questions", apperrors.ErrContentUnavailable, sessionID)
	}
	if session, err := m.deps.SessionRepo.GetByID(ctx, sessionID); err == nil && session.IsRunning() {
		m.questions.Store(sessionID, questions)
	}
	return questions, nil
}

// snapshot собирает авторитетный снимок сессии для клиентов
func (m *SessionManager) snapshot(ctx context.Context, s *entity.Session) *dto.SessionState {
	now := m.deps.Clock.Now()
	state := &dto.SessionState{
		SessionID:            s.ID,
		Name:                 s.Name,
		Status:               s.Status,
		Phase:                s.DisplayPhase(),
		ShowResult:           s.ShowResult,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionCount:        s.QuestionCount,
		Round:                m.machine.RoundOf(s.CurrentQuestionIndex),
		TotalRounds:          m.machine.TotalRounds(s.QuestionCount),
		TimeRemainingMs:      s.TimeRemaining(now).Milliseconds(),
		MaxPlayers:           s.MaxPlayers,
		Version:              s.Version,
		ServerTime:           now.UnixMilli(),
		StartedAt:            s.StartedAt,
		FinishedAt:           s.FinishedAt,
	}

	if active, err := m.deps.PlayerSessionRepo.CountActive(ctx, s.ID); err == nil {
		state.ActivePlayers = active
	}

	if s.IsRunning() && s.Phase == entity.PhaseQuestion {
		if questions, err := m.sessionQuestions(ctx, s.ID); err == nil && s.CurrentQuestionIndex < len(questions) {
			q := &questions[s.CurrentQuestionIndex]
			state.Question = dto.NewPublicQuestion(q)
			if s.ShowResult {
				correct := q.CorrectOption
				state.CorrectOption = &correct
			}
		}
	}
	return state
}

func (m *SessionManager) publishState(ctx context.Context, s *entity.Session) {
	state := m.snapshot(ctx, s)
	m.publish(ctx, s.ID, dto.EventSessionState, state)
	m.cacheState(ctx, state)
}

func (m *SessionManager) publishPlayers(ctx context.Context, sessionID uint) {
	players, err := m.ListPlayers(ctx, sessionID)
	if err != nil {
		m.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("Не удалось получить список игроков")
		return
	}
	m.publish(ctx, sessionID, dto.EventPlayers, players)
}

func (m *SessionManager) publish(ctx context.Context, sessionID uint, eventType string, payload interface{}) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.PublishToSession(ctx, sessionID, eventType, payload); err != nil {
		m.logger.Warn().Err(err).Uint("session_id", sessionID).Str("event", eventType).Msg("Не удалось разослать событие")
	}
}

func (m *SessionManager) cacheState(ctx context.Context, state *dto.SessionState) {
	if m.deps.CacheRepo == nil {
		return
	}
	if err := m.deps.CacheRepo.SetJSON(ctx, sessionStateKey(state.SessionID), state, m.config.SnapshotTTL); err != nil {
		m.logger.Warn().Err(err).Uint("session_id", state.SessionID).Msg("Не удалось сохранить снимок в кеш")
	}
	var current dto.SessionState
	hasCurrent := m.deps.CacheRepo.GetJSON(ctx, currentSessionKey, &current) == nil
	if state.Status == entity.SessionStatusFinished {
		if hasCurrent && current.SessionID == state.SessionID {
			_ = m.deps.CacheRepo.Delete(ctx, currentSessionKey)
		}
		return
	}
	// Ожидающая сессия не вытесняет идущую
	currentRunning := current.Status == entity.SessionStatusActive || current.Status == entity.SessionStatusPaused
	if state.Status == entity.SessionStatusWaiting && hasCurrent && current.SessionID != state.SessionID && currentRunning {
		return
	}
	if err := m.deps.CacheRepo.SetJSON(ctx, currentSessionKey, state, m.config.SnapshotTTL); err != nil {
		m.logger.Warn().Err(err).Msg("Не удалось сохранить текущую сессию в кеш")
	}
}

func (m *SessionManager) cachedState(ctx context.Context, key string) (*dto.SessionState, bool) {
	if m.deps.CacheRepo == nil {
		return nil, false
	}
	var cached dto.SessionState
	if err := m.deps.CacheRepo.GetJSON(ctx, key, &cached); err != nil {
		return nil, false
	}
	cached.Stale = true
	return &cached, true
}
