// Package memory хранит состояние игры в памяти процесса.
// Используется в режиме storage.driver=memory и в тестах; соблюдает те же
// ограничения уникальности, что и схема Postgres.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

type answerKey struct {
	sessionID  uint
	playerID   string
	questionID uint
}

type participantKey struct {
	sessionID uint
	playerID  string
}

// Store - общее хранилище для всех репозиториев пакета
type Store struct {
	mu sync.RWMutex

	now func() time.Time

	nextSessionID  uint
	nextQuestionID uint
	nextPSID       uint
	nextAnswerID   uint

	sessions     map[uint]entity.Session
	questions    map[uint]entity.Question
	players      map[string]entity.Player
	participants map[participantKey]entity.PlayerSession
	answers      map[answerKey]entity.Answer
	scores       map[participantKey]entity.ScoreEntry
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		now:          time.Now,
		sessions:     make(map[uint]entity.Session),
		questions:    make(map[uint]entity.Question),
		players:      make(map[string]entity.Player),
		participants: make(map[participantKey]entity.PlayerSession),
		answers:      make(map[answerKey]entity.Answer),
		scores:       make(map[participantKey]entity.ScoreEntry),
	}
}

// WithClock подменяет источник времени (для тестов)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Sessions возвращает репозиторий сессий
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// Questions возвращает репозиторий вопросов
func (s *Store) Questions() *QuestionRepo { return &QuestionRepo{s: s} }

// Players возвращает репозиторий игроков
func (s *Store) Players() *PlayerRepo { return &PlayerRepo{s: s} }

// PlayerSessions возвращает репозиторий участий
func (s *Store) PlayerSessions() *PlayerSessionRepo { return &PlayerSessionRepo{s: s} }

// Answers возвращает журнал ответов
func (s *Store) Answers() *AnswerRepo { return &AnswerRepo{s: s} }

// ============================================================================
// Sessions
// ============================================================================

// SessionRepo реализует repository.SessionRepository в памяти
type SessionRepo struct{ s *Store }

// Create создает новую сессию
func (r *SessionRepo) Create(_ context.Context, session *entity.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextSessionID++
	session.ID = r.s.nextSessionID
	if session.Status == "" {
		session.Status = entity.SessionStatusWaiting
	}
	if session.Phase == "" {
		session.Phase = entity.PhaseQuestion
	}
	now := r.s.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	r.s.sessions[session.ID] = *session
	return nil
}

// GetByID возвращает копию сессии
func (r *SessionRepo) GetByID(_ context.Context, id uint) (*entity.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	session, ok := r.s.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &session, nil
}

// GetCurrent возвращает идущую сессию или самую новую ожидающую
func (r *SessionRepo) GetCurrent(_ context.Context) (*entity.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var waiting *entity.Session
	for id := range r.s.sessions {
		session := r.s.sessions[id]
		if session.IsRunning() {
			return &session, nil
		}
		if session.Status == entity.SessionStatusWaiting && (waiting == nil || session.ID > waiting.ID) {
			waiting = &session
		}
	}
	if waiting == nil {
		return nil, apperrors.ErrNotFound
	}
	return waiting, nil
}

// List возвращает сессии, новые первыми
func (r *SessionRepo) List(_ context.Context, limit, offset int) ([]entity.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	list := make([]entity.Session, 0, len(r.s.sessions))
	for _, session := range r.s.sessions {
		list = append(list, session)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if offset >= len(list) {
		return []entity.Session{}, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

// UpdateQuestionCount обновляет количество вопросов ожидающей сессии
func (r *SessionRepo) UpdateQuestionCount(_ context.Context, id uint, count int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	session, ok := r.s.sessions[id]
	if !ok || session.Status != entity.SessionStatusWaiting {
		return fmt.Errorf("%w: session #%d is not waiting", apperrors.ErrConflict, id)
	}
	session.QuestionCount = count
	r.s.sessions[id] = session
	return nil
}

// ApplyTransition повторяет семантику compare-and-set из Postgres
func (r *SessionRepo) ApplyTransition(_ context.Context, id uint, fromVersion int64, next *entity.Session) (*entity.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if stored.Version != fromVersion || stored.CurrentQuestionIndex > next.CurrentQuestionIndex {
		if repository.SameTarget(&stored, fromVersion, next) {
			return &stored, nil
		}
		return nil, fmt.Errorf("%w: session #%d is at version %d, expected %d",
			apperrors.ErrStaleTransition, id, stored.Version, fromVersion)
	}

	if next.IsRunning() {
		for otherID, other := range r.s.sessions {
			if otherID != id && other.IsRunning() {
				return nil, fmt.Errorf("%w: session #%d", repository.ErrAnotherSessionActive, id)
			}
		}
	}

	stored.Status = next.Status
	stored.Phase = next.Phase
	stored.CurrentQuestionIndex = next.CurrentQuestionIndex
	stored.ShowResult = next.ShowResult
	stored.PhaseStartedAt = next.PhaseStartedAt
	stored.PhaseDeadline = next.PhaseDeadline
	stored.PausedRemainingMs = next.PausedRemainingMs
	stored.StartedAt = next.StartedAt
	stored.FinishedAt = next.FinishedAt
	stored.Version++
	stored.UpdatedAt = r.s.now()
	r.s.sessions[id] = stored
	return &stored, nil
}

// ============================================================================
// Questions
// ============================================================================

// QuestionRepo реализует repository.QuestionRepository в памяти
type QuestionRepo struct{ s *Store }

// CreateBatch сохраняет вопросы, проверяя уникальность order_index в сессии
func (r *QuestionRepo) CreateBatch(_ context.Context, questions []entity.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	taken := make(map[[2]int]bool)
	for _, q := range r.s.questions {
		taken[[2]int{int(q.SessionID), q.OrderIndex}] = true
	}
	for _, q := range questions {
		k := [2]int{int(q.SessionID), q.OrderIndex}
		if taken[k] {
			return fmt.Errorf("%w: duplicate order_index %d in session #%d", apperrors.ErrConflict, q.OrderIndex, q.SessionID)
		}
		taken[k] = true
	}

	now := r.s.now()
	for i := range questions {
		r.s.nextQuestionID++
		questions[i].ID = r.s.nextQuestionID
		questions[i].CreatedAt = now
		r.s.questions[questions[i].ID] = questions[i]
	}
	return nil
}

// GetByID возвращает вопрос по ID
func (r *QuestionRepo) GetByID(_ context.Context, id uint) (*entity.Question, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q, ok := r.s.questions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &q, nil
}

// ListBySession возвращает вопросы сессии по order_index
func (r *QuestionRepo) ListBySession(_ context.Context, sessionID uint) ([]entity.Question, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	list := make([]entity.Question, 0)
	for _, q := range r.s.questions {
		if q.SessionID == sessionID {
			list = append(list, q)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OrderIndex < list[j].OrderIndex })
	return list, nil
}

// CountBySession возвращает количество вопросов сессии
func (r *QuestionRepo) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	list, err := r.ListBySession(ctx, sessionID)
	return int64(len(list)), err
}

// DeleteBySession удаляет вопросы сессии
func (r *QuestionRepo) DeleteBySession(_ context.Context, sessionID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, q := range r.s.questions {
		if q.SessionID == sessionID {
			delete(r.s.questions, id)
		}
	}
	return nil
}

// ============================================================================
// Players
// ============================================================================

// PlayerRepo реализует repository.PlayerRepository в памяти
type PlayerRepo struct{ s *Store }

// Create сохраняет игрока
func (r *PlayerRepo) Create(_ context.Context, player *entity.Player) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.players[player.ID]; exists {
		return fmt.Errorf("%w: player %s already exists", apperrors.ErrConflict, player.ID)
	}
	player.CreatedAt = r.s.now()
	r.s.players[player.ID] = *player
	return nil
}

// GetByID возвращает игрока
func (r *PlayerRepo) GetByID(_ context.Context, id string) (*entity.Player, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	player, ok := r.s.players[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &player, nil
}

// PlayerSessionRepo реализует repository.PlayerSessionRepository в памяти
type PlayerSessionRepo struct{ s *Store }

// Join создаёт участие или возвращает игрока в сессию
func (r *PlayerSessionRepo) Join(_ context.Context, sessionID uint, playerID string) (*entity.PlayerSession, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := participantKey{sessionID, playerID}
	if ps, ok := r.s.participants[key]; ok {
		ps.Status = entity.PlayerSessionActive
		ps.LeftAt = nil
		r.s.participants[key] = ps
		return &ps, true, nil
	}

	r.s.nextPSID++
	ps := entity.PlayerSession{
		ID:        r.s.nextPSID,
		SessionID: sessionID,
		PlayerID:  playerID,
		Status:    entity.PlayerSessionActive,
		JoinedAt:  r.s.now(),
	}
	r.s.participants[key] = ps
	return &ps, false, nil
}

// Leave помечает участие как left
func (r *PlayerSessionRepo) Leave(_ context.Context, sessionID uint, playerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := participantKey{sessionID, playerID}
	ps, ok := r.s.participants[key]
	if !ok {
		return apperrors.ErrNotFound
	}
	now := r.s.now()
	ps.Status = entity.PlayerSessionLeft
	ps.LeftAt = &now
	r.s.participants[key] = ps
	return nil
}

// Get возвращает участие игрока
func (r *PlayerSessionRepo) Get(_ context.Context, sessionID uint, playerID string) (*entity.PlayerSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ps, ok := r.s.participants[participantKey{sessionID, playerID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &ps, nil
}

// CountActive возвращает количество активных участников
func (r *PlayerSessionRepo) CountActive(ctx context.Context, sessionID uint) (int64, error) {
	list, err := r.ListActive(ctx, sessionID)
	return int64(len(list)), err
}

// ListActive возвращает активных участников по времени входа
func (r *PlayerSessionRepo) ListActive(_ context.Context, sessionID uint) ([]entity.PlayerSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	list := make([]entity.PlayerSession, 0)
	for _, ps := range r.s.participants {
		if ps.SessionID != sessionID || !ps.IsActive() {
			continue
		}
		if player, ok := r.s.players[ps.PlayerID]; ok {
			p := player
			ps.Player = &p
		}
		list = append(list, ps)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })
	return list, nil
}

// ============================================================================
// Answers
// ============================================================================

// AnswerRepo реализует repository.AnswerRepository в памяти
type AnswerRepo struct{ s *Store }

// Record вставляет ответ и аддитивно обновляет счёт под одной блокировкой
func (r *AnswerRepo) Record(_ context.Context, answer *entity.Answer, award int) (*entity.Answer, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := answerKey{answer.SessionID, answer.PlayerID, answer.QuestionID}
	if existing, ok := r.s.answers[key]; ok {
		return &existing, false, nil
	}

	r.s.nextAnswerID++
	stored := *answer
	stored.ID = r.s.nextAnswerID
	r.s.answers[key] = stored

	scoreKey := participantKey{answer.SessionID, answer.PlayerID}
	score := r.s.scores[scoreKey]
	score.SessionID = answer.SessionID
	score.PlayerID = answer.PlayerID
	score.QuestionsAnswered++
	if answer.IsCorrect {
		score.CorrectAnswers++
		score.TotalScore += award
	}
	score.UpdatedAt = r.s.now()
	r.s.scores[scoreKey] = score

	return &stored, true, nil
}

// Get возвращает ответ игрока на вопрос
func (r *AnswerRepo) Get(_ context.Context, sessionID uint, playerID string, questionID uint) (*entity.Answer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.answers[answerKey{sessionID, playerID, questionID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &a, nil
}

// CountForQuestion возвращает количество ответов на вопрос
func (r *AnswerRepo) CountForQuestion(_ context.Context, sessionID uint, questionID uint) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var count int64
	for k := range r.s.answers {
		if k.sessionID == sessionID && k.questionID == questionID {
			count++
		}
	}
	return count, nil
}

// GetScore возвращает счёт игрока
func (r *AnswerRepo) GetScore(_ context.Context, sessionID uint, playerID string) (*entity.ScoreEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	score, ok := r.s.scores[participantKey{sessionID, playerID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &score, nil
}

// Ranking возвращает таблицу лидеров: total_score DESC, joined_at ASC
func (r *AnswerRepo) Ranking(_ context.Context, sessionID uint) ([]entity.RankingEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows := make([]entity.RankingEntry, 0)
	for key, ps := range r.s.participants {
		if key.sessionID != sessionID {
			continue
		}
		score := r.s.scores[key]
		rows = append(rows, entity.RankingEntry{
			PlayerID:          ps.PlayerID,
			PlayerName:        r.s.players[ps.PlayerID].Name,
			TotalScore:        score.TotalScore,
			QuestionsAnswered: score.QuestionsAnswered,
			CorrectAnswers:    score.CorrectAnswers,
			JoinedAt:          ps.JoinedAt,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalScore != rows[j].TotalScore {
			return rows[i].TotalScore > rows[j].TotalScore
		}
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
	for i := range rows {
		rows[i].Position = i + 1
	}
	return rows, nil
}

// RebuildScores пересчитывает счёт сессии из журнала
func (r *AnswerRepo) RebuildScores(_ context.Context, sessionID uint, award int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for key := range r.s.scores {
		if key.sessionID == sessionID {
			delete(r.s.scores, key)
		}
	}
	now := r.s.now()
	for key, a := range r.s.answers {
		if key.sessionID != sessionID {
			continue
		}
		scoreKey := participantKey{key.sessionID, key.playerID}
		score := r.s.scores[scoreKey]
		score.SessionID = key.sessionID
		score.PlayerID = key.playerID
		score.QuestionsAnswered++
		if a.IsCorrect {
			score.CorrectAnswers++
			score.TotalScore += award
		}
		score.UpdatedAt = now
		r.s.scores[scoreKey] = score
	}
	return nil
}

// ============================================================================
// Cache
// ============================================================================

// CacheRepo реализует repository.CacheRepository в памяти процесса
type CacheRepo struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheRepo создает кеш в памяти
func NewCacheRepo() *CacheRepo {
	return &CacheRepo{now: time.Now, entries: make(map[string]cacheEntry)}
}

// SetJSON сохраняет структуру как JSON
func (c *CacheRepo) SetJSON(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// GetJSON читает структуру; просроченный ключ - ErrNotFound
func (c *CacheRepo) GetJSON(_ context.Context, key string, dest interface{}) error {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || (!entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)) {
		return apperrors.ErrNotFound
	}
	return json.Unmarshal(entry.data, dest)
}

// Delete удаляет значение
func (c *CacheRepo) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
