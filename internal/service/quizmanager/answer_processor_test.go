package quizmanager

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// ============================================================================
// Моки для AnswerProcessor
// ============================================================================

// MockAnswerRepo реализует repository.AnswerRepository
type MockAnswerRepo struct {
	mock.Mock
}

func (m *MockAnswerRepo) Record(ctx context.Context, answer *entity.Answer, award int) (*entity.Answer, bool, error) {
	args := m.Called(ctx, answer, award)
	var stored *entity.Answer
	switch v := args.Get(0).(type) {
	case *entity.Answer:
		stored = v
	case func(context.Context, *entity.Answer, int) *entity.Answer:
		stored = v(ctx, answer, award)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *MockAnswerRepo) Get(ctx context.Context, sessionID uint, playerID string, questionID uint) (*entity.Answer, error) {
	args := m.Called(ctx, sessionID, playerID, questionID)
	if v := args.Get(0); v != nil {
		return v.(*entity.Answer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAnswerRepo) CountForQuestion(ctx context.Context, sessionID uint, questionID uint) (int64, error) {
	args := m.Called(ctx, sessionID, questionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAnswerRepo) GetScore(ctx context.Context, sessionID uint, playerID string) (*entity.ScoreEntry, error) {
	args := m.Called(ctx, sessionID, playerID)
	if v := args.Get(0); v != nil {
		return v.(*entity.ScoreEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAnswerRepo) Ranking(ctx context.Context, sessionID uint) ([]entity.RankingEntry, error) {
	args := m.Called(ctx, sessionID)
	if v := args.Get(0); v != nil {
		return v.([]entity.RankingEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAnswerRepo) RebuildScores(ctx context.Context, sessionID uint, award int) error {
	args := m.Called(ctx, sessionID, award)
	return args.Error(0)
}

// MockPublisher реализует Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishToSession(ctx context.Context, sessionID uint, eventType string, payload interface{}) error {
	args := m.Called(ctx, sessionID, eventType, payload)
	return args.Error(0)
}

func (m *MockPublisher) SendToPlayer(playerID string, eventType string, payload interface{}) error {
	args := m.Called(playerID, eventType, payload)
	return args.Error(0)
}

// ============================================================================
// Хелперы
// ============================================================================

func option(v int) *int { return &v }

func newProcessorFixture() (*AnswerProcessor, *MockAnswerRepo, *MockPublisher, *clockwork.FakeClock, *entity.Session, *entity.Question) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))
	repo := new(MockAnswerRepo)
	pub := new(MockPublisher)
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{Attempts: 1}

	ap := NewAnswerProcessor(cfg, &Dependencies{AnswerRepo: repo, Publisher: pub, Clock: clock})

	started := clock.Now()
	session := &entity.Session{ID: 1, Status: entity.SessionStatusActive, Phase: entity.PhaseQuestion, PhaseStartedAt: &started}
	question := &entity.Question{ID: 3, SessionID: 1, OrderIndex: 1, Options: entity.StringArray{"A", "B", "C", "D"}, CorrectOption: 2}
	return ap, repo, pub, clock, session, question
}

// ============================================================================
// Тесты
// ============================================================================

func TestAnswerProcessor_Submit_CorrectAnswer(t *testing.T) {
	// Arrange
	ap, repo, pub, clock, session, question := newProcessorFixture()
	clock.Advance(1500 * time.Millisecond)

	repo.On("Record", mock.Anything, mock.MatchedBy(func(a *entity.Answer) bool {
		return a.IsCorrect && *a.SelectedOption == 2 && a.LatencyMs == 1500 && a.PlayerID == "p1"
	}), 100).Return(func(_ context.Context, a *entity.Answer, _ int) *entity.Answer { return a }, true, nil)
	repo.On("GetScore", mock.Anything, uint(1), "p1").Return(&entity.ScoreEntry{TotalScore: 100, CorrectAnswers: 1, QuestionsAnswered: 1}, nil)
	repo.On("Ranking", mock.Anything, uint(1)).Return([]entity.RankingEntry{{Position: 1, PlayerID: "p1", TotalScore: 100}}, nil)
	pub.On("SendToPlayer", "p1", dto.EventAnswerResult, mock.Anything).Return(nil)
	pub.On("PublishToSession", mock.Anything, uint(1), dto.EventRanking, mock.Anything).Return(nil)

	// Act
	res, err := ap.Submit(context.Background(), session, question, "p1", option(2))

	// Assert
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Answer.IsCorrect)
	assert.Equal(t, 100, AnswerResultDTO(res).TotalScore)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestAnswerProcessor_Submit_IdenticalRetryReturnsOriginal(t *testing.T) {
	// Arrange: два одинаковых запроса
	ap, repo, pub, _, session, question := newProcessorFixture()
	original := &entity.Answer{ID: 9, SessionID: 1, PlayerID: "p1", QuestionID: 3, SelectedOption: option(2), IsCorrect: true}

	repo.On("Record", mock.Anything, mock.Anything, 100).Return(original, false, nil)
	repo.On("GetScore", mock.Anything, uint(1), "p1").Return(&entity.ScoreEntry{TotalScore: 100}, nil)

	// Act
	res, err := ap.Submit(context.Background(), session, question, "p1", option(2))

	// Assert
	require.NoError(t, err, "идентичный повтор не является ошибкой")
	assert.True(t, res.Duplicate)
	assert.Equal(t, uint(9), res.Answer.ID)
	pub.AssertNotCalled(t, "PublishToSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnswerProcessor_Submit_DifferentPayloadRejected(t *testing.T) {
	ap, repo, _, _, session, question := newProcessorFixture()
	original := &entity.Answer{ID: 9, SessionID: 1, PlayerID: "p1", QuestionID: 3, SelectedOption: option(2), IsCorrect: true}

	repo.On("Record", mock.Anything, mock.Anything, 100).Return(original, false, nil)
	repo.On("GetScore", mock.Anything, uint(1), "p1").Return(&entity.ScoreEntry{TotalScore: 100}, nil)

	res, err := ap.Submit(context.Background(), session, question, "p1", option(1))

	assert.ErrorIs(t, err, apperrors.ErrDuplicateSubmission)
	require.NotNil(t, res)
	assert.Equal(t, 2, *res.Answer.SelectedOption, "исходный ответ не перезаписывается")
}

func TestAnswerProcessor_Submit_NoneIsIncorrect(t *testing.T) {
	ap, repo, pub, _, session, question := newProcessorFixture()

	repo.On("Record", mock.Anything, mock.MatchedBy(func(a *entity.Answer) bool {
		return a.SelectedOption == nil && !a.IsCorrect
	}), 100).Return(func(_ context.Context, a *entity.Answer, _ int) *entity.Answer { return a }, true, nil)
	repo.On("GetScore", mock.Anything, uint(1), "p1").Return(&entity.ScoreEntry{QuestionsAnswered: 1}, nil)
	repo.On("Ranking", mock.Anything, uint(1)).Return([]entity.RankingEntry{}, nil)
	pub.On("SendToPlayer", "p1", dto.EventAnswerResult, mock.Anything).Return(nil)
	pub.On("PublishToSession", mock.Anything, uint(1), dto.EventRanking, mock.Anything).Return(nil)

	res, err := ap.Submit(context.Background(), session, question, "p1", nil)

	require.NoError(t, err)
	assert.False(t, res.Answer.IsCorrect)
}

func TestAnswerProcessor_Submit_InvalidOption(t *testing.T) {
	ap, repo, _, _, session, question := newProcessorFixture()

	_, err := ap.Submit(context.Background(), session, question, "p1", option(7))

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	repo.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnswerProcessor_Submit_PublishFailureKeepsAnswer(t *testing.T) {
	ap, repo, pub, _, session, question := newProcessorFixture()

	repo.On("Record", mock.Anything, mock.Anything, 100).
		Return(func(_ context.Context, a *entity.Answer, _ int) *entity.Answer { return a }, true, nil)
	repo.On("GetScore", mock.Anything, uint(1), "p1").Return(nil, apperrors.ErrNotFound)
	repo.On("Ranking", mock.Anything, uint(1)).Return(nil, apperrors.ErrTransient)
	pub.On("SendToPlayer", "p1", dto.EventAnswerResult, mock.Anything).Return(assert.AnError)

	res, err := ap.Submit(context.Background(), session, question, "p1", option(0))

	require.NoError(t, err)
	assert.NotNil(t, res.Answer)
}
