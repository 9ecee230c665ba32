package clientview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
)

func questionState(index int, remainingMs int64) *dto.SessionState {
	return &dto.SessionState{
		SessionID:            1,
		Status:               entity.SessionStatusActive,
		Phase:                entity.PhaseQuestion,
		CurrentQuestionIndex: index,
		QuestionCount:        15,
		TimeRemainingMs:      remainingMs,
		Question: &dto.PublicQuestion{
			ID:         uint(100 + index),
			OrderIndex: index + 1,
			Text:       "Вопрос",
			Options:    []string{"A", "B", "C", "D"},
		},
	}
}

func resultState(index int) *dto.SessionState {
	s := questionState(index, 3000)
	s.Phase = entity.PhaseResult
	s.ShowResult = true
	correct := 1
	s.CorrectOption = &correct
	return s
}

func TestReducer_EmptyIsWaiting(t *testing.T) {
	r := New()

	v := r.View()

	assert.Equal(t, ScreenWaiting, v.Screen)
	assert.Nil(t, r.Tick())
}

func TestReducer_ScreensFollowState(t *testing.T) {
	tests := []struct {
		name  string
		state *dto.SessionState
		want  Screen
	}{
		{"waiting", &dto.SessionState{SessionID: 1, Status: entity.SessionStatusWaiting, Phase: entity.PhaseQuestion}, ScreenWaiting},
		{"question", questionState(0, 20000), ScreenQuestion},
		{"result", resultState(0), ScreenResult},
		{"break", &dto.SessionState{SessionID: 1, Status: entity.SessionStatusActive, Phase: entity.PhaseBreak, CurrentQuestionIndex: 5}, ScreenBreak},
		{"paused", &dto.SessionState{SessionID: 1, Status: entity.SessionStatusPaused, Phase: entity.PhaseQuestion}, ScreenPaused},
		{"finished", &dto.SessionState{SessionID: 1, Status: entity.SessionStatusFinished, Phase: entity.PhaseQuestion}, ScreenFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			require.True(t, r.Apply(1, tt.state))
			assert.Equal(t, tt.want, r.View().Screen)
		})
	}
}

func TestReducer_CountdownReseedAndClamp(t *testing.T) {
	// Arrange
	r := New()
	r.Apply(1, questionState(0, 2500))

	// Act + Assert
	assert.Equal(t, 3, r.View().SecondsRemaining)
	r.Tick()
	assert.Equal(t, 2, r.View().SecondsRemaining)

	// Сервер присылает новый остаток: таймер пересеивается
	r.Apply(2, questionState(0, 10000))
	assert.Equal(t, 10, r.View().SecondsRemaining)

	for i := 0; i < 15; i++ {
		r.Tick()
	}
	assert.Equal(t, 0, r.View().SecondsRemaining, "остаток не уходит в минус")
}

func TestReducer_TimeoutEmitsNoneExactlyOnce(t *testing.T) {
	r := New()
	r.Apply(1, questionState(3, 2000))

	assert.Nil(t, r.Tick())
	sub := r.Tick()
	require.NotNil(t, sub)
	assert.Nil(t, sub.OptionIndex)
	assert.Equal(t, uint(103), sub.QuestionID)
	assert.Equal(t, uint(1), sub.SessionID)

	// Повторные тики и повторный снимок того же вопроса не дают второй отправки
	assert.Nil(t, r.Tick())
	r.Apply(2, questionState(3, 0))
	assert.Nil(t, r.Tick())
	assert.True(t, r.View().Submitted)
}

func TestReducer_TimeoutSkippedAfterSubmit(t *testing.T) {
	r := New()
	r.Apply(1, questionState(0, 1000))

	sub, err := r.Select(2)
	require.NoError(t, err)
	r.MarkSubmitted(sub.QuestionID)

	assert.Nil(t, r.Tick())
}

func TestReducer_NextQuestionResetsSubmission(t *testing.T) {
	r := New()
	r.Apply(1, questionState(0, 1000))
	require.NotNil(t, r.Tick())

	r.Apply(2, resultState(0))
	r.Apply(3, questionState(1, 1000))

	v := r.View()
	assert.False(t, v.Submitted)
	assert.Nil(t, v.Result)
	sub := r.Tick()
	require.NotNil(t, sub, "для нового вопроса таймаут снова срабатывает")
	assert.Equal(t, uint(101), sub.QuestionID)
}

func TestReducer_SelectValidation(t *testing.T) {
	r := New()

	_, err := r.Select(0)
	assert.ErrorIs(t, err, ErrNotOpen)

	r.Apply(1, questionState(0, 5000))
	_, err = r.Select(4)
	assert.ErrorIs(t, err, ErrInvalidOption)

	sub, err := r.Select(1)
	require.NoError(t, err)
	assert.Equal(t, 1, *sub.OptionIndex)
	require.NotNil(t, r.View().Selected)

	r.MarkSubmitted(sub.QuestionID)
	_, err = r.Select(2)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	r.Apply(2, resultState(0))
	_, err = r.Select(2)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestReducer_ResultDiscardsSelection(t *testing.T) {
	r := New()
	r.Apply(1, questionState(0, 5000))
	_, err := r.Select(3)
	require.NoError(t, err)

	applied := r.Apply(2, resultState(0))

	require.True(t, applied)
	v := r.View()
	assert.Nil(t, v.Selected, "локальный выбор отбрасывается, а не сливается")
	require.NotNil(t, v.CorrectOption)
	assert.Equal(t, 1, *v.CorrectOption)
}

func TestReducer_ApplyAnswerResult(t *testing.T) {
	r := New()
	r.Apply(1, questionState(0, 5000))
	_, _ = r.Select(1)

	assert.False(t, r.ApplyAnswerResult(dto.AnswerResult{SessionID: 1, QuestionID: 999}), "чужой вопрос")
	ok := r.ApplyAnswerResult(dto.AnswerResult{SessionID: 1, QuestionID: 100, IsCorrect: true, TotalScore: 100})

	require.True(t, ok)
	v := r.View()
	assert.True(t, v.Submitted)
	assert.Nil(t, v.Selected)
	require.NotNil(t, v.Result)
	assert.Equal(t, 100, v.Result.TotalScore)
}

func TestReducer_MonotonicDisplay(t *testing.T) {
	// Arrange
	r := New()
	require.True(t, r.Apply(5, questionState(4, 20000)))

	// Act + Assert: старый seq
	assert.False(t, r.Apply(4, questionState(5, 20000)))

	// Новый seq, но индекс позади
	assert.False(t, r.Apply(6, questionState(3, 20000)))
	assert.Equal(t, 4, r.View().QuestionIndex)

	// Снимок без seq (ответ на sync) позади - тоже отброшен
	assert.False(t, r.Apply(0, resultState(2)))

	// Тот же вопрос от sync пересеивает таймер
	assert.True(t, r.Apply(0, questionState(4, 7000)))
	assert.Equal(t, 7, r.View().SecondsRemaining)

	// Waiting после старта не возвращает экран ожидания
	assert.False(t, r.Apply(7, &dto.SessionState{SessionID: 1, Status: entity.SessionStatusWaiting}))
}

func TestReducer_PauseAndFinishOverride(t *testing.T) {
	r := New()
	r.Apply(3, questionState(6, 9000))

	paused := questionState(6, 9000)
	paused.Status = entity.SessionStatusPaused
	require.True(t, r.Apply(4, paused))
	assert.Equal(t, ScreenPaused, r.View().Screen)
	assert.Nil(t, r.Tick(), "на паузе таймер стоит")
	assert.Equal(t, 9, r.View().SecondsRemaining)

	require.True(t, r.Apply(5, questionState(6, 9000)))
	assert.Equal(t, ScreenQuestion, r.View().Screen)

	finished := &dto.SessionState{SessionID: 1, Status: entity.SessionStatusFinished, CurrentQuestionIndex: 6}
	require.True(t, r.Apply(6, finished))
	assert.False(t, r.Apply(7, questionState(7, 20000)), "после завершения вопросы не показываются")
	assert.Equal(t, ScreenFinished, r.View().Screen)
}

func TestReducer_NewSessionResets(t *testing.T) {
	r := New()
	r.Apply(40, questionState(10, 1000))

	next := questionState(0, 20000)
	next.SessionID = 2

	require.True(t, r.Apply(1, next), "seq другой сессии начинается заново")
	assert.Equal(t, uint(2), r.View().SessionID)
	assert.Equal(t, uint64(1), r.LastSeq())
}

func TestReducer_DisconnectMarksStale(t *testing.T) {
	r := New()
	r.Apply(1, questionState(2, 5000))

	r.MarkDisconnected()
	v := r.View()
	assert.True(t, v.Stale)
	assert.Equal(t, ScreenQuestion, v.Screen, "показывается последний известный снимок")

	r.Apply(2, questionState(2, 4000))
	assert.False(t, r.View().Stale)
}
