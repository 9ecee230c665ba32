package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestQuestion_IsCorrect(t *testing.T) {
	// Arrange
	question := &Question{
		ID:            1,
		SessionID:     1,
		OrderIndex:    1,
		Text:          "Какой язык используется в Go?",
		Options:       StringArray{"Python", "Go", "Java", "Rust"},
		CorrectOption: 1,
	}

	// Act & Assert
	assert.True(t, question.IsCorrect(intPtr(1)), "IsCorrect должен вернуть true для правильного ответа")
	assert.False(t, question.IsCorrect(intPtr(0)))
	assert.False(t, question.IsCorrect(intPtr(3)))
	assert.False(t, question.IsCorrect(nil), "отсутствие ответа никогда не засчитывается")
}

func TestQuestion_IsValidOption(t *testing.T) {
	question := &Question{Options: StringArray{"A", "B", "C", "D"}}

	for i := 0; i < 4; i++ {
		assert.True(t, question.IsValidOption(i))
	}
	assert.False(t, question.IsValidOption(-1))
	assert.False(t, question.IsValidOption(4))
}

func TestQuestion_Validate(t *testing.T) {
	valid := func() Question {
		return Question{OrderIndex: 1, Text: "Q", Options: StringArray{"A", "B", "C", "D"}, CorrectOption: 2}
	}

	testCases := []struct {
		name    string
		mutate  func(q *Question)
		wantErr bool
	}{
		{"валидный вопрос", func(q *Question) {}, false},
		{"пустой текст", func(q *Question) { q.Text = "" }, true},
		{"нулевой порядок", func(q *Question) { q.OrderIndex = 0 }, true},
		{"три варианта", func(q *Question) { q.Options = q.Options[:3] }, true},
		{"правильный вне диапазона", func(q *Question) { q.CorrectOption = 4 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := valid()
			tc.mutate(&q)
			err := q.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Тесты для StringArray (JSONB сериализация)

func TestStringArray_Scan(t *testing.T) {
	var arr StringArray

	require.NoError(t, arr.Scan([]byte(`["Option 1", "Option 2"]`)))
	assert.Equal(t, StringArray{"Option 1", "Option 2"}, arr)

	require.NoError(t, arr.Scan(`["X"]`))
	assert.Equal(t, StringArray{"X"}, arr)

	require.NoError(t, arr.Scan(nil))
	assert.Len(t, arr, 0)

	assert.Error(t, arr.Scan(42), "Scan должен возвращать ошибку для неподдерживаемого типа")
}

func TestStringArray_Value(t *testing.T) {
	value, err := StringArray{"A", "B"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["A","B"]`, string(value.([]byte)))

	empty, err := StringArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), empty)
}

func TestAnswer_SamePayload(t *testing.T) {
	answer := &Answer{SelectedOption: intPtr(2)}

	assert.True(t, answer.SamePayload(intPtr(2)))
	assert.False(t, answer.SamePayload(intPtr(1)))
	assert.False(t, answer.SamePayload(nil))

	none := &Answer{}
	assert.True(t, none.SamePayload(nil))
	assert.False(t, none.SamePayload(intPtr(0)))
}
