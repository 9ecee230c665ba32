package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

const sampleBank = `
default: demo
sets:
  - name: demo
    title: Демо
    questions:
      - text: "2 + 2 = ?"
        category: math
        options: ["3", "4", "5", "22"]
        correct: 1
      - text: "Столица Франции?"
        options: ["Берлин", "Мадрид", "Париж", "Рим"]
        correct: 2
  - name: empty
    questions: []
`

func TestParse_AndBuild(t *testing.T) {
	// Arrange
	bank, err := Parse([]byte(sampleBank))
	require.NoError(t, err)

	// Act
	questions, err := bank.Build("", 42)

	// Assert
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, 1, questions[0].OrderIndex)
	assert.Equal(t, 2, questions[1].OrderIndex)
	assert.Equal(t, uint(42), questions[0].SessionID)
	assert.Equal(t, 1, questions[0].CorrectOption)
	assert.Equal(t, "math", questions[0].Category)
	assert.Equal(t, []string{"demo", "empty"}, bank.Sets())
}

func TestBuild_Errors(t *testing.T) {
	bank, err := Parse([]byte(sampleBank))
	require.NoError(t, err)

	_, err = bank.Build("missing", 1)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = bank.Build("empty", 1)
	assert.ErrorIs(t, err, apperrors.ErrContentUnavailable)
}

func TestParse_RejectsInvalidQuestions(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"три варианта", `
sets:
  - name: s
    questions:
      - text: q
        options: [a, b, c]
        correct: 0`},
		{"правильный вне диапазона", `
sets:
  - name: s
    questions:
      - text: q
        options: [a, b, c, d]
        correct: 4`},
		{"неизвестный набор по умолчанию", `
default: other
sets:
  - name: s
    questions: []`},
		{"повтор имени", `
sets:
  - name: s
  - name: s`},
		{"нет наборов", `sets: []`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
