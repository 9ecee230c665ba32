package rounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_DefaultTable(t *testing.T) {
	// Arrange
	calc, err := NewTable(DefaultBoundaries)
	require.NoError(t, err)

	testCases := []struct {
		index int
		round int
	}{
		{0, 1}, {5, 1}, {6, 2}, {11, 2}, {12, 3}, {13, 4}, {14, 5},
	}

	// Act & Assert
	for _, tc := range testCases {
		assert.Equal(t, tc.round, calc.RoundOf(tc.index), "roundOf(%d)", tc.index)
	}

	for _, next := range []int{6, 12, 13, 14} {
		assert.True(t, calc.NeedsBreakBefore(next), "перерыв перед %d", next)
	}
	for _, next := range []int{0, 1, 5, 7, 11, 15} {
		assert.False(t, calc.NeedsBreakBefore(next), "нет перерыва перед %d", next)
	}
	assert.Equal(t, 5, calc.TotalRounds(15))
}

func TestCalculator_Every(t *testing.T) {
	calc, err := NewEvery(5)
	require.NoError(t, err)

	assert.Equal(t, 1, calc.RoundOf(0))
	assert.Equal(t, 1, calc.RoundOf(4))
	assert.Equal(t, 2, calc.RoundOf(5))
	assert.Equal(t, 3, calc.RoundOf(14))
	assert.True(t, calc.NeedsBreakBefore(5))
	assert.True(t, calc.NeedsBreakBefore(10))
	assert.False(t, calc.NeedsBreakBefore(0))
	assert.False(t, calc.NeedsBreakBefore(6))
	assert.Nil(t, calc.Boundaries())
}

func TestCalculator_IsPure(t *testing.T) {
	calc, err := NewTable([]int{3, 7})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, calc.RoundOf(5))
		assert.True(t, calc.NeedsBreakBefore(7))
	}
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable([]int{0, 5})
	assert.Error(t, err)

	_, err = NewTable([]int{5, 5})
	assert.Error(t, err)

	_, err = NewTable([]int{6, 3})
	assert.Error(t, err)

	_, err = NewEvery(0)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	calc, err := FromConfig(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBoundaries, calc.Boundaries())

	calc, err = FromConfig([]int{6, 12, 13, 14}, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, calc.RoundOf(5), "every важнее таблицы")
}

func TestCalculator_BoundariesIsCopy(t *testing.T) {
	input := []int{2, 4}
	calc, err := NewTable(input)
	require.NoError(t, err)

	input[0] = 100
	got := calc.Boundaries()
	got[1] = 200

	assert.Equal(t, []int{2, 4}, calc.Boundaries())
}
