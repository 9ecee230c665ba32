// Package rounds отображает индекс вопроса в номер раунда.
//
// Раунд задаётся таблицей границ: граница b означает, что вопрос с индексом b
// открывает новый раунд, и перед ним показывается перерыв. Для таблицы
// {6, 12, 13, 14} индексы 0-5 - раунд 1, 6-11 - раунд 2, 12 - раунд 3,
// 13 - раунд 4, 14 - раунд 5.
package rounds

import (
	"fmt"
	"sort"
)

// Calculator - чистая функция индекс → раунд. Безопасен для конкурентного чтения.
type Calculator struct {
	boundaries []int
	every      int
}

// DefaultBoundaries - раунды 6/6/1/1/1 для игры из 15 вопросов
var DefaultBoundaries = []int{6, 12, 13, 14}

// NewTable создает калькулятор по явной таблице границ.
// Границы должны быть положительными и строго возрастать.
func NewTable(boundaries []int) (*Calculator, error) {
	for i, b := range boundaries {
		if b <= 0 {
			return nil, fmt.Errorf("round boundary #%d must be positive, got %d", i, b)
		}
		if i > 0 && b <= boundaries[i-1] {
			return nil, fmt.Errorf("round boundaries must be strictly increasing: %v", boundaries)
		}
	}
	cp := make([]int, len(boundaries))
	copy(cp, boundaries)
	return &Calculator{boundaries: cp}, nil
}

// NewEvery создает калькулятор, где новый раунд начинается каждые n вопросов
func NewEvery(n int) (*Calculator, error) {
	if n <= 0 {
		return nil, fmt.Errorf("round size must be positive, got %d", n)
	}
	return &Calculator{every: n}, nil
}

// FromConfig выбирает схему: every > 0 важнее таблицы границ,
// пустая таблица означает DefaultBoundaries.
func FromConfig(boundaries []int, every int) (*Calculator, error) {
	if every > 0 {
		return NewEvery(every)
	}
	if len(boundaries) == 0 {
		boundaries = DefaultBoundaries
	}
	return NewTable(boundaries)
}

// RoundOf возвращает номер раунда (с 1) для индекса вопроса
func (c *Calculator) RoundOf(index int) int {
	if index < 0 {
		index = 0
	}
	if c.every > 0 {
		return index/c.every + 1
	}
	// количество границ ≤ index
	return sort.SearchInts(c.boundaries, index+1) + 1
}

// NeedsBreakBefore сообщает, начинает ли вопрос nextIndex новый раунд
func (c *Calculator) NeedsBreakBefore(nextIndex int) bool {
	if nextIndex <= 0 {
		return false
	}
	if c.every > 0 {
		return nextIndex%c.every == 0
	}
	i := sort.SearchInts(c.boundaries, nextIndex)
	return i < len(c.boundaries) && c.boundaries[i] == nextIndex
}

// TotalRounds возвращает количество раундов для игры из questionCount вопросов
func (c *Calculator) TotalRounds(questionCount int) int {
	if questionCount <= 0 {
		return 0
	}
	return c.RoundOf(questionCount - 1)
}

// Boundaries возвращает копию таблицы границ (nil для схемы every)
func (c *Calculator) Boundaries() []int {
	if c.every > 0 {
		return nil
	}
	cp := make([]int, len(c.boundaries))
	copy(cp, c.boundaries)
	return cp
}
