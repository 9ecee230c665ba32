// Package content загружает наборы вопросов из YAML.
package content

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// Item - вопрос в файле набора
type Item struct {
	Text     string   `yaml:"text"`
	Category string   `yaml:"category"`
	Options  []string `yaml:"options"`
	Correct  int      `yaml:"correct"`
}

// Set - именованный набор вопросов
type Set struct {
	Name      string `yaml:"name"`
	Title     string `yaml:"title"`
	Questions []Item `yaml:"questions"`
}

type file struct {
	Default string `yaml:"default"`
	Sets    []Set  `yaml:"sets"`
}

// Bank - все наборы вопросов
type Bank struct {
	defaultSet string
	sets       map[string]Set
}

// Load читает банк вопросов из файла
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank %s: %w", path, err)
	}
	return Parse(data)
}

// Parse разбирает и проверяет банк вопросов
func Parse(data []byte) (*Bank, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if len(f.Sets) == 0 {
		return nil, fmt.Errorf("question bank has no sets")
	}

	bank := &Bank{defaultSet: f.Default, sets: make(map[string]Set, len(f.Sets))}
	for _, set := range f.Sets {
		name := strings.TrimSpace(set.Name)
		if name == "" {
			return nil, fmt.Errorf("question set without name")
		}
		if _, dup := bank.sets[name]; dup {
			return nil, fmt.Errorf("duplicate question set %q", name)
		}
		for i, item := range set.Questions {
			q := toQuestion(item, i+1, 0)
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("set %q question #%d: %w", name, i+1, err)
			}
		}
		bank.sets[name] = set
	}
	if bank.defaultSet == "" {
		bank.defaultSet = f.Sets[0].Name
	}
	if _, ok := bank.sets[bank.defaultSet]; !ok {
		return nil, fmt.Errorf("default question set %q not found", bank.defaultSet)
	}
	return bank, nil
}

// Sets возвращает имена наборов по алфавиту
func (b *Bank) Sets() []string {
	names := make([]string, 0, len(b.sets))
	for name := range b.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build создает вопросы набора для сессии; пустое имя - набор по умолчанию
func (b *Bank) Build(setName string, sessionID uint) ([]entity.Question, error) {
	if setName == "" {
		setName = b.defaultSet
	}
	set, ok := b.sets[setName]
	if !ok {
		return nil, fmt.Errorf("%w: question set %q not found", apperrors.ErrValidation, setName)
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("%w: question set %q is empty", apperrors.ErrContentUnavailable, setName)
	}

	questions := make([]entity.Question, 0, len(set.Questions))
	for i, item := range set.Questions {
		questions = append(questions, toQuestion(item, i+1, sessionID))
	}
	return questions, nil
}

func toQuestion(item Item, order int, sessionID uint) entity.Question {
	return entity.Question{
		SessionID:     sessionID,
		OrderIndex:    order,
		Text:          strings.TrimSpace(item.Text),
		Category:      item.Category,
		Options:       entity.StringArray(item.Options),
		CorrectOption: item.Correct,
	}
}
