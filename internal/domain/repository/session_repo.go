package repository

import (
	"context"
	"errors"

	"github.com/yourusername/live-trivia/internal/domain/entity"
)

var (
	// ErrAnotherSessionActive означает, что другая сессия уже идёт (active или paused).
	ErrAnotherSessionActive = errors.New("another session is already running")
)

// SessionRepository определяет методы для работы с сессиями
type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	GetByID(ctx context.Context, id uint) (*entity.Session, error)
	// GetCurrent возвращает идущую сессию (active/paused), а если её нет -
	// самую новую в статусе waiting. ErrNotFound, если нет ни той, ни другой.
	GetCurrent(ctx context.Context) (*entity.Session, error)
	List(ctx context.Context, limit, offset int) ([]entity.Session, error)
	UpdateQuestionCount(ctx context.Context, id uint, count int) error
	// ApplyTransition записывает next, если версия строки всё ещё fromVersion
	// и индекс не уменьшается. Повтор уже применённой записи возвращает строку
	// без ошибки. Если строка ушла в другое состояние - ErrStaleTransition.
	// Нарушение единственности идущей сессии - ErrAnotherSessionActive.
	ApplyTransition(ctx context.Context, id uint, fromVersion int64, next *entity.Session) (*entity.Session, error)
}

// SameTarget сообщает, что строка уже находится в целевом состоянии перехода.
func SameTarget(stored *entity.Session, fromVersion int64, next *entity.Session) bool {
	return stored.Version == fromVersion+1 &&
		stored.Status == next.Status &&
		stored.Phase == next.Phase &&
		stored.CurrentQuestionIndex == next.CurrentQuestionIndex &&
		stored.ShowResult == next.ShowResult
}
