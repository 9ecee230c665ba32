package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный токен, нет прав).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у игрока недостаточно прав для действия.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния (сессия заполнена, уже запущена и т.п.).
	ErrConflict = errors.New("resource state conflict")
)

// Ошибки игровой сессии
var (
	// ErrDuplicateSubmission - ответ на этот вопрос уже записан с другим содержимым.
	// Повтор с тем же содержимым ошибкой не является.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrNoActiveSession - нет сессии в статусе waiting/active/paused.
	ErrNoActiveSession = errors.New("no active session")

	// ErrStaleTransition - переход вычислен для состояния, которое уже изменилось.
	ErrStaleTransition = errors.New("stale transition")

	// ErrContentUnavailable - у сессии нет вопросов (или они не загрузились).
	ErrContentUnavailable = errors.New("content unavailable")

	// ErrTransient - временная ошибка хранилища или брокера, операцию можно повторить.
	ErrTransient = errors.New("transient failure")
)
