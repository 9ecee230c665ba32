package websocket

// Сообщения клиента
const (
	// MessageSessionJoin - войти в сессию и подписаться на неё
	MessageSessionJoin = "session:join"

	// MessageSessionWatch - подписаться без участия (экран ведущего, оператор)
	MessageSessionWatch = "session:watch"

	// MessageSessionSync - запросить актуальный снимок
	MessageSessionSync = "session:sync"

	// MessageAnswerSubmit - ответ на текущий вопрос
	MessageAnswerSubmit = "answer:submit"

	// MessageHeartbeat - проверка соединения
	MessageHeartbeat = "heartbeat"
)

// Сообщения сервера, которые не рассылаются через Broadcaster
const (
	MessageServerHeartbeat = "server:heartbeat"
)

// Коды ошибок в server:error
const (
	ErrCodeInvalidFormat       = "invalid_format"
	ErrCodeUnknownType         = "unknown_message_type"
	ErrCodeNoActiveSession     = "no_active_session"
	ErrCodeDuplicateSubmission = "duplicate_submission"
	ErrCodeNotOpen             = "question_not_open"
	ErrCodeForbidden           = "forbidden"
	ErrCodeValidation          = "validation_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeUnavailable         = "temporarily_unavailable"
	ErrCodeInternal            = "internal_error"
)
