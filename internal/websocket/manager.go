package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
)

// handlerTimeout ограничивает время обработки одного сообщения
const handlerTimeout = 10 * time.Second

// Event представляет входящее WebSocket-сообщение
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Manager разбирает сообщения клиентов и доставляет события сессий.
// Реализует quizmanager.Publisher.
type Manager struct {
	hub            *Hub
	broadcaster    *Broadcaster
	messageHandler map[string]func(ctx context.Context, data json.RawMessage, client *Client) error
	logger         zerolog.Logger
}

// NewManager создает новый менеджер WebSocket
func NewManager(hub *Hub, broadcaster *Broadcaster) *Manager {
	return &Manager{
		hub:            hub,
		broadcaster:    broadcaster,
		messageHandler: make(map[string]func(ctx context.Context, data json.RawMessage, client *Client) error),
		logger:         log.With().Str("component", "WebSocketManager").Logger(),
	}
}

// RegisterHandler регистрирует обработчик для определенного типа сообщений
func (m *Manager) RegisterHandler(eventType string, handler func(ctx context.Context, data json.RawMessage, client *Client) error) {
	m.messageHandler[eventType] = handler
	m.logger.Debug().Str("type", eventType).Msg("Зарегистрирован обработчик сообщений")
}

// HandleMessage обрабатывает входящее сообщение от клиента.
// Ошибка разбора JSON закрывает соединение, остальные ошибки уходят клиенту в server:error.
func (m *Manager) HandleMessage(message []byte, client *Client) error {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		m.SendErrorToClient(client, ErrCodeInvalidFormat, "Invalid JSON format")
		return fmt.Errorf("unmarshal message: %w", err)
	}

	handler, ok := m.messageHandler[event.Type]
	if !ok {
		m.SendErrorToClient(client, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", event.Type))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	return handler(ctx, event.Data, client)
}

// SendErrorToClient отправляет клиенту server:error. Соединение не закрывается.
func (m *Manager) SendErrorToClient(client *Client, code string, message string) {
	client.SendEnvelope(dto.Envelope{
		Type:      dto.EventServerError,
		SessionID: client.SessionID(),
		SentAt:    time.Now().UnixMilli(),
		Data:      mustJSON(map[string]string{"code": code, "message": message}),
	})
}

// PublishToSession рассылает событие всем подписчикам сессии во всех процессах
func (m *Manager) PublishToSession(ctx context.Context, sessionID uint, eventType string, payload interface{}) error {
	return m.broadcaster.Publish(ctx, sessionID, eventType, payload)
}

// SendToPlayer отправляет событие всем соединениям игрока
func (m *Manager) SendToPlayer(playerID string, eventType string, payload interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.broadcaster.PublishDirect(ctx, playerID, eventType, payload)
}

// GetMetrics возвращает метрики WebSocket-системы
func (m *Manager) GetMetrics() map[string]interface{} {
	return m.hub.GetMetrics()
}

// ClientCount возвращает количество подключений
func (m *Manager) ClientCount() int {
	return m.hub.ClientCount()
}

// BindGame регистрирует обработчики игровых сообщений
func (m *Manager) BindGame(game GameService) {
	m.RegisterHandler(MessageSessionJoin, func(ctx context.Context, data json.RawMessage, client *Client) error {
		var req struct {
			SessionID uint `json:"session_id"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
			m.SendErrorToClient(client, ErrCodeInvalidFormat, "session_id is required")
			return nil
		}
		if client.IsAdmin() {
			m.SendErrorToClient(client, ErrCodeForbidden, "operators watch sessions, they do not join")
			return nil
		}

		state, err := game.JoinSession(ctx, req.SessionID, client.PlayerID)
		if err != nil {
			m.sendServiceError(client, err)
			return nil
		}
		m.subscribe(client, state)
		return nil
	})

	m.RegisterHandler(MessageSessionWatch, func(ctx context.Context, data json.RawMessage, client *Client) error {
		var req struct {
			SessionID uint `json:"session_id"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
			m.SendErrorToClient(client, ErrCodeInvalidFormat, "session_id is required")
			return nil
		}
		state, err := game.GetState(ctx, req.SessionID)
		if err != nil {
			m.sendServiceError(client, err)
			return nil
		}
		m.subscribe(client, state)
		return nil
	})

	m.RegisterHandler(MessageSessionSync, func(ctx context.Context, _ json.RawMessage, client *Client) error {
		sessionID := client.SessionID()
		if sessionID == 0 {
			m.SendErrorToClient(client, ErrCodeNoActiveSession, "join a session first")
			return nil
		}
		state, err := game.GetState(ctx, sessionID)
		if err != nil {
			m.sendServiceError(client, err)
			return nil
		}
		m.sendSnapshot(client, state, m.currentSeq(sessionID, 0))
		return nil
	})

	m.RegisterHandler(MessageAnswerSubmit, func(ctx context.Context, data json.RawMessage, client *Client) error {
		var req struct {
			SessionID   uint `json:"session_id"`
			QuestionID  uint `json:"question_id"`
			OptionIndex *int `json:"option_index"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.QuestionID == 0 {
			m.SendErrorToClient(client, ErrCodeInvalidFormat, "question_id is required")
			return nil
		}
		if req.SessionID == 0 {
			req.SessionID = client.SessionID()
		}

		res, err := game.SubmitAnswer(ctx, req.SessionID, client.PlayerID, req.QuestionID, req.OptionIndex)
		if err != nil {
			m.sendServiceError(client, err)
			return nil
		}
		// Новый ответ игрок получает через SendToPlayer, повтор - здесь
		if res.Duplicate {
			client.SendEnvelope(dto.Envelope{
				Type:      dto.EventAnswerResult,
				SessionID: req.SessionID,
				SentAt:    time.Now().UnixMilli(),
				Data:      mustJSON(quizmanager.AnswerResultDTO(res)),
			})
		}
		return nil
	})

	m.RegisterHandler(MessageHeartbeat, func(_ context.Context, _ json.RawMessage, client *Client) error {
		client.SendEnvelope(dto.Envelope{
			Type:   MessageServerHeartbeat,
			SentAt: time.Now().UnixMilli(),
			Data:   mustJSON(map[string]int64{"server_time": time.Now().UnixMilli()}),
		})
		return nil
	})
}

// subscribe переводит клиента в комнату сессии и отправляет текущий снимок
func (m *Manager) subscribe(client *Client, state *dto.SessionState) {
	roomSeq, err := m.hub.JoinRoom(client, state.SessionID)
	if err != nil {
		m.logger.Error().Err(err).Uint("session_id", state.SessionID).Str("player_id", client.PlayerID).
			Msg("Не удалось подписать клиента на сессию")
		m.SendErrorToClient(client, ErrCodeUnavailable, "realtime channel unavailable")
		return
	}
	m.sendSnapshot(client, state, m.currentSeq(state.SessionID, roomSeq))
	m.logger.Info().Uint("session_id", state.SessionID).Str("player_id", client.PlayerID).Str("role", client.Role).
		Msg("Клиент подписан на сессию")
}

func (m *Manager) currentSeq(sessionID uint, roomSeq uint64) uint64 {
	if seq := m.broadcaster.LastSeq(sessionID); seq > roomSeq {
		return seq
	}
	return roomSeq
}

// sendSnapshot отправляет снимок, прочитанный из хранилища, с последним известным seq
func (m *Manager) sendSnapshot(client *Client, state *dto.SessionState, seq uint64) {
	client.SendEnvelope(dto.Envelope{
		Type:      dto.EventSessionState,
		SessionID: state.SessionID,
		Seq:       seq,
		SentAt:    time.Now().UnixMilli(),
		Data:      mustJSON(state),
	})
}

// sendServiceError переводит доменную ошибку в код server:error
func (m *Manager) sendServiceError(client *Client, err error) {
	code := ErrorCode(err)
	if code == ErrCodeInternal {
		m.logger.Error().Err(err).Str("player_id", client.PlayerID).Msg("Ошибка обработки сообщения")
		m.SendErrorToClient(client, code, "internal error")
		return
	}
	m.SendErrorToClient(client, code, err.Error())
}

// ErrorCode возвращает код server:error для доменной ошибки
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDuplicateSubmission):
		return ErrCodeDuplicateSubmission
	case errors.Is(err, apperrors.ErrNoActiveSession):
		return ErrCodeNoActiveSession
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrStaleTransition):
		return ErrCodeNotOpen
	case errors.Is(err, apperrors.ErrForbidden), errors.Is(err, apperrors.ErrUnauthorized):
		return ErrCodeForbidden
	case errors.Is(err, apperrors.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, apperrors.ErrTransient), errors.Is(err, apperrors.ErrContentUnavailable):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternal
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
