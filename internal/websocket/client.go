package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/handler/dto"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время ожидания следующего сообщения или pong.
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту.
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 1024

	defaultClientBufferSize = 64
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Роли подключений
const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

// ClientConfig содержит настройки для клиента
type ClientConfig struct {
	BufferSize     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultClientConfig возвращает конфигурацию клиента по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BufferSize:     defaultClientBufferSize,
		PingInterval:   pingPeriod,
		PongWait:       pongWait,
		WriteWait:      writeWait,
		MaxMessageSize: maxMessageSize,
	}
}

// MessageHandler обрабатывает входящее сообщение. Ошибка закрывает соединение.
type MessageHandler func(message []byte, client *Client) error

// Client является посредником между WebSocket соединением и hub.
type Client struct {
	// ID игрока (для администратора - "admin")
	PlayerID string
	Role     string

	// Уникальный ID соединения
	ConnectionID string

	hub    *Hub
	conn   *websocket.Conn
	config ClientConfig

	// Буферизованный канал для исходящих сообщений
	send       chan []byte
	sendClosed atomic.Bool

	// Сессия, на которую подписан клиент (0 - нет)
	sessionID atomic.Uint32

	lastActivity atomic.Int64
	logger       zerolog.Logger
}

// NewClient создает нового клиента
func NewClient(hub *Hub, conn *websocket.Conn, playerID, role string, config ClientConfig) *Client {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultClientBufferSize
	}
	connectionID := uuid.New().String()
	c := &Client{
		PlayerID:     playerID,
		Role:         role,
		ConnectionID: connectionID,
		hub:          hub,
		conn:         conn,
		config:       config,
		send:         make(chan []byte, config.BufferSize),
		logger: log.With().Str("component", "WSClient").
			Str("player_id", playerID).Str("conn_id", connectionID).Logger(),
	}
	c.touch()
	return c
}

// SessionID возвращает ID сессии, на которую подписан клиент
func (c *Client) SessionID() uint {
	return uint(c.sessionID.Load())
}

func (c *Client) setSessionID(id uint) {
	c.sessionID.Store(uint32(id))
}

// IsAdmin сообщает, подключён ли оператор
func (c *Client) IsAdmin() bool {
	return c.Role == RoleAdmin
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

// LastActivity возвращает время последнего сообщения от клиента
func (c *Client) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

// trySend ставит сообщение в очередь без блокировки
func (c *Client) trySend(message []byte) bool {
	if c.sendClosed.Load() {
		return false
	}
	defer func() {
		// Канал мог закрыться между проверкой и отправкой
		_ = recover()
	}()
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// SendEnvelope отправляет кадр только этому клиенту
func (c *Client) SendEnvelope(env dto.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error().Err(err).Msg("Не удалось сериализовать кадр")
		return false
	}
	return c.trySend(data)
}

// CloseSend безопасно закрывает канал send (только один раз)
func (c *Client) CloseSend() bool {
	if c.sendClosed.CompareAndSwap(false, true) {
		close(c.send)
		return true
	}
	return false
}

// StartPumps регистрирует клиента в хабе и запускает горутины чтения и записи
func (c *Client) StartPumps(handler MessageHandler) {
	if c.PlayerID == "" {
		c.logger.Warn().Msg("Клиент без идентификатора, соединение закрыто")
		c.conn.Close()
		return
	}
	c.hub.Register(c)

	go c.writePump()
	go c.readPump(handler)
}

// readPump читает сообщения от клиента и передает их обработчику
func (c *Client) readPump(handler MessageHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.Debug().Msg("Read pump остановлен")
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Ошибка чтения WebSocket")
			} else {
				c.logger.Debug().Err(err).Msg("Соединение закрыто")
			}
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		c.hub.metrics.AddMessageReceived()

		if err := safeHandleMessage(message, c, handler); err != nil {
			c.logger.Warn().Err(err).Msg("Обработчик вернул ошибку, соединение закрывается")
			return
		}
	}
}

// safeHandleMessage вызывает обработчик с recover
func safeHandleMessage(message []byte, client *Client, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			client.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).
				Msg("Паника в обработчике сообщения")
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))
	if handler == nil {
		return nil
	}
	return handler(message, client)
}

// writePump отправляет сообщения клиенту из канала send
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug().Msg("Write pump остановлен")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
			if !ok {
				// Хаб закрыл канал
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("Ошибка записи WebSocket")
				return
			}
			c.hub.metrics.AddMessageSent(1)

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
