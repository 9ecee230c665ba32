package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/handler/dto"
)

// room - локальные подписчики одной сессии
type room struct {
	sessionID uint
	clients   map[*Client]struct{}
	sub       *Subscription
}

// Hub держит подключения этого процесса и группирует их по сессиям.
// Комната подписана на Broadcaster, пока в ней есть клиенты.
type Hub struct {
	broadcaster *Broadcaster
	metrics     *HubMetrics

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	byPlayer map[string]map[*Client]struct{}
	rooms    map[uint]*room

	direct *Subscription
	logger zerolog.Logger
}

// NewHub создает хаб
func NewHub(broadcaster *Broadcaster) *Hub {
	return &Hub{
		broadcaster: broadcaster,
		metrics:     NewHubMetrics(),
		clients:     make(map[*Client]struct{}),
		byPlayer:    make(map[string]map[*Client]struct{}),
		rooms:       make(map[uint]*room),
		logger:      log.With().Str("component", "Hub").Logger(),
	}
}

// Start подписывает хаб на адресные события игроков
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.broadcaster.SubscribeDirect(ctx, func(playerID string, env dto.Envelope) {
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		h.sendToPlayerLocal(playerID, data)
	})
	if err != nil {
		return err
	}
	h.direct = sub
	h.logger.Info().Msg("Хаб запущен")
	return nil
}

// Stop закрывает подписки и соединения
func (h *Hub) Stop() {
	if h.direct != nil {
		h.direct.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		r.sub.Close()
	}
	h.rooms = make(map[uint]*room)
	for c := range h.clients {
		c.CloseSend()
	}
	h.logger.Info().Int("clients", len(h.clients)).Msg("Хаб остановлен")
}

// Register добавляет клиента
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	if h.byPlayer[c.PlayerID] == nil {
		h.byPlayer[c.PlayerID] = make(map[*Client]struct{})
	}
	h.byPlayer[c.PlayerID][c] = struct{}{}
	h.metrics.IncrementTotalConnections()

	h.logger.Debug().Str("player_id", c.PlayerID).Str("conn_id", c.ConnectionID).Msg("Клиент зарегистрирован")
}

// Unregister удаляет клиента и закрывает его очередь
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.leaveRoomLocked(c)
	delete(h.clients, c)
	if set := h.byPlayer[c.PlayerID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byPlayer, c.PlayerID)
		}
	}
	c.CloseSend()
	h.metrics.DecrementActiveConnections()

	h.logger.Debug().Str("player_id", c.PlayerID).Str("conn_id", c.ConnectionID).Msg("Клиент отключён")
}

// JoinRoom переводит клиента в комнату сессии и возвращает последний seq комнаты
func (h *Hub) JoinRoom(c *Client, sessionID uint) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return 0, fmt.Errorf("client %s is not registered", c.ConnectionID)
	}
	if c.SessionID() == sessionID {
		if r, ok := h.rooms[sessionID]; ok {
			return r.sub.LastSeq(), nil
		}
	}
	h.leaveRoomLocked(c)

	r, ok := h.rooms[sessionID]
	if !ok {
		sub, err := h.broadcaster.Subscribe(context.Background(), sessionID, func(env dto.Envelope) {
			h.deliver(sessionID, env)
		})
		if err != nil {
			return 0, err
		}
		r = &room{sessionID: sessionID, clients: make(map[*Client]struct{}), sub: sub}
		h.rooms[sessionID] = r
		h.logger.Info().Uint("session_id", sessionID).Msg("Комната сессии открыта")
	}
	r.clients[c] = struct{}{}
	c.setSessionID(sessionID)
	return r.sub.LastSeq(), nil
}

// leaveRoomLocked убирает клиента из комнаты; пустая комната отписывается
func (h *Hub) leaveRoomLocked(c *Client) {
	sessionID := c.SessionID()
	if sessionID == 0 {
		return
	}
	c.setSessionID(0)
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		// Close не ждёт горутину доставки: она может ждать h.mu
		r.sub.Close()
		delete(h.rooms, sessionID)
		h.logger.Info().Uint("session_id", sessionID).Msg("Комната сессии закрыта")
	}
}

// deliver рассылает кадр клиентам комнаты. Клиент с переполненной очередью отключается.
func (h *Hub) deliver(sessionID uint, env dto.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Uint("session_id", sessionID).Msg("Не удалось сериализовать кадр")
		return
	}

	var slow []*Client
	h.mu.RLock()
	r, ok := h.rooms[sessionID]
	if ok {
		for c := range r.clients {
			if !c.trySend(data) {
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.logger.Warn().Str("player_id", c.PlayerID).Str("conn_id", c.ConnectionID).
			Msg("Очередь клиента переполнена, соединение закрывается")
		h.unregisterLocked(c)
		h.metrics.AddSlowClientDropped()
	}
	h.mu.Unlock()
}

// SendToPlayer отправляет сообщение всем соединениям игрока в этом процессе
func (h *Hub) sendToPlayerLocal(playerID string, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false
	for c := range h.byPlayer[playerID] {
		if c.trySend(message) {
			sent = true
		}
	}
	return sent
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount возвращает количество открытых комнат
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSize возвращает количество клиентов в комнате сессии
func (h *Hub) RoomSize(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.clients)
	}
	return 0
}

// GetMetrics возвращает метрики хаба
func (h *Hub) GetMetrics() map[string]interface{} {
	metrics := h.metrics.Snapshot()
	metrics["clients"] = h.ClientCount()
	metrics["rooms"] = h.RoomCount()
	metrics["deduplicated"] = h.broadcaster.Deduplicated()
	return metrics
}
