package websocket

import (
	"sync"
	"time"
)

// HubMetrics - счётчики WebSocket-сервера
type HubMetrics struct {
	totalConnections   int64
	activeConnections  int64
	messagesSent       int64
	messagesReceived   int64
	slowClientsDropped int64
	startTime          time.Time

	mu sync.RWMutex
}

// NewHubMetrics создает новый экземпляр метрик Hub
func NewHubMetrics() *HubMetrics {
	return &HubMetrics{startTime: time.Now()}
}

// IncrementTotalConnections увеличивает счетчики подключений
func (m *HubMetrics) IncrementTotalConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalConnections++
	m.activeConnections++
}

// DecrementActiveConnections уменьшает счетчик активных подключений
func (m *HubMetrics) DecrementActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeConnections > 0 {
		m.activeConnections--
	}
}

// AddMessageSent увеличивает счетчик отправленных сообщений
func (m *HubMetrics) AddMessageSent(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent += count
}

// AddMessageReceived увеличивает счетчик полученных сообщений
func (m *HubMetrics) AddMessageReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
}

// AddSlowClientDropped учитывает клиента, отключённого из-за переполненной очереди
func (m *HubMetrics) AddSlowClientDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slowClientsDropped++
}

// Snapshot возвращает копию метрик
func (m *HubMetrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_connections":    m.totalConnections,
		"active_connections":   m.activeConnections,
		"messages_sent":        m.messagesSent,
		"messages_received":    m.messagesReceived,
		"slow_clients_dropped": m.slowClientsDropped,
		"uptime_seconds":       int64(time.Since(m.startTime).Seconds()),
	}
}
