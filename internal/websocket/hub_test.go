package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

func newTestHub(t *testing.T) (*Hub, *Broadcaster) {
	t.Helper()
	b, _ := newTestBroadcaster(clockwork.NewFakeClock())
	h := NewHub(b)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h, b
}

// newTestClient создает клиента без сетевого соединения: хаб работает только с очередью send
func newTestClient(h *Hub, playerID string, buffer int) *Client {
	c := NewClient(h, nil, playerID, RolePlayer, ClientConfig{BufferSize: buffer})
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) dto.Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env dto.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("сообщение не получено")
		return dto.Envelope{}
	}
}

func TestHub_RoomReceivesSessionEvents(t *testing.T) {
	// Arrange
	h, b := newTestHub(t)
	alice := newTestClient(h, "alice", 8)
	bob := newTestClient(h, "bob", 8)
	other := newTestClient(h, "carol", 8)
	_, err := h.JoinRoom(alice, 1)
	require.NoError(t, err)
	_, err = h.JoinRoom(bob, 1)
	require.NoError(t, err)
	_, err = h.JoinRoom(other, 2)
	require.NoError(t, err)

	// Act
	require.NoError(t, b.Publish(context.Background(), 1, dto.EventSessionState, map[string]int{"index": 0}))

	// Assert
	assert.Equal(t, dto.EventSessionState, receive(t, alice).Type)
	assert.Equal(t, dto.EventSessionState, receive(t, bob).Type)
	select {
	case <-other.send:
		t.Fatal("клиент другой сессии не должен получать событие")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 2, h.RoomSize(1))
}

func TestHub_EmptyRoomIsClosed(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, "alice", 8)
	_, err := h.JoinRoom(c, 9)
	require.NoError(t, err)
	require.Equal(t, 1, h.RoomCount())

	// Переход в другую сессию закрывает старую комнату
	_, err = h.JoinRoom(c, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, h.RoomCount())
	assert.Equal(t, uint(10), c.SessionID())

	h.Unregister(c)
	assert.Equal(t, 0, h.RoomCount())
	assert.Equal(t, 0, h.ClientCount())
	assert.True(t, c.sendClosed.Load())
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h, b := newTestHub(t)
	slow := newTestClient(h, "slow", 1)
	_, err := h.JoinRoom(slow, 1)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), 1, dto.EventSessionState, nil))
	require.NoError(t, b.Publish(context.Background(), 1, dto.EventRanking, nil))

	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.GetMetrics()["slow_clients_dropped"])
}

func TestHub_DirectMessageReachesAllPlayerConnections(t *testing.T) {
	h, b := newTestHub(t)
	phone := newTestClient(h, "alice", 8)
	laptop := newTestClient(h, "alice", 8)
	bob := newTestClient(h, "bob", 8)

	require.NoError(t, b.PublishDirect(context.Background(), "alice", dto.EventAnswerResult, map[string]int{"total_score": 100}))

	assert.Equal(t, dto.EventAnswerResult, receive(t, phone).Type)
	assert.Equal(t, dto.EventAnswerResult, receive(t, laptop).Type)
	select {
	case <-bob.send:
		t.Fatal("адресное событие ушло другому игроку")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestErrorCode(t *testing.T) {
	testCases := []struct {
		err  error
		code string
	}{
		{apperrors.ErrDuplicateSubmission, ErrCodeDuplicateSubmission},
		{apperrors.ErrNoActiveSession, ErrCodeNoActiveSession},
		{apperrors.ErrConflict, ErrCodeNotOpen},
		{apperrors.ErrForbidden, ErrCodeForbidden},
		{apperrors.ErrValidation, ErrCodeValidation},
		{apperrors.ErrTransient, ErrCodeUnavailable},
		{assert.AnError, ErrCodeInternal},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.code, ErrorCode(tc.err), tc.err.Error())
	}
}
