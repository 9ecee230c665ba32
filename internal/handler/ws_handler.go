package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/middleware"
	"github.com/yourusername/live-trivia/internal/websocket"
	"github.com/yourusername/live-trivia/pkg/auth"
)

// WSHandler обрабатывает WebSocket соединения
type WSHandler struct {
	hub          *websocket.Hub
	manager      *websocket.Manager
	jwtService   *auth.JWTService
	upgrader     gorillaws.Upgrader
	clientConfig websocket.ClientConfig
	logger       zerolog.Logger
}

// NewWSHandler создает обработчик WebSocket. Пустой allowedOrigins разрешает любой Origin.
func NewWSHandler(
	hub *websocket.Hub,
	manager *websocket.Manager,
	jwtService *auth.JWTService,
	allowedOrigins []string,
	clientConfig websocket.ClientConfig,
) *WSHandler {
	h := &WSHandler{
		hub:          hub,
		manager:      manager,
		jwtService:   jwtService,
		clientConfig: clientConfig,
		logger:       log.With().Str("component", "WSHandler").Logger(),
	}

	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	h.upgrader = gorillaws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Не браузерный клиент (терминальный игрок, curl)
			if origin == "" || len(allowed) == 0 {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			h.logger.Warn().Str("origin", origin).Msg("Отклонён неразрешённый Origin")
			return false
		},
		EnableCompression: true,
	}
	return h
}

// HandleConnection проверяет тикет или токен и поднимает соединение.
// Порядок: ?ticket=, затем ?token= или заголовок Authorization.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		// Сам токен не логируем
		h.logger.Debug().Err(err).Msg("Отклонено подключение без действительных учётных данных")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing credentials", "error_type": "token_invalid"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже записал ответ клиенту
		h.logger.Warn().Err(err).Msg("Ошибка upgrade соединения")
		return
	}

	role := websocket.RolePlayer
	if claims.IsAdmin() {
		role = websocket.RoleAdmin
	}
	client := websocket.NewClient(h.hub, conn, claims.PlayerID, role, h.clientConfig)
	h.logger.Debug().Str("player_id", claims.PlayerID).Str("role", role).Msg("Соединение установлено")

	client.StartPumps(h.manager.HandleMessage)
}

func (h *WSHandler) authenticate(c *gin.Context) (*auth.Claims, error) {
	if ticket := c.Query("ticket"); ticket != "" {
		return h.jwtService.ParseWSTicket(ticket)
	}
	token := c.Query("token")
	if token == "" {
		var ok bool
		if token, ok = middleware.BearerToken(c); !ok {
			return nil, auth.ErrTokenInvalid
		}
	}
	return h.jwtService.ParseToken(token)
}
