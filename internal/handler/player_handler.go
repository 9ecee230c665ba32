package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	"github.com/yourusername/live-trivia/internal/middleware"
	"github.com/yourusername/live-trivia/internal/service"
)

// PlayerHandler регистрирует игроков и выдает тикеты WebSocket
type PlayerHandler struct {
	auth *service.AuthService
}

// NewPlayerHandler создает обработчик игроков
func NewPlayerHandler(auth *service.AuthService) *PlayerHandler {
	return &PlayerHandler{auth: auth}
}

// Register создает игрока и возвращает его токен
func (h *PlayerHandler) Register(c *gin.Context) {
	var req dto.RegisterPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	player, token, _, err := h.auth.RegisterPlayer(c.Request.Context(), req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.RegisterPlayerResponse{Player: *player, Token: token})
}

// Me возвращает профиль игрока из токена
func (h *PlayerHandler) Me(c *gin.Context) {
	player, err := h.auth.Player(c.Request.Context(), c.GetString(middleware.ContextPlayerID))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

// WSTicket выдает короткоживущий тикет для подключения к /ws
func (h *PlayerHandler) WSTicket(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "error_type": "token_missing"})
		return
	}

	ticket, expiresAt, err := h.auth.IssueWSTicket(claims)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TokenResponse{Token: ticket, ExpiresAt: expiresAt})
}
