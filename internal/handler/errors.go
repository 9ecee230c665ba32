package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/internal/websocket"
)

// handleError переводит доменную ошибку в HTTP-ответ
func handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNoActiveSession):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrDuplicateSubmission), errors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperrors.ErrContentUnavailable), errors.Is(err, apperrors.ErrTransient):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[Handler] Внутренняя ошибка")
		c.JSON(status, gin.H{"error": "Internal server error", "error_type": websocket.ErrCodeInternal})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "error_type": errorType(err)})
}

// errorType совпадает с кодами server:error WebSocket, кроме общих конфликтов
func errorType(err error) string {
	if errors.Is(err, apperrors.ErrConflict) {
		return "conflict"
	}
	return websocket.ErrorCode(err)
}

// respondTransition отвечает на административный переход.
// Устаревший переход - не ошибка: applied = false и актуальный снимок.
func respondTransition(c *gin.Context, state *dto.SessionState, err error) {
	if err != nil {
		if errors.Is(err, apperrors.ErrStaleTransition) {
			c.JSON(http.StatusOK, dto.TransitionResponse{Applied: false, Session: state})
			return
		}
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TransitionResponse{Applied: true, Session: state})
}

// bindError отвечает на ошибку разбора тела запроса
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_type": websocket.ErrCodeInvalidFormat})
}
