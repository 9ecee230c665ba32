package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/yourusername/live-trivia/internal/handler/dto"
	"github.com/yourusername/live-trivia/internal/middleware"
	"github.com/yourusername/live-trivia/internal/service"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
)

// SessionIDKey - ключ контекста с ID сессии из URL
const SessionIDKey = "sessionID"

const qrSize = 320

// SessionHandler обрабатывает запросы игроков к сессиям
type SessionHandler struct {
	sessions    *service.SessionManager
	joinBaseURL string
}

// NewSessionHandler создает обработчик сессий. joinBaseURL - адрес клиента
// для QR-кода входа; пустой - адрес берётся из запроса.
func NewSessionHandler(sessions *service.SessionManager, joinBaseURL string) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		joinBaseURL: strings.TrimSuffix(joinBaseURL, "/"),
	}
}

// GetCurrent возвращает снимок текущей сессии
func (h *SessionHandler) GetCurrent(c *gin.Context) {
	state, err := h.sessions.GetCurrentState(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetSession возвращает снимок сессии по ID
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	state, err := h.sessions.GetState(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetQuestions возвращает вопросы сессии без правильных ответов
func (h *SessionHandler) GetQuestions(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	questions, err := h.sessions.PublicQuestions(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, questions)
}

// Join добавляет игрока из токена в сессию
func (h *SessionHandler) Join(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)
	playerID := c.GetString(middleware.ContextPlayerID)

	state, err := h.sessions.JoinSession(c.Request.Context(), sessionID, playerID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Leave отмечает выход игрока
func (h *SessionHandler) Leave(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)
	playerID := c.GetString(middleware.ContextPlayerID)

	if err := h.sessions.LeaveSession(c.Request.Context(), sessionID, playerID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitAnswer принимает ответ игрока. Идентичный повтор отвечает 200 с исходным
// результатом, другой вариант для отвеченного вопроса - 409 с исходным результатом.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)
	playerID := c.GetString(middleware.ContextPlayerID)

	var req dto.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.sessions.SubmitAnswer(c.Request.Context(), sessionID, playerID, req.QuestionID, req.OptionIndex)
	if err != nil {
		if res != nil && res.Answer != nil {
			out := quizmanager.AnswerResultDTO(res)
			out.Message = err.Error()
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": errorType(err), "result": out})
			return
		}
		handleError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, quizmanager.AnswerResultDTO(res))
}

// GetRanking возвращает таблицу лидеров
func (h *SessionHandler) GetRanking(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	ranking, err := h.sessions.GetRanking(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RankingResponse{SessionID: sessionID, Entries: ranking})
}

// GetPlayers возвращает активных игроков
func (h *SessionHandler) GetPlayers(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	players, err := h.sessions.ListPlayers(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, players)
}

// GetQR отдаёт PNG с QR-кодом ссылки входа в сессию
func (h *SessionHandler) GetQR(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	if _, err := h.sessions.GetState(c.Request.Context(), sessionID); err != nil {
		handleError(c, err)
		return
	}

	png, err := qrcode.Encode(h.joinURL(c, sessionID), qrcode.Medium, qrSize)
	if err != nil {
		handleError(c, fmt.Errorf("qr generation: %w", err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *SessionHandler) joinURL(c *gin.Context, sessionID uint) string {
	base := h.joinBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host
	}
	return fmt.Sprintf("%s/join/%d", base, sessionID)
}
