package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	"github.com/yourusername/live-trivia/internal/service"
)

// AdminHandler - операции оператора над сессиями
type AdminHandler struct {
	sessions *service.SessionManager
	reports  *service.ReportService
	auth     *service.AuthService
}

// NewAdminHandler создает обработчик операторских маршрутов
func NewAdminHandler(sessions *service.SessionManager, reports *service.ReportService, auth *service.AuthService) *AdminHandler {
	return &AdminHandler{sessions: sessions, reports: reports, auth: auth}
}

// Login выдает токен оператора по паролю
func (h *AdminHandler) Login(c *gin.Context) {
	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	token, expiresAt, err := h.auth.AdminLogin(c.Request.Context(), req.Password)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// CreateSession создает сессию и засевает вопросы из банка
func (h *AdminHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.Name, req.QuestionSet, req.MaxPlayers)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions возвращает сессии, новые первыми
func (h *AdminHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.sessions.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	if sessions == nil {
		sessions = []entity.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// Start запускает сессию
func (h *AdminHandler) Start(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	state, err := h.sessions.StartSession(c.Request.Context(), sessionID)
	respondTransition(c, state, err)
}

// Advance выполняет следующий шаг. Тело необязательно: from_index и from_phase
// защищают от двойного нажатия.
func (h *AdminHandler) Advance(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	var req dto.AdvanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	var expect *service.Expectation
	if req.FromIndex != nil && req.FromPhase != "" {
		expect = &service.Expectation{Index: *req.FromIndex, Phase: req.FromPhase}
	}

	state, err := h.sessions.AdvanceQuestion(c.Request.Context(), sessionID, expect)
	respondTransition(c, state, err)
}

// Pause переключает паузу
func (h *AdminHandler) Pause(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	state, err := h.sessions.PauseToggle(c.Request.Context(), sessionID)
	respondTransition(c, state, err)
}

// End принудительно завершает сессию
func (h *AdminHandler) End(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	state, err := h.sessions.EndSession(c.Request.Context(), sessionID)
	respondTransition(c, state, err)
}

// RebuildScores пересчитывает счёт из журнала ответов
func (h *AdminHandler) RebuildScores(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	ranking, err := h.sessions.RebuildScores(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RankingResponse{SessionID: sessionID, Entries: ranking})
}

// ReseedQuestions заменяет вопросы ожидающей сессии
func (h *AdminHandler) ReseedQuestions(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	var req struct {
		QuestionSet string `json:"question_set"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	session, err := h.sessions.ReseedQuestions(c.Request.Context(), sessionID, req.QuestionSet)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Export выгружает таблицу лидеров: ?format=xlsx (по умолчанию) или csv
func (h *AdminHandler) Export(c *gin.Context) {
	sessionID := c.MustGet(SessionIDKey).(uint)

	report, err := h.reports.Export(c.Request.Context(), sessionID, c.DefaultQuery("format", service.FormatXLSX))
	if err != nil {
		handleError(c, err)
		return
	}

	log.Info().Uint("session_id", sessionID).Str("file", report.Filename).Msg("[AdminHandler] Выгрузка результатов")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}
