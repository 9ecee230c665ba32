package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/live-trivia/internal/content"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	"github.com/yourusername/live-trivia/internal/middleware"
	"github.com/yourusername/live-trivia/internal/repository/memory"
	"github.com/yourusername/live-trivia/internal/service"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
	"github.com/yourusername/live-trivia/internal/service/rounds"
	"github.com/yourusername/live-trivia/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAdminPassword = "operator-pass"
	testBank          = `
default: quick
sets:
  - name: quick
    questions:
      - text: "2 + 2 = ?"
        options: ["3", "4", "5", "22"]
        correct: 1
      - text: "Столица Франции?"
        options: ["Берлин", "Мадрид", "Париж", "Рим"]
        correct: 2
`
)

// ============================================================================
// Тестовый сервер
// ============================================================================

type apiFixture struct {
	router *gin.Engine
	clock  *clockwork.FakeClock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 12, 19, 0, 0, 0, time.UTC))
	store := memory.NewStore().WithClock(clock.Now)
	bank, err := content.Parse([]byte(testBank))
	require.NoError(t, err)
	calc, err := rounds.NewTable(rounds.DefaultBoundaries)
	require.NoError(t, err)

	cfg := quizmanager.DefaultConfig()
	cfg.Retry = quizmanager.RetryPolicy{Attempts: 1}
	cfg.ContentRetry = quizmanager.RetryPolicy{Attempts: 1}

	deps := &quizmanager.Dependencies{
		SessionRepo:       store.Sessions(),
		QuestionRepo:      store.Questions(),
		PlayerSessionRepo: store.PlayerSessions(),
		AnswerRepo:        store.Answers(),
		CacheRepo:         memory.NewCacheRepo(),
		Rounds:            calc,
		Clock:             clock,
	}
	reports := service.NewReportService(store.Sessions(), store.Answers(), nil, nil)
	sessions := service.NewSessionManager(cfg, deps, store.Players(), bank, reports)
	t.Cleanup(sessions.Shutdown)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "handler-test-secret-0123"})
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	authService, err := service.NewAuthService(store.Players(), jwtService, string(hash))
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router, Routes{
		Sessions:    NewSessionHandler(sessions, "https://play.example.com"),
		Admin:       NewAdminHandler(sessions, reports, authService),
		Players:     NewPlayerHandler(authService),
		Auth:        middleware.NewAuthMiddleware(jwtService),
		RateLimiter: middleware.NewRateLimiter(nil),
	})
	return &apiFixture{router: router, clock: clock}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func (f *apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/admin/login", "", dto.AdminLoginRequest{Password: testAdminPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[dto.TokenResponse](t, w).Token
}

func (f *apiFixture) registerPlayer(t *testing.T, name string) (string, string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/players", "", dto.RegisterPlayerRequest{Name: name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[dto.RegisterPlayerResponse](t, w)
	return resp.Player.ID, resp.Token
}

// runningSession создает сессию с двумя игроками и запускает её
func (f *apiFixture) runningSession(t *testing.T) (admin string, sessionID uint, players []string) {
	t.Helper()
	admin = f.adminToken(t)

	w := f.do(t, http.MethodPost, "/api/admin/sessions", admin, dto.CreateSessionRequest{Name: "Вечерний квиз"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID = decode[struct {
		ID uint `json:"id"`
	}](t, w).ID

	for _, name := range []string{"Ana", "Bo"} {
		_, token := f.registerPlayer(t, name)
		w := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/join", sessionID), token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		players = append(players, token)
	}

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/admin/sessions/%d/start", sessionID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decode[dto.TransitionResponse](t, w).Applied)
	return admin, sessionID, players
}

// ============================================================================
// Тесты
// ============================================================================

func TestRegisterPlayer_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"пустое тело", map[string]string{}, http.StatusBadRequest},
		{"пробелы вместо имени", dto.RegisterPlayerRequest{Name: "   "}, http.StatusUnprocessableEntity},
		{"корректное имя", dto.RegisterPlayerRequest{Name: "Ana"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/players", "", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestAuth_Errors(t *testing.T) {
	f := newAPIFixture(t)
	_, playerToken := f.registerPlayer(t, "Ana")

	w := f.do(t, http.MethodPost, "/api/sessions/1/join", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_missing", decode[map[string]interface{}](t, w)["error_type"])

	w = f.do(t, http.MethodPost, "/api/admin/sessions", playerToken, dto.CreateSessionRequest{Name: "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/login", "", dto.AdminLoginRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/sessions/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCurrent_NoSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/sessions/current", "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_active_session", decode[map[string]interface{}](t, w)["error_type"])
}

func TestAnswerFlow(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	_, sessionID, players := f.runningSession(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/questions", sessionID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	questions := decode[[]dto.PublicQuestion](t, w)
	require.Len(t, questions, 2)
	assert.NotContains(t, w.Body.String(), "correct")
	answerPath := fmt.Sprintf("/api/sessions/%d/answers", sessionID)

	// Act: верный ответ
	w = f.do(t, http.MethodPost, answerPath, players[0], dto.AnswerRequest{QuestionID: questions[0].ID, OptionIndex: intPtr(1)})

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[dto.AnswerResult](t, w)
	assert.True(t, first.IsCorrect)
	assert.Equal(t, 100, first.TotalScore)

	// Идентичный повтор - исходный результат
	w = f.do(t, http.MethodPost, answerPath, players[0], dto.AnswerRequest{QuestionID: questions[0].ID, OptionIndex: intPtr(1)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.AnswerResult](t, w).Duplicate)

	// Другой вариант - отказ, исходный ответ сохраняется
	w = f.do(t, http.MethodPost, answerPath, players[0], dto.AnswerRequest{QuestionID: questions[0].ID, OptionIndex: intPtr(3)})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "duplicate_submission", decode[map[string]interface{}](t, w)["error_type"])

	// Таблица лидеров
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/ranking", sessionID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ranking := decode[dto.RankingResponse](t, w)
	require.Len(t, ranking.Entries, 2)
	assert.Equal(t, "Ana", ranking.Entries[0].PlayerName)
	assert.Equal(t, 100, ranking.Entries[0].TotalScore)
}

func TestAnswer_NotJoined(t *testing.T) {
	f := newAPIFixture(t)
	_, sessionID, _ := f.runningSession(t)
	_, outsider := f.registerPlayer(t, "Zed")

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/answers", sessionID), outsider,
		dto.AnswerRequest{QuestionID: 1, OptionIndex: intPtr(0)})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdvance_StaleIsNotAnError(t *testing.T) {
	f := newAPIFixture(t)
	admin, sessionID, _ := f.runningSession(t)
	path := fmt.Sprintf("/api/admin/sessions/%d/advance", sessionID)

	w := f.do(t, http.MethodPost, path, admin, dto.AdvanceRequest{FromIndex: intPtr(5), FromPhase: "question"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.TransitionResponse](t, w)
	assert.False(t, resp.Applied)
	require.NotNil(t, resp.Session)
	assert.Equal(t, 0, resp.Session.CurrentQuestionIndex)

	w = f.do(t, http.MethodPost, path, admin, dto.AdvanceRequest{FromIndex: intPtr(0), FromPhase: "question"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.TransitionResponse](t, w).Applied)
}

func TestAdvance_WaitingSessionNotApplied(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.adminToken(t)
	w := f.do(t, http.MethodPost, "/api/admin/sessions", admin, dto.CreateSessionRequest{Name: "Лобби"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/sessions/1/advance", admin, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.TransitionResponse](t, w)
	assert.False(t, resp.Applied)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "waiting", resp.Session.Status)
}

func TestEnd_SecondCallNotApplied(t *testing.T) {
	f := newAPIFixture(t)
	admin, sessionID, _ := f.runningSession(t)
	path := fmt.Sprintf("/api/admin/sessions/%d/end", sessionID)

	w := f.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.TransitionResponse](t, w)
	assert.True(t, resp.Applied)
	assert.Equal(t, "finished", resp.Session.Status)

	w = f.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[dto.TransitionResponse](t, w).Applied)
}

func TestStart_NotEnoughPlayers(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.adminToken(t)
	w := f.do(t, http.MethodPost, "/api/admin/sessions", admin, dto.CreateSessionRequest{Name: "Пусто"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/sessions/1/start", admin, nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateSession_UnknownSet(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.adminToken(t)

	w := f.do(t, http.MethodPost, "/api/admin/sessions", admin, dto.CreateSessionRequest{Name: "x", QuestionSet: "nope"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQRCode(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.adminToken(t)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/api/admin/sessions", admin, dto.CreateSessionRequest{Name: "QR"}).Code)

	w := f.do(t, http.MethodGet, "/api/sessions/1/qr", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = f.do(t, http.MethodGet, "/api/sessions/9/qr", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExport(t *testing.T) {
	f := newAPIFixture(t)
	admin, sessionID, _ := f.runningSession(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/admin/sessions/%d/export?format=csv", sessionID), admin, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), fmt.Sprintf("session_%d_results.csv", sessionID))
	assert.Contains(t, w.Body.String(), "Ana")
}

func TestWSTicket(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.registerPlayer(t, "Ana")

	w := f.do(t, http.MethodPost, "/api/players/ws-ticket", token, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[dto.TokenResponse](t, w).Token)
}

func intPtr(v int) *int { return &v }
