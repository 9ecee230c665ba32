package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/live-trivia/internal/clientview"
	"github.com/yourusername/live-trivia/internal/handler/dto"
	ws "github.com/yourusername/live-trivia/internal/websocket"
)

const (
	reconnectMin = time.Second
	reconnectMax = 10 * time.Second
)

func newPlayCmd(opts *options) *cobra.Command {
	var (
		name      string
		sessionID uint
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Играть из терминала: ответы цифрами 1-4",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := opts.client()
			var reg dto.RegisterPlayerResponse
			if err := api.do(ctx, "POST", "/api/players", dto.RegisterPlayerRequest{Name: name}, &reg); err != nil {
				return err
			}
			player := api.withToken(reg.Token)

			if sessionID == 0 {
				var current dto.SessionState
				if err := player.do(ctx, "GET", "/api/sessions/current", nil, &current); err != nil {
					return fmt.Errorf("no session to join: %w", err)
				}
				sessionID = current.SessionID
			}

			g := newGame(cmd.OutOrStdout(), reg.Player.ID, sessionID)
			okColor.Fprintf(g.out, "Игрок %s, сессия #%d\n", reg.Player.Name, sessionID)

			go g.readInput(ctx, cmd.InOrStdin())
			go g.tickLoop(ctx)
			return g.connectLoop(ctx, player)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "player name")
	cmd.Flags().UintVar(&sessionID, "session", 0, "session id (current session if 0)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// game - терминальный клиент одной сессии
type game struct {
	out       io.Writer
	playerID  string
	sessionID uint
	view      *clientview.Reducer

	mu   sync.Mutex
	conn *websocket.Conn
}

func newGame(out io.Writer, playerID string, sessionID uint) *game {
	return &game{out: out, playerID: playerID, sessionID: sessionID, view: clientview.New()}
}

// connectLoop держит соединение и переподключается с экспоненциальной задержкой.
// После переподключения сервер присылает актуальный снимок на session:join.
func (g *game) connectLoop(ctx context.Context, api *apiClient) error {
	delay := reconnectMin
	for {
		err := g.session(ctx, api)
		if ctx.Err() != nil {
			return nil
		}
		if g.finished() {
			return nil
		}

		g.view.MarkDisconnected()
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return err
		}
		warnColor.Fprintf(g.out, "Соединение потеряно (%v), повтор через %s\n", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

func (g *game) session(ctx context.Context, api *apiClient) error {
	var ticket dto.TokenResponse
	if err := api.do(ctx, "POST", "/api/players/ws-ticket", nil, &ticket); err != nil {
		return err
	}
	wsURL, err := api.wsURL(ticket.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", api.baseURL, err)
	}
	defer conn.Close()

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.conn = nil
		g.mu.Unlock()
	}()

	if err := g.send(ws.MessageSessionJoin, map[string]uint{"session_id": g.sessionID}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if g.handleFrame(data) {
			render(g.out, g.view.View())
		}
		if g.finished() {
			return nil
		}
	}
}

// handleFrame применяет кадр сервера. Возвращает true, если экран нужно перерисовать.
func (g *game) handleFrame(data []byte) bool {
	var env dto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	switch env.Type {
	case dto.EventSessionState:
		var state dto.SessionState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			return false
		}
		return g.view.Apply(env.Seq, &state)
	case dto.EventAnswerResult:
		var res dto.AnswerResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return false
		}
		return g.view.ApplyAnswerResult(res)
	case dto.EventServerError:
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(env.Data, &e)
		errColor.Fprintf(g.out, "Сервер: %s (%s)\n", e.Message, e.Code)
	}
	return false
}

func (g *game) send(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ws.Event{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return errors.New("not connected")
	}
	return g.conn.WriteMessage(websocket.TextMessage, frame)
}

func (g *game) submit(sub *clientview.Submission) {
	payload := map[string]interface{}{
		"session_id":   sub.SessionID,
		"question_id":  sub.QuestionID,
		"option_index": sub.OptionIndex,
	}
	if err := g.send(ws.MessageAnswerSubmit, payload); err != nil {
		errColor.Fprintf(g.out, "Ответ не отправлен: %v\n", err)
		return
	}
	g.view.MarkSubmitted(sub.QuestionID)
}

func (g *game) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(clientview.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sub := g.view.Tick(); sub != nil {
				warnColor.Fprintln(g.out, "Время вышло")
				g.submit(sub)
			}
		}
	}
}

func (g *game) readInput(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			render(g.out, g.view.View())
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			warnColor.Fprintln(g.out, "Введите номер варианта 1-4")
			continue
		}
		sub, err := g.view.Select(n - 1)
		if err != nil {
			warnColor.Fprintf(g.out, "Нельзя ответить: %v\n", err)
			continue
		}
		g.submit(sub)
	}
}

func (g *game) finished() bool {
	return g.view.View().Screen == clientview.ScreenFinished
}

// render выводит экран игрока
func render(w io.Writer, v clientview.View) {
	if v.Stale {
		warnColor.Fprintln(w, "[нет связи, показано последнее известное состояние]")
	}
	switch v.Screen {
	case clientview.ScreenWaiting:
		headerColor.Fprintf(w, "Ожидание начала игры (игроков: %d)\n", v.ActivePlayers)
	case clientview.ScreenPaused:
		warnColor.Fprintf(w, "Пауза. Вопрос %d/%d, останется %d с\n", v.QuestionIndex+1, v.QuestionCount, v.SecondsRemaining)
	case clientview.ScreenBreak:
		headerColor.Fprintf(w, "Перерыв после раунда %d из %d\n", v.Round, v.TotalRounds)
	case clientview.ScreenFinished:
		headerColor.Fprintln(w, "Игра окончена")
	case clientview.ScreenQuestion, clientview.ScreenResult:
		renderQuestion(w, v)
	}
}

func renderQuestion(w io.Writer, v clientview.View) {
	headerColor.Fprintf(w, "Раунд %d/%d, вопрос %d/%d", v.Round, v.TotalRounds, v.QuestionIndex+1, v.QuestionCount)
	if v.Screen == clientview.ScreenQuestion {
		fmt.Fprintf(w, "  [%d с]", v.SecondsRemaining)
	}
	fmt.Fprintln(w)
	if v.Question == nil {
		return
	}
	fmt.Fprintln(w, v.Question.Text)
	for i, opt := range v.Question.Options {
		line := fmt.Sprintf("  %d) %s", i+1, opt)
		switch {
		case v.CorrectOption != nil && *v.CorrectOption == i:
			okColor.Fprintln(w, line+"  ✓")
		case v.Selected != nil && *v.Selected == i:
			warnColor.Fprintln(w, line+"  *")
		default:
			fmt.Fprintln(w, line)
		}
	}
	if v.Result != nil {
		if v.Result.IsCorrect {
			okColor.Fprintf(w, "Верно! Счёт: %d\n", v.Result.TotalScore)
		} else {
			errColor.Fprintf(w, "Неверно. Счёт: %d\n", v.Result.TotalScore)
		}
	} else if v.Submitted {
		fmt.Fprintln(w, "Ответ отправлен")
	}
}
