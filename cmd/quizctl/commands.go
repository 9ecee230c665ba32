package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/handler/dto"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
)

func parseSessionID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return uint(id), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLoginCmd(opts *options) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Войти как оператор и сохранить токен",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("QUIZCTL_PASSWORD")
			}
			if password == "" {
				return errors.New("--password is required (env: QUIZCTL_PASSWORD)")
			}

			var resp dto.TokenResponse
			err := opts.client().do(cmd.Context(), "POST", "/api/admin/login", dto.AdminLoginRequest{Password: password}, &resp)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(opts.tokenFile), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(opts.tokenFile, []byte(resp.Token), 0o600); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Токен сохранён в %s, действует до %s\n",
				opts.tokenFile, resp.ExpiresAt.Local().Format("02.01 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "operator password (env: QUIZCTL_PASSWORD)")
	return cmd
}

func newSessionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Управление сессиями",
	}

	var (
		name       string
		set        string
		maxPlayers int
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Создать сессию в статусе waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			var session entity.Session
			req := dto.CreateSessionRequest{Name: name, QuestionSet: set, MaxPlayers: maxPlayers}
			if err := c.do(cmd.Context(), "POST", "/api/admin/sessions", req, &session); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), session)
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Сессия #%d %q создана: %d вопросов, до %d игроков\n",
				session.ID, session.Name, session.QuestionCount, session.MaxPlayers)
			return nil
		},
	}
	create.Flags().StringVarP(&name, "name", "n", "", "session name")
	create.Flags().StringVar(&set, "set", "", "question set from the bank (default set if empty)")
	create.Flags().IntVar(&maxPlayers, "max-players", 0, "player limit (server default if 0)")
	_ = create.MarkFlagRequired("name")

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "Список сессий, новые первыми",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			var sessions []entity.Session
			path := fmt.Sprintf("/api/admin/sessions?limit=%d&offset=%d", limit, offset)
			if err := c.do(cmd.Context(), "GET", path, nil, &sessions); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			renderSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	var (
		fromIndex int
		fromPhase string
	)
	advance := transitionCmd(opts, "advance", "Следующий шаг: результат, перерыв или вопрос", func(cmd *cobra.Command) interface{} {
		if cmd.Flags().Changed("from-index") && fromPhase != "" {
			idx := fromIndex
			return dto.AdvanceRequest{FromIndex: &idx, FromPhase: fromPhase}
		}
		return nil
	})
	advance.Flags().IntVar(&fromIndex, "from-index", 0, "expected current question index")
	advance.Flags().StringVar(&fromPhase, "from-phase", "", "expected current phase: question, result or break")

	rebuild := &cobra.Command{
		Use:   "rebuild <id>",
		Short: "Пересчитать счёт из журнала ответов",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			var resp dto.RankingResponse
			if err := c.do(cmd.Context(), "POST", fmt.Sprintf("/api/admin/sessions/%d/rebuild-scores", id), nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			renderRanking(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	var reseedSet string
	reseed := &cobra.Command{
		Use:   "reseed <id>",
		Short: "Заменить вопросы ожидающей сессии",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			var session entity.Session
			body := map[string]string{"question_set": reseedSet}
			if err := c.do(cmd.Context(), "POST", fmt.Sprintf("/api/admin/sessions/%d/questions", id), body, &session); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Сессия #%d: %d вопросов\n", session.ID, session.QuestionCount)
			return nil
		},
	}
	reseed.Flags().StringVar(&reseedSet, "set", "", "question set from the bank")

	cmd.AddCommand(
		create,
		list,
		transitionCmd(opts, "start", "Запустить сессию", nil),
		advance,
		transitionCmd(opts, "pause", "Поставить на паузу или снять с паузы", nil),
		transitionCmd(opts, "end", "Принудительно завершить сессию", nil),
		rebuild,
		reseed,
	)
	return cmd
}

// transitionCmd - команда административного перехода POST /api/admin/sessions/:id/<action>
func transitionCmd(opts *options, action, short string, body func(cmd *cobra.Command) interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			var payload interface{}
			if body != nil {
				payload = body(cmd)
			}
			var resp dto.TransitionResponse
			if err := c.do(cmd.Context(), "POST", fmt.Sprintf("/api/admin/sessions/%d/%s", id, action), payload, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			renderTransition(cmd.OutOrStdout(), action, resp)
			return nil
		},
	}
}

func newRankingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ranking <id>",
		Short: "Таблица лидеров сессии",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			var resp dto.RankingResponse
			if err := opts.client().do(cmd.Context(), "GET", fmt.Sprintf("/api/sessions/%d/ranking", id), nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			renderRanking(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Выгрузить результаты в XLSX или CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.adminClient()
			if err != nil {
				return err
			}
			data, filename, err := c.doRaw(cmd.Context(), "GET", fmt.Sprintf("/api/admin/sessions/%d/export?format=%s", id, format), nil)
			if err != nil {
				return err
			}
			if out == "" {
				out = filename
			}
			if out == "" {
				out = fmt.Sprintf("session_%d_results.%s", id, format)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Сохранено: %s (%d байт)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (name from server if empty)")
	return cmd
}

func renderSessions(w io.Writer, sessions []entity.Session) {
	if len(sessions) == 0 {
		warnColor.Fprintln(w, "Сессий нет")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headerColor.Fprintln(tw, "ID\tНазвание\tСтатус\tВопрос\tСоздана")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\n",
			s.ID, s.Name, s.Status, s.CurrentQuestionIndex+1, s.QuestionCount, s.CreatedAt.Local().Format("02.01 15:04"))
	}
	_ = tw.Flush()
}

func renderRanking(w io.Writer, resp dto.RankingResponse) {
	headerColor.Fprintf(w, "Сессия #%d\n", resp.SessionID)
	if len(resp.Entries) == 0 {
		warnColor.Fprintln(w, "Ответов пока нет")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Место\tИгрок\tОчки\tВерных")
	for _, e := range resp.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d/%d\n", e.Position, e.PlayerName, e.TotalScore, e.CorrectAnswers, e.QuestionsAnswered)
	}
	_ = tw.Flush()
}

func renderTransition(w io.Writer, action string, resp dto.TransitionResponse) {
	if !resp.Applied {
		warnColor.Fprintf(w, "%s: сессия уже в другом состоянии, ничего не изменено\n", action)
	} else {
		okColor.Fprintf(w, "%s: выполнено\n", action)
	}
	if s := resp.Session; s != nil {
		fmt.Fprintf(w, "  #%d %s, фаза %s, вопрос %d/%d, раунд %d/%d, игроков %d\n",
			s.SessionID, s.Status, s.Phase, s.CurrentQuestionIndex+1, s.QuestionCount, s.Round, s.TotalRounds, s.ActivePlayers)
	}
}
