package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// Форматы выгрузки
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv; charset=utf-8"

	rankingSheet = "Рейтинг"
)

var reportHeaders = []string{"Место", "Игрок", "Очки", "Правильных", "Отвечено", "Вступил"}

// Report - готовый файл выгрузки
type Report struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReportService выгружает итоги сессии и рассылает их операторам после игры
type ReportService struct {
	sessionRepo repository.SessionRepository
	answerRepo  repository.AnswerRepository
	mailer      Mailer
	recipients  []string
	logger      zerolog.Logger
}

// NewReportService создает сервис отчётов. mailer = nil отключает рассылку.
func NewReportService(
	sessionRepo repository.SessionRepository,
	answerRepo repository.AnswerRepository,
	mailer Mailer,
	recipients []string,
) *ReportService {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	return &ReportService{
		sessionRepo: sessionRepo,
		answerRepo:  answerRepo,
		mailer:      mailer,
		recipients:  recipients,
		logger:      log.With().Str("component", "ReportService").Logger(),
	}
}

// Export строит выгрузку таблицы лидеров в нужном формате
func (s *ReportService) Export(ctx context.Context, sessionID uint, format string) (*Report, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ranking, err := s.answerRepo.Ranking(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load ranking: %w", err)
	}

	switch strings.ToLower(format) {
	case "", FormatXLSX:
		data, err := BuildXLSX(session, ranking)
		if err != nil {
			return nil, err
		}
		return &Report{Filename: reportFilename(session, FormatXLSX), ContentType: contentTypeXLSX, Data: data}, nil
	case FormatCSV:
		data, err := BuildCSV(ranking)
		if err != nil {
			return nil, err
		}
		return &Report{Filename: reportFilename(session, FormatCSV), ContentType: contentTypeCSV, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", apperrors.ErrValidation, format)
	}
}

// SessionFinished отправляет итоговую таблицу операторам
func (s *ReportService) SessionFinished(ctx context.Context, session *entity.Session, ranking []entity.RankingEntry) {
	if len(s.recipients) == 0 {
		return
	}
	logger := s.logger.With().Uint("session_id", session.ID).Logger()

	data, err := BuildXLSX(session, ranking)
	if err != nil {
		logger.Error().Err(err).Msg("Не удалось построить отчёт")
		return
	}

	subject := fmt.Sprintf("Итоги игры «%s» (#%d)", session.Name, session.ID)
	ctx = WithIdempotencyKey(ctx, fmt.Sprintf("session-%d-report", session.ID))
	attachment := Attachment{Filename: reportFilename(session, FormatXLSX), ContentType: contentTypeXLSX, Content: data}

	if err := s.mailer.Send(ctx, s.recipients, subject, summaryText(session, ranking), attachment); err != nil {
		logger.Error().Err(err).Msg("Не удалось отправить отчёт")
		return
	}
	logger.Info().Int("players", len(ranking)).Msg("Отчёт об игре отправлен")
}

// BuildXLSX строит книгу Excel с таблицей лидеров
func BuildXLSX(session *entity.Session, ranking []entity.RankingEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", rankingSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(rankingSheet)
	if err != nil {
		return nil, fmt.Errorf("create stream writer: %w", err)
	}

	title := []interface{}{fmt.Sprintf("%s (#%d)", sanitizeForExcel(session.Name), session.ID)}
	if err := sw.SetRow("A1", title); err != nil {
		return nil, err
	}
	headers := make([]interface{}, len(reportHeaders))
	for i, h := range reportHeaders {
		headers[i] = h
	}
	if err := sw.SetRow("A2", headers); err != nil {
		return nil, err
	}

	for i, r := range ranking {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		row := []interface{}{
			r.Position,
			sanitizeForExcel(r.PlayerName),
			r.TotalScore,
			r.CorrectAnswers,
			r.QuestionsAnswered,
			r.JoinedAt.Format("2006-01-02 15:04:05"),
		}
		if err := sw.SetRow(cell, row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+3, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildCSV строит CSV с таблицей лидеров
func BuildCSV(ranking []entity.RankingEntry) ([]byte, error) {
	var buf bytes.Buffer
	// BOM для корректного открытия кириллицы в Excel
	buf.WriteString("\xEF\xBB\xBF")

	w := csv.NewWriter(&buf)
	if err := w.Write(reportHeaders); err != nil {
		return nil, err
	}
	for _, r := range ranking {
		if err := w.Write([]string{
			strconv.Itoa(r.Position),
			sanitizeForExcel(r.PlayerName),
			strconv.Itoa(r.TotalScore),
			strconv.Itoa(r.CorrectAnswers),
			strconv.Itoa(r.QuestionsAnswered),
			r.JoinedAt.Format("2006-01-02 15:04:05"),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func reportFilename(session *entity.Session, ext string) string {
	return fmt.Sprintf("session_%d_results.%s", session.ID, ext)
}

func summaryText(session *entity.Session, ranking []entity.RankingEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Игра «%s» завершена. Вопросов: %d, игроков: %d.\n\n", session.Name, session.QuestionCount, len(ranking))
	for i, r := range ranking {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %d\n", r.Position, r.PlayerName, r.TotalScore)
	}
	return b.String()
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}
