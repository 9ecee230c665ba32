package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/internal/repository/memory"
)

// MockMailer реализует Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to []string, subject, text string, attachments ...Attachment) error {
	args := m.Called(ctx, to, subject, text, attachments)
	return args.Error(0)
}

func newReportFixture(t *testing.T, mailer Mailer, recipients []string) (*ReportService, *entity.Session) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	session := &entity.Session{Name: "Пятничный квиз", QuestionCount: 2}
	require.NoError(t, store.Sessions().Create(ctx, session))
	for _, p := range []entity.Player{{ID: "p1", Name: "Ana"}, {ID: "p2", Name: "=HYPERLINK(1)"}} {
		player := p
		require.NoError(t, store.Players().Create(ctx, &player))
		_, _, err := store.PlayerSessions().Join(ctx, session.ID, player.ID)
		require.NoError(t, err)
	}
	_, _, err := store.Answers().Record(ctx, &entity.Answer{SessionID: session.ID, PlayerID: "p2", QuestionID: 1, IsCorrect: true}, 100)
	require.NoError(t, err)

	return NewReportService(store.Sessions(), store.Answers(), mailer, recipients), session
}

func TestReportService_ExportXLSX(t *testing.T) {
	// Arrange
	svc, session := newReportFixture(t, nil, nil)

	// Act
	report, err := svc.Export(context.Background(), session.ID, "xlsx")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, contentTypeXLSX, report.ContentType)
	assert.True(t, strings.HasSuffix(report.Filename, ".xlsx"))

	f, err := excelize.OpenReader(bytes.NewReader(report.Data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(rankingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, reportHeaders, rows[1])
	assert.Equal(t, "'=HYPERLINK(1)", rows[2][1], "формулы экранируются")
	assert.Equal(t, "100", rows[2][2])
	assert.Equal(t, "Ana", rows[3][1])
}

func TestReportService_ExportCSV(t *testing.T) {
	svc, session := newReportFixture(t, nil, nil)

	report, err := svc.Export(context.Background(), session.ID, "csv")

	require.NoError(t, err)
	text := string(report.Data)
	assert.True(t, strings.HasPrefix(text, "\xEF\xBB\xBF"))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(text, "\xEF\xBB\xBF")), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1,'=HYPERLINK(1),100,1,1,"))
}

func TestReportService_ExportErrors(t *testing.T) {
	svc, session := newReportFixture(t, nil, nil)

	_, err := svc.Export(context.Background(), session.ID, "pdf")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Export(context.Background(), 999, "xlsx")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReportService_SessionFinished_SendsReport(t *testing.T) {
	// Arrange
	mailer := new(MockMailer)
	svc, session := newReportFixture(t, mailer, []string{"ops@example.com"})
	ranking := []entity.RankingEntry{{Position: 1, PlayerID: "p2", PlayerName: "Bo", TotalScore: 100}}

	mailer.On("Send",
		mock.MatchedBy(func(ctx context.Context) bool { return IdempotencyKeyFrom(ctx) == "session-1-report" }),
		[]string{"ops@example.com"},
		mock.MatchedBy(func(subject string) bool { return strings.Contains(subject, "Пятничный квиз") }),
		mock.MatchedBy(func(text string) bool { return strings.Contains(text, "1. Bo - 100") }),
		mock.MatchedBy(func(a []Attachment) bool { return len(a) == 1 && len(a[0].Content) > 0 }),
	).Return(nil)

	// Act
	svc.SessionFinished(context.Background(), session, ranking)

	// Assert
	mailer.AssertExpectations(t)
}

func TestReportService_SessionFinished_NoRecipients(t *testing.T) {
	mailer := new(MockMailer)
	svc, session := newReportFixture(t, mailer, nil)

	svc.SessionFinished(context.Background(), session, nil)

	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSanitizeForExcel(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"Ana":    "Ana",
		"=1+1":   "'=1+1",
		"+7 999": "'+7 999",
		"-x":     "'-x",
		"@cmd":   "'@cmd",
		"a=b":    "a=b",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeForExcel(in), "input %q", in)
	}
}
