package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/storage"
)

type statementSourceStub struct {
	entries []models.CreditTransaction
	filter  models.TransactionFilter
}

func (s *statementSourceStub) StatementEntries(ctx context.Context, filter models.TransactionFilter, limit int) ([]models.CreditTransaction, error) {
	s.filter = filter
	return s.entries, nil
}

type balanceStub struct{}

func (balanceStub) Balance(ctx context.Context, userID string) (*models.BalanceView, error) {
	return &models.BalanceView{Balance: 1200, Reserved: 200, Available: 1000}, nil
}

func newStatementServiceForTest(t *testing.T, ttl time.Duration) (*StatementService, *statementSourceStub) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sessionID := int64(7)
	source := &statementSourceStub{entries: []models.CreditTransaction{
		{ID: "t1", UserID: "u1", Category: models.TransactionBonus, Delta: 1000, BalanceAfter: 1000, Description: "Welcome bonus", CreatedAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "t2", UserID: "u1", SessionID: &sessionID, Category: models.TransactionEarned, Delta: 200, BalanceAfter: 1200, Description: "Session #7 payout", CreatedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)},
	}}
	signer := storage.NewSignedURLSigner("secret", ttl)
	svc := NewStatementService(source, balanceStub{}, store, signer, StatementConfig{APIPrefix: "/api/v1", Retention: time.Hour}, validator.New(), zap.NewNop())
	return svc, source
}

func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func TestStatementServiceGenerateCSV(t *testing.T) {
	svc, source := newStatementServiceForTest(t, time.Hour)

	stmt, err := svc.Generate(context.Background(), "u1", dto.StatementRequest{Format: models.StatementCSV})
	require.NoError(t, err)
	assert.Equal(t, "u1", source.filter.UserID)
	assert.Equal(t, 2, stmt.Entries)
	assert.True(t, strings.HasPrefix(stmt.URL, "/api/v1/credits/statements/download?token="))

	file, name, err := svc.Open(tokenFromURL(t, stmt.URL))
	require.NoError(t, err)
	defer file.Close()
	assert.True(t, strings.HasSuffix(name, ".csv"))

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Date", "Category", "Session", "Description", "Amount", "Balance"}, records[0])
	assert.Equal(t, []string{"2026-01-05T09:00:00Z", "earned", "#7", "Session #7 payout", "2.00", "12.00"}, records[2])
}

func TestStatementServiceGeneratePDF(t *testing.T) {
	svc, _ := newStatementServiceForTest(t, time.Hour)

	stmt, err := svc.Generate(context.Background(), "u1", dto.StatementRequest{Format: models.StatementPDF})
	require.NoError(t, err)

	file, _, err := svc.Open(tokenFromURL(t, stmt.URL))
	require.NoError(t, err)
	defer file.Close()
	head := make([]byte, 4)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestStatementServiceRejectsUnknownFormat(t *testing.T) {
	svc, _ := newStatementServiceForTest(t, time.Hour)

	_, err := svc.Generate(context.Background(), "u1", dto.StatementRequest{Format: "xlsx"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Generate(context.Background(), "", dto.StatementRequest{Format: models.StatementCSV})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestStatementServiceOpenRejectsBadTokens(t *testing.T) {
	svc, _ := newStatementServiceForTest(t, time.Hour)

	_, _, err := svc.Open("garbage")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	stmt, err := svc.Generate(context.Background(), "u1", dto.StatementRequest{Format: models.StatementCSV})
	require.NoError(t, err)
	svc.signer = storage.NewSignedURLSigner("other-secret", time.Hour)
	_, _, err = svc.Open(tokenFromURL(t, stmt.URL))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestStatementServiceCleanupHonoursContext(t *testing.T) {
	svc, _ := newStatementServiceForTest(t, time.Hour)

	_, err := svc.Generate(context.Background(), "u1", dto.StatementRequest{Format: models.StatementCSV})
	require.NoError(t, err)

	removed, err := svc.Cleanup(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Cleanup(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
