package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/internal/repository"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

func newSQLBookingService(t *testing.T) (*SessionService, sqlmock.Sqlmock, func()) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)
	db := sqlx.NewDb(raw, "sqlmock")

	users := stubUserLookup{
		"student": {ID: "student", Active: true, Role: models.RoleMember},
		"teacher": {ID: "teacher", Active: true, Role: models.RoleMember, HourlyRate: 200},
	}
	tx := repository.NewTransactor(db)
	ledger := NewLedgerService(repository.NewCreditRepository(db), tx, nil, nil, nil, nil, zap.NewNop())
	svc := NewSessionService(repository.NewSessionRepository(db), users, ledger, tx, &recordingNotifier{}, nil, nil, nil, zap.NewNop(), SessionConfig{})
	return svc, mock, func() { raw.Close() }
}

// The hold row references its session, so the session row must be written first.
func TestSessionBookWritesSessionBeforeHold(t *testing.T) {
	svc, mock, cleanup := newSQLBookingService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('sessions_id_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wallets SET reserved = reserved + $2")).
		WithArgs("student", models.Credits(300), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_holds")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_transitions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := svc.Book(context.Background(), studentActor, onlineBooking())
	require.NoError(t, err)
	assert.Equal(t, int64(42), session.ID)
	assert.Equal(t, models.Credits(300), session.CreditAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionBookInsufficientBalanceWritesNothing(t *testing.T) {
	svc, mock, cleanup := newSQLBookingService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('sessions_id_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(43)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wallets SET reserved = reserved + $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.Book(context.Background(), studentActor, onlineBooking())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}
