package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/timebank-api/internal/models"
)

func TestForumRepositoryListThreadsMapsAuthor(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "category_id", "title", "body", "reply_count", "last_reply_at", "created_at", "author.id", "author.full_name", "author.avatar_url"}).
		AddRow("t1", "c1", "Welcome", "Hello", 2, now, now, "u1", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM forum_threads t JOIN users u ON u.id = t.author_id WHERE t.category_id = $1")).
		WithArgs("c1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forum_threads t WHERE t.category_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	threads, total, err := repo.ListThreads(context.Background(), models.ThreadFilter{CategoryID: "c1"})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "u1", threads[0].Author.ID)
	assert.Nil(t, threads[0].Author.FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForumRepositoryCreateReplyMissingThread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forum_threads SET reply_count = reply_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CreateReply(context.Background(), &models.ForumReply{ThreadID: "missing", Body: "hi"}, "u1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoryRepositorySetLikeIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStoryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO story_likes").
		WithArgs("s1", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	changed, err := repo.SetLike(context.Background(), "s1", "u1", true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoryRepositoryUnlikeDecrements(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStoryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM story_likes").
		WithArgs("s1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stories SET like_count = GREATEST(like_count + $2, 0)")).
		WithArgs("s1", -1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := repo.SetLike(context.Background(), "s1", "u1", false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryCloseNotPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reports SET status = $2")).
		WithArgs("r1", "resolved", nil, "admin", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Close(context.Background(), "r1", models.ReportResolved, nil, "admin")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadForeign(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2")).
		WithArgs("n1", "intruder", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "n1", "intruder", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
