package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillswap/timebank-api/internal/models"
)

// authorColumns projects the joined users row u into a models.Author.
// Deactivated accounts keep their id but lose their display name.
const authorColumns = `u.id AS "author.id", CASE WHEN u.active THEN u.full_name END AS "author.full_name", u.avatar_url AS "author.avatar_url"`

// ForumRepository persists forum categories, threads and replies.
type ForumRepository struct {
	db *sqlx.DB
}

// NewForumRepository constructs a ForumRepository.
func NewForumRepository(db *sqlx.DB) *ForumRepository {
	return &ForumRepository{db: db}
}

// ListCategories returns categories in display order with thread counts.
func (r *ForumRepository) ListCategories(ctx context.Context) ([]models.ForumCategory, error) {
	const query = `SELECT c.id, c.slug, c.name, c.description, c.position, COUNT(t.id) AS thread_count FROM forum_categories c LEFT JOIN forum_threads t ON t.category_id = c.id GROUP BY c.id ORDER BY c.position ASC, c.name ASC`
	categories := make([]models.ForumCategory, 0)
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list forum categories: %w", err)
	}
	return categories, nil
}

// CategoryExists reports whether a category id is known.
func (r *ForumRepository) CategoryExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM forum_categories WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check forum category: %w", err)
	}
	return exists, nil
}

// ListThreads returns threads ordered by latest activity.
func (r *ForumRepository) ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ForumThread, int, error) {
	var conditions []string
	var args []interface{}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("t.category_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(t.title) LIKE $%d", len(args)))
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT t.id, t.category_id, t.title, t.body, t.reply_count, t.last_reply_at, t.created_at, %s FROM forum_threads t JOIN users u ON u.id = t.author_id WHERE %s ORDER BY COALESCE(t.last_reply_at, t.created_at) DESC LIMIT %d OFFSET %d`, authorColumns, where, size, (page-1)*size)
	threads := make([]models.ForumThread, 0)
	if err := r.db.SelectContext(ctx, &threads, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list forum threads: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM forum_threads t WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count forum threads: %w", err)
	}
	return threads, total, nil
}

// GetThread returns one thread.
func (r *ForumRepository) GetThread(ctx context.Context, id string) (*models.ForumThread, error) {
	query := `SELECT t.id, t.category_id, t.title, t.body, t.reply_count, t.last_reply_at, t.created_at, ` + authorColumns + ` FROM forum_threads t JOIN users u ON u.id = t.author_id WHERE t.id = $1`
	var thread models.ForumThread
	if err := r.db.GetContext(ctx, &thread, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get forum thread: %w", err)
	}
	return &thread, nil
}

// CreateThread inserts a thread authored by authorID.
func (r *ForumRepository) CreateThread(ctx context.Context, thread *models.ForumThread, authorID string) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	thread.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO forum_threads (id, category_id, author_id, title, body, reply_count, created_at) VALUES ($1, $2, $3, $4, $5, 0, $6)`
	if _, err := r.db.ExecContext(ctx, query, thread.ID, thread.CategoryID, authorID, thread.Title, thread.Body, thread.CreatedAt); err != nil {
		return fmt.Errorf("create forum thread: %w", err)
	}
	return nil
}

// ListReplies returns the replies of a thread oldest first.
func (r *ForumRepository) ListReplies(ctx context.Context, threadID string, page, size int) ([]models.ForumReply, int, error) {
	page, size = models.NormalizePage(page, size)
	query := fmt.Sprintf(`SELECT p.id, p.thread_id, p.body, p.created_at, %s FROM forum_replies p JOIN users u ON u.id = p.author_id WHERE p.thread_id = $1 ORDER BY p.created_at ASC LIMIT %d OFFSET %d`, authorColumns, size, (page-1)*size)
	replies := make([]models.ForumReply, 0)
	if err := r.db.SelectContext(ctx, &replies, query, threadID); err != nil {
		return nil, 0, fmt.Errorf("list forum replies: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM forum_replies WHERE thread_id = $1`, threadID); err != nil {
		return nil, 0, fmt.Errorf("count forum replies: %w", err)
	}
	return replies, total, nil
}

// CreateReply inserts a reply and bumps the thread counters in one transaction.
func (r *ForumRepository) CreateReply(ctx context.Context, reply *models.ForumReply, authorID string) error {
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	reply.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reply transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const bump = `UPDATE forum_threads SET reply_count = reply_count + 1, last_reply_at = $2 WHERE id = $1`
	res, err := tx.ExecContext(ctx, bump, reply.ThreadID, reply.CreatedAt)
	if err != nil {
		err = fmt.Errorf("bump thread counters: %w", err)
		return err
	}
	if err = rowsAffected(res, "bump thread counters"); err != nil {
		return err
	}

	const insert = `INSERT INTO forum_replies (id, thread_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insert, reply.ID, reply.ThreadID, authorID, reply.Body, reply.CreatedAt); err != nil {
		err = fmt.Errorf("create forum reply: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit reply: %w", err)
		return err
	}
	return nil
}

// TargetExists reports whether a thread or reply with id exists.
func (r *ForumRepository) TargetExists(ctx context.Context, kind models.ReportTargetType, id string) (bool, error) {
	var table string
	switch kind {
	case models.TargetThread:
		table = "forum_threads"
	case models.TargetReply:
		table = "forum_replies"
	default:
		return false, fmt.Errorf("unsupported forum target %s", kind)
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table), id); err != nil {
		return false, fmt.Errorf("check forum target: %w", err)
	}
	return exists, nil
}
