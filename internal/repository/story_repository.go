package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillswap/timebank-api/internal/models"
)

// StoryRepository persists stories, likes and comments. Counters on the
// stories row are maintained in the same transaction as the change.
type StoryRepository struct {
	db *sqlx.DB
}

// NewStoryRepository constructs a StoryRepository.
func NewStoryRepository(db *sqlx.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// List returns stories newest first. viewerID may be empty for anonymous readers.
func (r *StoryRepository) List(ctx context.Context, viewerID string, page, size int) ([]models.Story, int, error) {
	page, size = models.NormalizePage(page, size)
	query := fmt.Sprintf(`SELECT s.id, s.title, s.body, s.like_count, s.comment_count, s.created_at, EXISTS(SELECT 1 FROM story_likes l WHERE l.story_id = s.id AND l.user_id = $1) AS liked_by_me, %s FROM stories s JOIN users u ON u.id = s.author_id ORDER BY s.created_at DESC LIMIT %d OFFSET %d`, authorColumns, size, (page-1)*size)
	stories := make([]models.Story, 0)
	if err := r.db.SelectContext(ctx, &stories, query, viewerID); err != nil {
		return nil, 0, fmt.Errorf("list stories: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stories`); err != nil {
		return nil, 0, fmt.Errorf("count stories: %w", err)
	}
	return stories, total, nil
}

// Get returns one story.
func (r *StoryRepository) Get(ctx context.Context, id, viewerID string) (*models.Story, error) {
	query := `SELECT s.id, s.title, s.body, s.like_count, s.comment_count, s.created_at, EXISTS(SELECT 1 FROM story_likes l WHERE l.story_id = s.id AND l.user_id = $2) AS liked_by_me, ` + authorColumns + ` FROM stories s JOIN users u ON u.id = s.author_id WHERE s.id = $1`
	var story models.Story
	if err := r.db.GetContext(ctx, &story, query, id, viewerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get story: %w", err)
	}
	return &story, nil
}

// Create inserts a story.
func (r *StoryRepository) Create(ctx context.Context, story *models.Story, authorID string) error {
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	story.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO stories (id, author_id, title, body, like_count, comment_count, created_at) VALUES ($1, $2, $3, $4, 0, 0, $5)`
	if _, err := r.db.ExecContext(ctx, query, story.ID, authorID, story.Title, story.Body, story.CreatedAt); err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// SetLike adds or removes userID's like. It reports whether anything changed
// so repeated likes do not inflate the counter.
func (r *StoryRepository) SetLike(ctx context.Context, storyID, userID string, liked bool) (changed bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin like transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	delta := 1
	if liked {
		res, err = tx.ExecContext(ctx, `INSERT INTO story_likes (story_id, user_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, storyID, userID, time.Now().UTC())
	} else {
		delta = -1
		res, err = tx.ExecContext(ctx, `DELETE FROM story_likes WHERE story_id = $1 AND user_id = $2`, storyID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("set story like: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set story like rows affected: %w", err)
	}
	if n > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE stories SET like_count = GREATEST(like_count + $2, 0) WHERE id = $1`, storyID, delta); err != nil {
			return false, fmt.Errorf("update like count: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit like: %w", err)
	}
	return n > 0, nil
}

// ListComments returns comments oldest first.
func (r *StoryRepository) ListComments(ctx context.Context, storyID string, page, size int) ([]models.StoryComment, int, error) {
	page, size = models.NormalizePage(page, size)
	query := fmt.Sprintf(`SELECT c.id, c.story_id, c.body, c.created_at, %s FROM story_comments c JOIN users u ON u.id = c.author_id WHERE c.story_id = $1 ORDER BY c.created_at ASC LIMIT %d OFFSET %d`, authorColumns, size, (page-1)*size)
	comments := make([]models.StoryComment, 0)
	if err := r.db.SelectContext(ctx, &comments, query, storyID); err != nil {
		return nil, 0, fmt.Errorf("list story comments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM story_comments WHERE story_id = $1`, storyID); err != nil {
		return nil, 0, fmt.Errorf("count story comments: %w", err)
	}
	return comments, total, nil
}

// CreateComment inserts a comment and bumps the story's comment counter.
func (r *StoryRepository) CreateComment(ctx context.Context, comment *models.StoryComment, authorID string) (err error) {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin comment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE stories SET comment_count = comment_count + 1 WHERE id = $1`, comment.StoryID)
	if err != nil {
		return fmt.Errorf("bump comment count: %w", err)
	}
	if err = rowsAffected(res, "bump comment count"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO story_comments (id, story_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`, comment.ID, comment.StoryID, authorID, comment.Body, comment.CreatedAt); err != nil {
		return fmt.Errorf("create story comment: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit comment: %w", err)
	}
	return nil
}

// TargetExists reports whether a story or comment with id exists.
func (r *StoryRepository) TargetExists(ctx context.Context, kind models.ReportTargetType, id string) (bool, error) {
	var table string
	switch kind {
	case models.TargetStory:
		table = "stories"
	case models.TargetComment:
		table = "story_comments"
	default:
		return false, fmt.Errorf("unsupported story target %s", kind)
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table), id); err != nil {
		return false, fmt.Errorf("check story target: %w", err)
	}
	return exists, nil
}
