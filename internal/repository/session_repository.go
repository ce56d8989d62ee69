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

const sessionColumns = `id, teacher_id, student_id, title, skill, notes, status, duration, credit_amount, credit_held, teacher_confirmed, student_confirmed, mode, location, meeting_link, scheduled_at, rejection_reason, cancellation_reason, dispute_reason, resolution, resolution_note, resolved_by, resolved_at, version, created_at, updated_at`

// SessionRepository persists sessions and their transition log.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextID allocates a session identifier ahead of the insert so the credit
// hold can reference it within the same transaction.
func (r *SessionRepository) NextID(ctx context.Context, exec sqlx.ExtContext) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, r.exec(exec), &id, `SELECT nextval('sessions_id_seq')`); err != nil {
		return 0, fmt.Errorf("allocate session id: %w", err)
	}
	return id, nil
}

// Create inserts a session with a preallocated id.
func (r *SessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if session.ID == 0 {
		return fmt.Errorf("session id must be allocated before insert")
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	if session.Version == 0 {
		session.Version = 1
	}
	const query = `INSERT INTO sessions (id, teacher_id, student_id, title, skill, notes, status, duration, credit_amount, credit_held, teacher_confirmed, student_confirmed, mode, location, meeting_link, scheduled_at, version, created_at, updated_at)
VALUES (:id, :teacher_id, :student_id, :title, :skill, :notes, :status, :duration, :credit_amount, :credit_held, :teacher_confirmed, :student_confirmed, :mode, :location, :meeting_link, :scheduled_at, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID returns a session.
func (r *SessionRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// UpdateState writes the mutable lifecycle fields of session if the stored
// version still equals expectedVersion, then bumps the version. A lost race
// surfaces as sql.ErrNoRows.
func (r *SessionRepository) UpdateState(ctx context.Context, exec sqlx.ExtContext, session *models.Session, expectedVersion int) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET status = $3, credit_held = $4, teacher_confirmed = $5, student_confirmed = $6, rejection_reason = $7, cancellation_reason = $8, dispute_reason = $9, resolution = $10, resolution_note = $11, resolved_by = $12, resolved_at = $13, version = version + 1, updated_at = $14 WHERE id = $1 AND version = $2`
	res, err := r.exec(exec).ExecContext(ctx, query,
		session.ID, expectedVersion,
		session.Status, session.CreditHeld, session.TeacherConfirmed, session.StudentConfirmed,
		session.RejectionReason, session.CancellationReason, session.DisputeReason,
		session.Resolution, session.ResolutionNote, session.ResolvedBy, session.ResolvedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if err := rowsAffected(res, "update session state"); err != nil {
		return err
	}
	session.Version = expectedVersion + 1
	return nil
}

// List returns sessions matching filter newest first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	var conditions []string
	var args []interface{}

	if filter.ParticipantID != "" {
		args = append(args, filter.ParticipantID)
		switch {
		case filter.Role != nil && *filter.Role == models.ActorTeacher:
			conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
		case filter.Role != nil && *filter.Role == models.ActorStudent:
			conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
		default:
			conditions = append(conditions, fmt.Sprintf("(teacher_id = $%d OR student_id = $%d)", len(args), len(args)))
		}
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, sessionColumns, where, size, (page-1)*size)
	sessions := make([]models.Session, 0)
	if err := r.db.SelectContext(ctx, &sessions, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM sessions WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// ListDueForStart returns approved sessions whose scheduled time has passed.
func (r *SessionRepository) ListDueForStart(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `SELECT id FROM sessions WHERE status = 'approved' AND scheduled_at IS NOT NULL AND scheduled_at <= $1 ORDER BY scheduled_at ASC LIMIT $2`
	ids := make([]int64, 0)
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("list sessions due for start: %w", err)
	}
	return ids, nil
}

// CountByStatus returns the number of sessions in each status.
func (r *SessionRepository) CountByStatus(ctx context.Context) ([]models.SessionStatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM sessions GROUP BY status ORDER BY status`
	counts := make([]models.SessionStatusCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count sessions by status: %w", err)
	}
	return counts, nil
}

// AppendTransition records a state change.
func (r *SessionRepository) AppendTransition(ctx context.Context, exec sqlx.ExtContext, transition *models.SessionTransition) error {
	if transition.ID == "" {
		transition.ID = uuid.NewString()
	}
	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO session_transitions (id, session_id, from_status, to_status, action, actor_id, actor_role, created_at) VALUES (:id, :session_id, :from_status, :to_status, :action, :actor_id, :actor_role, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, transition); err != nil {
		return fmt.Errorf("append session transition: %w", err)
	}
	return nil
}

// ListTransitions returns the transition log of a session oldest first.
func (r *SessionRepository) ListTransitions(ctx context.Context, sessionID int64) ([]models.SessionTransition, error) {
	const query = `SELECT id, session_id, from_status, to_status, action, actor_id, actor_role, created_at FROM session_transitions WHERE session_id = $1 ORDER BY created_at ASC, id ASC`
	transitions := make([]models.SessionTransition, 0)
	if err := r.db.SelectContext(ctx, &transitions, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session transitions: %w", err)
	}
	return transitions, nil
}
