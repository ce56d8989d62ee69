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

const reportColumns = `id, reporter_id, target_type, target_id, reason, status, resolution_note, resolved_by, resolved_at, created_at`

// ReportRepository persists community moderation reports.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a pending report.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	report.Status = models.ReportPending
	report.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO reports (id, reporter_id, target_type, target_id, reason, status, created_at) VALUES (:id, :reporter_id, :target_type, :target_id, :reason, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// Get returns a report by id.
func (r *ReportRepository) Get(ctx context.Context, id string) (*models.Report, error) {
	var report models.Report
	if err := r.db.GetContext(ctx, &report, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// List returns reports oldest pending first.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error) {
	where := "1=1"
	var args []interface{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = "status = $1"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY created_at ASC LIMIT %d OFFSET %d`, reportColumns, where, size, (page-1)*size)
	reports := make([]models.Report, 0)
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM reports WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	return reports, total, nil
}

// Close moves a pending report to a terminal status. sql.ErrNoRows means it
// was not pending (or does not exist).
func (r *ReportRepository) Close(ctx context.Context, id string, status models.ReportStatus, note *string, adminID string) (*models.Report, error) {
	query := `UPDATE reports SET status = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5 WHERE id = $1 AND status = 'pending' RETURNING ` + reportColumns
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id, status, note, adminID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("close report: %w", err)
	}
	return &report, nil
}

// CountPending returns the moderation backlog size.
func (r *ReportRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM reports WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("count pending reports: %w", err)
	}
	return n, nil
}
