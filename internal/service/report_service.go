package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type reportStore interface {
	Create(ctx context.Context, report *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error)
	Close(ctx context.Context, id string, status models.ReportStatus, note *string, adminID string) (*models.Report, error)
}

// TargetChecker reports whether reportable content exists.
type TargetChecker interface {
	TargetExists(ctx context.Context, kind models.ReportTargetType, id string) (bool, error)
}

// userTargets adapts a user lookup to TargetChecker for user reports.
type userTargets struct {
	users recipientLookup
}

func (u userTargets) TargetExists(ctx context.Context, kind models.ReportTargetType, id string) (bool, error) {
	_, err := u.users.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ReportService handles community moderation reports.
type ReportService struct {
	repo      reportStore
	targets   map[models.ReportTargetType]TargetChecker
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReportService constructs a ReportService. forum answers for threads and
// replies, stories for stories and comments.
func NewReportService(repo reportStore, forum, stories TargetChecker, users recipientLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReportService{
		repo: repo,
		targets: map[models.ReportTargetType]TargetChecker{
			models.TargetThread:  forum,
			models.TargetReply:   forum,
			models.TargetStory:   stories,
			models.TargetComment: stories,
			models.TargetUser:    userTargets{users: users},
		},
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// Create files a report against existing content.
func (s *ReportService) Create(ctx context.Context, reporterID string, req dto.CreateReportRequest) (*models.Report, error) {
	if reporterID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	if req.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if req.TargetType == models.TargetUser && req.TargetID == reporterID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you cannot report yourself")
	}

	checker, ok := s.targets[req.TargetType]
	if !ok || checker == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported target type %s", req.TargetType))
	}
	exists, err := checker.TargetExists(ctx, req.TargetType, req.TargetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check report target")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reported content not found")
	}

	report := &models.Report{
		ReporterID: reporterID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Reason:     req.Reason,
	}
	if err := s.repo.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report")
	}
	s.logger.Info("community report filed",
		zap.String("report_id", report.ID), zap.String("target_type", string(report.TargetType)))
	return report, nil
}

// List returns reports for moderators.
func (s *ReportService) List(ctx context.Context, actor models.Actor, status string, page, size int) ([]models.Report, *models.Pagination, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	filter := models.ReportFilter{}
	if status != "" {
		st := models.ReportStatus(status)
		switch st {
		case models.ReportPending, models.ReportResolved, models.ReportDismissed:
		default:
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid report status")
		}
		filter.Status = &st
	}
	filter.Page, filter.PageSize = models.NormalizePage(page, size)
	reports, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	return reports, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Resolve closes a pending report as actioned.
func (s *ReportService) Resolve(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error) {
	return s.close(ctx, id, actor, models.ReportResolved, req)
}

// Dismiss closes a pending report without action.
func (s *ReportService) Dismiss(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error) {
	return s.close(ctx, id, actor, models.ReportDismissed, req)
}

func (s *ReportService) close(ctx context.Context, id string, actor models.Actor, status models.ReportStatus, req dto.ModerateReportRequest) (*models.Report, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid moderation payload")
	}
	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	report, err := s.repo.Close(ctx, id, status, note, actor.UserID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update report")
		}
		if _, getErr := s.repo.Get(ctx, id); getErr != nil {
			if errors.Is(getErr, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
			}
			return nil, appErrors.Wrap(getErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
		}
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "report has already been closed")
	}

	if s.audit != nil {
		values, _ := json.Marshal(map[string]interface{}{"status": status, "note": req.Note})
		adminID := actor.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &adminID,
			Action:     models.AuditActionReportResolve,
			Resource:   "report",
			ResourceID: &report.ID,
			NewValues:  values,
		}); err != nil {
			s.logger.Warn("failed to record report audit log", zap.Error(err))
		}
	}
	return report, nil
}

func requireAdmin(actor models.Actor) error {
	if actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "administrator access required")
	}
	return nil
}
