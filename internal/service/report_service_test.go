package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type reportStoreStub struct {
	reports map[string]*models.Report
}

func (r *reportStoreStub) Create(ctx context.Context, report *models.Report) error {
	report.ID = "r-new"
	report.Status = models.ReportPending
	copy := *report
	r.reports[report.ID] = &copy
	return nil
}

func (r *reportStoreStub) Get(ctx context.Context, id string) (*models.Report, error) {
	if report, ok := r.reports[id]; ok {
		copy := *report
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *reportStoreStub) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error) {
	out := make([]models.Report, 0)
	for _, report := range r.reports {
		if filter.Status == nil || report.Status == *filter.Status {
			out = append(out, *report)
		}
	}
	return out, len(out), nil
}

func (r *reportStoreStub) Close(ctx context.Context, id string, status models.ReportStatus, note *string, adminID string) (*models.Report, error) {
	report, ok := r.reports[id]
	if !ok || report.Status != models.ReportPending {
		return nil, sql.ErrNoRows
	}
	report.Status = status
	report.ResolutionNote = note
	report.ResolvedBy = &adminID
	copy := *report
	return &copy, nil
}

type targetSet map[string]bool

func (t targetSet) TargetExists(ctx context.Context, kind models.ReportTargetType, id string) (bool, error) {
	return t[string(kind)+":"+id], nil
}

func newReportFixture() (*ReportService, *reportStoreStub, *memAuditRecorder) {
	store := &reportStoreStub{reports: map[string]*models.Report{
		"r1": {ID: "r1", ReporterID: "u1", TargetType: models.TargetThread, TargetID: "t1", Status: models.ReportPending},
	}}
	audit := &memAuditRecorder{}
	forum := targetSet{"thread:t1": true, "reply:p1": true}
	stories := targetSet{"story:s1": true}
	svc := NewReportService(store, forum, stories, communityUsers(), audit, validator.New(), zap.NewNop())
	return svc, store, audit
}

var moderator = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}

func TestReportServiceCreate(t *testing.T) {
	svc, _, _ := newReportFixture()

	report, err := svc.Create(context.Background(), "u2", dto.CreateReportRequest{TargetType: models.TargetStory, TargetID: "s1", Reason: " spam "})
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, report.Status)
	assert.Equal(t, "spam", report.Reason)

	_, err = svc.Create(context.Background(), "u2", dto.CreateReportRequest{TargetType: models.TargetUser, TargetID: "u1", Reason: "harassment"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "u2", dto.CreateReportRequest{TargetType: models.TargetComment, TargetID: "gone", Reason: "spam"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Create(context.Background(), "u2", dto.CreateReportRequest{TargetType: models.TargetUser, TargetID: "u2", Reason: "spam"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), "u2", dto.CreateReportRequest{TargetType: "session", TargetID: "1", Reason: "spam"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), "", dto.CreateReportRequest{TargetType: models.TargetStory, TargetID: "s1", Reason: "spam"})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestReportServiceResolveOnce(t *testing.T) {
	svc, store, audit := newReportFixture()

	report, err := svc.Resolve(context.Background(), "r1", moderator, dto.ModerateReportRequest{Note: "thread removed"})
	require.NoError(t, err)
	assert.Equal(t, models.ReportResolved, report.Status)
	require.NotNil(t, report.ResolutionNote)
	assert.Equal(t, "thread removed", *report.ResolutionNote)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionReportResolve, audit.logs[0].Action)

	_, err = svc.Dismiss(context.Background(), "r1", moderator, dto.ModerateReportRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyResolved))
	assert.Equal(t, models.ReportResolved, store.reports["r1"].Status)

	_, err = svc.Resolve(context.Background(), "missing", moderator, dto.ModerateReportRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReportServiceRequiresAdmin(t *testing.T) {
	svc, _, _ := newReportFixture()

	_, err := svc.Resolve(context.Background(), "r1", models.Actor{UserID: "u1", Role: models.RoleMember}, dto.ModerateReportRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.List(context.Background(), models.Actor{}, "", 1, 20)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, _, err = svc.List(context.Background(), moderator, "closed", 1, 20)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	reports, pagination, err := svc.List(context.Background(), moderator, "pending", 0, 0)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}
