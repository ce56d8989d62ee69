package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

const dashboardCacheKey = "dashboard:admin"

type sessionStatusCounter interface {
	CountByStatus(ctx context.Context) ([]models.SessionStatusCount, error)
}

type pendingReportCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type circulationReader interface {
	Circulation(ctx context.Context) (inWallets, inEscrow models.Credits, err error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the admin overview.
type DashboardService struct {
	sessions sessionStatusCounter
	reports  pendingReportCounter
	credits  circulationReader
	metrics  *MetricsService
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Sessions sessionStatusCounter
	Reports  pendingReportCounter
	Credits  circulationReader
	Metrics  *MetricsService
	Cache    *CacheService
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &DashboardService{
		sessions: params.Sessions,
		reports:  params.Reports,
		credits:  params.Credits,
		metrics:  params.Metrics,
		cache:    params.Cache,
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Summary returns the admin overview. Database aggregates are cached briefly;
// process metrics are always live.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	var summary models.DashboardSummary
	hit, _ := s.cache.Get(ctx, dashboardCacheKey, &summary)
	if !hit {
		built, err := s.build(ctx)
		if err != nil {
			return nil, err
		}
		summary = *built
		_ = s.cache.Set(ctx, dashboardCacheKey, summary, s.cfg.CacheTTL)
	}
	summary.System = s.metrics.Snapshot()
	return &summary, nil
}

func (s *DashboardService) build(ctx context.Context) (*models.DashboardSummary, error) {
	counts, err := s.sessions.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count sessions")
	}
	pending, err := s.reports.CountPending(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reports")
	}
	inWallets, inEscrow, err := s.credits.Circulation(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credits")
	}

	summary := &models.DashboardSummary{
		SessionsByStatus: counts,
		PendingReports:   pending,
		CreditsInEscrow:  inEscrow,
		CreditsInWallets: inWallets,
		GeneratedAt:      s.now().UTC(),
	}
	for _, c := range counts {
		if c.Status == models.SessionDisputed {
			summary.OpenDisputes = c.Count
		}
	}
	return summary, nil
}
