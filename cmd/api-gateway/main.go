package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/skillswap/timebank-api/api/swagger"
	"github.com/skillswap/timebank-api/internal/handler"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/internal/repository"
	"github.com/skillswap/timebank-api/internal/service"
	"github.com/skillswap/timebank-api/pkg/cache"
	"github.com/skillswap/timebank-api/pkg/config"
	"github.com/skillswap/timebank-api/pkg/database"
	"github.com/skillswap/timebank-api/pkg/jobs"
	"github.com/skillswap/timebank-api/pkg/logger"
	corsmiddleware "github.com/skillswap/timebank-api/pkg/middleware/cors"
	reqidmiddleware "github.com/skillswap/timebank-api/pkg/middleware/requestid"
	"github.com/skillswap/timebank-api/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

// @title SkillSwap Time Bank API
// @version 1.0.0
// @description Time-banking skill exchange: hour-based credits, escrowed sessions and community features.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Cache, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	credits := repository.NewCreditRepository(db)
	sessions := repository.NewSessionRepository(db)
	notifications := repository.NewNotificationRepository(db)
	forum := repository.NewForumRepository(db)
	stories := repository.NewStoryRepository(db)
	endorsements := repository.NewEndorsementRepository(db)
	reports := repository.NewReportRepository(db)
	tx := repository.NewTransactor(db)

	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, "timebank", logr),
		metrics, cfg.Cache.TTL, logr, redisClient != nil,
	)

	notificationSvc := service.NewNotificationService(notifications, users, nil, service.NewLogEmailSender(logr), metrics, logr)
	queue := jobs.NewQueue("notifications", notificationSvc.Deliver, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	notificationSvc.SetQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	ledgerSvc := service.NewLedgerService(credits, tx, users, notificationSvc, metrics, validate, logr)
	authSvc := service.NewAuthService(users, ledgerSvc, tx, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SignupBonus:        models.CreditsFromFloat(cfg.Credits.SignupBonus),
	})
	sessionSvc := service.NewSessionService(sessions, users, ledgerSvc, tx, notificationSvc, cacheSvc, metrics, validate, logr, service.SessionConfig{
		MinReasonLength:   cfg.Sessions.MinReasonLength,
		TransitionTimeout: cfg.Sessions.TransitionTimeout,
		MaxRetries:        cfg.Sessions.MaxRetries,
	})
	disputeSvc := service.NewDisputeService(sessionSvc, users, validate, logr)

	statementStore, err := storage.NewLocalStorage(cfg.Statements.StorageDir)
	if err != nil {
		return fmt.Errorf("statement storage: %w", err)
	}
	statementSvc := service.NewStatementService(
		credits, ledgerSvc, statementStore,
		storage.NewSignedURLSigner(cfg.Statements.SignedURLSecret, cfg.Statements.SignedURLTTL),
		service.StatementConfig{APIPrefix: cfg.APIPrefix, Retention: cfg.Statements.Retention},
		validate, logr,
	)

	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Sessions: sessions,
		Reports:  reports,
		Credits:  credits,
		Metrics:  metrics,
		Cache:    cacheSvc,
		Logger:   logr,
	})

	handlers := handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Users:         handler.NewUserHandler(service.NewUserService(users, validate, logr)),
		Sessions:      handler.NewSessionHandler(sessionSvc),
		Credits:       handler.NewCreditHandler(ledgerSvc, statementSvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Forum:         handler.NewForumHandler(service.NewForumService(forum, users, cacheSvc, validate, logr)),
		Stories:       handler.NewStoryHandler(service.NewStoryService(stories, users, validate, logr)),
		Endorsements:  handler.NewEndorsementHandler(service.NewEndorsementService(endorsements, users, sessions, notificationSvc, validate, logr)),
		Reports:       handler.NewReportHandler(service.NewReportService(reports, forum, stories, users, users, validate, logr)),
		Admin:         handler.NewAdminHandler(sessionSvc, disputeSvc, ledgerSvc),
		Dashboard:     handler.NewDashboardHandler(dashboardSvc),
	}

	checks := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handlers, handler.RouteDeps{
		Tokens: authSvc,
		Audit:  users,
		Logger: logr,
	})

	if cfg.Sessions.AutoStartEnabled {
		jobs.Every(ctx, "session-autostart", cfg.Sessions.AutoStartInterval, cfg.Sessions.TransitionTimeout, sessionSvc.AutoStartDue, logr)
	}
	jobs.Every(ctx, "statement-cleanup", cfg.Statements.CleanupInterval, time.Minute, statementSvc.Cleanup, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
