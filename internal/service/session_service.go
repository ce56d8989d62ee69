package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type sessionRepository interface {
	NextID(ctx context.Context, exec sqlx.ExtContext) (int64, error)
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Session, error)
	UpdateState(ctx context.Context, exec sqlx.ExtContext, session *models.Session, expectedVersion int) error
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	ListDueForStart(ctx context.Context, now time.Time, limit int) ([]int64, error)
	AppendTransition(ctx context.Context, exec sqlx.ExtContext, transition *models.SessionTransition) error
	ListTransitions(ctx context.Context, sessionID int64) ([]models.SessionTransition, error)
}

type sessionLedger interface {
	Reserve(ctx context.Context, exec sqlx.ExtContext, studentID string, amount models.Credits) error
	RecordHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, studentID, teacherID string, amount models.Credits) (*models.CreditHold, error)
	Release(ctx context.Context, exec sqlx.ExtContext, sessionID int64) error
	Settle(ctx context.Context, exec sqlx.ExtContext, sessionID int64, outcome models.SettleOutcome) error
}

// SessionConfig tunes the lifecycle engine.
type SessionConfig struct {
	MinReasonLength   int
	TransitionTimeout time.Duration
	MaxRetries        int
}

const autoStartBatch = 100

// sessionListTTL bounds how long a listing cached just before a concurrent
// transition commits can outlive that transition's invalidation.
const sessionListTTL = 15 * time.Second

type sessionListFilter struct {
	status string
	role   string
	page   int
	size   int
}

type sessionListResult struct {
	Items []models.Session `json:"items"`
	Total int              `json:"total"`
}

// SessionService drives the booking lifecycle. Every transition reads the
// session, applies the lifecycle table and writes back conditionally on the
// version it read, so concurrent actions on one session have a single winner.
type SessionService struct {
	repo      sessionRepository
	users     recipientLookup
	ledger    sessionLedger
	tx        txRunner
	notifier  notificationEmitter
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    SessionConfig
	now       func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(repo sessionRepository, users recipientLookup, ledger sessionLedger, tx txRunner, notifier notificationEmitter, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.MinReasonLength <= 0 {
		config.MinReasonLength = 10
	}
	if config.TransitionTimeout <= 0 {
		config.TransitionTimeout = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &SessionService{
		repo:      repo,
		users:     users,
		ledger:    ledger,
		tx:        tx,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Book creates a pending session and holds its price from the student's wallet.
func (s *SessionService) Book(ctx context.Context, actor models.Actor, req dto.BookSessionRequest) (*models.Session, error) {
	if actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "login required to book a session")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.TeacherID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you cannot book a session with yourself")
	}
	location := trimmedOrNil(req.Location)
	meetingLink := trimmedOrNil(req.MeetingLink)
	if (req.Mode == models.ModeOffline || req.Mode == models.ModeHybrid) && location == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "location is required for in-person sessions")
	}
	if (req.Mode == models.ModeOnline || req.Mode == models.ModeHybrid) && meetingLink == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "meeting link is required for online sessions")
	}

	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
	}
	if teacher.HourlyRate <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher has not set an hourly rate")
	}
	amount := models.CreditsForDuration(teacher.HourlyRate, req.Duration)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.TransitionTimeout)
	defer cancel()

	session := &models.Session{
		TeacherID:    teacher.ID,
		StudentID:    actor.UserID,
		Title:        strings.TrimSpace(req.Title),
		Skill:        strings.TrimSpace(req.Skill),
		Notes:        strings.TrimSpace(req.Notes),
		Status:       models.SessionPending,
		Duration:     req.Duration,
		CreditAmount: amount,
		CreditHeld:   true,
		Mode:         req.Mode,
		Location:     location,
		MeetingLink:  meetingLink,
		ScheduledAt:  req.ScheduledAt,
		Version:      1,
		CreatedAt:    s.now(),
	}

	// Funds are checked before any row is written; the hold row references
	// the session, so it is inserted after it.
	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		id, err := s.repo.NextID(ctx, exec)
		if err != nil {
			return err
		}
		session.ID = id
		if err := s.ledger.Reserve(ctx, exec, session.StudentID, amount); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, exec, session); err != nil {
			return err
		}
		if _, err := s.ledger.RecordHold(ctx, exec, id, session.StudentID, session.TeacherID, amount); err != nil {
			return err
		}
		studentID := session.StudentID
		return s.repo.AppendTransition(ctx, exec, &models.SessionTransition{
			SessionID: id,
			ToStatus:  models.SessionPending,
			Action:    models.ActionBook,
			ActorID:   &studentID,
			ActorRole: models.ActorStudent,
			CreatedAt: session.CreatedAt,
		})
	})
	if err != nil {
		err = normalizeTxError(ctx, err, "failed to book session")
		s.metrics.ObserveTransition(models.ActionBook, appErrors.FromError(err).Code, time.Since(start))
		return nil, err
	}

	s.metrics.ObserveTransition(models.ActionBook, "ok", time.Since(start))
	s.cache.InvalidateSessions(ctx, session.StudentID, session.TeacherID)
	s.emit(ctx, session, models.ActorStudent, models.NotifySessionRequested, "")
	s.logger.Info("session booked",
		zap.Int64("session_id", session.ID), zap.String("student_id", session.StudentID),
		zap.String("teacher_id", session.TeacherID), zap.String("amount", amount.String()))
	return session, nil
}

// Approve accepts a pending request. Teacher only.
func (s *SessionService) Approve(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionApprove})
}

// Reject declines a pending request and releases the held credits.
func (s *SessionService) Reject(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionReject, Reason: reason})
}

// Cancel withdraws a pending or approved session and releases the held credits.
func (s *SessionService) Cancel(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionCancel, Reason: reason})
}

// Start moves an approved session into progress.
func (s *SessionService) Start(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionStart})
}

// Complete records the caller's completion confirmation. The second
// confirmation completes the session and pays the teacher.
func (s *SessionService) Complete(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionComplete})
}

// Dispute escalates an in-progress session to administrators.
func (s *SessionService) Dispute(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.transition(ctx, id, actor, transitionRequest{Action: models.ActionDispute, Reason: reason})
}

// Get returns a session visible to actor.
func (s *SessionService) Get(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(session, actor); err != nil {
		return nil, err
	}
	return session, nil
}

// History returns the transition log of a session.
func (s *SessionService) History(ctx context.Context, id int64, actor models.Actor) ([]models.SessionTransition, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	transitions, err := s.repo.ListTransitions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session history")
	}
	return transitions, nil
}

// List returns the caller's sessions. Anonymous callers get an empty page.
func (s *SessionService) List(ctx context.Context, actor models.Actor, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error) {
	page, size := models.NormalizePage(query.Page, query.PageSize)
	if actor.UserID == "" {
		return []models.Session{}, &models.Pagination{Page: page, PageSize: size}, nil
	}
	filter, err := buildSessionFilter(query.Status, query.Role)
	if err != nil {
		return nil, nil, err
	}
	filter.ParticipantID = actor.UserID
	filter.Page, filter.PageSize = page, size

	key := sessionListKey(actor.UserID, sessionListFilter{status: query.Status, role: query.Role, page: page, size: size})
	var cached sessionListResult
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Items, &models.Pagination{Page: page, PageSize: size, TotalCount: cached.Total}, nil
	}

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	_ = s.cache.Set(ctx, key, sessionListResult{Items: sessions, Total: total}, sessionListTTL)
	return sessions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListAll returns sessions across all members for administrators.
func (s *SessionService) ListAll(ctx context.Context, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error) {
	filter, err := buildSessionFilter(query.Status, "")
	if err != nil {
		return nil, nil, err
	}
	filter.Page, filter.PageSize = models.NormalizePage(query.Page, query.PageSize)
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// AutoStartDue starts approved sessions whose scheduled time has passed.
func (s *SessionService) AutoStartDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListDueForStart(ctx, now, autoStartBatch)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		if _, err := s.transition(ctx, id, models.SystemActor, transitionRequest{Action: models.ActionStart}); err != nil {
			// A party may have started or cancelled it meanwhile.
			if !errors.Is(err, appErrors.ErrInvalidTransition) {
				s.logger.Warn("auto-start failed", zap.Int64("session_id", id), zap.Error(err))
			}
			continue
		}
		started++
	}
	return started, nil
}

// transition is the single write path for lifecycle changes after booking.
func (s *SessionService) transition(ctx context.Context, id int64, actor models.Actor, req transitionRequest) (*models.Session, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.TransitionTimeout)
	defer cancel()

	req.ActorID = actor.UserID
	if req.At.IsZero() {
		req.At = s.now()
	}

	var (
		result *models.Session
		plan   *transitionPlan
	)
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		for attempt := 1; ; attempt++ {
			current, err := s.repo.GetByID(ctx, exec, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "session not found")
				}
				return err
			}
			role, err := resolveActorRole(current, actor, req.Action)
			if err != nil {
				return err
			}
			req.Role = role

			p, err := planTransition(*current, req, s.config.MinReasonLength)
			if err != nil {
				return err
			}
			next := p.Next
			if err := s.repo.UpdateState(ctx, exec, &next, current.Version); err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return err
				}
				s.metrics.RecordTransitionConflict()
				if attempt >= s.config.MaxRetries {
					return appErrors.Clone(appErrors.ErrRetryable, "session is being updated concurrently, please retry")
				}
				continue
			}

			switch p.Effect {
			case effectRelease:
				err = s.ledger.Release(ctx, exec, id)
			case effectPayout:
				err = s.ledger.Settle(ctx, exec, id, models.SettlePayout)
			case effectRefund:
				err = s.ledger.Settle(ctx, exec, id, models.SettleRefund)
			}
			if err != nil {
				return err
			}

			from := current.Status
			record := &models.SessionTransition{
				SessionID:  id,
				FromStatus: &from,
				ToStatus:   next.Status,
				Action:     req.Action,
				ActorRole:  role,
				CreatedAt:  req.At,
			}
			if !actor.System {
				actorID := actor.UserID
				record.ActorID = &actorID
			}
			if err := s.repo.AppendTransition(ctx, exec, record); err != nil {
				return err
			}
			result = &next
			plan = p
			return nil
		}
	})
	if err != nil {
		err = normalizeTxError(ctx, err, fmt.Sprintf("failed to %s session", req.Action))
		s.metrics.ObserveTransition(req.Action, appErrors.FromError(err).Code, time.Since(start))
		return nil, err
	}

	s.metrics.ObserveTransition(req.Action, "ok", time.Since(start))
	s.cache.InvalidateSessions(ctx, result.StudentID, result.TeacherID)
	if plan.Notify != "" {
		s.emit(ctx, result, req.Role, plan.Notify, req.Reason)
	}
	s.logger.Info("session transition",
		zap.Int64("session_id", id), zap.String("action", string(req.Action)),
		zap.String("actor_role", string(req.Role)), zap.String("status", string(result.Status)))
	return result, nil
}

// emit notifies the non-acting party, or both parties when an administrator
// or the system acted.
func (s *SessionService) emit(ctx context.Context, session *models.Session, role models.ActorRole, kind models.NotificationType, reason string) {
	if s.notifier == nil {
		return
	}
	var recipients []string
	switch role {
	case models.ActorStudent:
		recipients = []string{session.TeacherID}
	case models.ActorTeacher:
		recipients = []string{session.StudentID}
	default:
		recipients = []string{session.StudentID, session.TeacherID}
	}

	payload := map[string]interface{}{
		"session_id": session.ID,
		"title":      session.Title,
		"status":     session.Status,
		"actor_role": role,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		payload["reason"] = reason
	}
	if session.Resolution != nil {
		payload["resolution"] = *session.Resolution
	}

	items := make([]*models.Notification, 0, len(recipients))
	sid := session.ID
	for _, recipient := range recipients {
		items = append(items, newNotification(recipient, kind, &sid, payload))
	}
	s.notifier.Emit(ctx, items)
}

func (s *SessionService) load(ctx context.Context, id int64) (*models.Session, error) {
	session, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// resolveActorRole decides in which capacity actor acts on session.
func resolveActorRole(session *models.Session, actor models.Actor, action models.SessionAction) (models.ActorRole, error) {
	if actor.System {
		return models.ActorSystem, nil
	}
	if actor.UserID == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "login required")
	}
	isParty := actor.UserID == session.StudentID || actor.UserID == session.TeacherID
	if action == models.ActionResolve {
		if actor.Role != models.RoleAdmin {
			return "", appErrors.Clone(appErrors.ErrForbidden, "only administrators can resolve disputes")
		}
		if isParty {
			return "", appErrors.Clone(appErrors.ErrForbidden, "administrators cannot resolve their own sessions")
		}
		return models.ActorAdmin, nil
	}
	switch actor.UserID {
	case session.StudentID:
		return models.ActorStudent, nil
	case session.TeacherID:
		return models.ActorTeacher, nil
	}
	if actor.Role == models.RoleAdmin {
		return models.ActorAdmin, nil
	}
	return "", appErrors.Clone(appErrors.ErrForbidden, "you are not a participant of this session")
}

func authorizeView(session *models.Session, actor models.Actor) error {
	if actor.UserID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "login required")
	}
	if actor.UserID == session.StudentID || actor.UserID == session.TeacherID || actor.Role == models.RoleAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "you are not a participant of this session")
}

func buildSessionFilter(status, role string) (models.SessionFilter, error) {
	var filter models.SessionFilter
	if status != "" {
		st := models.SessionStatus(status)
		if !st.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown session status %q", status))
		}
		filter.Status = &st
	}
	switch role {
	case "":
	case string(models.ActorTeacher), string(models.ActorStudent):
		r := models.ActorRole(role)
		filter.Role = &r
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, "role must be teacher or student")
	}
	return filter, nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
