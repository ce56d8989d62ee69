package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

// DisputeService lets administrators adjudicate disputed sessions. A
// resolution settles the credit hold exactly once, in either direction.
type DisputeService struct {
	sessions  *SessionService
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDisputeService constructs a DisputeService.
func NewDisputeService(sessions *SessionService, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *DisputeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DisputeService{sessions: sessions, audit: audit, validator: validate, logger: logger}
}

// Resolve closes a disputed session with a payout to the teacher or a refund
// to the student.
func (s *DisputeService) Resolve(ctx context.Context, id int64, actor models.Actor, req dto.ResolveSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}
	session, err := s.sessions.transition(ctx, id, actor, transitionRequest{
		Action:     models.ActionResolve,
		Resolution: req.Resolution,
		Note:       req.Note,
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		values, _ := json.Marshal(map[string]interface{}{"resolution": req.Resolution, "note": req.Note})
		resourceID := strconv.FormatInt(id, 10)
		adminID := actor.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &adminID,
			Action:     models.AuditActionSessionResolve,
			Resource:   "session",
			ResourceID: &resourceID,
			NewValues:  values,
		}); err != nil {
			s.logger.Warn("failed to record resolution audit log", zap.Error(err))
		}
	}
	return session, nil
}

// ListDisputed returns sessions awaiting adjudication, oldest activity first
// as stored.
func (s *DisputeService) ListDisputed(ctx context.Context, page, size int) ([]models.Session, *models.Pagination, error) {
	return s.sessions.ListAll(ctx, dto.SessionListQuery{Status: string(models.SessionDisputed), Page: page, PageSize: size})
}
