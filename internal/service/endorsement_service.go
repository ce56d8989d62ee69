package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/internal/repository"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

const endorsementListLimit = 50

type endorsementRepository interface {
	Create(ctx context.Context, e *models.Endorsement, endorserID string) error
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Endorsement, error)
	SkillCounts(ctx context.Context, userID string) ([]models.SkillEndorsementCount, error)
}

type sessionReader interface {
	GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Session, error)
}

// EndorsementService records skill endorsements between members.
type EndorsementService struct {
	repo      endorsementRepository
	users     recipientLookup
	sessions  sessionReader
	notifier  notificationEmitter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEndorsementService constructs an EndorsementService.
func NewEndorsementService(repo endorsementRepository, users recipientLookup, sessions sessionReader, notifier notificationEmitter, validate *validator.Validate, logger *zap.Logger) *EndorsementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EndorsementService{repo: repo, users: users, sessions: sessions, notifier: notifier, validator: validate, logger: logger}
}

// ForUser returns the endorsements a member has received with per-skill totals.
func (s *EndorsementService) ForUser(ctx context.Context, userID string) (*dto.UserEndorsements, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}
	skills, err := s.repo.SkillCounts(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count endorsements")
	}
	items, err := s.repo.ListForUser(ctx, userID, endorsementListLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list endorsements")
	}
	return &dto.UserEndorsements{UserID: userID, Skills: skills, Endorsements: items}, nil
}

// Create endorses another member for a skill. When a session is referenced
// it must be a completed session between the two members.
func (s *EndorsementService) Create(ctx context.Context, endorserID string, req dto.CreateEndorsementRequest) (*models.Endorsement, error) {
	if endorserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Skill = strings.TrimSpace(req.Skill)
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid endorsement payload")
	}
	if req.Skill == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "skill is required")
	}
	if req.EndorseeID == endorserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you cannot endorse yourself")
	}
	if _, err := s.activeUser(ctx, req.EndorseeID); err != nil {
		return nil, err
	}
	if req.SessionID != nil {
		if err := s.checkSession(ctx, *req.SessionID, endorserID, req.EndorseeID); err != nil {
			return nil, err
		}
	}

	endorsement := &models.Endorsement{
		EndorseeID: req.EndorseeID,
		Skill:      req.Skill,
		Message:    req.Message,
		SessionID:  req.SessionID,
	}
	if err := s.repo.Create(ctx, endorsement, endorserID); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already endorsed this skill")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create endorsement")
	}
	endorsement.Author = lookupAuthor(ctx, s.users, s.logger, endorserID)

	if s.notifier != nil {
		s.notifier.Emit(ctx, []*models.Notification{newNotification(req.EndorseeID, models.NotifyEndorsed, req.SessionID, map[string]interface{}{
			"endorsement_id": endorsement.ID,
			"endorser_id":    endorserID,
			"skill":          endorsement.Skill,
		})})
	}
	return endorsement, nil
}

func (s *EndorsementService) activeUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}

func (s *EndorsementService) checkSession(ctx context.Context, sessionID int64, endorserID, endorseeID string) error {
	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	parties := (session.StudentID == endorserID && session.TeacherID == endorseeID) ||
		(session.TeacherID == endorserID && session.StudentID == endorseeID)
	if !parties {
		return appErrors.Clone(appErrors.ErrForbidden, "session does not involve both members")
	}
	if session.Status != models.SessionCompleted {
		return appErrors.Clone(appErrors.ErrValidation, "endorsements can only reference completed sessions")
	}
	return nil
}
