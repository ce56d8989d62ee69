package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestMeta carries client details recorded in audit logs.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// UserService handles profile workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// Me returns the caller's full account.
func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	return s.load(ctx, userID)
}

// PublicProfile returns the member view of another user. Deactivated accounts
// are reported as missing.
func (s *UserService) PublicProfile(ctx context.Context, id string) (*models.PublicProfile, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	profile := user.Public()
	return &profile, nil
}

// UpdateProfile applies the non-nil fields of req to the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest, meta RequestMeta) (*models.User, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if req.FullName != nil {
		trimmed := strings.TrimSpace(*req.FullName)
		req.FullName = &trimmed
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if req.FullName != nil {
		user.FullName = *req.FullName
		changes["full_name"] = user.FullName
	}
	if req.Bio != nil {
		user.Bio = strings.TrimSpace(*req.Bio)
		changes["bio"] = user.Bio
	}
	if req.AvatarURL != nil {
		if *req.AvatarURL == "" {
			user.AvatarURL = nil
		} else {
			avatar := *req.AvatarURL
			user.AvatarURL = &avatar
		}
		changes["avatar_url"] = req.AvatarURL
	}
	if req.HourlyRate != nil {
		user.HourlyRate = *req.HourlyRate
		changes["hourly_rate"] = user.HourlyRate
	}
	if len(changes) == 0 {
		return user, nil
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	payload, _ := json.Marshal(changes)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionProfileUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record profile audit log", zap.Error(err))
	}

	return user, nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}
