package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type storyRepository interface {
	List(ctx context.Context, viewerID string, page, size int) ([]models.Story, int, error)
	Get(ctx context.Context, id, viewerID string) (*models.Story, error)
	Create(ctx context.Context, story *models.Story, authorID string) error
	SetLike(ctx context.Context, storyID, userID string, liked bool) (bool, error)
	ListComments(ctx context.Context, storyID string, page, size int) ([]models.StoryComment, int, error)
	CreateComment(ctx context.Context, comment *models.StoryComment, authorID string) error
}

// StoryService serves member success stories.
type StoryService struct {
	repo      storyRepository
	authors   recipientLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStoryService constructs a StoryService.
func NewStoryService(repo storyRepository, authors recipientLookup, validate *validator.Validate, logger *zap.Logger) *StoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &StoryService{repo: repo, authors: authors, validator: validate, logger: logger}
}

// List returns stories newest first. Anonymous viewers never see liked_by_me.
func (s *StoryService) List(ctx context.Context, viewerID string, page, size int) ([]models.Story, *models.Pagination, error) {
	page, size = models.NormalizePage(page, size)
	stories, total, err := s.repo.List(ctx, viewerID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stories")
	}
	return stories, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one story.
func (s *StoryService) Get(ctx context.Context, id, viewerID string) (*models.Story, error) {
	story, err := s.repo.Get(ctx, id, viewerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load story")
	}
	return story, nil
}

// Create publishes a story.
func (s *StoryService) Create(ctx context.Context, authorID string, req dto.CreateStoryRequest) (*models.Story, error) {
	if authorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid story payload")
	}
	story := &models.Story{Title: req.Title, Body: req.Body}
	if err := s.repo.Create(ctx, story, authorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create story")
	}
	story.Author = lookupAuthor(ctx, s.authors, s.logger, authorID)
	return story, nil
}

// Like records the viewer's like. Repeated likes are no-ops.
func (s *StoryService) Like(ctx context.Context, storyID, userID string) (*models.Story, error) {
	return s.setLike(ctx, storyID, userID, true)
}

// Unlike removes the viewer's like. Unliking twice is a no-op.
func (s *StoryService) Unlike(ctx context.Context, storyID, userID string) (*models.Story, error) {
	return s.setLike(ctx, storyID, userID, false)
}

func (s *StoryService) setLike(ctx context.Context, storyID, userID string, liked bool) (*models.Story, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.Get(ctx, storyID, userID); err != nil {
		return nil, err
	}
	if _, err := s.repo.SetLike(ctx, storyID, userID, liked); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update like")
	}
	return s.Get(ctx, storyID, userID)
}

// Comments lists a story's comments oldest first.
func (s *StoryService) Comments(ctx context.Context, storyID string, page, size int) ([]models.StoryComment, *models.Pagination, error) {
	if _, err := s.Get(ctx, storyID, ""); err != nil {
		return nil, nil, err
	}
	page, size = models.NormalizePage(page, size)
	comments, total, err := s.repo.ListComments(ctx, storyID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Comment adds a comment to a story.
func (s *StoryService) Comment(ctx context.Context, storyID, authorID string, req dto.CreateCommentRequest) (*models.StoryComment, error) {
	if authorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	comment := &models.StoryComment{StoryID: storyID, Body: req.Body}
	if err := s.repo.CreateComment(ctx, comment, authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}
	comment.Author = lookupAuthor(ctx, s.authors, s.logger, authorID)
	return comment, nil
}
