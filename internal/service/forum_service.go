package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

const forumCategoriesTTL = 30 * time.Minute

type forumRepository interface {
	ListCategories(ctx context.Context) ([]models.ForumCategory, error)
	CategoryExists(ctx context.Context, id string) (bool, error)
	ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ForumThread, int, error)
	GetThread(ctx context.Context, id string) (*models.ForumThread, error)
	CreateThread(ctx context.Context, thread *models.ForumThread, authorID string) error
	ListReplies(ctx context.Context, threadID string, page, size int) ([]models.ForumReply, int, error)
	CreateReply(ctx context.Context, reply *models.ForumReply, authorID string) error
}

// ForumService serves the discussion board.
type ForumService struct {
	repo      forumRepository
	authors   recipientLookup
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewForumService constructs a ForumService.
func NewForumService(repo forumRepository, authors recipientLookup, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ForumService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ForumService{repo: repo, authors: authors, cache: cache, validator: validate, logger: logger}
}

// Categories returns the category index, served from cache when possible.
func (s *ForumService) Categories(ctx context.Context) ([]models.ForumCategory, error) {
	var cached []models.ForumCategory
	if hit, _ := s.cache.Get(ctx, forumCategoriesKey, &cached); hit {
		return cached, nil
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list forum categories")
	}
	_ = s.cache.Set(ctx, forumCategoriesKey, categories, forumCategoriesTTL)
	return categories, nil
}

// Threads lists threads, optionally narrowed to a category or a title search.
func (s *ForumService) Threads(ctx context.Context, filter models.ThreadFilter) ([]models.ForumThread, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	filter.Search = strings.TrimSpace(filter.Search)
	threads, total, err := s.repo.ListThreads(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list forum threads")
	}
	return threads, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Thread returns one thread.
func (s *ForumService) Thread(ctx context.Context, id string) (*models.ForumThread, error) {
	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thread")
	}
	return thread, nil
}

// Replies lists a thread's replies oldest first.
func (s *ForumService) Replies(ctx context.Context, threadID string, page, size int) ([]models.ForumReply, *models.Pagination, error) {
	if _, err := s.Thread(ctx, threadID); err != nil {
		return nil, nil, err
	}
	page, size = models.NormalizePage(page, size)
	replies, total, err := s.repo.ListReplies(ctx, threadID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list replies")
	}
	return replies, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// CreateThread opens a thread in an existing category.
func (s *ForumService) CreateThread(ctx context.Context, authorID string, req dto.CreateThreadRequest) (*models.ForumThread, error) {
	if authorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thread payload")
	}
	exists, err := s.repo.CategoryExists(ctx, req.CategoryID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check category")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
	}

	thread := &models.ForumThread{CategoryID: req.CategoryID, Title: req.Title, Body: req.Body}
	if err := s.repo.CreateThread(ctx, thread, authorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create thread")
	}
	thread.Author = s.author(ctx, authorID)
	_ = s.cache.Invalidate(ctx, forumCategoriesKey)
	return thread, nil
}

// CreateReply posts a reply to an existing thread.
func (s *ForumService) CreateReply(ctx context.Context, authorID string, req dto.CreateReplyRequest) (*models.ForumReply, error) {
	if authorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reply payload")
	}
	reply := &models.ForumReply{ThreadID: req.ThreadID, Body: req.Body}
	if err := s.repo.CreateReply(ctx, reply, authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reply")
	}
	reply.Author = s.author(ctx, authorID)
	return reply, nil
}

// author builds the tagged author record for freshly created content.
func (s *ForumService) author(ctx context.Context, id string) models.Author {
	return lookupAuthor(ctx, s.authors, s.logger, id)
}

func lookupAuthor(ctx context.Context, users recipientLookup, logger *zap.Logger, id string) models.Author {
	author := models.Author{ID: id}
	if users == nil {
		return author
	}
	user, err := users.FindByID(ctx, id)
	if err != nil {
		logger.Debug("author lookup failed", zap.String("user_id", id), zap.Error(err))
		return author
	}
	if user.Active {
		name := user.FullName
		author.FullName = &name
	}
	author.AvatarURL = user.AvatarURL
	return author
}
