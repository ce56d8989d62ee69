package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/internal/service"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type storyStub struct {
	viewer string
	liked  map[string]bool
}

func (s *storyStub) List(ctx context.Context, viewerID string, page, size int) ([]models.Story, *models.Pagination, error) {
	s.viewer = viewerID
	return []models.Story{}, &models.Pagination{Page: page, PageSize: size}, nil
}

func (s *storyStub) Get(ctx context.Context, id, viewerID string) (*models.Story, error) {
	s.viewer = viewerID
	return &models.Story{ID: id, LikedByMe: s.liked[viewerID]}, nil
}

func (s *storyStub) Create(ctx context.Context, authorID string, req dto.CreateStoryRequest) (*models.Story, error) {
	return &models.Story{ID: "s-new", Title: req.Title}, nil
}

func (s *storyStub) Like(ctx context.Context, storyID, userID string) (*models.Story, error) {
	s.liked[userID] = true
	return &models.Story{ID: storyID, LikeCount: 1, LikedByMe: true}, nil
}

func (s *storyStub) Unlike(ctx context.Context, storyID, userID string) (*models.Story, error) {
	delete(s.liked, userID)
	return &models.Story{ID: storyID}, nil
}

func (s *storyStub) Comments(ctx context.Context, storyID string, page, size int) ([]models.StoryComment, *models.Pagination, error) {
	return []models.StoryComment{}, &models.Pagination{Page: page, PageSize: size}, nil
}

func (s *storyStub) Comment(ctx context.Context, storyID, authorID string, req dto.CreateCommentRequest) (*models.StoryComment, error) {
	return &models.StoryComment{ID: "c1", StoryID: storyID, Body: req.Body}, nil
}

type reportStub struct {
	notes []string
}

func (r *reportStub) Create(ctx context.Context, reporterID string, req dto.CreateReportRequest) (*models.Report, error) {
	return &models.Report{ID: "r1", ReporterID: reporterID, TargetType: req.TargetType, TargetID: req.TargetID, Status: models.ReportPending}, nil
}

func (r *reportStub) List(ctx context.Context, actor models.Actor, status string, page, size int) ([]models.Report, *models.Pagination, error) {
	return []models.Report{}, &models.Pagination{Page: page, PageSize: size}, nil
}

func (r *reportStub) Resolve(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error) {
	r.notes = append(r.notes, req.Note)
	if id == "closed" {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "report already closed")
	}
	return &models.Report{ID: id, Status: models.ReportResolved}, nil
}

func (r *reportStub) Dismiss(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error) {
	r.notes = append(r.notes, req.Note)
	return &models.Report{ID: id, Status: models.ReportDismissed}, nil
}

type profileStub struct {
	meta service.RequestMeta
}

func (p *profileStub) Me(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	return &models.User{ID: userID}, nil
}

func (p *profileStub) PublicProfile(ctx context.Context, id string) (*models.PublicProfile, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
}

func (p *profileStub) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest, meta service.RequestMeta) (*models.User, error) {
	p.meta = meta
	return &models.User{ID: userID, FullName: *req.FullName}, nil
}

func authedContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func TestStoryHandlerLikeUsesCaller(t *testing.T) {
	stub := &storyStub{liked: map[string]bool{}}
	h := NewStoryHandler(stub)

	c, rec := authedContext(http.MethodPost, "/stories/s1/like", "", &models.JWTClaims{UserID: "u1", Role: models.RoleMember})
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	h.Like(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, stub.liked["u1"])

	c, rec = authedContext(http.MethodGet, "/stories/s1", "", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	h.Get(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", stub.viewer)
	assert.Contains(t, rec.Body.String(), `"liked_by_me":false`)
}

func TestReportHandlerModeration(t *testing.T) {
	stub := &reportStub{}
	h := NewReportHandler(stub)
	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}

	c, rec := authedContext(http.MethodPost, "/admin/reports/r1/resolve", `{"note":"thread removed"}`, admin)
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	h.Resolve(c)
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = authedContext(http.MethodPost, "/admin/reports/r2/dismiss", "", admin)
	c.Params = gin.Params{{Key: "id", Value: "r2"}}
	h.Dismiss(c)
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = authedContext(http.MethodPost, "/admin/reports/closed/resolve", "", admin)
	c.Params = gin.Params{{Key: "id", Value: "closed"}}
	h.Resolve(c)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{"thread removed", "", ""}, stub.notes)
}

func TestReportHandlerCreateRejectsMalformedBody(t *testing.T) {
	h := NewReportHandler(&reportStub{})

	c, rec := authedContext(http.MethodPost, "/reports", `{"target_type":`, &models.JWTClaims{UserID: "u1"})
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = authedContext(http.MethodPost, "/reports", `{"target_type":"story","target_id":"s1","reason":"spam"}`, &models.JWTClaims{UserID: "u1"})
	h.Create(c)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reporter_id":"u1"`)
}

func TestUserHandlerProfile(t *testing.T) {
	stub := &profileStub{}
	h := NewUserHandler(stub)

	c, rec := authedContext(http.MethodPatch, "/users/me", `{"full_name":"Ana Souza"}`, &models.JWTClaims{UserID: "u1"})
	c.Request.Header.Set("User-Agent", "handler-test")
	h.UpdateMe(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "handler-test", stub.meta.UserAgent)

	c, rec = authedContext(http.MethodGet, "/users/me", "", nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = authedContext(http.MethodGet, "/users/ghost", "", nil)
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
