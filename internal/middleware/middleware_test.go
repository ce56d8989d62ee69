package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type fakeValidator map[string]*models.JWTClaims

func (f fakeValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := f[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditSink struct {
	logs []*models.AuditLog
	err  error
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return a.err
}

var tokens = fakeValidator{
	"member-token": {UserID: "u1", Role: models.RoleMember},
	"admin-token":  {UserID: "a1", Role: models.RoleAdmin},
}

func whoAmI(c *gin.Context) {
	if claims, ok := c.Get(ContextUserKey); ok {
		c.String(http.StatusOK, claims.(*models.JWTClaims).UserID)
		return
	}
	c.String(http.StatusOK, "anonymous")
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTRequiresValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", JWT(tokens), whoAmI)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/private", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/private", "forged").Code)

	rec := serve(r, http.MethodGet, "/private", "member-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestOptionalJWTFallsBackToAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/public", OptionalJWT(tokens), whoAmI)

	assert.Equal(t, "anonymous", serve(r, http.MethodGet, "/public", "").Body.String())
	assert.Equal(t, "anonymous", serve(r, http.MethodGet, "/public", "expired").Body.String())
	assert.Equal(t, "u1", serve(r, http.MethodGet, "/public", "member-token").Body.String())
}

func TestRequireRolesAdminOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", JWT(tokens), RequireRoles(models.RoleAdmin), whoAmI)

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", "member-token").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", "admin-token").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{}
	r := gin.New()
	r.Use(JWT(tokens))
	r.GET("/things/:id", Audit(sink, nil, "THING_READ", "thing", "id"), whoAmI)
	r.GET("/broken", Audit(sink, nil, "THING_READ", "thing", ""), func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	serve(r, http.MethodGet, "/things/42", "member-token")
	serve(r, http.MethodGet, "/broken", "member-token")

	require.Len(t, sink.logs, 1)
	log := sink.logs[0]
	assert.Equal(t, "THING_READ", log.Action)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "42", *log.ResourceID)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "u1", *log.UserID)
}

func TestAuditFailureDoesNotAffectResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{err: errors.New("db down")}
	r := gin.New()
	r.GET("/x", Audit(sink, nil, "X", "x", ""), whoAmI)

	rec := serve(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sink.logs, 1)
}

func TestExtractMetaIncludesTiming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var meta map[string]interface{}
	r.GET("/m", WithResponseMeta(), func(c *gin.Context) {
		SetMeta(c, "cached", true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodGet, "/m", "")
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cached"])
	assert.Contains(t, meta, "processing_time_ms")
}
