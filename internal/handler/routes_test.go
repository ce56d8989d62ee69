package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type tokenTable map[string]*models.JWTClaims

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

var testTokens = tokenTable{
	"member": {UserID: "u1", Role: models.RoleMember},
	"admin":  {UserID: "a1", Role: models.RoleAdmin},
}

type auditCollector struct {
	logs []*models.AuditLog
}

func (a *auditCollector) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type sessionCall struct {
	op     string
	id     int64
	actor  models.Actor
	reason string
}

type sessionServiceStub struct {
	calls []sessionCall
	err   error
}

func (s *sessionServiceStub) record(op string, id int64, actor models.Actor, reason string) (*models.Session, error) {
	s.calls = append(s.calls, sessionCall{op: op, id: id, actor: actor, reason: reason})
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: id, StudentID: "u1", TeacherID: "u2", Status: models.SessionPending}, nil
}

func (s *sessionServiceStub) Book(ctx context.Context, actor models.Actor, req dto.BookSessionRequest) (*models.Session, error) {
	return s.record("book", 0, actor, "")
}

func (s *sessionServiceStub) Approve(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.record("approve", id, actor, "")
}

func (s *sessionServiceStub) Reject(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.record("reject", id, actor, reason)
}

func (s *sessionServiceStub) Cancel(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.record("cancel", id, actor, reason)
}

func (s *sessionServiceStub) Start(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.record("start", id, actor, "")
}

func (s *sessionServiceStub) Complete(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.record("complete", id, actor, "")
}

func (s *sessionServiceStub) Dispute(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error) {
	return s.record("dispute", id, actor, reason)
}

func (s *sessionServiceStub) Get(ctx context.Context, id int64, actor models.Actor) (*models.Session, error) {
	return s.record("get", id, actor, "")
}

func (s *sessionServiceStub) History(ctx context.Context, id int64, actor models.Actor) ([]models.SessionTransition, error) {
	s.calls = append(s.calls, sessionCall{op: "history", id: id, actor: actor})
	return []models.SessionTransition{}, s.err
}

func (s *sessionServiceStub) List(ctx context.Context, actor models.Actor, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error) {
	s.calls = append(s.calls, sessionCall{op: "list", actor: actor})
	return []models.Session{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

type adminStub struct {
	resolved []dto.ResolveSessionRequest
}

func (a *adminStub) ListAll(ctx context.Context, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error) {
	return []models.Session{{ID: 1, Status: models.SessionDisputed}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (a *adminStub) Resolve(ctx context.Context, id int64, actor models.Actor, req dto.ResolveSessionRequest) (*models.Session, error) {
	a.resolved = append(a.resolved, req)
	return &models.Session{ID: id, Status: models.SessionCompleted}, nil
}

func (a *adminStub) ListDisputed(ctx context.Context, page, size int) ([]models.Session, *models.Pagination, error) {
	return a.ListAll(ctx, dto.SessionListQuery{})
}

func (a *adminStub) GrantBonus(ctx context.Context, adminID string, req dto.GrantBonusRequest) (*models.CreditTransaction, error) {
	return &models.CreditTransaction{UserID: req.UserID, Delta: req.Amount, Category: models.TransactionBonus}, nil
}

type creditStub struct {
	filters []models.TransactionFilter
	file    string
}

func (c *creditStub) Balance(ctx context.Context, userID string) (*models.BalanceView, error) {
	return &models.BalanceView{Balance: 1000, Reserved: 250, Available: 750}, nil
}

func (c *creditStub) History(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, *models.Pagination, error) {
	c.filters = append(c.filters, filter)
	return []models.CreditTransaction{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (c *creditStub) Generate(ctx context.Context, userID string, req dto.StatementRequest) (*models.Statement, error) {
	return &models.Statement{Format: req.Format, URL: "/api/v1/credits/statements/download?token=abc"}, nil
}

func (c *creditStub) Open(token string) (*os.File, string, error) {
	if token != "good" {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	f, err := os.Open(c.file)
	return f, "statement.csv", err
}

type notificationStub struct{}

func (notificationStub) List(ctx context.Context, recipientID string, unreadOnly bool, page, size int) ([]models.Notification, *models.Pagination, int, error) {
	if recipientID == "" {
		return []models.Notification{}, &models.Pagination{Page: page, PageSize: size}, 0, nil
	}
	return []models.Notification{{ID: "n1", RecipientID: recipientID}}, &models.Pagination{Page: page, PageSize: size, TotalCount: 1}, 3, nil
}

func (notificationStub) MarkRead(ctx context.Context, id, recipientID string) error {
	if id != "n1" {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (notificationStub) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return 3, nil
}

type routeFixture struct {
	router   *gin.Engine
	sessions *sessionServiceStub
	admin    *adminStub
	credits  *creditStub
	audit    *auditCollector
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	file := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(file, []byte("Date,Amount\n2024-01-01,2.50\n"), 0o600))

	f := &routeFixture{
		router:   gin.New(),
		sessions: &sessionServiceStub{},
		admin:    &adminStub{},
		credits:  &creditStub{file: file},
		audit:    &auditCollector{},
	}
	f.router.Use(middleware.WithResponseMeta())
	RegisterRoutes(f.router.Group("/api/v1"), Handlers{
		Sessions:      NewSessionHandler(f.sessions),
		Credits:       NewCreditHandler(f.credits, f.credits),
		Notifications: NewNotificationHandler(notificationStub{}),
		Admin:         NewAdminHandler(f.admin, f.admin, f.admin),
	}, RouteDeps{Tokens: testTokens, Audit: f.audit})
	return f
}

func (f *routeFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestSessionRoutesPassActorAndReason(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/sessions/7/approve", "member", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/sessions/7/dispute", "member", `{"reason":"teacher never joined the call"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/sessions/7/reject", "member", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.sessions.calls, 3)
	assert.Equal(t, sessionCall{op: "approve", id: 7, actor: models.Actor{UserID: "u1", Role: models.RoleMember}}, f.sessions.calls[0])
	assert.Equal(t, "teacher never joined the call", f.sessions.calls[1].reason)
	assert.Equal(t, "", f.sessions.calls[2].reason)
}

func TestSessionRoutesRejectBadInput(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/sessions/abc/start", "member", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, rec).Error.Code)

	rec = f.do(http.MethodPost, "/api/v1/sessions/7/cancel", "member", `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/sessions", "", `{"teacher_id":"u2"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, f.sessions.calls)
}

func TestSessionRoutesSurfaceDomainErrors(t *testing.T) {
	f := newRouteFixture(t)
	f.sessions.err = appErrors.Clone(appErrors.ErrInsufficientBalance, "available balance 1.00 is below the session price 2.00")

	rec := f.do(http.MethodPost, "/api/v1/sessions/9/approve", "member", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error.Code)
	assert.Equal(t, "available balance 1.00 is below the session price 2.00", env.Error.Message)
}

func TestSessionListAllowsAnonymous(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/sessions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.sessions.calls, 1)
	assert.Equal(t, models.Actor{}, f.sessions.calls[0].actor)
	assert.Contains(t, decode(t, rec).Meta, "processing_time_ms")
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/admin/sessions/3/resolve", "member", `{"resolution":"refund"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.admin.resolved)

	rec = f.do(http.MethodPost, "/api/v1/admin/sessions/3/resolve", "admin", `{"resolution":"refund","note":"no show"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.admin.resolved, 1)
	assert.Equal(t, models.SettleOutcome("refund"), f.admin.resolved[0].Resolution)

	rec = f.do(http.MethodGet, "/api/v1/admin/disputes", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(t, rec).Pagination.TotalCount)

	rec = f.do(http.MethodPost, "/api/v1/admin/credits/bonus", "admin", `{"user_id":"u1","amount":5,"description":"event host"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreditTransactionsFilter(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/credits/transactions?category=refund&from=2024-01-01&to=2024-01-31", "member", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.credits.filters, 1)
	filter := f.credits.filters[0]
	assert.Equal(t, "u1", filter.UserID)
	require.NotNil(t, filter.Category)
	assert.Equal(t, models.TransactionRefund, *filter.Category)
	require.NotNil(t, filter.To)
	assert.Equal(t, 31, filter.To.Day())
	assert.Equal(t, 23, filter.To.Hour())

	rec = f.do(http.MethodGet, "/api/v1/credits/transactions?category=gift", "member", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/credits/transactions?from=yesterday", "member", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatementExportAndDownloadAreAudited(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/credits/statements", "member", `{"format":"csv"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/credits/statements/download?token=good", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "statement.csv")
	assert.Contains(t, rec.Body.String(), "2.50")

	rec = f.do(http.MethodGet, "/api/v1/credits/statements/download?token=forged", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.Len(t, f.audit.logs, 2)
	assert.Equal(t, models.AuditActionStatementExport, f.audit.logs[0].Action)
	require.NotNil(t, f.audit.logs[0].UserID)
	assert.Equal(t, "u1", *f.audit.logs[0].UserID)
	assert.Equal(t, models.AuditActionStatementDownload, f.audit.logs[1].Action)
}

func TestNotificationRoutes(t *testing.T) {
	f := newRouteFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notifications", "member", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec).Meta["unread"])

	rec = f.do(http.MethodGet, "/api/v1/notifications", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode(t, rec).Data))

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/v1/notifications/n1/read", "member", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/notifications/n9/read", "member", "").Code)

	rec = f.do(http.MethodPost, "/api/v1/notifications/read-all", "member", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":3}`, string(decode(t, rec).Data))
}

func TestReadyReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"skipped":  nil,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"database":"ok","redis":"connection refused"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	c.Writer.WriteHeaderNow() // gin's engine flushes the pending status after the handler returns
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
