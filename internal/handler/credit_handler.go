package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/response"
)

type ledgerReader interface {
	Balance(ctx context.Context, userID string) (*models.BalanceView, error)
	History(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, *models.Pagination, error)
}

type statementService interface {
	Generate(ctx context.Context, userID string, req dto.StatementRequest) (*models.Statement, error)
	Open(token string) (*os.File, string, error)
}

// CreditHandler serves wallet reads and statements.
type CreditHandler struct {
	ledger     ledgerReader
	statements statementService
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(ledger ledgerReader, statements statementService) *CreditHandler {
	return &CreditHandler{ledger: ledger, statements: statements}
}

// Balance godoc
// @Summary Wallet balance
// @Description Balance, credits reserved by open holds, and lifetime earned/spent totals
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /credits/balance [get]
func (h *CreditHandler) Balance(c *gin.Context) {
	view, err := h.ledger.Balance(c.Request.Context(), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Transactions godoc
// @Summary Ledger history
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Param category query string false "earned, spent, bonus or refund"
// @Param from query string false "Start date (YYYY-MM-DD or RFC3339)"
// @Param to query string false "End date (YYYY-MM-DD or RFC3339)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /credits/transactions [get]
func (h *CreditHandler) Transactions(c *gin.Context) {
	var query dto.TransactionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	filter, err := transactionFilter(actorFromContext(c).UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.ledger.History(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination, middleware.ExtractMeta(c))
}

// CreateStatement godoc
// @Summary Export a statement
// @Description Render the ledger as CSV or PDF and return a short-lived download URL
// @Tags Credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.StatementRequest true "Format"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /credits/statements [post]
func (h *CreditHandler) CreateStatement(c *gin.Context) {
	var req dto.StatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid statement payload"))
		return
	}
	statement, err := h.statements.Generate(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, statement)
}

// DownloadStatement godoc
// @Summary Download a statement
// @Tags Credits
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /credits/statements/download [get]
func (h *CreditHandler) DownloadStatement(c *gin.Context) {
	file, name, err := h.statements.Open(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read statement"))
		return
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, name),
		"Cache-Control":       "no-store",
	}
	c.DataFromReader(http.StatusOK, info.Size(), statementContentType(name), file, headers)
}

func statementContentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func transactionFilter(userID string, query dto.TransactionListQuery) (models.TransactionFilter, error) {
	filter := models.TransactionFilter{UserID: userID, Page: query.Page, PageSize: query.PageSize}
	if userID == "" {
		return filter, appErrors.ErrUnauthorized
	}
	if query.Category != "" {
		category := models.TransactionCategory(query.Category)
		switch category {
		case models.TransactionEarned, models.TransactionSpent, models.TransactionBonus, models.TransactionRefund:
			filter.Category = &category
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown transaction category")
		}
	}
	var err error
	if filter.From, err = parseDateParam(query.From, false); err != nil {
		return filter, err
	}
	if filter.To, err = parseDateParam(query.To, true); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseDateParam accepts a plain date or an RFC3339 timestamp. A plain
// end date covers the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date "+raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
