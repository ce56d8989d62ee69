package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/export"
	"github.com/skillswap/timebank-api/pkg/storage"
)

// statementEntryLimit caps a single statement so rendering stays bounded.
const statementEntryLimit = 5000

type statementSource interface {
	StatementEntries(ctx context.Context, filter models.TransactionFilter, limit int) ([]models.CreditTransaction, error)
}

type balanceReader interface {
	Balance(ctx context.Context, userID string) (*models.BalanceView, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// StatementConfig tunes statement behaviour.
type StatementConfig struct {
	APIPrefix string
	Retention time.Duration
}

// StatementService renders credit statements and hands out signed download links.
type StatementService struct {
	entries   statementSource
	balances  balanceReader
	storage   fileStorage
	signer    *storage.SignedURLSigner
	csv       tableRenderer
	pdf       tableRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       StatementConfig
	now       func() time.Time
}

// NewStatementService constructs a StatementService.
func NewStatementService(entries statementSource, balances balanceReader, store fileStorage, signer *storage.SignedURLSigner, cfg StatementConfig, validate *validator.Validate, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &StatementService{
		entries:   entries,
		balances:  balances,
		storage:   store,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate renders the caller's ledger history and returns a signed download link.
func (s *StatementService) Generate(ctx context.Context, userID string, req dto.StatementRequest) (*models.Statement, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid statement request")
	}

	entries, err := s.entries.StatementEntries(ctx, models.TransactionFilter{UserID: userID}, statementEntryLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger entries")
	}
	balance, err := s.balances.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	generatedAt := s.now().UTC()
	table := statementTable(entries, balance, generatedAt)

	var payload []byte
	switch req.Format {
	case models.StatementCSV:
		payload, err = s.csv.Render(table)
	case models.StatementPDF:
		payload, err = s.pdf.Render(table)
	default:
		err = fmt.Errorf("unsupported format %s", req.Format)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}

	filename := path.Join(userID, fmt.Sprintf("statement_%s.%s", generatedAt.Format("20060102_150405"), req.Format))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store statement")
	}

	token, expiresAt, err := s.signer.Sign(userID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign statement link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Info("statement generated",
		zap.String("user_id", userID), zap.String("format", string(req.Format)), zap.Int("entries", len(entries)))

	return &models.Statement{
		Format:    req.Format,
		URL:       fmt.Sprintf("%s/credits/statements/download?token=%s", prefix, url.QueryEscape(token)),
		Entries:   len(entries),
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a download token to the stored file and its download name.
func (s *StatementService) Open(token string) (*os.File, string, error) {
	obj, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrExpiredToken) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(obj.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "statement not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open statement")
	}
	return file, path.Base(obj.Path), nil
}

// Cleanup removes statements older than the retention window. It matches jobs.TickFunc.
func (s *StatementService) Cleanup(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deleted, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	return len(deleted), err
}

func statementTable(entries []models.CreditTransaction, balance *models.BalanceView, generatedAt time.Time) export.Table {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		session := ""
		if entry.SessionID != nil {
			session = fmt.Sprintf("#%d", *entry.SessionID)
		}
		rows = append(rows, []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			string(entry.Category),
			session,
			entry.Description,
			entry.Delta.String(),
			entry.BalanceAfter.String(),
		})
	}

	return export.Table{
		Title: fmt.Sprintf("Credit statement %s", generatedAt.Format("2006-01-02")),
		Columns: []export.Column{
			{Title: "Date", Width: 2.2},
			{Title: "Category", Width: 1.2},
			{Title: "Session", Width: 1},
			{Title: "Description", Width: 3.4},
			{Title: "Amount", Width: 1.1, Right: true},
			{Title: "Balance", Width: 1.1, Right: true},
		},
		Rows: rows,
		Footer: []string{
			fmt.Sprintf("Balance %s", balance.Balance),
			fmt.Sprintf("Reserved %s", balance.Reserved),
			fmt.Sprintf("Available %s", balance.Available),
		},
	}
}
