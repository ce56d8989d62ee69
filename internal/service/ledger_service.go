package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type ledgerRepository interface {
	EnsureWallet(ctx context.Context, exec sqlx.ExtContext, userID string) error
	GetWallet(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Wallet, error)
	Reserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) error
	Unreserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error)
	DebitReserved(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error)
	Credit(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error)
	CreateHold(ctx context.Context, exec sqlx.ExtContext, hold *models.CreditHold) error
	GetHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64) (*models.CreditHold, error)
	TransitionHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, from, to models.HoldStatus) (*models.CreditHold, error)
	InsertTransaction(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, int, error)
	Totals(ctx context.Context, userID string) (models.Credits, models.Credits, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// LedgerService owns wallet balances and credit holds. Hold, Release and
// Settle run inside the caller's transaction; every balance change is a
// single conditional statement so concurrent callers serialise per wallet.
type LedgerService struct {
	repo      ledgerRepository
	tx        txRunner
	audit     auditRecorder
	notifier  notificationEmitter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(repo ledgerRepository, tx txRunner, audit auditRecorder, notifier notificationEmitter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &LedgerService{repo: repo, tx: tx, audit: audit, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// Hold reserves amount from the student's available balance for sessionID.
// The session row must already exist in exec.
func (s *LedgerService) Hold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, studentID, teacherID string, amount models.Credits) (*models.CreditHold, error) {
	if err := s.Reserve(ctx, exec, studentID, amount); err != nil {
		return nil, err
	}
	return s.RecordHold(ctx, exec, sessionID, studentID, teacherID, amount)
}

// Reserve is the balance half of Hold: it moves amount from available to
// reserved or fails with InsufficientBalance. It writes no hold row, so a
// booking can check funds before its session row exists.
func (s *LedgerService) Reserve(ctx context.Context, exec sqlx.ExtContext, studentID string, amount models.Credits) error {
	if amount <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "hold amount must be positive")
	}
	if err := s.repo.Reserve(ctx, exec, studentID, amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordLedgerOperation("hold", "insufficient")
			return appErrors.Clone(appErrors.ErrInsufficientBalance, fmt.Sprintf("not enough available credits to hold %s", amount))
		}
		return err
	}
	return nil
}

// RecordHold writes the hold row for an amount already reserved by Reserve.
func (s *LedgerService) RecordHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, studentID, teacherID string, amount models.Credits) (*models.CreditHold, error) {
	hold := &models.CreditHold{SessionID: sessionID, StudentID: studentID, TeacherID: teacherID, Amount: amount}
	if err := s.repo.CreateHold(ctx, exec, hold); err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerOperation("hold", "ok")
	return hold, nil
}

// Release returns a held amount to the student. Releasing twice is a no-op;
// releasing a settled hold is an invalid transition.
func (s *LedgerService) Release(ctx context.Context, exec sqlx.ExtContext, sessionID int64) error {
	hold, err := s.repo.TransitionHold(ctx, exec, sessionID, models.HoldStatusHeld, models.HoldStatusReleased)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		current, lookupErr := s.currentHold(ctx, exec, sessionID)
		if lookupErr != nil {
			return lookupErr
		}
		if current.Status == models.HoldStatusReleased {
			s.metrics.RecordLedgerOperation("release", "noop")
			return nil
		}
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("credit hold already %s", current.Status))
	}
	if _, err := s.repo.Unreserve(ctx, exec, hold.StudentID, hold.Amount); err != nil {
		return fmt.Errorf("release hold %d: %w", sessionID, err)
	}
	s.metrics.RecordLedgerOperation("release", "ok")
	return nil
}

// Settle moves a held amount to its final destination. Replaying the same
// outcome is a no-op; a different outcome after settlement is AlreadyResolved.
func (s *LedgerService) Settle(ctx context.Context, exec sqlx.ExtContext, sessionID int64, outcome models.SettleOutcome) error {
	if !outcome.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "resolution must be payout or refund")
	}
	target := outcome.HoldStatus()
	hold, err := s.repo.TransitionHold(ctx, exec, sessionID, models.HoldStatusHeld, target)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		current, lookupErr := s.currentHold(ctx, exec, sessionID)
		if lookupErr != nil {
			return lookupErr
		}
		switch current.Status {
		case target:
			s.metrics.RecordLedgerOperation("settle", "noop")
			return nil
		case models.HoldStatusReleased:
			return appErrors.Clone(appErrors.ErrInvalidTransition, "credit hold was released")
		default:
			return appErrors.Clone(appErrors.ErrAlreadyResolved, fmt.Sprintf("credit hold already %s", current.Status))
		}
	}

	sid := hold.SessionID
	now := time.Now().UTC()
	switch outcome {
	case models.SettlePayout:
		studentBalance, err := s.repo.DebitReserved(ctx, exec, hold.StudentID, hold.Amount)
		if err != nil {
			return fmt.Errorf("debit student for session %d: %w", sid, err)
		}
		if err := s.repo.InsertTransaction(ctx, exec, &models.CreditTransaction{
			UserID:       hold.StudentID,
			SessionID:    &sid,
			Category:     models.TransactionSpent,
			Delta:        -hold.Amount,
			BalanceAfter: studentBalance,
			Description:  fmt.Sprintf("Session #%d", sid),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		teacherBalance, err := s.repo.Credit(ctx, exec, hold.TeacherID, hold.Amount)
		if err != nil {
			return fmt.Errorf("credit teacher for session %d: %w", sid, err)
		}
		if err := s.repo.InsertTransaction(ctx, exec, &models.CreditTransaction{
			UserID:       hold.TeacherID,
			SessionID:    &sid,
			Category:     models.TransactionEarned,
			Delta:        hold.Amount,
			BalanceAfter: teacherBalance,
			Description:  fmt.Sprintf("Session #%d", sid),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	case models.SettleRefund:
		balance, err := s.repo.Unreserve(ctx, exec, hold.StudentID, hold.Amount)
		if err != nil {
			return fmt.Errorf("refund student for session %d: %w", sid, err)
		}
		if err := s.repo.InsertTransaction(ctx, exec, &models.CreditTransaction{
			UserID:       hold.StudentID,
			SessionID:    &sid,
			Category:     models.TransactionRefund,
			Delta:        0,
			BalanceAfter: balance,
			Description:  fmt.Sprintf("Refund of %s for session #%d", hold.Amount, sid),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	s.metrics.RecordLedgerOperation("settle_"+string(outcome), "ok")
	return nil
}

// Credit adds a bonus to a wallet within exec and records the ledger entry.
func (s *LedgerService) Credit(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bonus amount must be positive")
	}
	balance, err := s.repo.Credit(ctx, exec, userID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.CreditTransaction{
		UserID:       userID,
		Category:     models.TransactionBonus,
		Delta:        amount,
		BalanceAfter: balance,
		Description:  description,
	}
	if err := s.repo.InsertTransaction(ctx, exec, entry); err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerOperation("bonus", "ok")
	return entry, nil
}

// GrantBonus lets an admin credit a member outside any session.
func (s *LedgerService) GrantBonus(ctx context.Context, adminID string, req dto.GrantBonusRequest) (*models.CreditTransaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bonus payload")
	}
	if req.Description == "" {
		req.Description = "Bonus credits"
	}

	var entry *models.CreditTransaction
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		// Credit upserts, so a missing wallet must not be created for an unknown user.
		if _, err := s.repo.GetWallet(ctx, exec, req.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "wallet not found")
			}
			return err
		}
		var err error
		entry, err = s.Credit(ctx, exec, req.UserID, req.Amount, req.Description)
		return err
	})
	if err != nil {
		return nil, normalizeTxError(ctx, err, "failed to grant bonus")
	}

	if s.audit != nil {
		payload := []byte(fmt.Sprintf(`{"amount":%s}`, req.Amount))
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &adminID,
			Action:     models.AuditActionCreditGrant,
			Resource:   "wallet",
			ResourceID: &req.UserID,
			NewValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record credit grant audit log", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.Emit(ctx, []*models.Notification{
			newNotification(req.UserID, models.NotifyCreditsGranted, nil, map[string]interface{}{
				"amount":      req.Amount,
				"description": req.Description,
			}),
		})
	}
	return entry, nil
}

// Balance returns the wallet view of userID. Users without a wallet see zeros.
func (s *LedgerService) Balance(ctx context.Context, userID string) (*models.BalanceView, error) {
	view := &models.BalanceView{}
	wallet, err := s.repo.GetWallet(ctx, nil, userID)
	switch {
	case err == nil:
		view.Balance = wallet.Balance
		view.Reserved = wallet.Reserved
		view.Available = wallet.Available()
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wallet")
	}

	earned, spent, err := s.repo.Totals(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit totals")
	}
	view.Earned = earned
	view.Spent = spent
	return view, nil
}

// History returns the ledger entries of the filter's user.
func (s *LedgerService) History(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, *models.Pagination, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	entries, total, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credit transactions")
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *LedgerService) currentHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64) (*models.CreditHold, error) {
	hold, err := s.repo.GetHold(ctx, exec, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credit hold not found")
		}
		return nil, err
	}
	return hold, nil
}

// OpenWallet creates the wallet of a new member and credits the signup bonus.
func (s *LedgerService) OpenWallet(ctx context.Context, exec sqlx.ExtContext, userID string, bonus models.Credits) error {
	if err := s.repo.EnsureWallet(ctx, exec, userID); err != nil {
		return err
	}
	if bonus <= 0 {
		return nil
	}
	_, err := s.Credit(ctx, exec, userID, bonus, "Welcome bonus")
	return err
}
