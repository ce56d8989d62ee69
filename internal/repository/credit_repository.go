package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillswap/timebank-api/internal/models"
)

// CreditRepository persists wallets, holds and ledger entries. Every balance
// change is a single conditional UPDATE so concurrent holds against one
// wallet serialise on its row lock.
type CreditRepository struct {
	db *sqlx.DB
}

// NewCreditRepository constructs a CreditRepository.
func NewCreditRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// EnsureWallet creates an empty wallet for userID if none exists.
func (r *CreditRepository) EnsureWallet(ctx context.Context, exec sqlx.ExtContext, userID string) error {
	const query = `INSERT INTO wallets (user_id, balance, reserved, updated_at) VALUES ($1, 0, 0, $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.exec(exec).ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

// GetWallet returns the wallet for userID.
func (r *CreditRepository) GetWallet(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Wallet, error) {
	const query = `SELECT user_id, balance, reserved, updated_at FROM wallets WHERE user_id = $1`
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.exec(exec), &wallet, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &wallet, nil
}

// Reserve moves amount from available to reserved. It returns sql.ErrNoRows
// when the wallet is missing or available balance is below amount.
func (r *CreditRepository) Reserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) error {
	const query = `UPDATE wallets SET reserved = reserved + $2, updated_at = $3 WHERE user_id = $1 AND balance - reserved >= $2`
	res, err := r.exec(exec).ExecContext(ctx, query, userID, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	return rowsAffected(res, "reserve credits")
}

// Unreserve returns reserved credits to the available balance and reports
// the resulting total balance.
func (r *CreditRepository) Unreserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	const query = `UPDATE wallets SET reserved = reserved - $2, updated_at = $3 WHERE user_id = $1 AND reserved >= $2 RETURNING balance`
	var balance models.Credits
	if err := sqlx.GetContext(ctx, r.exec(exec), &balance, query, userID, amount, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("unreserve credits: %w", err)
	}
	return balance, nil
}

// DebitReserved removes reserved credits from the wallet entirely.
func (r *CreditRepository) DebitReserved(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	const query = `UPDATE wallets SET balance = balance - $2, reserved = reserved - $2, updated_at = $3 WHERE user_id = $1 AND reserved >= $2 AND balance >= $2 RETURNING balance`
	var balance models.Credits
	if err := sqlx.GetContext(ctx, r.exec(exec), &balance, query, userID, amount, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("debit reserved credits: %w", err)
	}
	return balance, nil
}

// Credit adds amount to the wallet, creating it if needed.
func (r *CreditRepository) Credit(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	const query = `INSERT INTO wallets (user_id, balance, reserved, updated_at) VALUES ($1, $2, 0, $3)
ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
RETURNING balance`
	var balance models.Credits
	if err := sqlx.GetContext(ctx, r.exec(exec), &balance, query, userID, amount, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	return balance, nil
}

// CreateHold inserts a reservation record in status held.
func (r *CreditRepository) CreateHold(ctx context.Context, exec sqlx.ExtContext, hold *models.CreditHold) error {
	if hold.ID == "" {
		hold.ID = uuid.NewString()
	}
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = time.Now().UTC()
	}
	hold.Status = models.HoldStatusHeld
	const query = `INSERT INTO credit_holds (id, session_id, student_id, teacher_id, amount, status, created_at) VALUES (:id, :session_id, :student_id, :teacher_id, :amount, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, hold); err != nil {
		return fmt.Errorf("create credit hold: %w", err)
	}
	return nil
}

// GetHold returns the hold for a session.
func (r *CreditRepository) GetHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64) (*models.CreditHold, error) {
	const query = `SELECT id, session_id, student_id, teacher_id, amount, status, created_at, settled_at FROM credit_holds WHERE session_id = $1`
	var hold models.CreditHold
	if err := sqlx.GetContext(ctx, r.exec(exec), &hold, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get credit hold: %w", err)
	}
	return &hold, nil
}

// TransitionHold moves a hold from one status to another and returns the
// claimed row. sql.ErrNoRows means the hold was not in status from.
func (r *CreditRepository) TransitionHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, from, to models.HoldStatus) (*models.CreditHold, error) {
	const query = `UPDATE credit_holds SET status = $3, settled_at = $4 WHERE session_id = $1 AND status = $2 RETURNING id, session_id, student_id, teacher_id, amount, status, created_at, settled_at`
	var hold models.CreditHold
	if err := sqlx.GetContext(ctx, r.exec(exec), &hold, query, sessionID, from, to, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("transition credit hold: %w", err)
	}
	return &hold, nil
}

// InsertTransaction appends a ledger entry.
func (r *CreditRepository) InsertTransaction(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO credit_transactions (id, user_id, session_id, category, delta, balance_after, description, created_at) VALUES (:id, :user_id, :session_id, :category, :delta, :balance_after, :description, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a page of ledger entries newest first.
func (r *CreditRepository) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, int, error) {
	where, args := transactionConditions(filter)
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT id, user_id, session_id, category, delta, balance_after, description, created_at FROM credit_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, where, size, (page-1)*size)
	entries := make([]models.CreditTransaction, 0)
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list credit transactions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM credit_transactions WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count credit transactions: %w", err)
	}
	return entries, total, nil
}

// StatementEntries returns every ledger entry in the filter window oldest first.
func (r *CreditRepository) StatementEntries(ctx context.Context, filter models.TransactionFilter, limit int) ([]models.CreditTransaction, error) {
	where, args := transactionConditions(filter)
	query := fmt.Sprintf(`SELECT id, user_id, session_id, category, delta, balance_after, description, created_at FROM credit_transactions WHERE %s ORDER BY created_at ASC, id ASC LIMIT %d`, where, limit)
	entries := make([]models.CreditTransaction, 0)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("statement entries: %w", err)
	}
	return entries, nil
}

// Totals sums earned and spent entries for a user.
func (r *CreditRepository) Totals(ctx context.Context, userID string) (earned, spent models.Credits, err error) {
	const query = `SELECT COALESCE(SUM(CASE WHEN category = 'earned' THEN delta ELSE 0 END), 0) AS earned, COALESCE(SUM(CASE WHEN category = 'spent' THEN -delta ELSE 0 END), 0) AS spent FROM credit_transactions WHERE user_id = $1`
	var row struct {
		Earned models.Credits `db:"earned"`
		Spent  models.Credits `db:"spent"`
	}
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		return 0, 0, fmt.Errorf("credit totals: %w", err)
	}
	return row.Earned, row.Spent, nil
}

// Circulation reports total wallet balances and the amount currently held.
func (r *CreditRepository) Circulation(ctx context.Context) (inWallets, inEscrow models.Credits, err error) {
	const query = `SELECT COALESCE(SUM(balance), 0) AS balance, COALESCE(SUM(reserved), 0) AS reserved FROM wallets`
	var row struct {
		Balance  models.Credits `db:"balance"`
		Reserved models.Credits `db:"reserved"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return 0, 0, fmt.Errorf("credit circulation: %w", err)
	}
	return row.Balance, row.Reserved, nil
}

func transactionConditions(filter models.TransactionFilter) (string, []interface{}) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{filter.UserID}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(conditions, " AND "), args
}
