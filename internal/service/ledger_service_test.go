package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

// inlineTx runs fn without a database. The in-memory repositories below make
// each operation atomic on its own, mirroring the conditional SQL statements.
type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(nil)
}

type memLedgerRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	holds   map[int64]*models.CreditHold
	entries []models.CreditTransaction
}

func newMemLedgerRepo(balances map[string]models.Credits) *memLedgerRepo {
	repo := &memLedgerRepo{wallets: map[string]*models.Wallet{}, holds: map[int64]*models.CreditHold{}}
	for user, balance := range balances {
		repo.wallets[user] = &models.Wallet{UserID: user, Balance: balance}
	}
	return repo
}

func (m *memLedgerRepo) EnsureWallet(ctx context.Context, exec sqlx.ExtContext, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[userID]; !ok {
		m.wallets[userID] = &models.Wallet{UserID: userID}
	}
	return nil
}

func (m *memLedgerRepo) GetWallet(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *w
	return &copy, nil
}

func (m *memLedgerRepo) Reserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || w.Balance-w.Reserved < amount {
		return sql.ErrNoRows
	}
	w.Reserved += amount
	return nil
}

func (m *memLedgerRepo) Unreserve(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || w.Reserved < amount {
		return 0, sql.ErrNoRows
	}
	w.Reserved -= amount
	return w.Balance, nil
}

func (m *memLedgerRepo) DebitReserved(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || w.Reserved < amount || w.Balance < amount {
		return 0, sql.ErrNoRows
	}
	w.Reserved -= amount
	w.Balance -= amount
	return w.Balance, nil
}

func (m *memLedgerRepo) Credit(ctx context.Context, exec sqlx.ExtContext, userID string, amount models.Credits) (models.Credits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		m.wallets[userID] = w
	}
	w.Balance += amount
	return w.Balance, nil
}

func (m *memLedgerRepo) CreateHold(ctx context.Context, exec sqlx.ExtContext, hold *models.CreditHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.holds[hold.SessionID]; exists {
		return fmt.Errorf("duplicate hold for session %d", hold.SessionID)
	}
	hold.Status = models.HoldStatusHeld
	copy := *hold
	m.holds[hold.SessionID] = &copy
	return nil
}

func (m *memLedgerRepo) GetHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64) (*models.CreditHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[sessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *h
	return &copy, nil
}

func (m *memLedgerRepo) TransitionHold(ctx context.Context, exec sqlx.ExtContext, sessionID int64, from, to models.HoldStatus) (*models.CreditHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[sessionID]
	if !ok || h.Status != from {
		return nil, sql.ErrNoRows
	}
	now := time.Now().UTC()
	h.Status = to
	h.SettledAt = &now
	copy := *h
	return &copy, nil
}

func (m *memLedgerRepo) InsertTransaction(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLedgerRepo) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.CreditTransaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreditTransaction
	for _, e := range m.entries {
		if e.UserID != filter.UserID {
			continue
		}
		if filter.Category != nil && e.Category != *filter.Category {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (m *memLedgerRepo) Totals(ctx context.Context, userID string) (models.Credits, models.Credits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earned, spent models.Credits
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		switch e.Category {
		case models.TransactionEarned:
			earned += e.Delta
		case models.TransactionSpent:
			spent -= e.Delta
		}
	}
	return earned, spent, nil
}

func (m *memLedgerRepo) wallet(userID string) models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[userID]; ok {
		return *w
	}
	return models.Wallet{UserID: userID}
}

func (m *memLedgerRepo) entriesFor(sessionID int64) []models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreditTransaction
	for _, e := range m.entries {
		if e.SessionID != nil && *e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (r *recordingNotifier) Emit(ctx context.Context, items []*models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

func (r *recordingNotifier) ofType(kind models.NotificationType) []*models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.items {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type memAuditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (m *memAuditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func newTestLedger(repo *memLedgerRepo, notifier notificationEmitter) *LedgerService {
	return NewLedgerService(repo, inlineTx{}, &memAuditRecorder{}, notifier, nil, nil, zap.NewNop())
}

func TestLedgerHoldInsufficientBalance(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"student": 100})
	ledger := newTestLedger(repo, nil)

	_, err := ledger.Hold(context.Background(), nil, 1, "student", "teacher", 150)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientBalance))
	assert.Equal(t, models.Credits(0), repo.wallet("student").Reserved)
	assert.Empty(t, repo.holds)
}

func TestLedgerConcurrentHoldsNeverOverdraw(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"student": 500})
	ledger := newTestLedger(repo, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := ledger.Hold(context.Background(), nil, id, "student", "teacher", 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	wallet := repo.wallet("student")
	assert.Equal(t, models.Credits(500), wallet.Reserved)
	assert.Equal(t, models.Credits(0), wallet.Available())
}

func TestLedgerSettleIsIdempotent(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"student": 1000})
	ledger := newTestLedger(repo, nil)
	ctx := context.Background()

	_, err := ledger.Hold(ctx, nil, 7, "student", "teacher", 300)
	require.NoError(t, err)

	require.NoError(t, ledger.Settle(ctx, nil, 7, models.SettlePayout))
	require.NoError(t, ledger.Settle(ctx, nil, 7, models.SettlePayout))

	assert.Len(t, repo.entriesFor(7), 2)
	assert.Equal(t, models.Credits(700), repo.wallet("student").Balance)
	assert.Equal(t, models.Credits(0), repo.wallet("student").Reserved)
	assert.Equal(t, models.Credits(300), repo.wallet("teacher").Balance)

	err = ledger.Settle(ctx, nil, 7, models.SettleRefund)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyResolved))

	err = ledger.Release(ctx, nil, 7)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Len(t, repo.entriesFor(7), 2)
}

func TestLedgerRefundRestoresBalance(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"student": 1000})
	ledger := newTestLedger(repo, nil)
	ctx := context.Background()

	_, err := ledger.Hold(ctx, nil, 3, "student", "teacher", 250)
	require.NoError(t, err)
	require.NoError(t, ledger.Settle(ctx, nil, 3, models.SettleRefund))

	student := repo.wallet("student")
	assert.Equal(t, models.Credits(1000), student.Balance)
	assert.Equal(t, models.Credits(1000), student.Available())
	assert.Equal(t, models.Credits(0), repo.wallet("teacher").Balance)

	entries := repo.entriesFor(3)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TransactionRefund, entries[0].Category)
	assert.Equal(t, models.Credits(0), entries[0].Delta)
}

func TestLedgerReleaseTwiceIsNoop(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"student": 400})
	ledger := newTestLedger(repo, nil)
	ctx := context.Background()

	_, err := ledger.Hold(ctx, nil, 4, "student", "teacher", 400)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, nil, 4))
	require.NoError(t, ledger.Release(ctx, nil, 4))

	assert.Equal(t, models.Credits(0), repo.wallet("student").Reserved)
	assert.Empty(t, repo.entriesFor(4))

	err = ledger.Settle(ctx, nil, 4, models.SettlePayout)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestLedgerGrantBonus(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"member": 0})
	notifier := &recordingNotifier{}
	audit := &memAuditRecorder{}
	ledger := NewLedgerService(repo, inlineTx{}, audit, notifier, nil, nil, zap.NewNop())

	_, err := ledger.GrantBonus(context.Background(), "admin", dto.GrantBonusRequest{UserID: "ghost", Amount: 500, Description: "Welcome"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	entry, err := ledger.GrantBonus(context.Background(), "admin", dto.GrantBonusRequest{UserID: "member", Amount: 500, Description: "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionBonus, entry.Category)
	assert.Equal(t, models.Credits(500), entry.BalanceAfter)
	assert.Len(t, notifier.ofType(models.NotifyCreditsGranted), 1)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionCreditGrant, audit.logs[0].Action)
}

func TestLedgerGrantBonusDefaultsDescription(t *testing.T) {
	repo := newMemLedgerRepo(map[string]models.Credits{"member": 100})
	ledger := newTestLedger(repo, nil)

	entry, err := ledger.GrantBonus(context.Background(), "admin", dto.GrantBonusRequest{UserID: "member", Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, "Bonus credits", entry.Description)
	assert.Equal(t, models.Credits(150), entry.BalanceAfter)
}

func TestLedgerBalanceWithoutWallet(t *testing.T) {
	repo := newMemLedgerRepo(nil)
	ledger := newTestLedger(repo, nil)

	view, err := ledger.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.BalanceView{}, *view)
}
