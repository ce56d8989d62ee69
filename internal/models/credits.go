package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Credits is an amount of time credit in hundredths. JSON encodes it as a
// decimal number with two fractional digits.
type Credits int64

// CreditsFromFloat converts a decimal credit value, rounding half away from zero.
func CreditsFromFloat(v float64) Credits {
	return Credits(math.Round(v * 100))
}

// CreditsForDuration prices a session: rate per hour times hours, rounded to
// the nearest hundredth.
func CreditsForDuration(rate Credits, hours float64) Credits {
	return Credits(math.Round(float64(rate) * hours))
}

// Float returns the decimal value.
func (c Credits) Float() float64 {
	return float64(c) / 100
}

// String renders the amount with two fractional digits.
func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON implements json.Marshaler.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts plain numbers and numeric strings.
func (c *Credits) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid credit amount %q", string(data))
	}
	*c = CreditsFromFloat(v)
	return nil
}

// Wallet is the per-user balance row. Reserved is the sum of active holds and
// never exceeds Balance.
type Wallet struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   Credits   `db:"balance" json:"balance"`
	Reserved  Credits   `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Available is the spendable part of the balance.
func (w Wallet) Available() Credits {
	return w.Balance - w.Reserved
}

// BalanceView is the read model for GET /credits/balance.
type BalanceView struct {
	Balance   Credits `json:"balance"`
	Reserved  Credits `json:"reserved"`
	Available Credits `json:"available"`
	Earned    Credits `json:"earned"`
	Spent     Credits `json:"spent"`
}

// HoldStatus tracks a credit reservation. Held is the only non-terminal value.
type HoldStatus string

const (
	HoldStatusHeld     HoldStatus = "held"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusPaidOut  HoldStatus = "paid_out"
	HoldStatusRefunded HoldStatus = "refunded"
)

// CreditHold links reserved credits to the session that reserved them.
type CreditHold struct {
	ID        string     `db:"id" json:"id"`
	SessionID int64      `db:"session_id" json:"session_id"`
	StudentID string     `db:"student_id" json:"student_id"`
	TeacherID string     `db:"teacher_id" json:"teacher_id"`
	Amount    Credits    `db:"amount" json:"amount"`
	Status    HoldStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SettledAt *time.Time `db:"settled_at" json:"settled_at,omitempty"`
}

// SettleOutcome is the terminal direction of a hold.
type SettleOutcome string

const (
	SettlePayout SettleOutcome = "payout"
	SettleRefund SettleOutcome = "refund"
)

// HoldStatus maps the outcome to the hold status it produces.
func (o SettleOutcome) HoldStatus() HoldStatus {
	if o == SettleRefund {
		return HoldStatusRefunded
	}
	return HoldStatusPaidOut
}

// Valid reports whether o is a known outcome.
func (o SettleOutcome) Valid() bool {
	return o == SettlePayout || o == SettleRefund
}

// TransactionCategory classifies ledger entries.
type TransactionCategory string

const (
	TransactionEarned TransactionCategory = "earned"
	TransactionSpent  TransactionCategory = "spent"
	TransactionBonus  TransactionCategory = "bonus"
	TransactionRefund TransactionCategory = "refund"
)

// CreditTransaction is an immutable ledger entry.
type CreditTransaction struct {
	ID           string              `db:"id" json:"id"`
	UserID       string              `db:"user_id" json:"user_id"`
	SessionID    *int64              `db:"session_id" json:"session_id,omitempty"`
	Category     TransactionCategory `db:"category" json:"category"`
	Delta        Credits             `db:"delta" json:"delta"`
	BalanceAfter Credits             `db:"balance_after" json:"balance_after"`
	Description  string              `db:"description" json:"description"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// TransactionFilter narrows ledger history queries.
type TransactionFilter struct {
	UserID   string
	Category *TransactionCategory
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
