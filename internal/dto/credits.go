package dto

import "github.com/skillswap/timebank-api/internal/models"

// GrantBonusRequest captures POST /admin/credits/bonus.
type GrantBonusRequest struct {
	UserID      string         `json:"user_id" validate:"required"`
	Amount      models.Credits `json:"amount" validate:"gt=0,lte=10000"`
	Description string         `json:"description" validate:"max=255"`
}

// StatementRequest captures POST /credits/statements.
type StatementRequest struct {
	Format models.StatementFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// TransactionListQuery binds GET /credits/transactions query parameters.
type TransactionListQuery struct {
	Category string `form:"category"`
	From     string `form:"from"`
	To       string `form:"to"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
