package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

// txRunner executes fn inside one storage transaction. fn receives the
// transaction handle that repositories must use for every statement.
type txRunner interface {
	WithTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

// normalizeTxError keeps typed domain errors, maps deadline and cancellation
// to RETRYABLE and wraps everything else as INTERNAL_ERROR with message.
func normalizeTxError(ctx context.Context, err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return appErrors.Wrap(err, appErrors.ErrRetryable.Code, appErrors.ErrRetryable.Status, appErrors.ErrRetryable.Message)
	}
	return appErrors.Internal(err, message)
}
