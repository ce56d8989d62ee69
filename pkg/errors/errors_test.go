package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneStillMatchesKind(t *testing.T) {
	err := Clone(ErrInvalidTransition, "session already approved")
	wrapped := fmt.Errorf("approve: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInvalidTransition))
	assert.False(t, errors.Is(wrapped, ErrAlreadyResolved))
	assert.Equal(t, "session already approved", FromError(wrapped).Message)
}

func TestFromErrorMapsTimeoutsToRetryable(t *testing.T) {
	appErr := FromError(fmt.Errorf("commit: %w", context.DeadlineExceeded))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrRetryable.Code, appErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}
