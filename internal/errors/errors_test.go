package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ErrInvoiceNotFound.WithDetails("id=abc")
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))
	assert.True(t, errors.Is(err, ErrPaymentNotFound), "same code, same class")
	assert.False(t, errors.Is(err, ErrInvalidAmount))

	wrapped := fmt.Errorf("lookup: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvoiceNotFound))
	assert.Equal(t, NotFound, CodeOf(wrapped))
}

func TestWithDetailsDoesNotMutateShared(t *testing.T) {
	_ = ErrInvalidAmount.WithDetails("amount=-1")
	assert.Empty(t, ErrInvalidAmount.Details)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ErrEmptyAddress.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ErrPaymentNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, NewAppError(InternalError, "x").HTTPStatus())
	assert.Equal(t, InternalError, CodeOf(errors.New("plain")))
}
