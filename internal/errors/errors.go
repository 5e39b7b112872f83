package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidArgument ErrorCode = "invalid_argument"
	NotFound        ErrorCode = "not_found"
	UpstreamFeed    ErrorCode = "upstream_feed"
	AmbiguousMatch  ErrorCode = "ambiguous_match"
	InternalError   ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so errors.Is works
// against the predefined values even after WithDetails.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy; predefined errors are shared.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case UpstreamFeed:
		return http.StatusBadGateway
	case AmbiguousMatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the code of an AppError anywhere in err's chain.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return InternalError
}

// Predefined errors for common cases
var (
	ErrInvoiceNotFound     = NewAppError(NotFound, "invoice not found")
	ErrPaymentNotFound     = NewAppError(NotFound, "payment not found")
	ErrInvalidAmount       = NewAppError(InvalidArgument, "amount must be positive")
	ErrEmptyAddress        = NewAppError(InvalidArgument, "address is required")
	ErrUnsupportedCurrency = NewAppError(InvalidArgument, "unsupported currency")
	ErrInvalidAddress      = NewAppError(InvalidArgument, "malformed address")
	ErrFeedClosed          = NewAppError(UpstreamFeed, "transaction feed terminated")
)
