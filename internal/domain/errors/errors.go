package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCancelConflict      = errors.New("transaction is in a terminal state and cannot be cancelled")
	ErrGasCeilingExceeded  = errors.New("gas exceeds configured ceiling")
	ErrNonceSeedFailed     = errors.New("failed to seed nonce from chain")
	ErrBackfillRangeTooBig = errors.New("backfill range exceeds maximum")
	ErrSignerUnavailable   = errors.New("signer unavailable for wallet")
)

// AppError represents application error with HTTP status
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidInput)
}

// Conflict reports a rejected state transition (e.g. cancelling a mined
// transaction). No state is mutated when it is returned.
func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrCancelConflict)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "internal server error", err)
}
