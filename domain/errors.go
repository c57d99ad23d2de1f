package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeInvariant    ErrorCode = "INVARIANT"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is a domain error with the same code and message,
// so detailed errors still match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Detail returns a copy of sentinel carrying extra context.
func Detail(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Err:     fmt.Errorf(format, args...),
	}
}

// Common domain errors.
var (
	ErrInvalidPayload  = NewError(ErrCodeInvalid, "invalid payload")
	ErrInvalidQuantity = NewError(ErrCodeInvalid, "quantity must be positive")
	ErrInvalidPrice    = NewError(ErrCodeInvalid, "price must be positive")

	ErrInsufficientStock  = NewError(ErrCodeInvariant, "insufficient stock")
	ErrEmptyCart          = NewError(ErrCodeInvariant, "cart is empty")
	ErrProductUnavailable = NewError(ErrCodeInvariant, "product is no longer available")
	ErrItemNotInCart      = NewError(ErrCodeInvariant, "product is not in cart")

	ErrDuplicateProduct = NewError(ErrCodeConflict, "product name already exists")
	ErrDuplicate        = NewError(ErrCodeConflict, "duplicate record")

	ErrProductNotFound = NewError(ErrCodeNotFound, "product not found")
	ErrCartNotFound    = NewError(ErrCodeNotFound, "cart not found")
	ErrOrderNotFound   = NewError(ErrCodeNotFound, "order not found")
	ErrNotFound        = NewError(ErrCodeNotFound, "record not found")

	ErrPermissionDenied    = NewError(ErrCodeForbidden, "permission denied")
	ErrResourceUnavailable = NewError(ErrCodeUnavailable, "resource unavailable")
	ErrStorageFailure      = NewError(ErrCodeInternal, "storage failure")

	ErrInvalidState      = NewError(ErrCodeInvalidState, "unit of work is no longer open")
	ErrLockOrderViolated = NewError(ErrCodeInvalidState, "lock order violation")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in err's chain.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ""
}
