package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Payment admission and schedule errors. Codes double as reason codes surfaced to clients.
var (
	ErrInvalidAmount          = New("INVALID_AMOUNT", http.StatusBadRequest, "amount must be greater than zero")
	ErrMissingRequiredField   = New("MISSING_REQUIRED_FIELD", http.StatusBadRequest, "reference number and proof of payment are required for non-cash methods")
	ErrMethodDisabled         = New("METHOD_DISABLED", http.StatusBadRequest, "payment method is disabled")
	ErrInvalidSchedule        = New("INVALID_SCHEDULE", http.StatusBadRequest, "invalid installment schedule")
	ErrAmountExceedsBalance   = New("AMOUNT_EXCEEDS_BALANCE", http.StatusConflict, "amount exceeds outstanding balance")
	ErrAlreadySettledByCash   = New("ALREADY_SETTLED_BY_CASH", http.StatusConflict, "installment already settled by a cash payment")
	ErrDuplicateReference     = New("DUPLICATE_REFERENCE", http.StatusConflict, "reference number already used for this installment")
	ErrPaymentAlreadyRecorded = New("PAYMENT_ALREADY_RECORDED", http.StatusConflict, "a payment is already recorded for this installment")
	ErrPlanCancelled          = New("PLAN_CANCELLED", http.StatusConflict, "payment plan is cancelled")
	ErrPlanExists             = New("PLAN_EXISTS", http.StatusConflict, "payment plan already exists for payer and billing period")
	ErrScheduleConflict       = New("SCHEDULE_CONFLICT", http.StatusConflict, "installment schedule edit rejected")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// WithDetails returns a copy of the error carrying structured details.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

// Is matches errors by code so cloned errors compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
