package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeGovernance ErrorType = "governance"
)

// AppError represents a structured application error.
//
// Expected compliance denials are NOT errors: rule evaluation returns them
// as values (ComplianceResult, RuleEngineResult). AppError is reserved for
// programmer and infrastructure faults - malformed bundles, unavailable
// stores, disallowed rule expressions.
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeBusiness,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeConflict,
		Code:      "CONFLICT",
		Message:   message,
		Retryable: false,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      "INTERNAL_ERROR",
		Message:   message,
		Retryable: true,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeExternal,
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("%s service error: %s", service, message),
		Retryable: true,
		Details:   map[string]interface{}{"service": service},
	}
}

// NewSecurityError marks a rule expression that failed the operator
// allowlist. The offending rule is skipped, never evaluated.
func NewSecurityError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeSecurity,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// NewGovernanceError marks a lifecycle or signoff violation, such as an
// attempt to activate an unapproved content bundle.
func NewGovernanceError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeGovernance,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// Predefined common errors
var (
	ErrInvalidInput     = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrRuleNotFound     = NewNotFoundError("clinical rule")
	ErrBundleNotLoaded  = NewBusinessError("BUNDLE_NOT_LOADED", "No content bundle has been loaded")
	ErrSignoffNotFound  = NewNotFoundError("signoff record")
	ErrSessionNotFound  = NewNotFoundError("interaction session")
	ErrBundleDeprecated = NewGovernanceError("BUNDLE_DEPRECATED", "Content bundle lifecycle is terminal")
	ErrDuplicateSignoff = NewConflictError("An active signoff already exists for this bundle version")
	ErrStoreUnavailable = NewInternalError("Backing store is unavailable")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
