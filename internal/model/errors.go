package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrWrongProductType     = errors.New("wrong product type")
	ErrNoVariableAttributes = errors.New("no variation attributes")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrConflict             = errors.New("conflict")
	ErrUpstreamError        = errors.New("upstream error")
	ErrRateLimited          = errors.New("rate limited")
)

// Validation reasons surfaced inline by the matrix dialog.
const (
	ReasonMustDiffer       = "must_differ"
	ReasonInvalidSelection = "invalid_selection"
	ReasonNoChanges        = "no_changes"
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewWrongProductTypeError is returned when the product is not a variable product.
func NewWrongProductTypeError(productType string) *APIError {
	return &APIError{
		Code:       "WRONG_PRODUCT_TYPE",
		Message:    fmt.Sprintf("product type %q does not support variations", productType),
		StatusCode: 422,
		Err:        ErrWrongProductType,
	}
}

// NewNoVariableAttributesError is returned when a variable product has no
// attribute marked for variations.
func NewNoVariableAttributesError() *APIError {
	return &APIError{
		Code:       "NO_VARIATION_ATTRIBUTES",
		Message:    "product has no attributes used for variations",
		StatusCode: 422,
		Err:        ErrNoVariableAttributes,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewSelectionError creates a 400 validation error carrying a machine-readable
// reason so the dialog can pick its inline message.
func NewSelectionError(reason, message string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Reason:     reason,
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewConflictError creates a 409 error for operations rejected by the
// current session state.
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:       "CONFLICT",
		Message:    reason,
		StatusCode: 409,
		Err:        ErrConflict,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// NewUnsupportedVersionError is returned when a client asks for an API
// version this server cannot serve.
func NewUnsupportedVersionError(requested, server string) *APIError {
	return &APIError{
		Code:       "UNSUPPORTED_VERSION",
		Message:    fmt.Sprintf("API version %s is not supported (server speaks %s)", requested, server),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}
