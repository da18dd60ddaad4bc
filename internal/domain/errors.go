package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code and message so that wrapped copies
// produced by WithCause still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of the error carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: err}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first DomainError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeTenantViolation   = "TENANT_VIOLATION"
)

// Validation errors
var (
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidSourceType      = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidSessionState    = NewDomainError(ErrCodeValidation, "invalid session state")
	ErrUnsupportedDocument    = NewDomainError(ErrCodeValidation, "unsupported document type")
	ErrDocumentTooLarge       = NewDomainError(ErrCodeValidation, "document exceeds maximum upload size")
	ErrNothingToIngest        = NewDomainError(ErrCodeValidation, "nothing to ingest")
	ErrMalformedWebhook       = NewDomainError(ErrCodeValidation, "malformed webhook payload")
	ErrUnknownWebhookEvent    = NewDomainError(ErrCodeValidation, "unknown webhook event")
	ErrInvalidRetrievalQuery  = NewDomainError(ErrCodeValidation, "invalid retrieval query")
	ErrInvalidURL             = NewDomainError(ErrCodeValidation, "invalid url")
	ErrEmbeddingDimension     = NewDomainError(ErrCodeValidation, "embedding has wrong dimension")
	ErrInvalidDurationSeconds = NewDomainError(ErrCodeValidation, "duration_seconds must not be negative")
)

// Not found errors
var (
	ErrCompanyNotFound = NewDomainError(ErrCodeNotFound, "company not found")
	ErrAPIKeyNotFound  = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrPersonaNotFound = NewDomainError(ErrCodeNotFound, "persona not found")
	ErrNoPersonas      = NewDomainError(ErrCodeNotFound, "no personas found for this company")
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "session not found")
	ErrSourceNotFound  = NewDomainError(ErrCodeNotFound, "knowledge source not found")
	ErrEventNotFound   = NewDomainError(ErrCodeNotFound, "webhook event not found")
)

// Already exists errors
var (
	ErrCompanyAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "company already exists")
	ErrAPIKeyAlreadyExists  = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked        = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey        = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrInvalidWebhookSecret = NewDomainError(ErrCodeUnauthorized, "invalid webhook secret")
)

// Operation errors
var (
	ErrInvalidTransition  = NewDomainError(ErrCodeInvalidTransition, "invalid session state transition")
	ErrCallCreationFailed = NewDomainError(ErrCodeInternalError, "external call could not be created")
	ErrEmbeddingFailed    = NewDomainError(ErrCodeInternalError, "embedding failed")
	ErrStorageOperation   = NewDomainError(ErrCodeInternalError, "storage operation failed")
)

// ErrTenantViolation marks a read or write that crossed a tenant boundary.
// It indicates a programming error and is never recovered from.
var ErrTenantViolation = NewDomainError(ErrCodeTenantViolation, "tenant isolation violated")
