// Package apperrors defines the error taxonomy shared by sync, detection and merge code.
package apperrors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/pkg/errors"
)

// TransientProviderError is a network, timeout or rate-limit failure talking to a provider.
// Callers retry it with bounded backoff.
type TransientProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// MappingConflictError means the mapping store holds a contradictory mapping for an external record.
type MappingConflictError struct {
	Provider   string
	EntityType string
	ExternalID string
	Message    string
}

func (e *MappingConflictError) Error() string {
	return fmt.Sprintf("mapping conflict for %s/%s/%s: %s", e.Provider, e.EntityType, e.ExternalID, e.Message)
}

// MergeTargetNotFoundError names an id that is missing or owned by another tenant.
type MergeTargetNotFoundError struct {
	ID string
}

func (e *MergeTargetNotFoundError) Error() string {
	return fmt.Sprintf("merge target %s not found", e.ID)
}

// ValidationError is a malformed inbound payload or request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsTransient(err error) bool {
	var target *TransientProviderError
	return errors.As(err, &target)
}

func IsMappingConflict(err error) bool {
	var target *MappingConflictError
	return errors.As(err, &target)
}

func IsMergeTargetNotFound(err error) bool {
	var target *MergeTargetNotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ToHTTPError converts a taxonomy error into a status-carrying error for the API layer. Other
// errors are returned unchanged.
func ToHTTPError(err error) error {
	if err == nil || httperror.IsHTTPError(err) {
		return err
	}

	var (
		notFound   *MergeTargetNotFoundError
		validation *ValidationError
		conflict   *MappingConflictError
		transient  *TransientProviderError
	)
	switch {
	case errors.As(err, &notFound):
		return httperror.NewHTTPError(http.StatusNotFound, notFound.Error()).AddMetaValue("id", notFound.ID)
	case errors.As(err, &validation):
		return httperror.NewHTTPError(http.StatusBadRequest, validation.Error()).AddMetaValue("field", validation.Field)
	case errors.As(err, &conflict):
		return httperror.NewHTTPError(http.StatusConflict, conflict.Error()).AddMetaValue("external_id", conflict.ExternalID)
	case errors.As(err, &transient):
		return httperror.NewHTTPError(http.StatusBadGateway, transient.Error()).AddMetaValue("provider", transient.Provider)
	}
	return err
}
