package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", &MergeTargetNotFoundError{ID: "x"}, http.StatusNotFound},
		{"validation", NewValidationError("email", "invalid"), http.StatusBadRequest},
		{"conflict", &MappingConflictError{Provider: "chatwoot", ExternalID: "1"}, http.StatusConflict},
		{"wrapped transient", fmt.Errorf("pull: %w", &TransientProviderError{Provider: "rdstation", StatusCode: 503}), http.StatusBadGateway},
		{"already http", httperror.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ToHTTPError(tt.err)
			assert.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, tt.code, httperror.GetStatusCode(err))
		})
	}
}

func TestClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("record 7: %w", &ValidationError{Message: "bad"})
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.True(t, IsMappingConflict(&MappingConflictError{}))
	assert.True(t, IsMergeTargetNotFound(fmt.Errorf("x: %w", &MergeTargetNotFoundError{ID: "1"})))
}

func TestToHTTPErrorPassesThroughUnknown(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, err, ToHTTPError(err))
	assert.Nil(t, ToHTTPError(nil))
}
