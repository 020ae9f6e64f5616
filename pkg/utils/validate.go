package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/apperrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode converts a loosely typed payload into T and validates it. Failures are ValidationErrors.
func Decode[T any](payload any) (T, error) {
	var result T

	if typed, ok := payload.(T); ok {
		result = typed
	} else {
		b, err := json.Marshal(payload)
		if err != nil {
			return result, apperrors.NewValidationError("", "payload is not serializable: %v", err)
		}
		if err := json.Unmarshal(b, &result); err != nil {
			return result, apperrors.NewValidationError("", "payload is not a valid %T: %v", result, err)
		}
	}

	if err := Validate(result); err != nil {
		return result, err
	}
	return result, nil
}

// Validate runs struct validation tags on value.
func Validate(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return apperrors.NewValidationError("", "%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("rule '%s' failed for '%s'", fe.Tag(), fe.Field()))
	}
	return &apperrors.ValidationError{Field: verrs[0].Field(), Message: strings.Join(msgs, "; ")}
}
