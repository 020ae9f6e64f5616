package utils

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/apperrors"
)

// BindRequest binds and validates a request body, returning 400 on failure.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, apperrors.ToHTTPError(apperrors.NewValidationError("", "invalid request body"))
	}

	if err := Validate(v); err != nil {
		return v, apperrors.ToHTTPError(err)
	}

	return v, nil
}
