// Package apperr defines the error kinds shared by the rule modules and maps
// them onto HTTP responses at the API boundary.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error kinds returned by the appointment, billing and inventory services.
// Services wrap these with context; callers match with errors.Is.
var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrAppointmentNotActive = errors.New("appointment is not active")
	ErrBillingError         = errors.New("billing error")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrAlreadyPaid          = errors.New("bill is already paid")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// HTTPStatus returns the status code the API uses for err.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyPaid),
		errors.Is(err, ErrAppointmentNotActive),
		errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidSchedule),
		errors.Is(err, ErrBillingError),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the short name of the error kind wrapped by err, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInvalidSchedule, "invalid_schedule"},
	{ErrAppointmentNotActive, "appointment_not_active"},
	{ErrBillingError, "billing_error"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrAlreadyPaid, "already_paid"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
}

// ToHTTP converts a service error into an echo HTTP error. Internal errors
// are not echoed back to the client.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, map[string]string{
		"error":   Kind(err),
		"message": err.Error(),
	})
}
