package error

import (
	"errors"
	"net/http"

	"github.com/deskora/deskora/internal/aggregate"
	"github.com/deskora/deskora/internal/upstream"
	"github.com/deskora/deskora/internal/usecase"
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: "BAD_REQUEST", Message: "Bad request", Status: http.StatusBadRequest}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error", Status: http.StatusInternalServerError}
)

func NewBadRequest(message string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Message: message, Status: http.StatusBadRequest}
}

func NewBadGateway(message string) *AppError {
	return &AppError{Code: "UPSTREAM_ERROR", Message: message, Status: http.StatusBadGateway}
}

func NewUnavailable(message string) *AppError {
	return &AppError{Code: "DEGRADED", Message: message, Status: http.StatusServiceUnavailable}
}

func NewInternalServer(message string) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: message, Status: http.StatusInternalServerError}
}

// MapError translates core error types into HTTP-shaped application errors.
// Upstream trouble is a gateway problem, a tripped breaker or degraded
// aggregate means try again later, and bad input is the caller's fault.
func MapError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, usecase.ErrBadWindow), errors.Is(err, usecase.ErrBadLevel):
		return NewBadRequest(err.Error())
	}

	var degraded *aggregate.DegradedError
	if errors.As(err, &degraded) {
		return NewUnavailable(degraded.Error())
	}

	var circuitOpen *upstream.CircuitOpenError
	if errors.As(err, &circuitOpen) {
		return NewUnavailable(circuitOpen.Error())
	}

	var authErr *upstream.AuthError
	if errors.As(err, &authErr) {
		return NewBadGateway("upstream rejected our credentials")
	}

	var transient *upstream.TransientError
	if errors.As(err, &transient) {
		return NewBadGateway(transient.Error())
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return NewBadGateway(apiErr.Error())
	}

	return NewInternalServer(err.Error())
}
