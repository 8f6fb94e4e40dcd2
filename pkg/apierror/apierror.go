package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error is a classified operation failure. Services return it for every
// refusal; transports map Status onto HTTP or acknowledgment payloads.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "validation_failed", message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "not_found", message)
}

// Unavailable is the uniform outward shape for store failures. The original
// diagnostic stays in the logs, never in the response.
func Unavailable(operation string) *Error {
	return New(http.StatusInternalServerError, "service_unavailable", operation+" is currently unavailable")
}

// From returns err as a classified error, wrapping anything unclassified
// into a 500 so callers never leak raw diagnostics.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return New(http.StatusInternalServerError, "internal_error", "internal error")
}

type response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Code: code, Message: message})
}

// WriteError writes err in the uniform JSON error shape.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := From(err)
	Write(w, apiErr.Status, apiErr.Code, apiErr.Message)
}
