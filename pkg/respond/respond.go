// Package respond implements the versioned response envelope used by every
// patient-facing endpoint. Success payloads are wrapped as
// {success, data, schemaVersion} and failures as {success, error,
// correlationId}, where the correlation id is taken from the request-id
// middleware so support can trace a failed call end to end.
package respond

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SchemaVersion identifies the envelope layout. Bump only with a breaking
// change to the envelope itself, not to individual payloads.
const SchemaVersion = "v1"

// Error codes returned in the error envelope.
const (
	CodeMissingParameters   = "MISSING_PARAMETERS"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeConflict            = "CONFLICT"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Envelope is the success wrapper.
type Envelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data"`
	SchemaVersion string      `json:"schemaVersion"`
}

// ErrorBody describes a single failure.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorEnvelope is the failure wrapper.
type ErrorEnvelope struct {
	Success       bool      `json:"success"`
	Error         ErrorBody `json:"error"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// OK writes a 200 success envelope.
func OK(c echo.Context, data interface{}) error {
	return JSON(c, http.StatusOK, data)
}

// Created writes a 201 success envelope.
func Created(c echo.Context, data interface{}) error {
	return JSON(c, http.StatusCreated, data)
}

// JSON writes a success envelope with the given status.
func JSON(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Success: true, Data: data, SchemaVersion: SchemaVersion})
}

// Error writes a failure envelope. The correlation id is read from the
// request_id set by the RequestID middleware; absent that (e.g. in isolated
// handler tests) the field is omitted.
func Error(c echo.Context, status int, code, message string, details interface{}) error {
	rid, _ := c.Get("request_id").(string)
	return c.JSON(status, ErrorEnvelope{
		Success:       false,
		Error:         ErrorBody{Code: code, Message: message, Details: details},
		CorrelationID: rid,
	})
}
