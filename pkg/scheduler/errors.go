package scheduler

import (
	"fmt"
	"net/http"
)

// Error codes shared by the scheduler and its clients. Extensions add
// their own codes on top of these.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeExtensionUnknown   = "EXTENSION_UNKNOWN"
	CodeExtensionNotLoaded = "EXTENSION_NOT_LOADED"
	CodeOpUnknown          = "OP_UNKNOWN"
	CodeInternal           = "INTERNAL"
)

// APIError is the error envelope carried across the scheduler's HTTP API.
// The Code field is machine-readable and travels verbatim from the
// extension that produced the failure back to the remote caller, so error
// classification survives the round trip.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// StatusCode is the HTTP status the error was (or should be) served
	// with. It is not part of the JSON body.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// NewAPIError builds an APIError with an explicit status code.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: status}
}

// Internal builds a 500 APIError for failures callers cannot act on.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, CodeInternal, message)
}
