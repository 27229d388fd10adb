package domain

import "errors"

// Common domain errors
var (
	ErrInvalidTarget    = errors.New("invalid target URL")
	ErrTargetNotAllowed = errors.New("target host not allowed")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ErrorResponse defines the JSON error model returned by both gateway
// endpoints. The shape is fixed by the external interface: clients branch on
// Success and Code, so neither field may be omitted.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
	// Rewrote is only populated on the oversized-JSON failure path, where
	// clients need to know the payload was delivered unmodified.
	Rewrote *bool `json:"rewrote,omitempty"`
}

// NewErrorResponse builds the standard error body for a status code.
func NewErrorResponse(code int, message string) ErrorResponse {
	return ErrorResponse{Success: false, Error: message, Code: code}
}
