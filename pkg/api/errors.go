package api

import "fmt"

// ErrorType is the category of an API error. Each type maps to exactly one
// HTTP status.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeServerError     ErrorType = "server_error"
)

// Machine-readable codes carried alongside some error types.
const (
	CodeAdminRequired     = "admin_required"
	CodeRateLimitExceeded = "rate_limit_exceeded"
)

// APIError is the error object written to clients.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		s += " [" + e.Code + "]"
	}
	if e.Param != "" {
		s += " (param: " + e.Param + ")"
	}
	return s
}

// WithCode returns a copy of e carrying code.
func (e *APIError) WithCode(code string) *APIError {
	c := *e
	c.Code = code
	return &c
}

// ErrorResponse is the top-level error body: {"error": {...}}.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError reports a bad request parameter.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: message}
}

// NewUnauthorizedError reports a failed authentication. The message is the
// authenticator's, unchanged.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{Type: ErrorTypeUnauthorized, Message: message}
}

// NewForbiddenError reports an authenticated caller lacking a privilege.
func NewForbiddenError(message string) *APIError {
	return &APIError{Type: ErrorTypeForbidden, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

func NewTooManyRequestsError(message string) *APIError {
	return &APIError{Type: ErrorTypeTooManyRequests, Code: CodeRateLimitExceeded, Message: message}
}

func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: message}
}
