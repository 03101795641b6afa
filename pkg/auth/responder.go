package auth

import (
	"net/http"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/transport"
)

// ErrorResponder turns an authentication failure message into a complete
// 401 response.
type ErrorResponder interface {
	WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string)
}

// JSONErrorResponder writes the standard structured error body:
//
//	{"error":{"type":"unauthorized","message":"..."}}
type JSONErrorResponder struct{}

// WriteUnauthorized writes a 401 response carrying message.
func (JSONErrorResponder) WriteUnauthorized(w http.ResponseWriter, _ *http.Request, message string) {
	transport.WriteErrorResponse(w, api.NewUnauthorizedError(message), http.StatusUnauthorized)
}
