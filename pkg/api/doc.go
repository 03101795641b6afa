// Package api defines the wire types of the gatehouse HTTP API.
//
// It provides the structured error format shared by every endpoint
// ([APIError] wrapped in [ErrorResponse]) and the response bodies of the
// built-in endpoints (version discovery, identity introspection).
//
// The package has zero external dependencies and performs no I/O.
package api
