// Package transport provides the HTTP middleware chain and error writers
// shared by the gatehouse server.
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID, generated with github.com/google/uuid when absent), and
// structured access logging via log/slog. Middleware compose with Chain;
// the authentication gateway from pkg/auth is one more Middleware placed
// innermost, directly in front of the route multiplexer.
//
// Errors are written in the structured format defined by pkg/api:
//
//	{"error": {"type": "unauthorized", "message": "bad token"}}
package transport
