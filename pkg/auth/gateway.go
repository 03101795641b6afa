package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/debug"
	"github.com/rhuss/gatehouse/pkg/observability"
	"github.com/rhuss/gatehouse/pkg/transport"
)

// Gateway authenticates every inbound request before route dispatch.
//
// Requests using OPTIONS or TRACE, and requests for exactly the version
// discovery path, pass through untouched. Every other request is handed to
// the Authenticator once. Accepted requests get the derived Identity written
// into their property store; rejected requests are answered with 401 and
// never reach the next handler.
//
// A Gateway holds no per-request state and is safe for concurrent use.
type Gateway struct {
	authn       Authenticator
	responder   ErrorResponder
	limiter     RateLimiter
	logger      *slog.Logger
	versionPath string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithResponder replaces the default JSON error responder.
func WithResponder(r ErrorResponder) Option {
	return func(g *Gateway) { g.responder = r }
}

// WithRateLimiter enables rate limiting of accepted requests.
func WithRateLimiter(l RateLimiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithVersionPath overrides the unauthenticated version discovery path.
// The gateway contract bypasses exactly /api/version; any other path
// departs from it, and /api/version then requires authentication.
func WithVersionPath(path string) Option {
	return func(g *Gateway) { g.versionPath = path }
}

// NewGateway creates a gateway around the given authenticator.
func NewGateway(authn Authenticator, opts ...Option) *Gateway {
	g := &Gateway{
		authn:       authn,
		responder:   JSONErrorResponder{},
		logger:      slog.Default(),
		versionPath: api.VersionPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldBypass reports whether r skips authentication: CORS preflight and
// TRACE requests, and the exact version discovery path for any method.
func (g *Gateway) ShouldBypass(r *http.Request) bool {
	switch r.Method {
	case http.MethodOptions, http.MethodTrace:
		return true
	}
	return r.URL.Path == g.versionPath
}

// Intercept runs the gateway for one request. It returns the request to
// dispatch and true when processing should continue. When it returns
// false a response has already been written and the request is finished.
//
// On acceptance the returned request carries a property store (the one
// already attached to r, or a new one) holding all identity properties.
func (g *Gateway) Intercept(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if g.ShouldBypass(r) {
		observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeBypassed).Inc()
		debug.Log(debug.Auth, "authentication bypassed", "method", r.Method, "path", r.URL.Path)
		return r, true
	}

	v, err := g.authenticate(r)
	if err != nil {
		observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeError).Inc()
		g.logger.Error("authenticator failed",
			"path", r.URL.Path,
			"request_id", transport.RequestIDFromContext(r.Context()),
			"error", err,
		)
		transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
		return nil, false
	}

	if !v.Accepted() {
		msg := v.ErrorMessage
		if msg == "" {
			msg = ErrUnauthenticated.Error()
		}
		g.reject(w, r, msg, v.Decision.String())
		return nil, false
	}

	id, err := NewIdentity(v)
	if err != nil {
		g.logger.Error("authenticator returned an invalid verdict", "path", r.URL.Path, "error", err)
		g.reject(w, r, ErrUnauthenticated.Error(), err.Error())
		return nil, false
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(r.Context(), id); err != nil {
			g.logger.Warn("rate limit exceeded", "site", id.SiteID, "path", r.URL.Path)
			observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeRateLimited).Inc()
			observability.RateLimitRejectedTotal.WithLabelValues(id.SiteID).Inc()
			transport.WriteAPIError(w, api.NewTooManyRequestsError(err.Error()))
			return nil, false
		}
	}

	props := PropertiesFromContext(r.Context())
	if props == nil {
		props = NewProperties()
		r = r.WithContext(WithProperties(r.Context(), props))
	}
	id.store(props)

	observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeAccepted).Inc()
	debug.Log(debug.Auth, "authentication succeeded",
		"site", id.SiteID,
		"admin", id.Admin,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	return r, true
}

// Middleware runs Intercept in front of next. Mount it outside the route
// multiplexer so that it runs before route matching.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := g.Intercept(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate calls the authenticator, converting a panic into an error.
// http.ErrAbortHandler is re-raised so net/http aborts the connection.
func (g *Gateway) authenticate(r *http.Request) (v Verdict, err error) {
	start := time.Now()
	defer func() {
		observability.AuthenticatorDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			err = fmt.Errorf("authenticator panic: %v", p)
		}
	}()
	return g.authn.Authenticate(r.Context(), r), nil
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, message, reason string) {
	observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeRejected).Inc()
	g.logger.Warn("authentication failed",
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"request_id", transport.RequestIDFromContext(r.Context()),
		"reason", reason,
		"message", message,
	)
	g.responder.WriteUnauthorized(w, r, message)
}
