package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision represents the three possible outcomes of authentication.
type Decision int

const (
	// Yes means credentials are valid. The chain stops and the verdict's
	// identity fields are used.
	Yes Decision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// String returns a lowercase label for the decision, used in logs and metrics.
func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// AnonymousSiteID is the site assigned to requests accepted without
// credentials (anonymous authenticator, chain default of Yes).
const AnonymousSiteID = "0"

// Verdict carries the outcome of an authentication attempt.
//
// When Decision is Yes, SiteID is required and the remaining identity
// fields are optional: a nil UserInfo, Secrets or AuthenticatedUser means
// "not supplied" and is replaced by a default when the Identity is derived.
// When Decision is No, only ErrorMessage is meaningful.
type Verdict struct {
	Decision Decision

	SiteID            string
	UserInfo          UserInfo
	Secrets           Secrets
	Admin             bool
	AuthenticatedUser *User

	// ErrorMessage is the human-readable rejection reason. It is sent to
	// the client verbatim.
	ErrorMessage string
}

// Accepted reports whether the verdict authenticates the request.
func (v Verdict) Accepted() bool {
	return v.Decision == Yes
}

// AcceptOption sets an optional field of an accepted verdict.
type AcceptOption func(*Verdict)

// WithUserInfo attaches user attributes to the verdict.
func WithUserInfo(info UserInfo) AcceptOption {
	return func(v *Verdict) { v.UserInfo = info }
}

// WithSecrets attaches a secrets mapping to the verdict.
func WithSecrets(s Secrets) AcceptOption {
	return func(v *Verdict) { v.Secrets = s }
}

// WithAdmin marks the caller as an administrator.
func WithAdmin(admin bool) AcceptOption {
	return func(v *Verdict) { v.Admin = admin }
}

// WithAuthenticatedUser supplies a pre-built user. It is used as-is, even
// when its site or user info differ from the verdict's.
func WithAuthenticatedUser(u *User) AcceptOption {
	return func(v *Verdict) { v.AuthenticatedUser = u }
}

// Accept builds an accepted verdict for the given site.
func Accept(siteID string, opts ...AcceptOption) Verdict {
	v := Verdict{Decision: Yes, SiteID: siteID}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// Reject builds a rejected verdict with the given reason.
func Reject(message string) Verdict {
	return Verdict{Decision: No, ErrorMessage: message}
}

// Pass builds an abstaining verdict.
func Pass() Verdict {
	return Verdict{Decision: Abstain}
}

// Authenticator examines request credentials and returns a verdict.
//
// Authenticate is called synchronously by the gateway and may block (for
// example on a database lookup). Implementations must be safe for
// concurrent use.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Verdict
}

// AuthenticatorFunc adapts an ordinary function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) Verdict

// Authenticate calls f(ctx, r).
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) Verdict {
	return f(ctx, r)
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrMissingSiteID   = errors.New("accepted verdict has no site id")
	ErrNotAccepted     = errors.New("verdict is not accepted")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order using three-outcome voting.
type Chain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes for development (anonymous access) or No for production.
	DefaultDecision Decision

	// DefaultSiteID is the site used when DefaultDecision is Yes.
	// Defaults to AnonymousSiteID.
	DefaultSiteID string
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, returns the default decision.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Verdict {
	for _, authn := range c.Authenticators {
		v := authn.Authenticate(ctx, r)
		if v.Decision != Abstain {
			return v
		}
	}

	// All abstained: use default.
	if c.DefaultDecision == Yes {
		site := c.DefaultSiteID
		if site == "" {
			site = AnonymousSiteID
		}
		return Accept(site)
	}

	return Reject(ErrUnauthenticated.Error())
}
