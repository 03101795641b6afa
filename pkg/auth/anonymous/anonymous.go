// Package anonymous provides an authenticator that accepts all requests
// as a fixed site. Used for development and as a fallback voter in the
// auth chain.
package anonymous

import (
	"context"
	"net/http"

	"github.com/rhuss/gatehouse/pkg/auth"
)

// Authenticator always returns Yes for the configured site.
type Authenticator struct {
	// SiteID is the site assigned to every request. Default: auth.AnonymousSiteID.
	SiteID string

	// Admin marks anonymous callers as administrators. Only sensible for
	// local development.
	Admin bool

	// UserInfo is copied into each verdict. Nil means no user info.
	UserInfo auth.UserInfo
}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Verdict {
	site := a.SiteID
	if site == "" {
		site = auth.AnonymousSiteID
	}

	opts := []auth.AcceptOption{auth.WithAdmin(a.Admin)}
	if a.UserInfo != nil {
		// Each request gets its own copy so handlers cannot leak writes.
		opts = append(opts, auth.WithUserInfo(a.UserInfo.Clone()))
	}
	return auth.Accept(site, opts...)
}
