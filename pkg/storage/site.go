package storage

import "context"

// siteKey is a private type for the site scope context key.
type siteKey struct{}

// WithSite scopes store operations to a single site.
func WithSite(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, siteKey{}, siteID)
}

// SiteFromContext returns the site the context is scoped to.
// Returns an empty string if the context is unscoped (all sites visible).
func SiteFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(siteKey{}).(string); ok {
		return v
	}
	return ""
}

// Visible reports whether a key of siteID may be seen through ctx.
func Visible(ctx context.Context, siteID string) bool {
	scope := SiteFromContext(ctx)
	return scope == "" || scope == siteID
}
