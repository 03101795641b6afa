package auth

import (
	"context"
	"maps"
	"slices"
)

// Request property keys written by the gateway on acceptance.
const (
	PropertySiteID            = "siteId"
	PropertyUserInfo          = "userInfo"
	PropertySecrets           = "secrets"
	PropertyAdmin             = "admin"
	PropertyAuthenticatedUser = "authenticatedUser"
)

// Properties is the per-request property store. It lives exactly as long
// as the request that carries it and is read by downstream handlers.
// A Properties is owned by a single request and is not safe for concurrent
// mutation.
type Properties struct {
	values map[string]any
}

// NewProperties returns an empty property store.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key.
func (p *Properties) Set(key string, value any) {
	p.values[key] = value
}

// Len returns the number of stored properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// Keys returns the property names in sorted order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(p.values))
}

// store writes every identity field under its well-known key.
func (id *Identity) store(p *Properties) {
	p.Set(PropertySiteID, id.SiteID)
	p.Set(PropertyUserInfo, id.UserInfo)
	p.Set(PropertySecrets, id.Secrets)
	p.Set(PropertyAdmin, id.Admin)
	p.Set(PropertyAuthenticatedUser, id.AuthenticatedUser)
}

// propertiesKey is a private type for the property store context key.
type propertiesKey struct{}

// WithProperties attaches a property store to the context.
func WithProperties(ctx context.Context, p *Properties) context.Context {
	return context.WithValue(ctx, propertiesKey{}, p)
}

// PropertiesFromContext retrieves the request's property store.
// Returns nil if none is attached.
func PropertiesFromContext(ctx context.Context) *Properties {
	if v, ok := ctx.Value(propertiesKey{}).(*Properties); ok {
		return v
	}
	return nil
}

// SiteIDFromContext returns the authenticated site id.
func SiteIDFromContext(ctx context.Context) (string, bool) {
	v, ok := PropertiesFromContext(ctx).Get(PropertySiteID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// UserInfoFromContext returns the authenticated caller's user info.
func UserInfoFromContext(ctx context.Context) (UserInfo, bool) {
	v, ok := PropertiesFromContext(ctx).Get(PropertyUserInfo)
	if !ok {
		return nil, false
	}
	u, ok := v.(UserInfo)
	return u, ok
}

// SecretsFromContext returns the authenticated site's secrets mapping.
func SecretsFromContext(ctx context.Context) (Secrets, bool) {
	v, ok := PropertiesFromContext(ctx).Get(PropertySecrets)
	if !ok {
		return nil, false
	}
	s, ok := v.(Secrets)
	return s, ok
}

// IsAdmin reports whether the authenticated caller is an administrator.
// Unauthenticated requests are never admin.
func IsAdmin(ctx context.Context) bool {
	v, _ := PropertiesFromContext(ctx).Get(PropertyAdmin)
	b, _ := v.(bool)
	return b
}

// AuthenticatedUserFromContext returns the resolved authenticated user.
// Returns nil if the request was not authenticated.
func AuthenticatedUserFromContext(ctx context.Context) *User {
	v, _ := PropertiesFromContext(ctx).Get(PropertyAuthenticatedUser)
	u, _ := v.(*User)
	return u
}

// IdentityFromContext reassembles the identity context from the request's
// properties. Returns nil unless all identity properties are present.
func IdentityFromContext(ctx context.Context) *Identity {
	site, ok := SiteIDFromContext(ctx)
	if !ok {
		return nil
	}
	info, ok := UserInfoFromContext(ctx)
	if !ok {
		return nil
	}
	secrets, ok := SecretsFromContext(ctx)
	if !ok {
		return nil
	}
	user := AuthenticatedUserFromContext(ctx)
	if user == nil {
		return nil
	}
	return &Identity{
		SiteID:            site,
		UserInfo:          info,
		Secrets:           secrets,
		Admin:             IsAdmin(ctx),
		AuthenticatedUser: user,
	}
}
