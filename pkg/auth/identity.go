package auth

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// UserInfo is a structured configuration object describing the caller.
// A nil UserInfo reads as empty; NewUserInfo returns a writable one.
type UserInfo map[string]any

// NewUserInfo returns an empty, non-nil UserInfo.
func NewUserInfo() UserInfo {
	return UserInfo{}
}

// Get returns the raw value stored under key.
func (u UserInfo) Get(key string) (any, bool) {
	v, ok := u[key]
	return v, ok
}

// GetString returns the value under key if it is a string, or "".
func (u UserInfo) GetString(key string) string {
	s, _ := u[key].(string)
	return s
}

// GetBool returns the value under key if it is a bool, or false.
func (u UserInfo) GetBool(key string) bool {
	b, _ := u[key].(bool)
	return b
}

// Set stores value under key. The receiver must be non-nil.
func (u UserInfo) Set(key string, value any) {
	u[key] = value
}

// Keys returns the attribute names in sorted order.
func (u UserInfo) Keys() []string {
	return slices.Sorted(maps.Keys(u))
}

// Clone returns a shallow copy. Cloning nil yields an empty UserInfo.
func (u UserInfo) Clone() UserInfo {
	c := make(UserInfo, len(u))
	maps.Copy(c, u)
	return c
}

// Secrets is a lazily evaluated mapping from secret key to secret value.
// Calling it returns the mapping; a nil Secrets reads as empty.
type Secrets func() map[string]string

// Get returns the secret stored under key.
func (s Secrets) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s()[key]
	return v, ok
}

// Keys returns the secret names in sorted order.
func (s Secrets) Keys() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s()))
}

// NoSecrets returns the empty mapping.
func NoSecrets() Secrets {
	return func() map[string]string { return map[string]string{} }
}

// StaticSecrets returns a mapping backed by a copy of m.
func StaticSecrets(m map[string]string) Secrets {
	c := maps.Clone(m)
	if c == nil {
		c = map[string]string{}
	}
	return func() map[string]string { return c }
}

// LazySecrets defers load until the mapping is first read, then memoizes
// the result. A failed load is logged and reads as the empty mapping.
func LazySecrets(load func() (map[string]string, error)) Secrets {
	return sync.OnceValue(func() map[string]string {
		m, err := load()
		if err != nil {
			slog.Warn("loading secrets failed", "error", err)
			return map[string]string{}
		}
		if m == nil {
			return map[string]string{}
		}
		return m
	})
}

// User is the resolved identity of an authenticated caller.
type User struct {
	SiteID   string
	UserInfo UserInfo
}

// NewUser builds a User from a site and user attributes.
func NewUser(siteID string, info UserInfo) *User {
	return &User{SiteID: siteID, UserInfo: info}
}

// Identity is the context derived from an accepted verdict and attached to
// the request. All fields are populated; none of them is nil.
type Identity struct {
	SiteID            string
	UserInfo          UserInfo
	Secrets           Secrets
	Admin             bool
	AuthenticatedUser *User
}

// NewIdentity derives the identity context from an accepted verdict.
//
// Missing user info becomes an empty UserInfo, missing secrets become the
// empty mapping, and a missing authenticated user is built from the
// verdict's site and user info. Defaulted user info is not shared: the
// derived user holds a separate empty map. An explicit authenticated user
// is kept as-is.
func NewIdentity(v Verdict) (*Identity, error) {
	if !v.Accepted() {
		return nil, ErrNotAccepted
	}
	if v.SiteID == "" {
		return nil, ErrMissingSiteID
	}

	info := v.UserInfo
	userInfo := info
	if info == nil {
		// The property and the derived user each get their own empty map.
		info, userInfo = NewUserInfo(), NewUserInfo()
	}

	secrets := v.Secrets
	if secrets == nil {
		secrets = NoSecrets()
	}

	user := v.AuthenticatedUser
	if user == nil {
		user = NewUser(v.SiteID, userInfo)
	}

	return &Identity{
		SiteID:            v.SiteID,
		UserInfo:          info,
		Secrets:           secrets,
		Admin:             v.Admin,
		AuthenticatedUser: user,
	}, nil
}
