// Package apikey provides an API key authenticator that validates
// bearer tokens against a static key store using SHA-256 hashing
// and constant-time comparison.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/gatehouse/pkg/auth"
)

// Error messages returned to clients.
const (
	msgEmptyKey   = "empty bearer token"
	msgInvalidKey = "invalid API key"
)

// KeyEntry maps a key hash to the site and attributes it authenticates as.
type KeyEntry struct {
	KeyHash  [32]byte
	SiteID   string
	Admin    bool
	UserInfo auth.UserInfo
}

// Authenticator validates bearer tokens against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// New creates an API key authenticator from a list of raw keys.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			SiteID:   e.SiteID,
			Admin:    e.Admin,
			UserInfo: e.UserInfo,
		})
	}
	return a
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	SiteID   string
	Admin    bool
	UserInfo auth.UserInfo
}

// Authenticate extracts the bearer token and validates it.
// Returns Yes if valid, No if bearer token present but invalid,
// Abstain if no Authorization header or not a Bearer token.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Verdict {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Pass()
	}
	if token == "" {
		return auth.Reject(msgEmptyKey)
	}

	tokenHash := sha256.Sum256([]byte(token))

	// Every entry is compared so timing does not reveal the matching index.
	match := -1
	for i, entry := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.KeyHash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Reject(msgInvalidKey)
	}

	entry := a.keys[match]
	opts := []auth.AcceptOption{auth.WithAdmin(entry.Admin)}
	if entry.UserInfo != nil {
		opts = append(opts, auth.WithUserInfo(entry.UserInfo.Clone()))
	}
	return auth.Accept(entry.SiteID, opts...)
}
