package storage

import (
	"context"
	"time"
)

// Key is a stored API key. The raw key is never persisted; Hash is the
// hex-encoded SHA-256 of it.
type Key struct {
	ID        string
	Prefix    string // first characters of the raw key, for display
	Hash      string
	SiteID    string
	Admin     bool
	UserInfo  map[string]any
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *Key) Revoked() bool {
	return k.RevokedAt != nil
}

// ListOptions filters ListKeys.
type ListOptions struct {
	// SiteID restricts the listing to one site. Ignored when the context
	// is scoped, the scope wins.
	SiteID string

	// IncludeRevoked also lists revoked keys.
	IncludeRevoked bool
}

// KeyStore persists API keys.
type KeyStore interface {
	// SaveKey stores a new key. Returns ErrConflict if the ID or hash exists.
	SaveKey(ctx context.Context, k *Key) error

	// GetKeyByHash returns the active key with the given hash.
	// Revoked keys are reported as ErrNotFound.
	GetKeyByHash(ctx context.Context, hash string) (*Key, error)

	// RevokeKey marks the key revoked. Revoking a missing or already
	// revoked key returns ErrNotFound.
	RevokeKey(ctx context.Context, id string) error

	// ListKeys returns keys ordered by creation time, oldest first.
	ListKeys(ctx context.Context, opts ListOptions) ([]*Key, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// EffectiveSite resolves the site filter for a listing: the context scope
// if present, otherwise opts.SiteID. Empty means all sites.
func EffectiveSite(ctx context.Context, opts ListOptions) string {
	if scope := SiteFromContext(ctx); scope != "" {
		return scope
	}
	return opts.SiteID
}
