// Package keystore provides an API key authenticator backed by a
// storage.KeyStore. Raw keys are handed out once by CreateKey; only their
// SHA-256 hash is stored. Lookups are cached for a short TTL, including
// misses, so bursts of bad keys do not reach the database.
package keystore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/debug"
	"github.com/rhuss/gatehouse/pkg/observability"
	"github.com/rhuss/gatehouse/pkg/storage"
)

// KeyPrefix starts every generated key, so leaked keys are easy to spot.
const KeyPrefix = "ghk_"

// displayPrefixLen is how much of the raw key is kept for display.
const displayPrefixLen = len(KeyPrefix) + 6

// Messages returned to clients.
const (
	msgInvalidKey  = "invalid API key"
	msgUnavailable = "authentication service unavailable"
)

// Options tunes the verdict cache.
type Options struct {
	// CacheTTL is how long a found key is cached. Default: 30s.
	// A negative value disables caching.
	CacheTTL time.Duration

	// NegativeTTL is how long an unknown key is cached. Default: 5s.
	NegativeTTL time.Duration
}

func (o *Options) defaults() {
	if o.CacheTTL == 0 {
		o.CacheTTL = 30 * time.Second
	}
	if o.NegativeTTL == 0 {
		o.NegativeTTL = 5 * time.Second
	}
}

// KeySpec describes a key to create.
type KeySpec struct {
	SiteID   string
	Admin    bool
	UserInfo auth.UserInfo
}

// Authenticator validates bearer tokens against a KeyStore.
type Authenticator struct {
	store  storage.KeyStore
	opts   Options
	cache  *cache.Cache // key hash -> *storage.Key, or notFound
	logger *slog.Logger
}

// notFound marks a cached miss.
type notFound struct{}

// New creates a keystore authenticator.
func New(store storage.KeyStore, opts Options) *Authenticator {
	opts.defaults()
	return &Authenticator{
		store:  store,
		opts:   opts,
		cache:  cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger: slog.Default(),
	}
}

// Authenticate looks up the bearer token's hash.
// Returns Abstain when no bearer token is present or the token does not
// carry KeyPrefix, leaving it to other authenticators in the chain.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Verdict {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Pass()
	}
	if token == "" {
		return auth.Reject("empty bearer token")
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		return auth.Pass()
	}

	hash := HashKey(token)
	k, err := a.lookup(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return auth.Reject(msgInvalidKey)
	}
	if err != nil {
		a.logger.Error("key store lookup failed", "error", err)
		return auth.Reject(msgUnavailable)
	}

	opts := []auth.AcceptOption{auth.WithAdmin(k.Admin)}
	if k.UserInfo != nil {
		info := auth.UserInfo(k.UserInfo).Clone()
		opts = append(opts, auth.WithUserInfo(info))
	}
	return auth.Accept(k.SiteID, opts...)
}

func (a *Authenticator) lookup(ctx context.Context, hash string) (*storage.Key, error) {
	if a.opts.CacheTTL > 0 {
		if v, ok := a.cache.Get(hash); ok {
			observability.KeyCacheTotal.WithLabelValues("hit").Inc()
			if k, ok := v.(*storage.Key); ok {
				return k, nil
			}
			return nil, storage.ErrNotFound
		}
		observability.KeyCacheTotal.WithLabelValues("miss").Inc()
	}

	k, err := a.store.GetKeyByHash(ctx, hash)
	debug.Trace(debug.Storage, "key store lookup", "hash_prefix", hash[:8], "error", err)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if a.opts.CacheTTL > 0 && a.opts.NegativeTTL > 0 {
			a.cache.Set(hash, notFound{}, a.opts.NegativeTTL)
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	if a.opts.CacheTTL > 0 {
		a.cache.Set(hash, k, cache.DefaultExpiration)
	}
	return k, nil
}

// CreateKey generates a new key described by ks and stores its hash. The raw key
// is returned once and cannot be recovered later.
func (a *Authenticator) CreateKey(ctx context.Context, ks KeySpec) (string, *storage.Key, error) {
	if ks.SiteID == "" {
		return "", nil, auth.ErrMissingSiteID
	}

	raw, err := generateKey()
	if err != nil {
		return "", nil, err
	}

	k := &storage.Key{
		ID:        uuid.NewString(),
		Prefix:    raw[:displayPrefixLen],
		Hash:      HashKey(raw),
		SiteID:    ks.SiteID,
		Admin:     ks.Admin,
		UserInfo:  ks.UserInfo,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveKey(ctx, k); err != nil {
		return "", nil, fmt.Errorf("saving key: %w", err)
	}

	// Drop a cached miss for the same hash, however unlikely.
	a.cache.Delete(k.Hash)

	debug.Log(debug.Storage, "api key created", "id", k.ID, "site", k.SiteID, "admin", k.Admin)
	return raw, k, nil
}

// RevokeKey revokes the key with the given id. Cached verdicts are
// dropped so the key stops working immediately on this instance.
func (a *Authenticator) RevokeKey(ctx context.Context, id string) error {
	if err := a.store.RevokeKey(ctx, id); err != nil {
		return err
	}
	a.cache.Flush()
	debug.Log(debug.Storage, "api key revoked", "id", id)
	return nil
}

// ListKeys lists stored keys. Hashes are included; raw keys never are.
func (a *Authenticator) ListKeys(ctx context.Context, opts storage.ListOptions) ([]*storage.Key, error) {
	return a.store.ListKeys(ctx, opts)
}

// HashKey returns the hex-encoded SHA-256 of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}
