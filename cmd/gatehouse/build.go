package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/auth/anonymous"
	"github.com/rhuss/gatehouse/pkg/auth/apikey"
	"github.com/rhuss/gatehouse/pkg/auth/basic"
	"github.com/rhuss/gatehouse/pkg/auth/jwt"
	"github.com/rhuss/gatehouse/pkg/auth/keystore"
	"github.com/rhuss/gatehouse/pkg/config"
	"github.com/rhuss/gatehouse/pkg/secrets"
	"github.com/rhuss/gatehouse/pkg/secrets/kubernetes"
	"github.com/rhuss/gatehouse/pkg/storage"
	"github.com/rhuss/gatehouse/pkg/storage/memory"
	"github.com/rhuss/gatehouse/pkg/storage/postgres"
)

// components holds everything built from the configuration.
type components struct {
	authn   auth.Authenticator
	limiter auth.RateLimiter
	store   storage.KeyStore        // nil unless the keystore authenticator is used
	keys    *keystore.Authenticator // nil unless the keystore authenticator is used
}

// Close releases the key store, if any.
func (c *components) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// build wires authenticators, the key store, the secrets source and the
// rate limiter from cfg.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	if cfg.UsesAuth(config.AuthKeystore) {
		store, err := buildStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.keys = keystore.New(store, keystore.Options{
			CacheTTL:    cfg.Auth.Keystore.CacheTTL,
			NegativeTTL: cfg.Auth.Keystore.NegativeTTL,
		})
	}

	authn, err := buildAuthenticator(cfg, c.keys)
	if err != nil {
		c.Close()
		return nil, err
	}

	src, err := buildSecrets(cfg.Secrets)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.authn = secrets.Attach(authn, src)

	if rl := cfg.Auth.RateLimit; rl.Enabled {
		sites := make(map[string]auth.SiteLimit, len(rl.Sites))
		for site, l := range rl.Sites {
			sites[site] = auth.SiteLimit{RequestsPerSecond: l.RequestsPerSecond, Burst: l.Burst}
		}
		c.limiter = auth.NewSiteLimiter(sites, auth.SiteLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst})
	}

	return c, nil
}

// buildAuthenticator composes the configured members into a chain that
// applies the configured default decision when every member abstains.
func buildAuthenticator(cfg *config.Config, keys *keystore.Authenticator) (auth.Authenticator, error) {
	chain := &auth.Chain{
		DefaultDecision: auth.No,
		DefaultSiteID:   cfg.Auth.DefaultSiteID,
	}
	if cfg.Auth.DefaultDecision == "allow" {
		chain.DefaultDecision = auth.Yes
	}

	for _, typ := range cfg.AuthTypes() {
		member, err := buildMember(typ, cfg, keys)
		if err != nil {
			return nil, fmt.Errorf("auth %s: %w", typ, err)
		}
		chain.Authenticators = append(chain.Authenticators, member)
	}
	return chain, nil
}

func buildMember(typ string, cfg *config.Config, keys *keystore.Authenticator) (auth.Authenticator, error) {
	switch typ {
	case config.AuthAnonymous:
		a := cfg.Auth.Anonymous
		return &anonymous.Authenticator{SiteID: a.SiteID, Admin: a.Admin, UserInfo: a.UserInfo}, nil

	case config.AuthAPIKey:
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key:      k.Key,
				SiteID:   k.SiteID,
				Admin:    k.Admin,
				UserInfo: k.UserInfo,
			})
		}
		return apikey.New(entries), nil

	case config.AuthBasic:
		users := make([]basic.User, 0, len(cfg.Auth.Users))
		for _, u := range cfg.Auth.Users {
			users = append(users, basic.User{
				Username:     u.Username,
				PasswordHash: u.PasswordHash,
				SiteID:       u.SiteID,
				Admin:        u.Admin,
				UserInfo:     u.UserInfo,
			})
		}
		return basic.New(users)

	case config.AuthJWT:
		j := cfg.Auth.JWT
		return jwt.New(jwt.Config{
			Issuer:             j.Issuer,
			Audience:           j.Audience,
			JWKSURL:            j.JWKSURL,
			UserClaim:          j.UserClaim,
			SiteClaim:          j.SiteClaim,
			AdminClaim:         j.AdminClaim,
			AdminScope:         j.AdminScope,
			ScopesClaim:        j.ScopesClaim,
			CacheTTL:           j.CacheTTL,
			MinRefreshInterval: j.MinRefreshInterval,
		}), nil

	case config.AuthKeystore:
		if keys == nil {
			return nil, errors.New("key store not initialized")
		}
		return keys, nil
	}
	return nil, fmt.Errorf("unknown authenticator type %q", typ)
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.KeyStore, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening key store: %w", err)
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

// buildSecrets returns the configured source, or nil for "none".
func buildSecrets(cfg config.SecretsConfig) (secrets.Source, error) {
	switch cfg.Type {
	case "static":
		return secrets.Static(cfg.Static), nil
	case "kubernetes":
		c, err := kubernetes.NewClient()
		if err != nil {
			return nil, err
		}
		return kubernetes.New(c, cfg.Kubernetes.Namespace, cfg.Kubernetes.Prefix), nil
	default:
		return nil, nil
	}
}
