// Package jwt provides a JWT/OIDC authenticator that validates
// bearer tokens against a JWKS (JSON Web Key Set) endpoint.
//
// It supports RSA-signed JWTs with configurable issuer and audience. The
// site is taken from a configurable claim, administrators are recognized
// by a boolean claim or a scope, and the remaining custom claims become
// the caller's user info.
package jwt

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/gatehouse/pkg/auth"
)

// ScopesKey is the user info key holding the normalized scope list.
const ScopesKey = "scopes"

// registeredClaims are not copied into user info.
var registeredClaims = []string{"iss", "aud", "exp", "nbf", "iat", "jti"}

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer is the expected JWT issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected JWT audience (aud claim). If empty, audience is not validated.
	Audience string

	// JWKSURL is the URL to fetch the JSON Web Key Set for signature verification.
	JWKSURL string

	// UserClaim must be present for a token to be accepted. Default: "sub".
	UserClaim string

	// SiteClaim holds the caller's site id. Default: "site_id".
	SiteClaim string

	// AdminClaim is a boolean claim marking administrators. Default: "admin".
	AdminClaim string

	// AdminScope, when non-empty, grants admin to tokens carrying this scope.
	AdminScope string

	// ScopesClaim is the JWT claim used for authorization scopes. Default: "scope".
	// The value can be a space-separated string or a JSON array.
	ScopesClaim string

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// MinRefreshInterval is the shortest time between two JWKS fetches,
	// successful or not. Unknown kids seen in between are rejected without
	// a fetch. Default: 15s.
	MinRefreshInterval time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.SiteClaim == "" {
		c.SiteClaim = "site_id"
	}
	if c.AdminClaim == "" {
		c.AdminClaim = "admin"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 1 * time.Hour
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens against a JWKS endpoint.
type Authenticator struct {
	config Config
	keys   *jwksCache
}

// New creates a JWT authenticator with the given configuration.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{
		config: cfg,
		keys: &jwksCache{
			keys:    make(map[string]*rsa.PublicKey),
			ttl:        cfg.CacheTTL,
			minRefresh: cfg.MinRefreshInterval,
			jwksURL:    cfg.JWKSURL,
			client:     cfg.HTTPClient,
		},
	}
}

// Authenticate extracts a bearer token from the Authorization header,
// validates it as a JWT, and maps its claims to a verdict.
//
// Decision outcomes:
//   - Abstain: no Authorization header, not a Bearer scheme, or a bearer
//     token that is not shaped like a JWT (so an API key authenticator
//     later in the chain can claim it)
//   - No: bearer token present but invalid (expired, wrong issuer, bad
//     signature, missing user or site claim)
//   - Yes: valid JWT
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Verdict {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.Pass()
	}
	if tokenStr == "" {
		return auth.Reject("empty bearer token")
	}
	if strings.Count(tokenStr, ".") != 2 {
		return auth.Pass()
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		key, err := a.keys.getKey(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("fetching JWKS key for kid %q: %w", kid, err)
		}
		return key, nil
	}, a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.Reject("invalid token")
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Reject("invalid token claims")
	}

	if claimString(claims, a.config.UserClaim) == "" {
		return auth.Reject(fmt.Sprintf("token missing %q claim", a.config.UserClaim))
	}
	site := claimString(claims, a.config.SiteClaim)
	if site == "" {
		return auth.Reject(fmt.Sprintf("token missing %q claim", a.config.SiteClaim))
	}

	scopes := extractScopes(claims, a.config.ScopesClaim)
	admin, _ := claims[a.config.AdminClaim].(bool)
	if a.config.AdminScope != "" && slices.Contains(scopes, a.config.AdminScope) {
		admin = true
	}

	return auth.Accept(site,
		auth.WithAdmin(admin),
		auth.WithUserInfo(a.userInfo(claims, scopes)),
	)
}

// userInfo copies the custom claims into a fresh UserInfo. The site and
// admin claims are surfaced through the verdict and are left out, as are
// the registered JWT claims.
func (a *Authenticator) userInfo(claims jwtlib.MapClaims, scopes []string) auth.UserInfo {
	info := auth.NewUserInfo()
	for k, v := range claims {
		if slices.Contains(registeredClaims, k) {
			continue
		}
		switch k {
		case a.config.SiteClaim, a.config.AdminClaim, a.config.ScopesClaim:
			continue
		}
		info.Set(k, v)
	}
	if len(scopes) > 0 {
		info.Set(ScopesKey, scopes)
	}
	return info
}

// parserOptions builds JWT parser options based on the configuration.
func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	return opts
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes extracts scopes from JWT claims.
// The scope claim can be either a space-separated string or a JSON array.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch val := claims[key].(type) {
	case string:
		if parts := strings.Fields(val); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}
