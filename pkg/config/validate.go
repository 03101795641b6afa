package config

import (
	"errors"
	"fmt"
	"strings"
)

var memberTypes = []string{AuthAnonymous, AuthAPIKey, AuthBasic, AuthJWT, AuthKeystore}

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.VersionPath, "/") {
		errs = append(errs, fmt.Errorf("server.version_path must start with \"/\", got %q", c.Server.VersionPath))
	}

	errs = append(errs, c.validateAuth()...)

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}

	switch c.Secrets.Type {
	case "none", "static":
	case "kubernetes":
		if c.Secrets.Kubernetes.Namespace == "" {
			errs = append(errs, fmt.Errorf("secrets.kubernetes.namespace is required when secrets.type is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("secrets.type must be \"none\", \"static\", or \"kubernetes\", got %q", c.Secrets.Type))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}

func (c *Config) validateAuth() []error {
	var errs []error

	switch c.Auth.Type {
	case AuthChain:
		if len(c.Auth.Chain) == 0 {
			errs = append(errs, fmt.Errorf("auth.chain must list at least one authenticator when auth.type is \"chain\""))
		}
		for i, t := range c.Auth.Chain {
			if !isMemberType(t) {
				errs = append(errs, fmt.Errorf("auth.chain[%d] must be one of %s, got %q", i, strings.Join(memberTypes, ", "), t))
			}
		}
	default:
		if !isMemberType(c.Auth.Type) {
			errs = append(errs, fmt.Errorf("auth.type must be one of %s, chain, got %q", strings.Join(memberTypes, ", "), c.Auth.Type))
		}
	}

	switch c.Auth.DefaultDecision {
	case "allow", "deny":
	default:
		errs = append(errs, fmt.Errorf("auth.default_decision must be \"allow\" or \"deny\", got %q", c.Auth.DefaultDecision))
	}

	if c.UsesAuth(AuthAPIKey) {
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys is required for the apikey authenticator"))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.SiteID == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].site_id is required", i))
			}
		}
	}

	if c.UsesAuth(AuthBasic) {
		if len(c.Auth.Users) == 0 {
			errs = append(errs, fmt.Errorf("auth.users is required for the basic authenticator"))
		}
		for i, u := range c.Auth.Users {
			if u.Username == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d].username is required", i))
			}
			if u.PasswordHash == "" && u.PasswordHashFile == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d].password_hash or password_hash_file is required", i))
			}
			if u.SiteID == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d].site_id is required", i))
			}
		}
	}

	if c.UsesAuth(AuthJWT) && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required for the jwt authenticator"))
	}

	rl := c.Auth.RateLimit
	if rl.Enabled {
		if rl.RequestsPerSecond < 0 || rl.Burst < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit values must be >= 0"))
		}
		for site, l := range rl.Sites {
			if l.RequestsPerSecond < 0 || l.Burst < 0 {
				errs = append(errs, fmt.Errorf("auth.rate_limit.sites[%s] values must be >= 0", site))
			}
		}
	}

	return errs
}

func isMemberType(t string) bool {
	for _, m := range memberTypes {
		if m == t {
			return true
		}
	}
	return false
}
