// Package config provides unified configuration for the gatehouse server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (GATEHOUSE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Authenticator types accepted in auth.type and auth.chain.
const (
	AuthAnonymous = "anonymous"
	AuthAPIKey    = "apikey"
	AuthBasic     = "basic"
	AuthJWT       = "jwt"
	AuthKeystore  = "keystore"
	AuthChain     = "chain"
)

// Config holds all configuration for the gatehouse server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
	VersionPath     string        `yaml:"version_path"`     // default: "/api/version"; other values move the auth bypass
}

// AuthConfig selects and configures the authenticator.
type AuthConfig struct {
	// Type is one of anonymous, apikey, basic, jwt, keystore, chain.
	// Default: "anonymous".
	Type string `yaml:"type"`

	// Chain lists member types, evaluated in order, when Type is "chain".
	Chain []string `yaml:"chain"`

	// DefaultDecision applies when every chain member abstains:
	// "deny" (default) or "allow".
	DefaultDecision string `yaml:"default_decision"`

	// DefaultSiteID is the site used when DefaultDecision is "allow".
	DefaultSiteID string `yaml:"default_site_id"`

	Anonymous AnonymousConfig `yaml:"anonymous"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	Users     []UserConfig    `yaml:"users"`
	JWT       JWTConfig       `yaml:"jwt"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AnonymousConfig configures the anonymous authenticator.
type AnonymousConfig struct {
	SiteID   string         `yaml:"site_id"` // default: "0"
	Admin    bool           `yaml:"admin"`
	UserInfo map[string]any `yaml:"user_info"`
}

// APIKeyConfig describes a single static API key.
type APIKeyConfig struct {
	Key      string         `yaml:"key" json:"key"`
	KeyFile  string         `yaml:"key_file" json:"key_file"` // _file variant for key
	SiteID   string         `yaml:"site_id" json:"site_id"`
	Admin    bool           `yaml:"admin" json:"admin"`
	UserInfo map[string]any `yaml:"user_info" json:"user_info"`
}

// UserConfig describes a Basic auth user.
type UserConfig struct {
	Username         string         `yaml:"username"`
	PasswordHash     string         `yaml:"password_hash"`      // bcrypt
	PasswordHashFile string         `yaml:"password_hash_file"` // _file variant for password_hash
	SiteID           string         `yaml:"site_id"`
	Admin            bool           `yaml:"admin"`
	UserInfo         map[string]any `yaml:"user_info"`
}

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	Issuer             string        `yaml:"issuer"`
	Audience           string        `yaml:"audience"`
	JWKSURL            string        `yaml:"jwks_url"`
	UserClaim          string        `yaml:"user_claim"`           // default: "sub"
	SiteClaim          string        `yaml:"site_claim"`           // default: "site_id"
	AdminClaim         string        `yaml:"admin_claim"`          // default: "admin"
	AdminScope         string        `yaml:"admin_scope"`          // optional
	ScopesClaim        string        `yaml:"scopes_claim"`         // default: "scope"
	CacheTTL           time.Duration `yaml:"cache_ttl"`            // default: 1h
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"` // default: 15s
}

// KeystoreConfig tunes the key store authenticator cache.
type KeystoreConfig struct {
	CacheTTL    time.Duration `yaml:"cache_ttl"`    // default: 30s, negative disables
	NegativeTTL time.Duration `yaml:"negative_ttl"` // default: 5s
}

// RateLimitConfig configures per-site rate limiting of accepted requests.
type RateLimitConfig struct {
	Enabled           bool                     `yaml:"enabled"`
	RequestsPerSecond float64                  `yaml:"requests_per_second"`
	Burst             int                      `yaml:"burst"`
	Sites             map[string]SiteRateLimit `yaml:"sites"`
}

// SiteRateLimit overrides the rate limit for one site.
type SiteRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects the API key store used by the keystore authenticator.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SecretsConfig selects where per-site secrets come from.
type SecretsConfig struct {
	Type       string                       `yaml:"type"` // "none", "static", "kubernetes", default: "none"
	Static     map[string]map[string]string `yaml:"static"`
	Kubernetes KubernetesSecretsConfig      `yaml:"kubernetes"`
}

// KubernetesSecretsConfig locates per-site Secret objects.
type KubernetesSecretsConfig struct {
	Namespace string `yaml:"namespace"`
	Prefix    string `yaml:"prefix"` // default: "gatehouse-site-"
}

// LoggingConfig holds log output settings. GATEHOUSE_LOG_LEVEL and
// GATEHOUSE_DEBUG take precedence, see package debug.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			VersionPath:     "/api/version",
		},
		Auth: AuthConfig{
			Type:            AuthAnonymous,
			DefaultDecision: "deny",
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Secrets: SecretsConfig{
			Type: "none",
			Kubernetes: KubernetesSecretsConfig{
				Prefix: "gatehouse-site-",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// AuthTypes returns the authenticator types in use: the chain members for
// a chain, otherwise the single configured type.
func (c *Config) AuthTypes() []string {
	if c.Auth.Type == AuthChain {
		return c.Auth.Chain
	}
	return []string{c.Auth.Type}
}

// UsesAuth reports whether the authenticator type t is in use.
func (c *Config) UsesAuth(t string) bool {
	for _, typ := range c.AuthTypes() {
		if typ == t {
			return true
		}
	}
	return false
}
