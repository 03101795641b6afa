package api

// Version is the server version reported by the version endpoint.
// Overridden at build time with -ldflags "-X github.com/rhuss/gatehouse/pkg/api.Version=...".
var Version = "dev"

// VersionPath is the well-known version discovery endpoint. Requests to
// exactly this path are never authenticated.
const VersionPath = "/api/version"

// VersionResponse is the body returned by the version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
}

// WhoAmIResponse describes the identity attached to the current request.
type WhoAmIResponse struct {
	SiteID            string         `json:"site_id"`
	Admin             bool           `json:"admin"`
	UserInfo          map[string]any `json:"user_info"`
	AuthenticatedUser UserResponse   `json:"authenticated_user"`
}

// UserResponse is the wire form of an authenticated user.
type UserResponse struct {
	SiteID   string         `json:"site_id"`
	UserInfo map[string]any `json:"user_info"`
}

// SecretNamesResponse lists the secret keys available to the caller's site.
// Values are never returned.
type SecretNamesResponse struct {
	SiteID string   `json:"site_id"`
	Keys   []string `json:"keys"`
}
