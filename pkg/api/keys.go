package api

import "time"

// KeyResponse is the wire form of a stored API key. The raw key and its
// hash are never included.
type KeyResponse struct {
	ID        string         `json:"id"`
	Prefix    string         `json:"prefix"`
	SiteID    string         `json:"site_id"`
	Admin     bool           `json:"admin"`
	UserInfo  map[string]any `json:"user_info,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty"`
}

// CreateKeyRequest is the body of POST /api/keys.
type CreateKeyRequest struct {
	SiteID   string         `json:"site_id"`
	Admin    bool           `json:"admin"`
	UserInfo map[string]any `json:"user_info,omitempty"`
}

// CreateKeyResponse returns the raw key exactly once.
type CreateKeyResponse struct {
	Key string `json:"key"`
	KeyResponse
}

// KeyListResponse is the body of GET /api/keys.
type KeyListResponse struct {
	Object string        `json:"object"` // always "list"
	Data   []KeyResponse `json:"data"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
