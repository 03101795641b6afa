package http

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/auth/keystore"
	"github.com/rhuss/gatehouse/pkg/debug"
	"github.com/rhuss/gatehouse/pkg/storage"
	"github.com/rhuss/gatehouse/pkg/transport"
)

// KeyManager manages stored API keys. Implemented by keystore.Authenticator.
type KeyManager interface {
	CreateKey(ctx context.Context, ks keystore.KeySpec) (string, *storage.Key, error)
	RevokeKey(ctx context.Context, id string) error
	ListKeys(ctx context.Context, opts storage.ListOptions) ([]*storage.Key, error)
}

// Adapter serves the gatehouse API routes. It expects the authentication
// gateway in front of it and reads the identity context from the request.
type Adapter struct {
	keys   KeyManager // nil disables the key routes
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	VersionPath string
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		VersionPath: api.VersionPath,
		MaxBodySize: 1 << 20, // 1 MB
	}
}

// NewAdapter creates an HTTP adapter. keys is optional; when nil the key
// management routes answer 404.
func NewAdapter(keys KeyManager, cfg Config) *Adapter {
	if cfg.VersionPath == "" {
		cfg.VersionPath = api.VersionPath
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		keys:   keys,
		mux:    http.NewServeMux(),
		config: cfg,
	}

	a.mux.HandleFunc("GET "+cfg.VersionPath, a.handleVersion)
	a.mux.HandleFunc("GET /api/whoami", a.handleWhoAmI)
	a.mux.HandleFunc("GET /api/secrets", a.handleSecrets)
	if keys != nil {
		a.mux.HandleFunc("GET /api/keys", a.handleListKeys)
		a.mux.HandleFunc("POST /api/keys", a.handleCreateKey)
		a.mux.HandleFunc("DELETE /api/keys/{id}", a.handleRevokeKey)
	}
	a.mux.HandleFunc("/", a.handleNotFound)

	return a
}

// Handler returns the http.Handler for this adapter.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// handleVersion handles GET on the version path. It runs unauthenticated.
func (a *Adapter) handleVersion(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, api.VersionResponse{Version: api.Version})
}

// handleWhoAmI handles GET /api/whoami.
func (a *Adapter) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	transport.WriteJSON(w, http.StatusOK, api.WhoAmIResponse{
		SiteID:   id.SiteID,
		Admin:    id.Admin,
		UserInfo: id.UserInfo,
		AuthenticatedUser: api.UserResponse{
			SiteID:   id.AuthenticatedUser.SiteID,
			UserInfo: id.AuthenticatedUser.UserInfo,
		},
	})
}

// handleSecrets handles GET /api/secrets. Only secret names are returned.
func (a *Adapter) handleSecrets(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	keys := id.Secrets.Keys()
	if keys == nil {
		keys = []string{}
	}
	transport.WriteJSON(w, http.StatusOK, api.SecretNamesResponse{SiteID: id.SiteID, Keys: keys})
}

// handleListKeys handles GET /api/keys. Admins see every site, optionally
// filtered with ?site=; other callers see their own site's keys only.
func (a *Adapter) handleListKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	opts := storage.ListOptions{IncludeRevoked: r.URL.Query().Get("include_revoked") == "true"}
	if id.Admin {
		opts.SiteID = r.URL.Query().Get("site")
	} else {
		ctx = storage.WithSite(ctx, id.SiteID)
	}

	keys, err := a.keys.ListKeys(ctx, opts)
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("listing keys failed"))
		return
	}

	resp := api.KeyListResponse{Object: "list", Data: make([]api.KeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Data = append(resp.Data, keyResponse(k))
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

// handleCreateKey handles POST /api/keys.
func (a *Adapter) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !isJSON(ct) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("content_type", "Content-Type must be application/json"))
		return
	}

	var req api.CreateKeyRequest
	body := http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			transport.WriteAPIError(w, api.NewInvalidRequestError("body", "request body too large"))
			return
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}

	raw, k, err := a.keys.CreateKey(r.Context(), keystore.KeySpec{
		SiteID:   req.SiteID,
		Admin:    req.Admin,
		UserInfo: req.UserInfo,
	})
	if err != nil {
		if errors.Is(err, auth.ErrMissingSiteID) {
			transport.WriteAPIError(w, api.NewInvalidRequestError("site_id", "site_id is required"))
			return
		}
		transport.WriteAPIError(w, api.NewServerError("creating key failed"))
		return
	}

	debug.Log(debug.Transport, "api key issued", "id", k.ID, "site", k.SiteID)
	transport.WriteJSON(w, http.StatusCreated, api.CreateKeyResponse{Key: raw, KeyResponse: keyResponse(k)})
}

// handleRevokeKey handles DELETE /api/keys/{id}.
func (a *Adapter) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	id := r.PathValue("id")
	if err := a.keys.RevokeKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("key "+id+" not found"))
			return
		}
		transport.WriteAPIError(w, api.NewServerError("revoking key failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleNotFound(w http.ResponseWriter, r *http.Request) {
	transport.WriteAPIError(w, api.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
}

// requireIdentity returns the request's identity context, answering 401
// when the gateway did not attach one.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		transport.WriteAPIError(w, api.NewUnauthorizedError(auth.ErrUnauthenticated.Error()))
		return nil, false
	}
	return id, true
}

// requireAdmin is requireIdentity plus a 403 for non-admin callers.
func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	if !id.Admin {
		transport.WriteAPIError(w, api.NewForbiddenError("admin privileges required").WithCode(api.CodeAdminRequired))
		return nil, false
	}
	return id, true
}

func keyResponse(k *storage.Key) api.KeyResponse {
	return api.KeyResponse{
		ID:        k.ID,
		Prefix:    k.Prefix,
		SiteID:    k.SiteID,
		Admin:     k.Admin,
		UserInfo:  k.UserInfo,
		CreatedAt: k.CreatedAt,
		RevokedAt: k.RevokedAt,
	}
}

// isJSON reports whether a Content-Type header names application/json,
// ignoring parameters such as charset.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
