// Package integration provides end-to-end tests for the gatehouse server.
//
// Tests run against a real gatehouse HTTP server and a mock JWKS issuer,
// both started in-process using net/http/httptest.
package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/auth/apikey"
	"github.com/rhuss/gatehouse/pkg/auth/basic"
	"github.com/rhuss/gatehouse/pkg/auth/jwt"
	"github.com/rhuss/gatehouse/pkg/auth/keystore"
	"github.com/rhuss/gatehouse/pkg/secrets"
	"github.com/rhuss/gatehouse/pkg/storage/memory"
	transporthttp "github.com/rhuss/gatehouse/pkg/transport/http"
)

const (
	issuer     = "https://issuer.test"
	audience   = "gatehouse"
	signingKID = "integration"
	adminKey   = "static-admin-key"
	userKey    = "static-user-key"
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the gatehouse server and mock issuer for testing.
type TestEnvironment struct {
	GatehouseServer *httptest.Server
	Issuer          *httptest.Server
	SigningKey      *rsa.PrivateKey
	Keys            *keystore.Authenticator
}

// TestMain starts the mock issuer and gatehouse server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires a chain of basic, JWT, key store and static
// API key authenticators behind the gateway, with static per-site secrets.
func setupTestEnvironment() *TestEnvironment {
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("generating signing key: %v", err))
	}
	issuerServer := httptest.NewServer(jwksHandler(&signingKey.PublicKey))

	hash, err := basic.HashPassword("wonderland", bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("hashing password: %v", err))
	}
	basicAuthn, err := basic.New([]basic.User{{Username: "alice", PasswordHash: hash, SiteID: "site-basic"}})
	if err != nil {
		panic(fmt.Sprintf("creating basic authenticator: %v", err))
	}

	keys := keystore.New(memory.New(), keystore.Options{})

	chain := &auth.Chain{
		Authenticators: []auth.Authenticator{
			basicAuthn,
			jwt.New(jwt.Config{
				Issuer:     issuer,
				Audience:   audience,
				JWKSURL:    issuerServer.URL + "/jwks",
				AdminScope: "gatehouse:admin",
			}),
			keys,
			apikey.New([]apikey.RawKeyEntry{
				{Key: adminKey, SiteID: "site-admin", Admin: true},
				{Key: userKey, SiteID: "site-user", UserInfo: auth.UserInfo{"plan": "free"}},
			}),
		},
		DefaultDecision: auth.No,
	}

	src := secrets.Static{
		"site-admin": {"db-password": "hunter2", "api-token": "t0k3n"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := auth.NewGateway(secrets.Attach(chain, src), auth.WithLogger(logger))
	srv := transporthttp.NewServer(gateway, keys, transporthttp.WithLogger(logger))

	return &TestEnvironment{
		GatehouseServer: httptest.NewServer(srv.Handler()),
		Issuer:          issuerServer,
		SigningKey:      signingKey,
		Keys:            keys,
	}
}

// jwksHandler serves pub as a single-key JWKS document.
func jwksHandler(pub *rsa.PublicKey) http.Handler {
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": signingKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.GatehouseServer != nil {
		env.GatehouseServer.Close()
	}
	if env.Issuer != nil {
		env.Issuer.Close()
	}
}

// BaseURL returns the gatehouse server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.GatehouseServer.URL
}

// signToken returns an RS256 token for site with the given extra claims.
func (env *TestEnvironment) signToken(t *testing.T, site string, extra jwtlib.MapClaims) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"sub":     "user-" + site,
		"site_id": site,
		"iss":     issuer,
		"aud":     audience,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = signingKID
	s, err := token.SignedString(env.SigningKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

// --- HTTP helpers ---

// doRequest sends a request with an optional Authorization header value.
func doRequest(t *testing.T, method, path, authorization string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, testEnv.BaseURL()+path, body)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func bearer(token string) string { return "Bearer " + token }

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// readBody reads and closes the response body.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

// decodeJSON decodes and closes the response body.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// expectError checks status and error type of a structured error response.
func expectError(t *testing.T, resp *http.Response, status int, typ api.ErrorType) *api.APIError {
	t.Helper()
	if resp.StatusCode != status {
		body := readBody(t, resp)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, status, strings.TrimSpace(body))
	}
	var er api.ErrorResponse
	decodeJSON(t, resp, &er)
	if er.Error == nil || er.Error.Type != typ {
		t.Fatalf("error = %+v, want type %q", er.Error, typ)
	}
	return er.Error
}
