package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/observability"
)

// capture runs the gateway in front of a handler that records whether it
// ran and the property store it saw.
type capture struct {
	called bool
	props  *Properties
	ctx    context.Context
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.props = PropertiesFromContext(r.Context())
		c.ctx = r.Context()
		w.WriteHeader(http.StatusOK)
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func serve(t *testing.T, g *Gateway, req *http.Request) (*httptest.ResponseRecorder, *capture) {
	t.Helper()
	c := &capture{}
	rec := httptest.NewRecorder()
	g.Middleware(c.handler()).ServeHTTP(rec, req)
	return rec, c
}

func TestGateway_BypassesPreflightAndTrace(t *testing.T) {
	for _, method := range []string{http.MethodOptions, http.MethodTrace} {
		t.Run(method, func(t *testing.T) {
			authn := &mockAuthn{verdict: Reject("should not be called")}
			g := NewGateway(authn, WithLogger(quietLogger()))

			rec, c := serve(t, g, httptest.NewRequest(method, "/api/projects", nil))

			if authn.calls != 0 {
				t.Errorf("authenticator called %d times, want 0", authn.calls)
			}
			if rec.Code != http.StatusOK || !c.called {
				t.Fatalf("status = %d, called = %v; want 200 and handler called", rec.Code, c.called)
			}
			if c.props.Len() != 0 {
				t.Errorf("properties = %v, want none", c.props.Keys())
			}
		})
	}
}

func TestGateway_BypassesVersionPathForAnyMethod(t *testing.T) {
	for _, method := range []string{"GET", "POST", "PUT", "DELETE", "HEAD"} {
		t.Run(method, func(t *testing.T) {
			authn := &mockAuthn{verdict: Reject("should not be called")}
			g := NewGateway(authn, WithLogger(quietLogger()))

			rec, c := serve(t, g, httptest.NewRequest(method, api.VersionPath, nil))

			if authn.calls != 0 {
				t.Errorf("authenticator called %d times, want 0", authn.calls)
			}
			if rec.Code != http.StatusOK || !c.called {
				t.Errorf("status = %d, called = %v; want 200 and handler called", rec.Code, c.called)
			}
		})
	}
}

func TestGateway_VersionPathMatchIsExact(t *testing.T) {
	for _, path := range []string{"/api/version/", "/api/versions", "/api/version/check", "/API/VERSION"} {
		t.Run(path, func(t *testing.T) {
			authn := &mockAuthn{verdict: Reject("bad token")}
			g := NewGateway(authn, WithLogger(quietLogger()))

			rec, _ := serve(t, g, httptest.NewRequest("GET", path, nil))

			if authn.calls != 1 {
				t.Errorf("authenticator called %d times, want 1", authn.calls)
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestGateway_CustomVersionPath(t *testing.T) {
	authn := &mockAuthn{verdict: Reject("bad token")}
	g := NewGateway(authn, WithLogger(quietLogger()), WithVersionPath("/v2/version"))

	rec, _ := serve(t, g, httptest.NewRequest("GET", "/v2/version", nil))
	if rec.Code != http.StatusOK || authn.calls != 0 {
		t.Errorf("status = %d, calls = %d; want 200 and 0", rec.Code, authn.calls)
	}

	rec, _ = serve(t, g, httptest.NewRequest("GET", api.VersionPath, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("default version path status = %d, want 401 once overridden", rec.Code)
	}
}

func TestGateway_AcceptedMaterializesDefaults(t *testing.T) {
	authn := &mockAuthn{verdict: Accept("site1")}
	g := NewGateway(authn, WithLogger(quietLogger()))

	rec, c := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusOK || !c.called {
		t.Fatalf("status = %d, called = %v; want 200 and handler called", rec.Code, c.called)
	}
	if authn.calls != 1 {
		t.Errorf("authenticator called %d times, want 1", authn.calls)
	}

	wantKeys := []string{PropertyAdmin, PropertyAuthenticatedUser, PropertySecrets, PropertySiteID, PropertyUserInfo}
	if diff := cmp.Diff(wantKeys, c.props.Keys()); diff != "" {
		t.Errorf("property keys mismatch (-want +got):\n%s", diff)
	}

	if site, _ := c.props.Get(PropertySiteID); site != "site1" {
		t.Errorf("siteId = %v, want site1", site)
	}
	info, _ := c.props.Get(PropertyUserInfo)
	if diff := cmp.Diff(UserInfo{}, info); diff != "" {
		t.Errorf("userInfo mismatch (-want +got):\n%s", diff)
	}
	secrets, _ := c.props.Get(PropertySecrets)
	if m := secrets.(Secrets)(); len(m) != 0 {
		t.Errorf("secrets = %v, want empty", m)
	}
	if admin, _ := c.props.Get(PropertyAdmin); admin != false {
		t.Errorf("admin = %v, want false", admin)
	}
	user, _ := c.props.Get(PropertyAuthenticatedUser)
	if diff := cmp.Diff(&User{SiteID: "site1", UserInfo: UserInfo{}}, user); diff != "" {
		t.Errorf("authenticatedUser mismatch (-want +got):\n%s", diff)
	}
}

func TestGateway_ExplicitAuthenticatedUser(t *testing.T) {
	explicit := NewUser("elsewhere", UserInfo{"name": "root"})
	authn := &mockAuthn{verdict: Accept("site1",
		WithUserInfo(UserInfo{"name": "alice"}),
		WithAuthenticatedUser(explicit),
	)}
	g := NewGateway(authn, WithLogger(quietLogger()))

	_, c := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if got := AuthenticatedUserFromContext(c.ctx); got != explicit {
		t.Errorf("authenticatedUser = %+v, want explicit user %+v", got, explicit)
	}
	if site, _ := SiteIDFromContext(c.ctx); site != "site1" {
		t.Errorf("siteId = %q, want site1", site)
	}
}

func TestGateway_RejectedAborts(t *testing.T) {
	before := testutil.ToFloat64(observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeRejected))

	authn := &mockAuthn{verdict: Reject("bad token")}
	g := NewGateway(authn, WithLogger(quietLogger()))

	req := httptest.NewRequest("GET", "/api/projects", nil)
	props := NewProperties()
	req = req.WithContext(WithProperties(req.Context(), props))

	rec, c := serve(t, g, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if c.called {
		t.Error("handler ran after rejection")
	}
	if props.Len() != 0 {
		t.Errorf("properties written on rejection: %v", props.Keys())
	}

	var body api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Type != api.ErrorTypeUnauthorized {
		t.Errorf("error type = %q, want %q", body.Error.Type, api.ErrorTypeUnauthorized)
	}
	if body.Error.Message != "bad token" {
		t.Errorf("error message = %q, want %q", body.Error.Message, "bad token")
	}

	after := testutil.ToFloat64(observability.AuthDecisionsTotal.WithLabelValues(observability.OutcomeRejected))
	if after-before != 1 {
		t.Errorf("rejected counter delta = %f, want 1", after-before)
	}
}

func TestGateway_RejectedWithoutMessage(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Reject("")}, WithLogger(quietLogger()))

	rec, _ := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrUnauthenticated.Error()) {
		t.Errorf("body = %s, want default message", rec.Body.String())
	}
}

func TestGateway_TopLevelAbstainRejects(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Pass()}, WithLogger(quietLogger()))

	rec, c := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusUnauthorized || c.called {
		t.Errorf("status = %d, called = %v; want 401 and handler not called", rec.Code, c.called)
	}
}

func TestGateway_MissingSiteIDFailsClosed(t *testing.T) {
	var logs bytes.Buffer
	g := NewGateway(&mockAuthn{verdict: Accept("")}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	rec, c := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if c.called {
		t.Error("handler ran for a verdict without site id")
	}
	if !strings.Contains(logs.String(), "invalid verdict") {
		t.Errorf("expected invalid verdict log, got:\n%s", logs.String())
	}
}

func TestGateway_AuthenticatorPanicIsServerError(t *testing.T) {
	panicky := AuthenticatorFunc(func(context.Context, *http.Request) Verdict {
		panic("credential store exploded")
	})
	g := NewGateway(panicky, WithLogger(quietLogger()))

	rec, c := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if c.called {
		t.Error("handler ran after authenticator panic")
	}
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Errorf("panic detail leaked to client: %s", rec.Body.String())
	}
}

func TestGateway_AbortHandlerPanicPropagates(t *testing.T) {
	aborting := AuthenticatorFunc(func(context.Context, *http.Request) Verdict {
		panic(http.ErrAbortHandler)
	})
	g := NewGateway(aborting, WithLogger(quietLogger()))
	c := &capture{}
	rec := httptest.NewRecorder()

	func() {
		defer func() {
			if p := recover(); p != http.ErrAbortHandler {
				t.Errorf("recovered %v, want http.ErrAbortHandler", p)
			}
		}()
		g.Middleware(c.handler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/projects", nil))
	}()

	if c.called {
		t.Error("handler ran after aborted authentication")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("response written for an aborted request: %s", rec.Body.String())
	}
}

type recordingResponder struct {
	messages []string
}

func (r *recordingResponder) WriteUnauthorized(w http.ResponseWriter, _ *http.Request, message string) {
	r.messages = append(r.messages, message)
	w.WriteHeader(http.StatusUnauthorized)
}

func TestGateway_CustomResponder(t *testing.T) {
	responder := &recordingResponder{}
	g := NewGateway(&mockAuthn{verdict: Reject("expired")}, WithLogger(quietLogger()), WithResponder(responder))

	rec, _ := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if diff := cmp.Diff([]string{"expired"}, responder.messages); diff != "" {
		t.Errorf("responder messages mismatch (-want +got):\n%s", diff)
	}
}

func TestGateway_ReusesAttachedProperties(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Accept("site1")}, WithLogger(quietLogger()))

	req := httptest.NewRequest("GET", "/api/projects", nil)
	props := NewProperties()
	props.Set("traceparent", "00-abc")
	req = req.WithContext(WithProperties(req.Context(), props))

	_, c := serve(t, g, req)

	if c.props != props {
		t.Fatal("gateway replaced the request's property store")
	}
	if v, _ := props.Get("traceparent"); v != "00-abc" {
		t.Errorf("existing property lost: %v", v)
	}
	if site, _ := props.Get(PropertySiteID); site != "site1" {
		t.Errorf("siteId = %v, want site1", site)
	}
}

func TestGateway_IndependentRequestsDoNotShareState(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Accept("site1")}, WithLogger(quietLogger()))

	rec1, c1 := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))
	rec2, c2 := serve(t, g, httptest.NewRequest("GET", "/api/projects", nil))

	if rec1.Code != rec2.Code {
		t.Errorf("status codes differ: %d vs %d", rec1.Code, rec2.Code)
	}
	if c1.props == c2.props {
		t.Fatal("requests share a property store")
	}
	if diff := cmp.Diff(c1.props.Keys(), c2.props.Keys()); diff != "" {
		t.Errorf("property keys differ (-first +second):\n%s", diff)
	}

	info1, _ := UserInfoFromContext(c1.ctx)
	info1.Set("mutated", true)
	info2, _ := UserInfoFromContext(c2.ctx)
	if _, ok := info2.Get("mutated"); ok {
		t.Error("user info mutation leaked across requests")
	}
}

type fixedLimiter struct{ err error }

func (l fixedLimiter) Allow(context.Context, *Identity) error { return l.err }

func TestGateway_RateLimited(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Accept("site1")},
		WithLogger(quietLogger()),
		WithRateLimiter(fixedLimiter{err: ErrTooManyRequests}),
	)

	req := httptest.NewRequest("GET", "/api/projects", nil)
	props := NewProperties()
	req = req.WithContext(WithProperties(req.Context(), props))

	rec, c := serve(t, g, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if c.called {
		t.Error("handler ran for a rate limited request")
	}
	if props.Len() != 0 {
		t.Errorf("properties written for a rate limited request: %v", props.Keys())
	}
}

func TestGateway_NoLimiter_AllAllowed(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Accept("site1")}, WithLogger(quietLogger()))

	for i := 0; i < 100; i++ {
		rec, _ := serve(t, g, httptest.NewRequest("POST", "/api/projects", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestGateway_InterceptReturnsAuthenticatedRequest(t *testing.T) {
	g := NewGateway(&mockAuthn{verdict: Accept("site1", WithAdmin(true))}, WithLogger(quietLogger()))

	req := httptest.NewRequest("GET", "/api/projects", nil)
	out, ok := g.Intercept(httptest.NewRecorder(), req)
	if !ok {
		t.Fatal("Intercept returned false for an accepted request")
	}
	if !IsAdmin(out.Context()) {
		t.Error("IsAdmin = false on the returned request")
	}
	if IsAdmin(req.Context()) {
		t.Error("original request was mutated")
	}
}
