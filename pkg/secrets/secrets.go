// Package secrets resolves the per-site secret mappings exposed to request
// handlers. A Source looks secrets up by site; Attach binds a Source to an
// authenticator so accepted requests carry a lazily loaded mapping.
package secrets

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/debug"
	"github.com/rhuss/gatehouse/pkg/observability"
)

// Source looks up the secrets of a site. A site without secrets yields an
// empty map and no error.
type Source interface {
	Lookup(ctx context.Context, siteID string) (map[string]string, error)
}

// Named is implemented by sources that report a name for metrics.
type Named interface {
	Name() string
}

// Static serves secrets from an in-memory table keyed by site.
type Static map[string]map[string]string

// Lookup returns a copy of the site's secrets.
func (s Static) Lookup(_ context.Context, siteID string) (map[string]string, error) {
	m := maps.Clone(s[siteID])
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (Static) Name() string { return "static" }

// Attach decorates authn: accepted verdicts that carry no secrets get a
// lazy mapping backed by src. The lookup runs at most once per request and
// only when a handler reads the mapping. Verdicts that already carry
// secrets are passed through.
func Attach(authn auth.Authenticator, src Source) auth.Authenticator {
	if src == nil {
		return authn
	}
	return auth.AuthenticatorFunc(func(ctx context.Context, r *http.Request) auth.Verdict {
		v := authn.Authenticate(ctx, r)
		if !v.Accepted() || v.Secrets != nil || v.SiteID == "" {
			return v
		}

		site := v.SiteID
		// The mapping may be read after the request context is done.
		lookupCtx := context.WithoutCancel(ctx)
		v.Secrets = auth.LazySecrets(func() (map[string]string, error) {
			return lookup(lookupCtx, src, site)
		})
		return v
	})
}

func lookup(ctx context.Context, src Source, site string) (map[string]string, error) {
	name := sourceName(src)
	m, err := src.Lookup(ctx, site)
	if err != nil {
		observability.SecretLookupsTotal.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("looking up secrets for site %q: %w", site, err)
	}
	observability.SecretLookupsTotal.WithLabelValues(name, "ok").Inc()
	debug.Log(debug.Secrets, "secrets loaded", "site", site, "source", name, "count", len(m))
	return m, nil
}

func sourceName(src Source) string {
	if n, ok := src.(Named); ok {
		return n.Name()
	}
	return "custom"
}
