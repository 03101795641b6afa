// Package kubernetes provides a secrets.Source that reads per-site Secret
// objects through a controller-runtime client.
package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/gatehouse/pkg/secrets"
)

// DefaultPrefix is prepended to the site id to form the Secret name.
const DefaultPrefix = "gatehouse-site-"

// Ensure Source implements secrets.Source.
var _ secrets.Source = (*Source)(nil)

// Source reads the Secret named <prefix><siteID> in a fixed namespace.
// A missing Secret yields an empty mapping.
type Source struct {
	client    client.Client
	namespace string
	prefix    string
}

// New creates a Source. An empty prefix uses DefaultPrefix.
func New(c client.Client, namespace, prefix string) *Source {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Source{client: c, namespace: namespace, prefix: prefix}
}

// NewScheme returns a runtime.Scheme with the core API types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register core types: %w", err)
	}
	return scheme, nil
}

// NewClient builds a client from the ambient kubeconfig or in-cluster
// service account.
func NewClient() (client.Client, error) {
	restCfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return c, nil
}

func (s *Source) Name() string { return "kubernetes" }

// SecretName returns the Secret name holding siteID's secrets.
func (s *Source) SecretName(siteID string) string {
	return s.prefix + siteID
}

// Lookup fetches the site's Secret and returns its data as strings.
func (s *Source) Lookup(ctx context.Context, siteID string) (map[string]string, error) {
	secret := &corev1.Secret{}
	key := types.NamespacedName{Name: s.SecretName(siteID), Namespace: s.namespace}
	if err := s.client.Get(ctx, key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("get Secret %s: %w", key, err)
	}

	out := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		out[k] = string(v)
	}
	// StringData only survives on objects that never went through an API server.
	for k, v := range secret.StringData {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}
