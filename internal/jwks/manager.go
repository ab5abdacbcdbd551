// Package jwks resolves and caches JSON Web Key Sets for bearer token
// verification, including OIDC discovery for providers that publish their
// JWKS location indirectly.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/metrics"
)

// JWT verification modes that resolve to a JWKS URI.
const (
	ModeMicrosoft     = "microsoft"
	ModeGoogle        = "google"
	ModeGitHub        = "github"
	ModeJWKSEndpoint  = "jwks_endpoint"
	ModeOIDCDiscovery = "oidc_discovery"
)

const (
	googleJWKSURI     = "https://www.googleapis.com/oauth2/v3/certs"
	githubOIDCConfig  = "https://token.actions.githubusercontent.com/.well-known/openid-configuration"
	microsoftJWKSTmpl = "https://login.microsoftonline.com/%s/discovery/v2.0/keys"
)

// Options tunes the manager. Zero values take the documented defaults.
type Options struct {
	// KeyMaxAge bounds how long a fetched key set is reused (default 10 min).
	KeyMaxAge time.Duration
	// MaxClients caps the per-URI client pool (default 10).
	MaxClients int
	// RequestsPerMinute rate-limits JWKS fetches per URI (default 10).
	RequestsPerMinute int
	// FetchTimeout bounds a single JWKS or discovery fetch (default 5 s).
	FetchTimeout time.Duration
	// DiscoveryTTL caches OIDC discovery documents (default 1 h).
	DiscoveryTTL time.Duration
}

func (o *Options) fill() {
	if o.KeyMaxAge <= 0 {
		o.KeyMaxAge = 10 * time.Minute
	}
	if o.MaxClients <= 0 {
		o.MaxClients = 10
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 10
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.DiscoveryTTL <= 0 {
		o.DiscoveryTTL = time.Hour
	}
}

// Manager pools one rate-limited JWKS client per URI and caches OIDC
// discovery documents.
type Manager struct {
	opts       Options
	httpClient *http.Client
	metrics    *metrics.Collector

	mu      sync.Mutex
	clients *lru.Cache[string, *client]

	discovery *expirable.LRU[string, string]
}

type client struct {
	uri     string
	limiter *rate.Limiter

	mu        sync.Mutex
	keys      jwk.Set
	fetchedAt time.Time
}

// NewManager creates a manager with the given options.
func NewManager(opts Options) *Manager {
	opts.fill()
	clients, _ := lru.New[string, *client](opts.MaxClients)
	return &Manager{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.FetchTimeout},
		metrics:    metrics.Default,
		clients:    clients,
		discovery:  expirable.NewLRU[string, string](opts.MaxClients, nil, opts.DiscoveryTTL),
	}
}

// ResolveURI maps a bearer_jwt config to the JWKS URI to verify against.
func (m *Manager) ResolveURI(ctx context.Context, mode, tenantID, jwksURL, oidcURL string) (string, error) {
	switch mode {
	case ModeMicrosoft:
		if tenantID == "" {
			return "", fmt.Errorf("microsoft mode requires tenantId")
		}
		return fmt.Sprintf(microsoftJWKSTmpl, tenantID), nil
	case ModeGoogle:
		return googleJWKSURI, nil
	case ModeGitHub:
		return m.discoverJWKSURI(ctx, githubOIDCConfig)
	case ModeJWKSEndpoint:
		if jwksURL == "" {
			return "", fmt.Errorf("jwks_endpoint mode requires jwksUrl")
		}
		return jwksURL, nil
	case ModeOIDCDiscovery:
		if oidcURL == "" {
			return "", fmt.Errorf("oidc_discovery mode requires oidcUrl")
		}
		return m.discoverJWKSURI(ctx, oidcURL)
	default:
		return "", fmt.Errorf("unsupported jwt mode %q", mode)
	}
}

// discoverJWKSURI fetches an OIDC discovery document and extracts jwks_uri,
// caching the result for DiscoveryTTL.
func (m *Manager) discoverJWKSURI(ctx context.Context, configURL string) (string, error) {
	if uri, ok := m.discovery.Get(configURL); ok {
		return uri, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OIDC discovery returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decoding OIDC discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("OIDC discovery document has no jwks_uri")
	}

	m.discovery.Add(configURL, doc.JWKSURI)
	return doc.JWKSURI, nil
}

// SigningKey returns the raw public key for kid from the JWKS at uri. Fresh
// cached keys are served without a fetch; an unknown kid triggers a
// rate-limited refetch so rotated keys are picked up promptly.
func (m *Manager) SigningKey(ctx context.Context, uri, kid string) (any, error) {
	cl := m.client(uri)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.keys != nil && time.Since(cl.fetchedAt) < m.opts.KeyMaxAge {
		if key, found := cl.keys.LookupKeyID(kid); found {
			return rawKey(key)
		}
	}

	if !cl.limiter.Allow() {
		// Over the fetch budget: fall back to stale keys if we have them.
		if cl.keys != nil {
			if key, found := cl.keys.LookupKeyID(kid); found {
				return rawKey(key)
			}
		}
		return nil, fmt.Errorf("jwks fetch rate limit exceeded for %s", uri)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	set, err := jwk.Fetch(fetchCtx, uri, jwk.WithHTTPClient(m.httpClient))
	if err != nil {
		m.metrics.RecordJWKSFetch(false)
		return nil, fmt.Errorf("fetching JWKS from %s: %w", uri, err)
	}
	m.metrics.RecordJWKSFetch(true)
	cl.keys = set
	cl.fetchedAt = time.Now()
	logging.Debug("jwks refreshed", zap.String("uri", uri), zap.Int("keys", set.Len()))

	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key %q not found in JWKS at %s", kid, uri)
	}
	return rawKey(key)
}

// client returns the pooled client for uri, creating it on first use.
// Creation is idempotent under the manager lock; the LRU evicts the least
// recently used entry past MaxClients.
func (m *Manager) client(uri string) *client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cl, ok := m.clients.Get(uri); ok {
		return cl
	}
	cl := &client{
		uri:     uri,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.opts.RequestsPerMinute)), m.opts.RequestsPerMinute),
	}
	m.clients.Add(uri, cl)
	return cl
}

func rawKey(key jwk.Key) (any, error) {
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extracting raw key %q: %w", key.KeyID(), err)
	}
	return raw, nil
}
