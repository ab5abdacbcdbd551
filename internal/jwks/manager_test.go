package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	key.Set(jwk.KeyIDKey, kid)
	key.Set(jwk.AlgorithmKey, "RS256")
	set := jwk.NewSet()
	set.AddKey(key)

	doc, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	}))
}

func TestSigningKeyFetchAndCache(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	var hits atomic.Int64
	srv := newJWKSServer(t, "key-1", &priv.PublicKey, &hits)
	defer srv.Close()

	m := NewManager(Options{})
	ctx := context.Background()

	raw, err := m.SigningKey(ctx, srv.URL, "key-1")
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	got, ok := raw.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", raw)
	}
	if got.N.Cmp(priv.PublicKey.N) != 0 {
		t.Error("returned key does not match the served key")
	}

	// A second lookup within KeyMaxAge must hit the cache.
	if _, err := m.SigningKey(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("cached SigningKey: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 fetch, server saw %d", hits.Load())
	}
}

func TestSigningKeyUnknownKid(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := newJWKSServer(t, "key-1", &priv.PublicKey, nil)
	defer srv.Close()

	m := NewManager(Options{})
	if _, err := m.SigningKey(context.Background(), srv.URL, "nope"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestSigningKeyRateLimitFallsBackToStale(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	var hits atomic.Int64
	srv := newJWKSServer(t, "key-1", &priv.PublicKey, &hits)
	defer srv.Close()

	m := NewManager(Options{
		KeyMaxAge:         time.Nanosecond, // force refetch attempts
		RequestsPerMinute: 1,
	})
	ctx := context.Background()

	if _, err := m.SigningKey(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("first SigningKey: %v", err)
	}
	time.Sleep(time.Millisecond)

	// Budget exhausted; the stale cached key still serves known kids.
	if _, err := m.SigningKey(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("stale fallback failed: %v", err)
	}
	// Unknown kids cannot be served stale and the fetch budget is gone.
	if _, err := m.SigningKey(ctx, srv.URL, "rotated"); err == nil {
		t.Error("expected rate limit error for unknown kid")
	}
	if hits.Load() > 2 {
		t.Errorf("rate limiter allowed %d fetches", hits.Load())
	}
}

func TestResolveURIStaticModes(t *testing.T) {
	m := NewManager(Options{})
	ctx := context.Background()

	uri, err := m.ResolveURI(ctx, ModeMicrosoft, "tenant-123", "", "")
	if err != nil {
		t.Fatalf("microsoft: %v", err)
	}
	want := "https://login.microsoftonline.com/tenant-123/discovery/v2.0/keys"
	if uri != want {
		t.Errorf("microsoft URI = %q, want %q", uri, want)
	}

	if _, err := m.ResolveURI(ctx, ModeMicrosoft, "", "", ""); err == nil {
		t.Error("microsoft without tenantId must fail")
	}

	uri, err = m.ResolveURI(ctx, ModeGoogle, "", "", "")
	if err != nil || uri != "https://www.googleapis.com/oauth2/v3/certs" {
		t.Errorf("google URI = %q err = %v", uri, err)
	}

	uri, err = m.ResolveURI(ctx, ModeJWKSEndpoint, "", "https://issuer.example/jwks.json", "")
	if err != nil || uri != "https://issuer.example/jwks.json" {
		t.Errorf("jwks_endpoint URI = %q err = %v", uri, err)
	}

	if _, err := m.ResolveURI(ctx, "fixed_secret", "", "", ""); err == nil {
		t.Error("non-JWKS mode must be rejected")
	}
}

func TestResolveURIOIDCDiscovery(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"issuer":"x","jwks_uri":"https://keys.example/jwks"}`)
	}))
	defer srv.Close()

	m := NewManager(Options{})
	ctx := context.Background()

	uri, err := m.ResolveURI(ctx, ModeOIDCDiscovery, "", "", srv.URL)
	if err != nil {
		t.Fatalf("ResolveURI: %v", err)
	}
	if uri != "https://keys.example/jwks" {
		t.Errorf("jwks_uri = %q", uri)
	}

	// Discovery documents are cached.
	if _, err := m.ResolveURI(ctx, ModeOIDCDiscovery, "", "", srv.URL); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 discovery fetch, got %d", hits.Load())
	}
}

func TestResolveURIOIDCDiscoveryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(Options{})
	if _, err := m.ResolveURI(context.Background(), ModeOIDCDiscovery, "", "", srv.URL); err == nil {
		t.Error("expected error for failing discovery endpoint")
	}
	if _, err := m.ResolveURI(context.Background(), ModeOIDCDiscovery, "", "", ""); err == nil {
		t.Error("expected error for missing oidcUrl")
	}
}
