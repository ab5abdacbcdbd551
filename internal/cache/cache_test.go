package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/funcbase/gateway/internal/store"
)

type stubLoader struct {
	mu       sync.Mutex
	snapshot *store.Snapshot
	err      error
	calls    int
}

func (l *stubLoader) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.snapshot, nil
}

func testSnapshot() *store.Snapshot {
	return &store.Snapshot{
		DefaultDomain: "gw.example.com",
		LoadedAt:      time.Now(),
		Projects: []store.ProjectRecord{
			{
				ID:   "p1",
				Slug: "acme",
				Routes: []store.RouteRecord{
					{ID: "r1", PathPattern: "/users/:id", FunctionID: "F3", AllowedMethods: []string{"GET"}, SortOrder: 0, AuthLogic: "or"},
					{ID: "r2", PathPattern: "/", FunctionID: "F1", AllowedMethods: []string{"GET", "POST"}, SortOrder: 10, AuthLogic: "or"},
				},
			},
			{
				ID:           "p2",
				Slug:         "globex",
				CustomDomain: "API.Globex.COM",
				Routes: []store.RouteRecord{
					{ID: "r3", PathPattern: "/", FunctionID: "F9", AllowedMethods: []string{"GET"}, AuthLogic: "or"},
				},
			},
		},
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(&stubLoader{snapshot: testSnapshot()})
	if err := c.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	return c
}

func TestResolveCustomDomain(t *testing.T) {
	c := newTestCache(t)

	// Domain is matched lowercased with the port stripped.
	for _, host := range []string{"api.globex.com", "API.globex.com:3002", "api.globex.com:443"} {
		res := c.Resolve(host, "/anything")
		if res == nil {
			t.Fatalf("Resolve(%q) returned nil", host)
		}
		if res.Project.ID != "p2" || res.Route.FunctionID != "F9" {
			t.Errorf("Resolve(%q) picked project %s route %s", host, res.Project.ID, res.Route.ID)
		}
		if res.PathSuffix != "/anything" {
			t.Errorf("suffix = %q", res.PathSuffix)
		}
	}
}

func TestResolveSlugOnDefaultDomain(t *testing.T) {
	c := newTestCache(t)

	res := c.Resolve("gw.example.com", "/acme/users/42/posts")
	if res == nil {
		t.Fatal("expected slug resolution")
	}
	if res.Project.Slug != "acme" || res.Route.ID != "r1" {
		t.Fatalf("resolved %s/%s", res.Project.Slug, res.Route.ID)
	}
	if res.PathParams["id"] != "42" {
		t.Errorf("id param = %q", res.PathParams["id"])
	}
	if res.PathSuffix != "/posts" {
		t.Errorf("suffix = %q", res.PathSuffix)
	}
}

func TestResolveSlugPathCollapse(t *testing.T) {
	c := newTestCache(t)

	// "/acme" leaves an empty remainder, which collapses to "/".
	res := c.Resolve("gw.example.com", "/acme")
	if res == nil {
		t.Fatal("expected resolution for bare slug path")
	}
	if res.Route.ID != "r2" {
		t.Errorf("resolved route %s, want the catch-all", res.Route.ID)
	}
	if res.PathSuffix != "/" {
		t.Errorf("suffix = %q, want /", res.PathSuffix)
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	c := newTestCache(t)

	// /users/7 matches both r1 (sort 0) and the catch-all r2 (sort 10);
	// the lower sort_order wins.
	res := c.Resolve("gw.example.com", "/acme/users/7")
	if res == nil || res.Route.ID != "r1" {
		t.Fatalf("expected r1 to win, got %+v", res)
	}
}

func TestResolveMisses(t *testing.T) {
	c := newTestCache(t)

	if res := c.Resolve("unknown.example.org", "/x"); res != nil {
		t.Error("unknown host must not resolve")
	}
	if res := c.Resolve("gw.example.com", "/nosuchslug/x"); res != nil {
		t.Error("unknown slug must not resolve")
	}
	if res := c.Resolve("gw.example.com", "/"); res != nil {
		t.Error("empty slug must not resolve")
	}
}

func TestResolveQuiescentIdempotence(t *testing.T) {
	c := newTestCache(t)

	first := c.Resolve("gw.example.com", "/acme/users/42")
	second := c.Resolve("gw.example.com", "/acme/users/42")
	if first == nil || second == nil {
		t.Fatal("expected matches")
	}
	if first.Route != second.Route || first.PathSuffix != second.PathSuffix {
		t.Error("repeated resolution on a quiescent cache differed")
	}
	if first.PathParams["id"] != second.PathParams["id"] {
		t.Error("params differed across identical lookups")
	}
}

func TestFailedRefreshKeepsState(t *testing.T) {
	loader := &stubLoader{snapshot: testSnapshot()}
	c := New(loader)
	if err := c.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	before := c.State()

	loader.mu.Lock()
	loader.err = errors.New("connection refused")
	loader.mu.Unlock()

	if err := c.ForceRefresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.State() != before {
		t.Error("failed rebuild must not replace the snapshot")
	}
	if c.Resolve("api.globex.com", "/x") == nil {
		t.Error("stale snapshot must keep serving")
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Example.com", "example.com"},
		{"example.com:3002", "example.com"},
		{"https://example.com:443/path", "example.com"},
		{"[::1]:8080", "::1"},
		{" gw.example.com ", "gw.example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeHost(tt.in); got != tt.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStartPeriodicRefresh(t *testing.T) {
	loader := &stubLoader{snapshot: testSnapshot()}
	c := New(loader)
	c.Start(context.Background(), 15*time.Millisecond)
	defer c.Stop()

	time.Sleep(80 * time.Millisecond)
	loader.mu.Lock()
	calls := loader.calls
	loader.mu.Unlock()
	if calls < 3 {
		t.Errorf("expected several refreshes, got %d", calls)
	}
}
