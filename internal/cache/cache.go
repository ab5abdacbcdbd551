// Package cache holds the compiled routing snapshot and answers
// (hostname, path) lookups without locking on the read path.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/metrics"
	"github.com/funcbase/gateway/internal/store"
)

// SnapshotLoader produces complete configuration snapshots.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (*store.Snapshot, error)
}

// Project is the compiled per-tenant routing table.
type Project struct {
	ID           string
	Slug         string
	ConfigID     string
	CustomDomain string
	Routes       []*Route
}

// Route is an immutable, compiled route record.
type Route struct {
	ID             string
	Matcher        *PathMatcher
	FunctionID     string
	AllowedMethods map[string]bool
	SortOrder      int
	CORS           store.CORSRecord
	AuthLogic      string
	AuthMethods    []store.AuthMethodRecord
}

// AllowsMethod reports whether the route accepts the given HTTP method.
func (r *Route) AllowsMethod(method string) bool {
	return r.AllowedMethods[strings.ToUpper(method)]
}

// MethodList returns the allowed methods for the Allow response header.
func (r *Route) MethodList() string {
	order := []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"}
	var out []string
	for _, m := range order {
		if r.AllowedMethods[m] {
			out = append(out, m)
		}
	}
	return strings.Join(out, ", ")
}

// State is one immutable routing snapshot. Writers build a fresh State and
// install it with an atomic pointer swap; readers never see a torn mix.
type State struct {
	ByDomain      map[string]*Project
	BySlug        map[string]*Project
	DefaultDomain string
	RebuiltAt     time.Time
}

// Resolved is the outcome of a successful route lookup.
type Resolved struct {
	Project    *Project
	Route      *Route
	PathParams map[string]string
	PathSuffix string
}

// Cache is the periodically refreshed, push-invalidated route cache.
type Cache struct {
	loader  SnapshotLoader
	state   atomic.Pointer[State]
	group   singleflight.Group
	metrics *metrics.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a cache around the given loader. The cache starts empty;
// Start (or ForceRefresh) populates it.
func New(loader SnapshotLoader) *Cache {
	c := &Cache{loader: loader, metrics: metrics.Default}
	c.state.Store(&State{
		ByDomain: map[string]*Project{},
		BySlug:   map[string]*Project{},
	})
	return c
}

// Start performs the initial load and begins the periodic refresh loop. A
// failed initial load is logged, not fatal; the push listener or the next
// tick will retry.
func (c *Cache) Start(ctx context.Context, refreshInterval time.Duration) {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.ForceRefresh(ctx); err != nil {
		logging.Error("initial route snapshot load failed", zap.Error(err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ForceRefresh(ctx); err != nil {
					logging.Error("periodic route snapshot refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the refresh loop.
func (c *Cache) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// ForceRefresh rebuilds the snapshot. Concurrent calls collapse into a
// single load; a failed load leaves the current state untouched.
func (c *Cache) ForceRefresh(ctx context.Context) error {
	_, err, _ := c.group.Do("rebuild", func() (any, error) {
		snapshot, err := c.loader.LoadSnapshot(ctx)
		if err != nil {
			c.metrics.RecordRebuild(false, 0)
			return nil, err
		}
		state := compile(snapshot)
		c.state.Store(state)
		c.metrics.RecordRebuild(true, snapshot.RouteCount())
		logging.Debug("route snapshot installed",
			zap.Int("projects", len(snapshot.Projects)),
			zap.Int("routes", snapshot.RouteCount()),
			zap.String("default_domain", state.DefaultDomain),
		)
		return nil, nil
	})
	return err
}

// State returns the current snapshot. Callers hold the returned pointer for
// at most one request and must not retain it across suspensions.
func (c *Cache) State() *State {
	return c.state.Load()
}

// Resolve maps a request hostname and path to a route, or nil when nothing
// matches.
func (c *Cache) Resolve(hostname, path string) *Resolved {
	return c.State().Resolve(hostname, path)
}

// Resolve runs the lookup against this specific snapshot.
func (s *State) Resolve(hostname, path string) *Resolved {
	host := NormalizeHost(hostname)

	project := s.ByDomain[host]
	pathToMatch := path

	if project == nil {
		if host != s.DefaultDomain || s.DefaultDomain == "" {
			return nil
		}
		slug, remainder := splitSlug(path)
		if slug == "" {
			return nil
		}
		project = s.BySlug[slug]
		if project == nil {
			return nil
		}
		pathToMatch = remainder
	}

	if pathToMatch == "" {
		pathToMatch = "/"
	}

	for _, route := range project.Routes {
		if params, suffix, ok := route.Matcher.Match(pathToMatch); ok {
			return &Resolved{
				Project:    project,
				Route:      route,
				PathParams: params,
				PathSuffix: suffix,
			}
		}
	}
	return nil
}

// NormalizeHost lowercases a hostname and strips any scheme and port.
// "Example.com:3002" and "example.com" resolve identically.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	// Bracketed IPv6 literals keep their colons.
	if strings.HasPrefix(host, "[") {
		if idx := strings.IndexByte(host, ']'); idx >= 0 {
			return host[1:idx]
		}
		return host
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	return host
}

// splitSlug extracts the first non-empty path segment and the remaining
// path. An empty remainder collapses to "/".
func splitSlug(path string) (slug, remainder string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx:]
	}
	return trimmed, "/"
}

// compile turns a raw store snapshot into the immutable lookup structure.
func compile(snapshot *store.Snapshot) *State {
	state := &State{
		ByDomain:      make(map[string]*Project),
		BySlug:        make(map[string]*Project),
		DefaultDomain: NormalizeHost(snapshot.DefaultDomain),
		RebuiltAt:     snapshot.LoadedAt,
	}

	for i := range snapshot.Projects {
		rec := &snapshot.Projects[i]
		project := &Project{
			ID:           rec.ID,
			Slug:         rec.Slug,
			ConfigID:     rec.ConfigID,
			CustomDomain: NormalizeHost(rec.CustomDomain),
			Routes:       make([]*Route, 0, len(rec.Routes)),
		}
		// Store order is sort_order ascending with deterministic ties.
		for j := range rec.Routes {
			project.Routes = append(project.Routes, compileRoute(&rec.Routes[j]))
		}

		if project.CustomDomain != "" {
			state.ByDomain[project.CustomDomain] = project
		}
		if project.Slug != "" {
			state.BySlug[project.Slug] = project
		}
	}
	return state
}

func compileRoute(rec *store.RouteRecord) *Route {
	methods := make(map[string]bool, len(rec.AllowedMethods))
	for _, m := range rec.AllowedMethods {
		methods[strings.ToUpper(m)] = true
	}
	logic := strings.ToLower(rec.AuthLogic)
	if logic != "and" {
		logic = "or"
	}
	return &Route{
		ID:             rec.ID,
		Matcher:        CompilePath(rec.PathPattern),
		FunctionID:     rec.FunctionID,
		AllowedMethods: methods,
		SortOrder:      rec.SortOrder,
		CORS:           rec.CORS,
		AuthLogic:      logic,
		AuthMethods:    rec.AuthMethods,
	}
}
