package store

import "time"

// Snapshot is one complete, denormalized read of the gateway configuration.
// It is either fully populated or not produced at all; the cache never sees
// partial reads.
type Snapshot struct {
	// DefaultDomain is the hostname serving slug-based routing, from the
	// api_gateway_domain setting. Empty disables slug routing.
	DefaultDomain string
	Projects      []ProjectRecord
	LoadedAt      time.Time
}

// ProjectRecord is a tenant with an enabled gateway config.
type ProjectRecord struct {
	ID           string
	Name         string
	Slug         string
	ConfigID     string
	CustomDomain string // empty when the project has no custom domain
	Routes       []RouteRecord
}

// RouteRecord is an active route row joined with its CORS settings and its
// ordered auth method associations.
type RouteRecord struct {
	ID             string
	PathPattern    string
	FunctionID     string // empty when no upstream function is configured
	AllowedMethods []string
	SortOrder      int
	CreatedAt      time.Time
	AuthLogic      string // "or" or "and"
	CORS           CORSRecord
	AuthMethods    []AuthMethodRecord // association order preserved
}

// CORSRecord mirrors the per-route cors_settings document.
type CORSRecord struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowedOrigins"`
	AllowedHeaders   []string `json:"allowedHeaders"`
	ExposeHeaders    []string `json:"exposeHeaders"`
	MaxAgeSeconds    int      `json:"maxAgeSeconds"`
	AllowCredentials bool     `json:"allowCredentials"`
}

// AuthMethodRecord is a named auth method with its type-specific config bag.
type AuthMethodRecord struct {
	ID     string
	Name   string
	Type   string // basic_auth, bearer_jwt, api_key, middleware
	Config []byte // raw JSON, decoded by the auth package per type
}

// RouteCount returns the number of routes across all projects.
func (s *Snapshot) RouteCount() int {
	n := 0
	for i := range s.Projects {
		n += len(s.Projects[i].Routes)
	}
	return n
}
