// Package gateway is the client-facing HTTP surface: the catch-all request
// handler and the server lifecycle around it.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/funcbase/gateway/internal/auth"
	"github.com/funcbase/gateway/internal/cache"
	"github.com/funcbase/gateway/internal/errors"
	"github.com/funcbase/gateway/internal/upstream"
)

// Handler runs the per-request pipeline: resolve, method gate, CORS, auth,
// upstream gate, proxy. Each stage fails fast with its own status.
type Handler struct {
	cache    *cache.Cache
	auth     *auth.Evaluator
	upstream *upstream.Client
}

// NewHandler wires the pipeline stages together.
func NewHandler(c *cache.Cache, evaluator *auth.Evaluator, client *upstream.Client) *Handler {
	return &Handler{cache: c, auth: evaluator, upstream: client}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resolved := h.cache.Resolve(r.Host, r.URL.Path)
	if resolved == nil {
		errors.ErrNoRouteMatched.WriteJSON(w)
		return
	}
	route := resolved.Route

	// OPTIONS always flows through so preflight works even for methods the
	// route does not accept.
	if r.Method != http.MethodOptions && !route.AllowsMethod(r.Method) {
		allowed := route.MethodList()
		w.Header().Set("Allow", allowed)
		errors.New(http.StatusMethodNotAllowed,
			fmt.Sprintf("Method not allowed. Allowed methods: %s", allowed)).WriteJSON(w)
		return
	}

	if applyCORS(w, r, route.CORS) {
		return
	}

	result := h.auth.Authenticate(r.Context(), r, clientIP(r), route.AuthMethods, route.AuthLogic)
	if !result.Authenticated {
		if result.Realm != "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", result.Realm))
		}
		errors.ErrUnauthorized.WriteJSON(w)
		return
	}

	if route.FunctionID == "" {
		errors.ErrNoUpstreamFunction.WriteJSON(w)
		return
	}

	h.proxy(w, r, resolved)
}

// Health reports liveness plus the current snapshot shape. Served from the
// admin listener, never the catch-all one.
func (h *Handler) Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := h.cache.State()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"custom_domains": len(state.ByDomain),
			"slugs":          len(state.BySlug),
			"default_domain": state.DefaultDomain,
			"rebuilt_at":     state.RebuiltAt,
		})
	})
}
