package gateway

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/funcbase/gateway/internal/store"
)

// applyCORS writes the CORS response headers for a route and handles
// preflight. It reports true when the request was a preflight it answered,
// in which case the pipeline ends here.
//
// When the origin list is restrictive and the request origin is not a
// member, no CORS headers are written at all and the request proceeds; the
// browser enforces the rejection.
func applyCORS(w http.ResponseWriter, r *http.Request, cors store.CORSRecord) bool {
	if !cors.Enabled {
		return false
	}

	h := w.Header()
	wildcard := len(cors.AllowedOrigins) == 0 || slices.Contains(cors.AllowedOrigins, "*")

	switch {
	case wildcard:
		h.Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(cors.AllowedOrigins, r.Header.Get("Origin")) && r.Header.Get("Origin") != "":
		h.Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
		h.Add("Vary", "Origin")
	default:
		return false
	}

	if cors.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(cors.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(cors.ExposeHeaders, ", "))
	}

	if r.Method != http.MethodOptions {
		return false
	}

	// Preflight: echo the requested method rather than the route's allowed
	// set, and answer before auth so credential-less preflights succeed.
	if m := r.Header.Get("Access-Control-Request-Method"); m != "" {
		h.Set("Access-Control-Allow-Methods", m)
	}
	switch {
	case len(cors.AllowedHeaders) > 0:
		h.Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
	case r.Header.Get("Access-Control-Request-Headers") != "":
		h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
	default:
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
	if cors.MaxAgeSeconds > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(cors.MaxAgeSeconds))
	}

	w.WriteHeader(http.StatusNoContent)
	return true
}
