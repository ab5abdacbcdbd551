package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorExport(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("GET", 200, 25*time.Millisecond)
	c.RecordRequest("POST", 502, 100*time.Millisecond)
	c.RecordRebuild(true, 7)
	c.RecordJWKSFetch(false)
	c.RecordAuth(false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`gateway_requests_total{method="GET",status="200"} 1`,
		`gateway_requests_total{method="POST",status="502"} 1`,
		`gateway_cache_rebuilds_total{outcome="success"} 1`,
		`gateway_snapshot_routes 7`,
		`gateway_jwks_fetches_total{outcome="failure"} 1`,
		`gateway_auth_decisions_total{result="denied"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exported metrics missing %q", want)
		}
	}
}
