package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/funcbase/gateway/internal/config"
	"github.com/funcbase/gateway/internal/store"
)

func TestServerHealthBypassesRouting(t *testing.T) {
	h := newTestHandler(t, testSnapshot(), "http://localhost:3001")
	srv := NewServer(config.Default(), h)

	r := httptest.NewRequest("GET", "http://whatever.example/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("middleware chain not applied to health endpoint")
	}
}

func TestServerRoutesThroughPipeline(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	snap := testSnapshot(store.RouteRecord{
		ID: "r1", PathPattern: "/", FunctionID: "F1", AllowedMethods: []string{"GET"},
	})
	h := newTestHandler(t, snap, backend.URL)
	srv := NewServer(config.Default(), h)

	r := httptest.NewRequest("GET", "http://gw.example.com/acme/hello", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing from proxied response")
	}
}

func TestAdminListenerConfigured(t *testing.T) {
	h := newTestHandler(t, testSnapshot(), "http://localhost:3001")

	cfg := config.Default()
	if srv := NewServer(cfg, h); srv.adminServer != nil {
		t.Error("admin server built without an address")
	}

	cfg.Admin.Address = ":9090"
	srv := NewServer(cfg, h)
	if srv.adminServer == nil {
		t.Fatal("admin server not built")
	}

	r := httptest.NewRequest("GET", "http://localhost:9090/metrics", nil)
	rec := httptest.NewRecorder()
	srv.adminServer.Handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint status = %d", rec.Code)
	}
}
