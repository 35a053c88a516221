package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"oversounds/internal/config"
	"oversounds/internal/database"
	"oversounds/internal/logging"
	"oversounds/internal/store"
	"oversounds/internal/tya/tyatest"
	"oversounds/pkg/models"

	"github.com/go-chi/chi/v5"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func serveCatalog(upstream *tyatest.Server) {
	upstream.SetFilter("song", `[{"songId":1},{"songId":2}]`)
	upstream.SetList("song", `[
		{"songId":1,"title":"One","artistId":4,"releaseDate":"2024-01-01","price":1.99,"genres":[7],"collaborators":[5]},
		{"songId":2,"title":"Two","artistId":4,"releaseDate":"2024-01-02","price":2.99}
	]`)
	upstream.SetFilter("merch", `[{"merchId":0}]`)
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestShowStorefront(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	serveCatalog(upstream)

	h := createTestStoreServer(t, upstream.URL).Handler()
	rec := doRequest(t, h, http.MethodGet, "/store")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /store status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var wire []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &wire); err != nil {
		t.Fatalf("body is not a JSON array: %v", err)
	}
	if len(wire) != 2 {
		t.Fatalf("got %d products, want 2", len(wire))
	}

	first := wire[0]
	checks := map[string]interface{}{
		"songId":      1.0,
		"albumId":     0.0,
		"merchId":     0.0,
		"name":        "One",
		"price":       1.99,
		"artist":      "4",
		"genre":       "7",
		"releaseDate": "2024-01-01T00:00:00Z",
	}
	for key, want := range checks {
		if first[key] != want {
			t.Errorf("%s = %v, want %v", key, first[key], want)
		}
	}
	if wire[1]["genre"] != "0" || wire[1]["price"] != 2.99 {
		t.Errorf("second song = %v", wire[1])
	}

	if reqs := upstream.RequestsTo("/merch/list"); len(reqs) != 0 {
		t.Errorf("merch list should not be called for falsy ids: %v", reqs)
	}
}

func TestShowStorefrontUpstreamDown(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	serveCatalog(upstream)
	upstream.Fail("/album/filter", http.StatusInternalServerError)

	h := createTestStoreServer(t, upstream.URL).Handler()
	rec := doRequest(t, h, http.MethodGet, "/store")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /store status = %d, want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestShowStorefrontServesUndatedRecords(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	serveCatalog(upstream)
	upstream.SetFilter("album", `[{"albumId":3},{"albumId":4}]`)
	upstream.SetList("album", `[
		{"albumId":3,"title":"Undated","releaseDate":null},
		{"albumId":4,"title":"Dated","releaseDate":"2023-05-06"}
	]`)

	h := createTestStoreServer(t, upstream.URL).Handler()
	rec := doRequest(t, h, http.MethodGet, "/store")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /store status = %d, body %s", rec.Code, rec.Body.String())
	}

	var wire []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &wire); err != nil {
		t.Fatalf("body is not a JSON array: %v", err)
	}
	if len(wire) != 4 {
		t.Fatalf("got %d products, want 4", len(wire))
	}
	if wire[2]["name"] != "Undated" || wire[2]["releaseDate"] != "0001-01-01T00:00:00Z" {
		t.Errorf("undated album = %v", wire[2])
	}
	if wire[3]["releaseDate"] != "2023-05-06T00:00:00Z" {
		t.Errorf("dated album = %v", wire[3])
	}
}

func TestWriteProductsInternalError(t *testing.T) {
	ss := createTestStoreServer(t, "http://localhost:1")

	tests := []struct {
		name  string
		build func(context.Context) ([]models.Product, error)
	}{
		{
			name: "build error",
			build: func(context.Context) ([]models.Product, error) {
				return nil, store.ErrMapping
			},
		},
		{
			name: "product without kind",
			build: func(context.Context) ([]models.Product, error) {
				return []models.Product{{Name: "broken"}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ss.writeProducts(rec, httptest.NewRequest(http.MethodGet, "/store", nil), tt.build)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			var body models.Error
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not an Error: %v", err)
			}
			if body.Code != "500" || body.Message == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := createTestStoreServer(t, "http://localhost:1").Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestHealthCheck(t *testing.T) {
	h := createTestStoreServer(t, "http://localhost:1").Handler()
	rec := doRequest(t, h, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d", rec.Code)
	}

	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if health.Status != "healthy" || health.Database != "disabled" || health.Version != Version {
		t.Errorf("health = %+v", health)
	}
	if health.FailurePolicy != config.FailurePolicyShared {
		t.Errorf("FailurePolicy = %q", health.FailurePolicy)
	}
}

func TestGetRuns(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()
	serveCatalog(upstream)

	t.Run("disabled", func(t *testing.T) {
		h := createTestStoreServer(t, upstream.URL).Handler()
		if rec := doRequest(t, h, http.MethodGet, "/api/store/runs"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		h := createTestStoreServer(t, upstream.URL).Handler()
		if rec := doRequest(t, h, http.MethodGet, "/api/store/runs?limit=500"); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("recorded", func(t *testing.T) {
		db, err := database.NewDatabase(filepath.Join(t.TempDir(), "runs.db"), 1, logging.Discard())
		if err != nil {
			t.Fatalf("NewDatabase() error = %v", err)
		}
		defer db.Close()

		cfg := config.DefaultConfig()
		cfg.Upstream.BaseURL = upstream.URL
		cfg.Logging.RequestLogging = false
		ss, err := NewStoreServer(cfg, "", db, logging.Discard())
		if err != nil {
			t.Fatalf("NewStoreServer() error = %v", err)
		}
		h := ss.Handler()

		if rec := doRequest(t, h, http.MethodGet, "/store"); rec.Code != http.StatusOK {
			t.Fatalf("GET /store status = %d", rec.Code)
		}

		rec := doRequest(t, h, http.MethodGet, "/api/store/runs?limit=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var runs []models.Run
		if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
			t.Fatalf("invalid runs body: %v", err)
		}
		if len(runs) != 1 || runs[0].Songs != 2 || runs[0].Total() != 2 {
			t.Errorf("runs = %+v", runs)
		}

		health := doRequest(t, h, http.MethodGet, "/health")
		if !strings.Contains(health.Body.String(), `"database":"ok"`) {
			t.Errorf("health = %s", health.Body.String())
		}
	})
}

func TestGetConfig(t *testing.T) {
	h := createTestStoreServer(t, "http://localhost:1").Handler()
	rec := doRequest(t, h, http.MethodGet, "/api/config")

	var resp ConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid config body: %v", err)
	}
	if resp.FailurePolicy != config.FailurePolicyShared || resp.UpstreamTimeout != 5 || resp.RunLog || !resp.MCP {
		t.Errorf("config = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()

	h := createTestStoreServer(t, upstream.URL).Handler()
	doRequest(t, h, http.MethodGet, "/store")

	rec := doRequest(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	for _, name := range []string{"tya_requests_total", "http_requests_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestPanicRecovery(t *testing.T) {
	ss := createTestStoreServer(t, "http://localhost:1")
	logger, hook := logtest.NewNullLogger()
	ss.logger = logger

	h := ss.Handler()
	h.(chi.Router).Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-7" {
		t.Errorf("X-Request-ID = %q, want req-7", rec.Header().Get("X-Request-ID"))
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Panic while handling request" {
			found = true
			if entry.Data["request_id"] != "req-7" {
				t.Errorf("request_id = %v, want req-7", entry.Data["request_id"])
			}
		}
	}
	if !found {
		t.Error("panic was not logged as a server error")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Watch.Enabled = false
	cfg.Logging.RequestLogging = false

	ss, err := NewStoreServer(cfg, "", nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewStoreServer() error = %v", err)
	}

	if err := ss.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- ss.Start()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() after Shutdown() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() still serving after Shutdown()")
	}
}

func TestShutdownStopsServing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Watch.Enabled = false
	cfg.Logging.RequestLogging = false

	ss, err := NewStoreServer(cfg, "", nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewStoreServer() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- ss.Start()
	}()

	// Give ListenAndServe a moment; Shutdown is safe either way.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ss.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown()")
	}
}

func TestStorefrontReload(t *testing.T) {
	first := tyatest.NewServer()
	defer first.Close()
	second := tyatest.NewServer()
	defer second.Close()

	ss := createTestStoreServer(t, first.URL)

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := config.DefaultConfig()
	cfg.Upstream.BaseURL = second.URL
	cfg.Upstream.FailurePolicy = config.FailurePolicyPerKind
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	t.Setenv("TYA_SERVICE_URL", "")

	ss.reloadConfig(path)

	sf := ss.Storefront()
	if sf.UpstreamURL() != second.URL || sf.Policy() != config.FailurePolicyPerKind {
		t.Errorf("storefront not reloaded: %s %s", sf.UpstreamURL(), sf.Policy())
	}

	// An invalid file keeps the current storefront.
	cfg.Upstream.FailurePolicy = "bogus"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	ss.reloadConfig(path)
	if ss.Storefront() != sf {
		t.Error("invalid config replaced the storefront")
	}
}

func TestStorefrontReloadSkipsMissingFile(t *testing.T) {
	upstream := tyatest.NewServer()
	defer upstream.Close()

	ss := createTestStoreServer(t, upstream.URL)
	before := ss.Storefront()

	path := filepath.Join(t.TempDir(), "config.toml")
	ss.reloadConfig(path)

	if ss.Storefront() != before {
		t.Error("missing config file replaced the storefront")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("reload wrote a config file: %v", err)
	}
}
