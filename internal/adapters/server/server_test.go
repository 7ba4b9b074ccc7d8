package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hylla/blockenv/internal/adapters/storage/sqlstore"
	"github.com/hylla/blockenv/internal/app"
	"github.com/prometheus/client_golang/prometheus"
)

// newTestEnvironment builds one environment over an in-memory sqlite store.
func newTestEnvironment(t *testing.T, reg prometheus.Registerer) (*app.BatchEnvironment, *sqlstore.Store) {
	t.Helper()
	store, err := sqlstore.OpenSQLiteInMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	env, err := app.NewBatchEnvironment(store, uuid.NewString, nil, app.EnvironmentConfig{Metrics: app.NewMetrics(reg)})
	if err != nil {
		t.Fatalf("NewBatchEnvironment() error = %v", err)
	}
	return env, store
}

func get(t *testing.T, handler http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return rec.Code, string(body)
}

// TestNewHandlerRoutesSurfaces verifies health, metrics, and API mounting.
func TestNewHandlerRoutesSurfaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	env, store := newTestEnvironment(t, reg)
	handler, cfg, err := NewHandler(Config{}, Dependencies{Environment: env, Metrics: reg, Ready: store.Ping})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.ServerName != "blockenv" || cfg.APIEndpoint != "/api/v1" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if code, body := get(t, handler, "/healthz"); code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, _ := get(t, handler, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", code)
	}
	if code, body := get(t, handler, "/api/v1/layouts/missing"); code != http.StatusNotFound || !strings.Contains(body, "not_found") {
		t.Fatalf("missing layout = %d %q", code, body)
	}

	layout, err := env.CreateLayout(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	if _, err := env.Save(context.Background(), app.SaveRequest{LayoutID: layout.ID, OrganisationID: "org-1", Version: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	code, body := get(t, handler, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", code)
	}
	if !strings.Contains(body, "blockenv_") {
		t.Fatalf("metrics body missing blockenv collectors: %q", body)
	}
}

// TestReadinessReportsFailure verifies readyz reflects the probe.
func TestReadinessReportsFailure(t *testing.T) {
	env, _ := newTestEnvironment(t, nil)
	handler, _, err := NewHandler(Config{}, Dependencies{
		Environment: env,
		Ready:       func(context.Context) error { return errors.New("database locked") },
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	code, body := get(t, handler, "/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "database locked") {
		t.Fatalf("readyz = %d %q", code, body)
	}
	if code, _ := get(t, handler, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics without gatherer = %d, want 404", code)
	}
}

// TestNormalizeConfig verifies endpoint defaults and collisions.
func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/", MCPEndpoint: " /tools/mcp/ "})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.APIEndpoint != "/api" || cfg.MCPEndpoint != "/tools/mcp" || cfg.MetricsEndpoint != "/metrics" {
		t.Fatalf("unexpected endpoints %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/x", MCPEndpoint: "/x"}); err == nil {
		t.Fatal("normalizeConfig() error = nil, want collision error")
	}
	if _, err := normalizeConfig(Config{MetricsEndpoint: "/healthz"}); err == nil {
		t.Fatal("normalizeConfig() error = nil, want reserved endpoint error")
	}
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("NewHandler() error = nil, want missing environment error")
	}
}
