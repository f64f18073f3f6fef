package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/learncompanion/internal/metrics"
	"github.com/jordanhubbard/learncompanion/internal/router"
	"github.com/jordanhubbard/learncompanion/internal/vault"
)

type fakeSender struct{ id string }

func (f *fakeSender) ID() string { return f.id }
func (f *fakeSender) Send(ctx context.Context, model string, req router.Request) (router.ProviderResponse, error) {
	return nil, nil
}
func (f *fakeSender) ClassifyError(err error) *router.ClassifiedError { return nil }

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	eng := router.NewEngine(router.EngineConfig{})
	v, err := vault.New(false)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return Dependencies{
		Engine:  eng,
		Vault:   v,
		Metrics: metrics.New(),
	}
}

func mountTestRouter(t *testing.T, d Dependencies) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	MountRoutes(r, d)
	return r
}

func TestHealthzReportsUnhealthyWithNoAdaptersOrModels(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Fatalf("status field = %v, want unhealthy", body["status"])
	}
}

func TestHealthzReportsOKWithAdapterAndModel(t *testing.T) {
	d := newTestDeps(t)
	d.Engine.RegisterAdapter(&fakeSender{id: "openai"})
	d.Engine.RegisterModel(router.Model{ID: "gpt-4o", ProviderID: "openai", Enabled: true})
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminInfoReportsVaultAndCompanionState(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/info", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service"] != "learncompanion" {
		t.Fatalf("service = %v, want learncompanion", body["service"])
	}
	if body["companion_enabled"] != false {
		t.Fatalf("companion_enabled = %v, want false (no Companion wired)", body["companion_enabled"])
	}
}

func TestAdminV1HealthRequiresTokenWhenConfigured(t *testing.T) {
	d := newTestDeps(t)
	d.AdminToken = "secret"
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status with valid token = %d, want %d", rec2.Code, http.StatusOK)
	}
}

func TestAdminV1HealthOpenWithoutConfiguredToken(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminV1StatsReturnsEmptyShapeWithoutCollector(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCompanionRoutesNotMountedWhenNil(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodPost, "/v1/companion/chat", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d when Companion is nil", rec.Code, http.StatusNotFound)
	}
}

func TestRootRedirectsToAdminInfo(t *testing.T) {
	d := newTestDeps(t)
	r := mountTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/admin/api/info" {
		t.Fatalf("Location = %q, want /admin/api/info", loc)
	}
}
