package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"surveydesk/internal/db/dbtest"
)

func TestRouterHealthAndAuthGate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.UploadDir = t.TempDir()
	h := NewRouter(cfg, dbtest.OpenSQLite(t))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/askers/1/yaml"},
		{http.MethodPost, "/api/v1/exports"},
		{http.MethodPost, "/api/v1/memberships/1/dateshift"},
		{http.MethodPost, "/api/v1/memberships/import"},
		{http.MethodGet, "/api/v1/askers/1/summary"},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`)))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, w.Code)
		}
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "surveydesk_uptime_seconds") {
		t.Fatalf("metrics body missing uptime: %s", w.Body.String())
	}
}
