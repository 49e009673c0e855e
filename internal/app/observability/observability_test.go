package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/askers/123/yaml")
	want := "/api/v1/askers/{id}/yaml"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractResource(t *testing.T) {
	if res, id := extractResource("/api/v1/memberships/456/dateshift"); res != "memberships" || id != 456 {
		t.Fatalf("expected memberships/456, got %s/%d", res, id)
	}
	if res, id := extractResource("/api/v1/exports"); res != "" || id != 0 {
		t.Fatalf("expected no resource, got %s/%d", res, id)
	}
}

func TestMetricsCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/askers/7", nil))
	}

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `surveydesk_http_requests_total{method="GET",path="/api/v1/askers/{id}",status="404"} 2`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, w.Body.String())
	}
}
