package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"surveydesk/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPRateLimiterWindowAndSweep(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("first request should pass")
	}
	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("second request should pass")
	}
	ok, retry := l.Allow("a")
	if ok {
		t.Fatalf("third request should be blocked")
	}
	if retry != time.Minute {
		t.Fatalf("expected retry after 1m, got %s", retry)
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := l.Allow("b"); !ok {
		t.Fatalf("other key should pass")
	}
	if n := l.size(); n != 1 {
		t.Fatalf("expected expired bucket to be swept, got %d buckets", n)
	}
	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("new window should reset the count")
	}
}

func TestRateLimitSharesBucketAcrossIDsAndPorts(t *testing.T) {
	r := chi.NewRouter()
	r.With(RateLimitMiddleware(NewIPRateLimiter(1, time.Minute))).Put("/askers/{id}/yaml", okHandler().ServeHTTP)

	first := httptest.NewRequest(http.MethodPut, "/askers/1/yaml", nil)
	first.RemoteAddr = "10.0.0.7:50001"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	second := httptest.NewRequest(http.MethodPut, "/askers/2/yaml", nil)
	second.RemoteAddr = "10.0.0.7:50002"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, second)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodPut, "/askers/2/yaml", nil)
	other.RemoteAddr = "10.0.0.8:50003"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Fatalf("other client: expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareSessionCookieNeedsToken(t *testing.T) {
	next := CSRFMiddleware(true)(okHandler())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/askers/1/yaml", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "sess"})
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/askers/1/yaml", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "sess"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abd")
	w = httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/askers/1/yaml", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "sess"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w = httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("matching token: expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareExemptsBearerAndAnonymous(t *testing.T) {
	next := CSRFMiddleware(true)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exports", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "sess"})
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	w = httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			issued = c
		}
	}
	if issued == nil || len(issued.Value) != 64 {
		t.Fatalf("expected a csrf cookie to be issued, got %+v", issued)
	}
}

func TestCSRFMiddlewareKeepsExistingToken(t *testing.T) {
	next := CSRFMiddleware(true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("existing token should not be replaced")
	}

	w = httptest.NewRecorder()
	CSRFMiddleware(false)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("disabled middleware should not issue cookies")
	}
}
