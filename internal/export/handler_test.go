package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"surveydesk/internal/auth"
)

type mockExportService struct {
	exportFn func(ctx context.Context, req Request) (*Archive, error)
}

func (m *mockExportService) Export(ctx context.Context, req Request) (*Archive, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, req)
}

func TestExportHandlerStreamsArchive(t *testing.T) {
	h := &Handler{svc: &mockExportService{
		exportFn: func(ctx context.Context, req Request) (*Archive, error) {
			if len(req.AskerIDs) != 1 || req.AskerIDs[0] != 4 || req.ReferenceStudy != "trial" {
				t.Fatalf("unexpected request: %+v", req)
			}
			return &Archive{Filename: "exported_data.zip", ContentType: ZipContentType, Body: []byte("PK")}, nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exports", strings.NewReader(`{"asker_ids":[4],"reference_study":"trial"}`))
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1, Username: "researcher"}))
	w := httptest.NewRecorder()

	h.Export(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-zip-compressed" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "attachment; filename=exported_data.zip" {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if w.Body.String() != "PK" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestExportHandlerRequiresUser(t *testing.T) {
	h := &Handler{svc: &mockExportService{}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exports", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.Export(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestExportHandlerMapsErrors(t *testing.T) {
	for err, code := range map[error]int{
		ErrInvalidInput:       http.StatusBadRequest,
		ErrNoAnswers:          http.StatusNotFound,
		errors.New("db down"): http.StatusInternalServerError,
	} {
		h := &Handler{svc: &mockExportService{
			exportFn: func(ctx context.Context, req Request) (*Archive, error) { return nil, err },
		}}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/exports", strings.NewReader(`{"asker_ids":[1]}`))
		req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1}))
		w := httptest.NewRecorder()

		h.Export(w, req)

		if w.Code != code {
			t.Fatalf("%v: expected %d, got %d", err, code, w.Code)
		}
	}
}
