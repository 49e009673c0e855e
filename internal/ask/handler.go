package ask

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"surveydesk/internal/app/apiresp"
	"surveydesk/internal/entity"

	"github.com/go-chi/chi/v5"
)

const maxDocumentBytes = 2 << 20

type Handler struct {
	svc askerService
}

type askerService interface {
	CreateAsker(ctx context.Context, in CreateAskerInput) (*Asker, error)
	GetAsker(ctx context.Context, id int64) (*Asker, error)
	ImportYAML(ctx context.Context, askerID int64, raw string) (*ImportReport, error)
	DumpYAML(ctx context.Context, askerID int64) (string, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createAskerRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type importRequest struct {
	YAML string `json:"yaml"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateAsker(w http.ResponseWriter, r *http.Request) {
	var req createAskerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateAsker(r.Context(), CreateAskerInput{Name: req.Name, Slug: req.Slug})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) GetAsker(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAskerID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.GetAsker(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) GetYAML(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAskerID(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.DumpYAML(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// PutYAML imports a document. The body is raw YAML, a JSON {"yaml": ...}
// object, or a form with a yaml field; form posts are redirected back to the
// document on success.
func (h *Handler) PutYAML(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAskerID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var raw string
	switch mediaType {
	case "application/json":
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
			return
		}
		raw = req.YAML
	case "application/x-www-form-urlencoded", "multipart/form-data":
		raw = r.FormValue("yaml")
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
			return
		}
		raw = string(body)
	}

	report, err := h.svc.ImportYAML(r.Context(), id, raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func parseAskerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid asker id"})
		return 0, false
	}
	return id, true
}

const noAskerInfoMessage = "No information provided about the Asker"

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoAskerInfo):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: noAskerInfoMessage})
	case errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrInvalidShowIf),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, entity.ErrInvalidValue):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAskerNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
