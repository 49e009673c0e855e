package roster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"surveydesk/internal/app/apiresp"
	"surveydesk/internal/auth"
	"surveydesk/internal/study"
)

type Handler struct {
	svc rosterService
}

type rosterService interface {
	CreateStudy(ctx context.Context, actorID int64, in CreateStudyInput) (*study.Study, error)
	ImportMembershipsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error)
	ScheduleObservations(ctx context.Context, actorID int64, in ScheduleInput) ([]study.Observation, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createStudyRequest struct {
	Slug       string   `json:"slug"`
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
}

type scheduleRequest struct {
	Script    string `json:"script"`
	Count     int    `json:"count"`
	EveryDays int    `json:"every_days"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateStudy(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req createStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.CreateStudy(r.Context(), user.ID, CreateStudyInput{
		Slug:       req.Slug,
		Name:       req.Name,
		Conditions: req.Conditions,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: out})
}

func (h *Handler) ImportMembershipsCSV(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportMembershipsCSV(r.Context(), user.ID, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.Printf("membership import %s by %s: %d ok, %d failed", hdr.Filename, user.Username, report.SuccessRows, report.FailedRows)
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func (h *Handler) ScheduleObservations(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid membership id"})
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.ScheduleObservations(r.Context(), user.ID, ScheduleInput{
		MembershipID: id,
		Script:       req.Script,
		Count:        req.Count,
		EveryDays:    req.EveryDays,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: out})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotRandomised):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrMembershipNotFound), errors.Is(err, ErrStudyNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("roster request failed: %v", err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	apiresp.WriteLegacy(w, r, code, payload.OK, payload.Data, payload.Error)
}
