package study

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"surveydesk/internal/app/apiresp"
	"surveydesk/internal/auth"
)

type Handler struct {
	svc studyService
}

type studyService interface {
	ShiftMembershipDates(ctx context.Context, in DateShiftInput) (*DateShiftResult, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type dateShiftRequest struct {
	DateRandomised Date `json:"date_randomised"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ShiftDates(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	id, ok := parseID(w, r, "id", "invalid membership id")
	if !ok {
		return
	}

	var req dateShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.ShiftMembershipDates(r.Context(), DateShiftInput{
		MembershipID: id,
		NewDate:      req.DateRandomised,
		ActorID:      user.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotRandomised):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		case errors.Is(err, ErrMembershipNotFound):
			writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
		default:
			log.Printf("date shift membership %d failed: %v", id, err)
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: out})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
