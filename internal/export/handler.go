package export

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
	svc exportService
}

type exportService interface {
	Export(ctx context.Context, req Request) (*Archive, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type exportRequest struct {
	AskerIDs       []int64  `json:"asker_ids"`
	StudySlugs     []string `json:"study_slugs"`
	ReplyIDs       []int64  `json:"reply_ids"`
	IncludePreview bool     `json:"include_preview"`
	ReferenceStudy string   `json:"reference_study"`
	Exclude        []string `json:"exclude"`
	Format         string   `json:"format"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.Export(r.Context(), Request{
		AskerIDs:       req.AskerIDs,
		StudySlugs:     req.StudySlugs,
		ReplyIDs:       req.ReplyIDs,
		IncludePreview: req.IncludePreview,
		ReferenceStudy: req.ReferenceStudy,
		Exclude:        req.Exclude,
		Format:         req.Format,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		case errors.Is(err, ErrNoAnswers):
			writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
		default:
			log.Printf("export failed: %v", err)
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		}
		return
	}

	log.Printf("export by %s: %d rows, %d bytes", user.Username, out.Rows, len(out.Body))
	apiresp.WriteAttachment(w, out.ContentType, out.Filename, out.Body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
