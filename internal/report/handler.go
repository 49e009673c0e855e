package report

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"surveydesk/internal/app/apiresp"
)

type Handler struct {
	svc summaryService
}

type summaryService interface {
	SummaryByAsker(ctx context.Context, askerID int64) (*AskerSummary, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) AskerSummary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid asker id")
		return
	}

	out, err := h.svc.SummaryByAsker(r.Context(), id)
	switch {
	case err == nil:
		apiresp.WriteOK(w, r, http.StatusOK, out)
	case errors.Is(err, ErrAskerNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		log.Printf("asker summary %d failed: %v", id, err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
