package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"surveydesk/internal/auth"
	"surveydesk/internal/entity"
)

const maxUploadBytes = 32 << 20

// ReplyHandler records replies entered by researchers or previewed while
// authoring a questionnaire.
type ReplyHandler struct {
	store     replyStore
	uploadDir string
}

type replyStore interface {
	StartReply(ctx context.Context, in StartReplyInput) (*Reply, error)
	GetReply(ctx context.Context, replyID int64) (*Reply, error)
	SaveAnswer(ctx context.Context, in SaveAnswerInput) (*entity.Record, error)
	SubmitReply(ctx context.Context, replyID int64) (*Reply, error)
}

type startReplyRequest struct {
	ObservationID int64      `json:"observation_id"`
	Preview       bool       `json:"preview"`
	CollectedOn   *time.Time `json:"collected_on"`
}

type saveAnswerRequest struct {
	QuestionID        int64          `json:"question_id"`
	OtherVariableName string         `json:"other_variable_name"`
	PageID            int64          `json:"page_id"`
	Answer            *string        `json:"answer"`
	Meta              map[string]any `json:"meta"`
}

func NewReplyHandler(store *Store, uploadDir string) *ReplyHandler {
	return &ReplyHandler{store: store, uploadDir: uploadDir}
}

func (h *ReplyHandler) Start(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	askerID, ok := parseID(w, r, "id", "invalid asker id")
	if !ok {
		return
	}

	var req startReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	method := EntryResearcher
	if req.Preview {
		method = EntryPreview
	}
	reply, err := h.store.StartReply(r.Context(), StartReplyInput{
		AskerID:       askerID,
		ObservationID: req.ObservationID,
		EntryMethod:   method,
		IsCanonical:   !req.Preview,
		CollectedOn:   req.CollectedOn,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: reply})
}

func (h *ReplyHandler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	replyID, ok := parseID(w, r, "id", "invalid reply id")
	if !ok {
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	rec, err := h.store.SaveAnswer(r.Context(), SaveAnswerInput{
		ReplyID:           replyID,
		QuestionID:        req.QuestionID,
		OtherVariableName: req.OtherVariableName,
		PageID:            req.PageID,
		Answer:            req.Answer,
		Meta:              req.Meta,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"id": rec.ID, "status": "saved"}})
}

// Upload stores a multipart "file" under the reply's upload directory and
// records it as the answer to question_id or other_variable_name.
func (h *ReplyHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	replyID, ok := parseID(w, r, "id", "invalid reply id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file is required"})
		return
	}
	defer file.Close()

	questionID, _ := strconv.ParseInt(r.FormValue("question_id"), 10, 64)
	pageID, _ := strconv.ParseInt(r.FormValue("page_id"), 10, 64)
	other := strings.TrimSpace(r.FormValue("other_variable_name"))
	if questionID <= 0 && other == "" {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: ErrUnknownAnswer.Error()})
		return
	}

	reply, err := h.store.GetReply(r.Context(), replyID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	rel := UploadPath(reply.Token, header.Filename)
	if err := h.writeUpload(rel, file); err != nil {
		log.Printf("store upload for reply %d: %v", replyID, err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "cannot store upload"})
		return
	}

	name := filepath.Base(rel)
	rec, err := h.store.SaveAnswer(r.Context(), SaveAnswerInput{
		ReplyID:           replyID,
		QuestionID:        questionID,
		OtherVariableName: other,
		PageID:            pageID,
		Answer:            &name,
		Upload:            rel,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"id": rec.ID, "upload": rel}})
}

func (h *ReplyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	replyID, ok := parseID(w, r, "id", "invalid reply id")
	if !ok {
		return
	}

	reply, err := h.store.SubmitReply(r.Context(), replyID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: reply})
}

func (h *ReplyHandler) writeUpload(rel string, src io.Reader) error {
	dst := filepath.Join(h.uploadDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy upload: %w", err)
	}
	return f.Close()
}

func (h *ReplyHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrReplyNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownAnswer), errors.Is(err, ErrQuestionAbsent):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, entity.ErrInvalidValue):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("reply request failed: %v", err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func parseID(w http.ResponseWriter, r *http.Request, param, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: msg})
		return 0, false
	}
	return id, true
}
