package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lectern-backend/internal/models"
)

// derivedOps are the lecture operations that run inside a request.
type derivedOps interface {
	MoreQuiz(ctx context.Context, req models.GenerateRequest, w models.Workspace) (models.Workspace, int, error)
	CreateAssignment(ctx context.Context, req models.GenerateRequest, w models.Workspace) (models.Workspace, error)
	GradeSubmission(ctx context.Context, w models.Workspace, sub models.SubmissionInput) (models.Workspace, error)
}

type LectureHandler struct {
	sessions       sessionStore
	ops            derivedOps
	queue          jobQueue
	notifier       notifier
	maxUploadBytes int64
	log            *zap.Logger
}

func NewLectureHandler(sessions sessionStore, ops derivedOps, queue jobQueue, notifier notifier, maxUploadBytes int64, logger *zap.Logger) *LectureHandler {
	return &LectureHandler{
		sessions:       sessions,
		ops:            ops,
		queue:          queue,
		notifier:       notifier,
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
}

type MoreQuizResponse struct {
	Added    int                    `json:"added"`
	Snapshot models.LectureSnapshot `json:"snapshot"`
}

type LanguageResponse struct {
	Language    string                  `json:"language"`
	Translating bool                    `json:"translating"`
	Snapshot    *models.LectureSnapshot `json:"snapshot,omitempty"`
}

// workspace loads the session and its lecture. It writes the error response
// and returns ok=false when the lecture cannot be edited right now.
func (h *LectureHandler) workspace(w http.ResponseWriter, r *http.Request) (*models.Session, models.Workspace, *models.LectureSnapshot, bool) {
	sessionID := chi.URLParam(r, "id")
	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, models.Workspace{}, nil, false
	}
	if sess.Status == models.StatusPending || sess.Status == models.StatusProcessing {
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "A lecture is still being generated", r))
		return nil, models.Workspace{}, nil, false
	}
	if sess.Translating {
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "A translation is in progress", r))
		return nil, models.Workspace{}, nil, false
	}

	ws, base, err := h.sessions.LoadWorkspace(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, models.Workspace{}, nil, false
	}
	return sess, ws, base, true
}

// commit saves out unless a newer generation or language switch replaced
// the lecture while the model call ran.
func (h *LectureHandler) commit(w http.ResponseWriter, r *http.Request, sess *models.Session, base *models.LectureSnapshot, out models.Workspace) (models.LectureSnapshot, bool) {
	latest, err := h.sessions.Get(r.Context(), sess.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return models.LectureSnapshot{}, false
	}
	if latest.GenerationID != sess.GenerationID || latest.Language != sess.Language || latest.Translating {
		writeJSON(w, http.StatusConflict, errorResp("STALE", "The lecture changed while this request was running", r))
		return models.LectureSnapshot{}, false
	}

	saved, err := h.sessions.SaveWorkspace(r.Context(), sess.ID, *base, out)
	if err != nil {
		h.log.Error("failed to save lecture", zap.String("session_id", sess.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save lecture", r))
		return models.LectureSnapshot{}, false
	}
	publishSnapshot(r.Context(), h.notifier, h.log, sess.ID, saved)
	return saved, true
}

func (h *LectureHandler) MoreQuiz(w http.ResponseWriter, r *http.Request) {
	sess, ws, base, ok := h.workspace(w, r)
	if !ok {
		return
	}

	out, added, err := h.ops.MoreQuiz(r.Context(), sess.Request, ws)
	if err != nil {
		h.log.Warn("more quiz failed", zap.String("session_id", sess.ID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	saved, ok := h.commit(w, r, sess, base, out)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MoreQuizResponse{Added: added, Snapshot: saved.ForBroadcast()})
}

// SetLanguage switches the displayed language. English is restored in
// place; other languages are translated by the worker pool.
func (h *LectureHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req models.LanguageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if !models.IsSupportedLanguage(req.Language) {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"language": "Unsupported language"}, r))
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if sess.Status == models.StatusPending || sess.Status == models.StatusProcessing {
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "A lecture is still being generated", r))
		return
	}
	if sess.Language == req.Language && !sess.Translating {
		writeJSON(w, http.StatusOK, LanguageResponse{Language: sess.Language})
		return
	}

	ws, base, err := h.sessions.LoadWorkspace(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if req.Language == models.SourceLanguage {
		restored := *base
		restored.Failures = nil
		saved, err := h.sessions.SaveWorkspace(r.Context(), sessionID, restored, ws.Restore())
		if err != nil {
			h.log.Error("failed to restore lecture", zap.String("session_id", sessionID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to restore lecture", r))
			return
		}
		sess.Language = models.SourceLanguage
		sess.Translating = false
		sess.Error = ""
		if err := h.sessions.Update(r.Context(), sess); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update session", r))
			return
		}
		publishSnapshot(r.Context(), h.notifier, h.log, sessionID, saved)
		view := saved.ForBroadcast()
		writeJSON(w, http.StatusOK, LanguageResponse{Language: sess.Language, Snapshot: &view})
		return
	}

	sess.Language = req.Language
	sess.Translating = true
	sess.Error = ""
	if err := h.sessions.Update(r.Context(), sess); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update session", r))
		return
	}

	job := models.Job{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		GenerationID: sess.GenerationID,
		Type:         models.JobTypeTranslation,
		Request:      sess.Request,
		Language:     req.Language,
		CreatedAt:    time.Now(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error("failed to enqueue translation", zap.String("session_id", sessionID), zap.Error(err))
		sess.Language = ws.Language
		sess.Translating = false
		if err := h.sessions.Update(r.Context(), sess); err != nil {
			h.log.Error("failed to roll back language change",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue translation", r))
		return
	}

	writeJSON(w, http.StatusAccepted, LanguageResponse{Language: req.Language, Translating: true})
}

func (h *LectureHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	sess, ws, base, ok := h.workspace(w, r)
	if !ok {
		return
	}

	out, err := h.ops.CreateAssignment(r.Context(), sess.Request, ws)
	if err != nil {
		h.log.Warn("assignment generation failed", zap.String("session_id", sess.ID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	saved, ok := h.commit(w, r, sess, base, out)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, saved.ForBroadcast())
}

// Grade accepts a JSON text submission or a multipart file submission.
func (h *LectureHandler) Grade(w http.ResponseWriter, r *http.Request) {
	sub, err := h.parseSubmission(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(sub.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Prompt is required", r))
		return
	}

	sess, ws, base, ok := h.workspace(w, r)
	if !ok {
		return
	}

	out, err := h.ops.GradeSubmission(r.Context(), ws, sub)
	if err != nil {
		h.log.Warn("grading failed", zap.String("session_id", sess.ID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	saved, ok := h.commit(w, r, sess, base, out)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, saved.ForBroadcast())
}

func (h *LectureHandler) parseSubmission(w http.ResponseWriter, r *http.Request) (models.SubmissionInput, error) {
	if !isMultipart(r) {
		var req models.GradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return models.SubmissionInput{}, err
		}
		return models.SubmissionInput{Prompt: req.Prompt, Text: req.Text}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return models.SubmissionInput{}, err
	}
	file, err := readFormFile(r, "file")
	if err != nil {
		return models.SubmissionInput{}, err
	}
	return models.SubmissionInput{
		Prompt: r.FormValue("prompt"),
		Text:   r.FormValue("text"),
		File:   file,
	}, nil
}
