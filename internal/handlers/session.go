package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lectern-backend/internal/audio"
	"lectern-backend/internal/models"
	"lectern-backend/internal/repository"
)

type sessionStore interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	GetSnapshot(ctx context.Context, sessionID string) (*models.LectureSnapshot, error)
	LoadWorkspace(ctx context.Context, sessionID string) (models.Workspace, *models.LectureSnapshot, error)
	SaveWorkspace(ctx context.Context, sessionID string, base models.LectureSnapshot, w models.Workspace) (models.LectureSnapshot, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job models.Job) error
}

type notifier interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage) error
}

type socketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial *models.WSMessage)
}

// SessionHandler serves the session lifecycle: creating a session, queueing
// a generation, reading the lecture back and streaming updates.
type SessionHandler struct {
	sessions       sessionStore
	queue          jobQueue
	hub            socketServer
	maxUploadBytes int64
	log            *zap.Logger
}

func NewSessionHandler(sessions sessionStore, queue jobQueue, hub socketServer, maxUploadBytes int64, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:       sessions,
		queue:          queue,
		hub:            hub,
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create(r.Context())
	if err != nil {
		h.log.Error("failed to create session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create session", r))
		return
	}
	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{SessionID: sess.ID})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Generate queues a new lecture for the session. Any generation still in
// flight is superseded.
func (h *SessionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	req, err := h.parseGenerateRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	generationID := uuid.New().String()
	sess.GenerationID = generationID
	sess.Status = models.StatusPending
	sess.Error = ""
	sess.Language = models.SourceLanguage
	sess.Translating = false
	sess.Request = withoutFileData(req)
	if err := h.sessions.Update(r.Context(), sess); err != nil {
		h.log.Error("failed to update session", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to start generation", r))
		return
	}

	job := models.Job{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		GenerationID: generationID,
		Type:         models.JobTypeGeneration,
		Request:      req,
		CreatedAt:    time.Now(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error("failed to enqueue generation", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue generation", r))
		return
	}

	writeJSON(w, http.StatusAccepted, models.GenerateResponse{
		SessionID:    sessionID,
		GenerationID: generationID,
		Status:       models.StatusPending,
	})
}

func (h *SessionHandler) parseGenerateRequest(w http.ResponseWriter, r *http.Request) (models.GenerateRequest, error) {
	var req models.GenerateRequest
	if !isMultipart(r) {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return req, err
	}
	file, err := readFormFile(r, "file")
	if err != nil {
		return req, err
	}

	req = models.GenerateRequest{
		Topic:           r.FormValue("topic"),
		Audience:        r.FormValue("audience"),
		Duration:        r.FormValue("duration"),
		VisualTheme:     r.FormValue("visual_theme"),
		Persona:         r.FormValue("persona"),
		UseThinkingMode: formBool(r, "use_thinking_mode"),
		File:            file,
	}
	return req, nil
}

// withoutFileData keeps the file reference on the session, not its bytes.
func withoutFileData(req models.GenerateRequest) models.GenerateRequest {
	if req.File == nil {
		return req
	}
	f := *req.File
	f.Data = nil
	req.File = &f
	return req
}

// Lecture returns the displayed snapshot without audio bytes.
func (h *SessionHandler) Lecture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	snap, err := h.sessions.GetSnapshot(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.ForBroadcast())
}

func (h *SessionHandler) Audio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !snap.Package.HasAudio() {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No narration is available for this lecture", r))
		return
	}

	wav, err := audio.EncodeWAV(snap.Package.AudioData)
	if err != nil {
		h.log.Error("failed to encode narration", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to encode audio", r))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `inline; filename="lecture.wav"`)
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}

// Socket streams snapshot updates. The stored snapshot, if any, is sent
// first so a late subscriber starts from the current state.
func (h *SessionHandler) Socket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	var initial *models.WSMessage
	snap, err := h.sessions.GetSnapshot(r.Context(), sessionID)
	switch {
	case err == nil:
		initial = &models.WSMessage{
			Type:    models.WSTypeSnapshot,
			Payload: models.SnapshotEvent{SessionID: sessionID, Snapshot: snap.ForBroadcast()},
		}
	case !errors.Is(err, repository.ErrNoLecture):
		h.log.Warn("failed to load snapshot for socket", zap.String("session_id", sessionID), zap.Error(err))
	}

	h.hub.Serve(w, r, sessionID, initial)
}

func publishSnapshot(ctx context.Context, n notifier, log *zap.Logger, sessionID string, snap models.LectureSnapshot) {
	err := n.Publish(ctx, sessionID, models.WSMessage{
		Type:    models.WSTypeSnapshot,
		Payload: models.SnapshotEvent{SessionID: sessionID, Snapshot: snap.ForBroadcast()},
	})
	if err != nil {
		log.Warn("failed to publish snapshot", zap.String("session_id", sessionID), zap.Error(err))
	}
}
