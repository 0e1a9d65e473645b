package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lectern-backend/internal/models"
	"lectern-backend/internal/repository"
	"lectern-backend/internal/retry"
)

type tutorModel interface {
	Chat(ctx context.Context, history []models.ChatMessage, message string, slide *models.Slide, slideIndex int) (string, error)
	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type snapshotReader interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	GetSnapshot(ctx context.Context, sessionID string) (*models.LectureSnapshot, error)
}

type ChatHandler struct {
	sessions       snapshotReader
	tutor          tutorModel
	caller         *retry.Caller
	maxUploadBytes int64
	log            *zap.Logger
}

func NewChatHandler(sessions snapshotReader, tutor tutorModel, caller *retry.Caller, maxUploadBytes int64, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		sessions:       sessions,
		tutor:          tutor,
		caller:         caller,
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
}

// AskQuestion answers one tutoring turn, framed by the current slide when
// the request names one.
func (h *ChatHandler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message is required", r))
		return
	}

	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	slide, index := h.currentSlide(r.Context(), sessionID, req.SlideIndex)

	reply, err := retry.Do(r.Context(), h.caller, func(ctx context.Context) (string, error) {
		return h.tutor.Chat(ctx, req.History, req.Message, slide, index)
	})
	if err != nil {
		h.log.Warn("chat failed", zap.String("session_id", sessionID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Reply: reply})
}

func (h *ChatHandler) currentSlide(ctx context.Context, sessionID string, index *int) (*models.Slide, int) {
	if index == nil {
		return nil, 0
	}
	snap, err := h.sessions.GetSnapshot(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNoLecture) {
			h.log.Warn("failed to load slides for chat", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, 0
	}
	i := *index
	if i < 0 || i >= len(snap.Package.Slides) {
		return nil, 0
	}
	slide := snap.Package.Slides[i]
	return &slide, i
}

// Transcribe turns a recorded question into text.
func (h *ChatHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid upload", r))
		return
	}

	file, err := readFormFile(r, "audio")
	if err != nil || file == nil || len(file.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No audio provided", r))
		return
	}

	text, err := retry.Do(r.Context(), h.caller, func(ctx context.Context) (string, error) {
		return h.tutor.TranscribeAudio(ctx, file.Data, file.MIMEType)
	})
	if err != nil {
		h.log.Warn("transcription failed", zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.TranscriptionResponse{Text: text})
}
