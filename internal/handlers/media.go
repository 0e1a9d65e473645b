package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"lectern-backend/internal/models"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

type videoStudio interface {
	StartVideo(ctx context.Context, req models.VideoRequest) (*models.VideoOperation, error)
	VideoStatus(ctx context.Context, name string) (*models.VideoOperation, error)
	DownloadVideo(ctx context.Context, name string) ([]byte, string, error)
}

type keySelector interface {
	services.KeySelector
	Status() models.CredentialStatus
}

// VideoHandler fronts the long-running video generation. Every call needs a
// chosen API key.
type VideoHandler struct {
	studio   videoStudio
	selector keySelector
	caller   *retry.Caller
	log      *zap.Logger
}

func NewVideoHandler(studio videoStudio, selector keySelector, caller *retry.Caller, logger *zap.Logger) *VideoHandler {
	return &VideoHandler{studio: studio, selector: selector, caller: caller, log: logger}
}

func (h *VideoHandler) requireKey(w http.ResponseWriter, r *http.Request) bool {
	if h.selector.HasSelectedKey(r.Context()) {
		return true
	}
	writeJSON(w, http.StatusPreconditionRequired, errorResp("NO_API_KEY", "Please select an API key before generating videos", r))
	return false
}

func (h *VideoHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w, r) {
		return
	}

	req, err := parseVideoRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if fields := validateVideoRequest(req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	op, err := retry.Do(r.Context(), h.caller, func(ctx context.Context) (*models.VideoOperation, error) {
		return h.studio.StartVideo(ctx, req)
	})
	if err != nil {
		h.log.Warn("video generation failed to start", zap.Error(err))
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func parseVideoRequest(w http.ResponseWriter, r *http.Request) (models.VideoRequest, error) {
	var req models.VideoRequest
	if !isMultipart(r) {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	// Allow some room for the prompt and multipart framing.
	limit := int64(models.MaxVideoImageBytes) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return req, err
	}
	image, err := readFormFile(r, "image")
	if err != nil {
		return req, err
	}
	return models.VideoRequest{Prompt: r.FormValue("prompt"), Image: image}, nil
}

func validateVideoRequest(req models.VideoRequest) map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(req.Prompt) == "" {
		fields["prompt"] = "Prompt is required"
	}
	if req.Image != nil {
		if !strings.HasPrefix(req.Image.MIMEType, "image/") {
			fields["image"] = "Image must be an image file"
		} else if len(req.Image.Data) > models.MaxVideoImageBytes {
			fields["image"] = "Image must be " + strconv.Itoa(models.MaxVideoImageBytes>>20) + "MB or smaller"
		}
	}
	return fields
}

// Status polls an operation once. Operation names contain slashes, so the
// name travels as a query parameter.
func (h *VideoHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w, r) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Operation name is required", r))
		return
	}

	op, err := retry.Do(r.Context(), h.caller, func(ctx context.Context) (*models.VideoOperation, error) {
		return h.studio.VideoStatus(ctx, name)
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// Content proxies the finished video.
func (h *VideoHandler) Content(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w, r) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Operation name is required", r))
		return
	}

	type video struct {
		data     []byte
		mimeType string
	}
	v, err := retry.Do(r.Context(), h.caller, func(ctx context.Context) (video, error) {
		data, mimeType, err := h.studio.DownloadVideo(ctx, name)
		return video{data: data, mimeType: mimeType}, err
	})
	if err != nil {
		h.log.Warn("video download failed", zap.String("operation", name), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", v.mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(v.data)))
	w.WriteHeader(http.StatusOK)
	w.Write(v.data)
}

// CredentialsHandler exposes the key-selection capability.
type CredentialsHandler struct {
	selector keySelector
	log      *zap.Logger
}

func NewCredentialsHandler(selector keySelector, logger *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{selector: selector, log: logger}
}

func (h *CredentialsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.selector.Status())
}

func (h *CredentialsHandler) Select(w http.ResponseWriter, r *http.Request) {
	status, err := h.selector.OpenSelectKey(r.Context())
	if errors.Is(err, services.ErrNoAPIKey) {
		writeJSON(w, http.StatusPreconditionRequired, errorResp("NO_API_KEY", "No API key was found in the environment", r))
		return
	}
	if err != nil {
		h.log.Error("key selection failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to select API key", r))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
