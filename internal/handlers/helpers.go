package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"lectern-backend/internal/lecture"
	"lectern-backend/internal/middleware"
	"lectern-backend/internal/models"
	"lectern-backend/internal/repository"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

// handleServiceError maps lecture, store and model errors onto the error
// envelope. Model failures carry the user-facing message.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	case errors.Is(err, repository.ErrNoLecture), errors.Is(err, lecture.ErrNoPackage):
		writeJSON(w, http.StatusConflict, errorResp("NO_LECTURE", lecture.ErrNoPackage.Error(), r))
	case errors.Is(err, lecture.ErrNoAssignment):
		writeJSON(w, http.StatusConflict, errorResp("NO_ASSIGNMENT", err.Error(), r))
	case errors.Is(err, lecture.ErrAssignmentExists):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", err.Error(), r))
	case errors.Is(err, lecture.ErrEmptySubmission), errors.Is(err, lecture.ErrUnsupportedTarget):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
	case errors.Is(err, services.ErrUnsupportedDocument):
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", err.Error(), r))
	case errors.Is(err, services.ErrNoAPIKey):
		writeJSON(w, http.StatusPreconditionRequired, errorResp("NO_API_KEY", err.Error(), r))
	case errors.Is(err, services.ErrKeyRejected):
		writeJSON(w, http.StatusUnauthorized, errorResp("KEY_REJECTED", lecture.UserMessage(err), r))
	case errors.Is(err, retry.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", lecture.UserMessage(err), r))
	default:
		writeJSON(w, http.StatusBadGateway, errorResp("AI_ERROR", lecture.UserMessage(err), r))
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// readFormFile returns the named upload, or nil when the field is absent.
func readFormFile(r *http.Request, field string) (*models.SourceFile, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return &models.SourceFile{
		Name:     header.Filename,
		MIMEType: uploadMIMEType(header, data),
		Data:     data,
	}, nil
}

func uploadMIMEType(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}

func formBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.FormValue(key)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
