package models

import (
	"time"
)

const (
	JobTypeGeneration  = "lecture-generation"
	JobTypeTranslation = "lecture-translation"
)

// Job is the unit of work pushed onto the redis queues.
type Job struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	GenerationID string          `json:"generation_id"`
	Type         string          `json:"type"` // "lecture-generation" | "lecture-translation"
	Request      GenerateRequest `json:"request"`
	Language     string          `json:"language,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WebSocket message types
const (
	WSTypeSnapshot  = "snapshot"
	WSTypeCompleted = "completed"
	WSTypeError     = "error"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotEvent struct {
	SessionID string          `json:"session_id"`
	Snapshot  LectureSnapshot `json:"snapshot"`
}

type CompletedEvent struct {
	SessionID    string   `json:"session_id"`
	GenerationID string   `json:"generation_id"`
	JobType      string   `json:"job_type"`
	Failures     []string `json:"failures,omitempty"`
}

type ErrorEvent struct {
	SessionID    string `json:"session_id"`
	GenerationID string `json:"generation_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
