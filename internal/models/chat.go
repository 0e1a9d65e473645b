package models

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the tutor chat endpoint.
// SlideIndex selects the slide whose content frames the question.
type ChatRequest struct {
	Message    string        `json:"message"`
	History    []ChatMessage `json:"history"`
	SlideIndex *int          `json:"slide_index,omitempty"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

type TranscriptionResponse struct {
	Text string `json:"text"`
}
