package models

const MaxVideoImageBytes = 10 * 1024 * 1024

type VideoRequest struct {
	Prompt string      `json:"prompt"`
	Image  *SourceFile `json:"image,omitempty"`
}

// VideoOperation reports a long-running video generation.
type VideoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	VideoURI string `json:"video_uri,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CredentialStatus struct {
	HasSelectedKey bool   `json:"has_selected_key"`
	Source         string `json:"source,omitempty"`
}
