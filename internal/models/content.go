package models

import (
	"path/filepath"
	"strings"
)

// SourceFile is an uploaded attachment: lecture source material, a graded
// submission, or a video reference image.
type SourceFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
}

// IsDocument reports whether text can be extracted locally instead of
// sending the bytes inline to the model.
func (f *SourceFile) IsDocument() bool {
	if f == nil {
		return false
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".txt", ".pdf", ".docx":
		return true
	}
	return false
}

func (f *SourceFile) Attached() *AttachedFile {
	if f == nil {
		return nil
	}
	return &AttachedFile{Name: f.Name, MIMEType: f.MIMEType, Size: int64(len(f.Data))}
}

// GenerateRequest carries the lecture form values.
type GenerateRequest struct {
	Topic           string      `json:"topic"`
	Audience        string      `json:"audience"`
	Duration        string      `json:"duration"`
	VisualTheme     string      `json:"visual_theme"`
	Persona         string      `json:"persona"`
	UseThinkingMode bool        `json:"use_thinking_mode"`
	File            *SourceFile `json:"file,omitempty"`
}

// Validate returns field errors keyed by JSON name.
func (r GenerateRequest) Validate() map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(r.Topic) == "" && r.File == nil {
		fields["topic"] = "Topic or file is required"
	}
	if strings.TrimSpace(r.Audience) == "" {
		fields["audience"] = "Audience is required"
	}
	if strings.TrimSpace(r.Persona) == "" {
		fields["persona"] = "Persona is required"
	}
	return fields
}

// TopicOrFile names the lecture subject for prompts that need one.
func (r GenerateRequest) TopicOrFile() string {
	if strings.TrimSpace(r.Topic) != "" {
		return r.Topic
	}
	if r.File != nil {
		return r.File.Name
	}
	return "the provided file"
}

// Supported translation targets. English is the source language.
const SourceLanguage = "English"

var SupportedLanguages = []string{
	"English", "Hindi", "Telugu", "Spanish", "French", "German",
	"Mandarin Chinese", "Japanese", "Russian", "Arabic", "Portuguese", "Bengali",
}

func IsSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}
