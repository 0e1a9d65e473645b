package models

import "time"

// GenerationState tracks one generation request through the assembler.
type GenerationState string

const (
	StateIdle              GenerationState = "idle"
	StateScriptStreaming   GenerationState = "script_streaming"
	StateScriptComplete    GenerationState = "script_complete"
	StateEnrichmentPending GenerationState = "enrichment_pending"
	StateSettled           GenerationState = "settled"
)

// Enrichment stage names reported in LectureSnapshot.Failures.
const (
	StageSlides         = "slides"
	StageQuizResources  = "quiz_resources"
	StageAudio          = "audio"
	StageTranslateAudio = "translated_audio"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Session is one browser's working area. Only the newest generation is of
// interest; older generation ids are ignored.
type Session struct {
	ID           string          `json:"id"`
	GenerationID string          `json:"generation_id,omitempty"`
	Status       string          `json:"status,omitempty"`
	Error        string          `json:"error,omitempty"`
	Language     string          `json:"language"`
	Translating  bool            `json:"translating"`
	Request      GenerateRequest `json:"request"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LectureSnapshot is what observers see after every package update.
type LectureSnapshot struct {
	GenerationID string          `json:"generation_id"`
	State        GenerationState `json:"state"`
	Language     string          `json:"language"`
	Package      LecturePackage  `json:"package"`
	Failures     []string        `json:"failures,omitempty"`
	Final        bool            `json:"final"`
	AudioReady   bool            `json:"audio_ready"`
}

// ForBroadcast strips the audio bytes; clients fetch audio separately.
func (s LectureSnapshot) ForBroadcast() LectureSnapshot {
	s.AudioReady = s.Package.HasAudio()
	s.Package = s.Package.WithoutAudio()
	return s
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type GenerateResponse struct {
	SessionID    string `json:"session_id"`
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}

type GradeRequest struct {
	Prompt string `json:"prompt"`
	Text   string `json:"text"`
}

// Workspace pairs the source-language package with the one on screen.
// Derived edits land on Display, and on Original too while the display
// language is the source language.
type Workspace struct {
	Language string         `json:"language"`
	Original LecturePackage `json:"original"`
	Display  LecturePackage `json:"display"`
}

func NewWorkspace(pkg LecturePackage) Workspace {
	return Workspace{Language: SourceLanguage, Original: pkg.Clone(), Display: pkg.Clone()}
}

func (w Workspace) IsSourceLanguage() bool {
	return w.Language == "" || w.Language == SourceLanguage
}

// Apply runs fn on copies of the affected packages and returns the result.
func (w Workspace) Apply(fn func(LecturePackage) LecturePackage) Workspace {
	out := Workspace{Language: w.Language, Original: w.Original.Clone(), Display: fn(w.Display.Clone())}
	if w.IsSourceLanguage() {
		out.Original = fn(w.Original.Clone())
	}
	return out
}

// Restore shows the source-language package again.
func (w Workspace) Restore() Workspace {
	return Workspace{Language: SourceLanguage, Original: w.Original.Clone(), Display: w.Original.Clone()}
}
