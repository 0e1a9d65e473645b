package models

type Assignment struct {
	Prompts        []string            `json:"prompts"`
	UserSubmission *Submission         `json:"userSubmission,omitempty"`
	Feedback       *AssignmentFeedback `json:"feedback,omitempty"`
}

// AttachedFile references an uploaded submission file. Bytes are not kept.
type AttachedFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Submission struct {
	Prompt string        `json:"prompt"`
	Text   string        `json:"text"`
	File   *AttachedFile `json:"file,omitempty"`
}

// AssignmentFeedback scores: Score out of 10, the rest out of 100.
// A low Plagiarism score is good.
type AssignmentFeedback struct {
	Score        float64  `json:"score"`
	Overall      string   `json:"overall"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Formatting   float64  `json:"formatting"`
	Structure    float64  `json:"structure"`
	Plagiarism   float64  `json:"plagiarism"`
}

// SubmissionInput is what a student hands in: text, or a file.
type SubmissionInput struct {
	Prompt string
	Text   string
	File   *SourceFile
}

func (s SubmissionInput) IsFile() bool { return s.File != nil && len(s.File.Data) > 0 }

func (a Assignment) Clone() Assignment {
	out := Assignment{Prompts: cloneStrings(a.Prompts)}
	if a.UserSubmission != nil {
		sub := *a.UserSubmission
		if sub.File != nil {
			f := *sub.File
			sub.File = &f
		}
		out.UserSubmission = &sub
	}
	if a.Feedback != nil {
		fb := *a.Feedback
		fb.Strengths = cloneStrings(fb.Strengths)
		fb.Improvements = cloneStrings(fb.Improvements)
		out.Feedback = &fb
	}
	return out
}

func (a *Assignment) EnsureDefaults() {
	if a.Prompts == nil {
		a.Prompts = []string{}
	}
	if a.Feedback != nil {
		a.Feedback.EnsureDefaults()
	}
}

func (f *AssignmentFeedback) EnsureDefaults() {
	if f.Strengths == nil {
		f.Strengths = []string{}
	}
	if f.Improvements == nil {
		f.Improvements = []string{}
	}
}
