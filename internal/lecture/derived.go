package lecture

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lectern-backend/internal/models"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

// The derived operations take a workspace and return a new one. On failure
// the input workspace is returned as is.

// MoreQuiz asks for more questions and appends those not already present.
// It reports how many were added to the displayed package.
func (a *Assembler) MoreQuiz(ctx context.Context, req models.GenerateRequest, w models.Workspace) (models.Workspace, int, error) {
	if w.Display.Script == "" {
		return w, 0, ErrNoPackage
	}

	batch, err := retry.Do(ctx, a.caller, func(ctx context.Context) ([]models.QuizQuestion, error) {
		return a.text.GenerateMoreQuiz(ctx, req.TopicOrFile(), w.Display.Script, req.Persona)
	})
	if err != nil {
		return w, 0, fmt.Errorf("failed to generate more quiz questions: %w", err)
	}

	added := len(models.NewQuestions(w.Display.Quiz, batch))
	out := w.Apply(func(pkg models.LecturePackage) models.LecturePackage {
		pkg.Quiz = append(pkg.Quiz, models.NewQuestions(pkg.Quiz, batch)...)
		return pkg
	})
	return out, added, nil
}

// Translate produces a display package in language from the original.
// The text translation is published before narration is re-synthesized;
// narration failure keeps the translated text without audio.
func (a *Assembler) Translate(ctx context.Context, req models.GenerateRequest, w models.Workspace, language string, publish func(models.Workspace)) (models.Workspace, []string, error) {
	if !models.IsSupportedLanguage(language) {
		return w, nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, language)
	}
	if w.Original.Script == "" {
		return w, nil, ErrNoPackage
	}
	if language == models.SourceLanguage {
		return w.Restore(), nil, nil
	}

	translated, err := retry.Do(ctx, a.caller, func(ctx context.Context) (*services.TranslatedContent, error) {
		return a.text.TranslatePackage(ctx, w.Original, language)
	})
	if err != nil {
		return w.Restore(), nil, fmt.Errorf("failed to translate to %s: %w", language, err)
	}

	display := overlay(w.Original, translated)
	out := models.Workspace{Language: language, Original: w.Original.Clone(), Display: display}
	if publish != nil {
		publish(out)
	}

	script := display.Script
	if script == "" {
		script = w.Original.Script
	}
	audio, err := retry.Do(ctx, a.caller, func(ctx context.Context) ([]byte, error) {
		return a.media.SynthesizeSpeech(ctx, script, req.Persona)
	})
	if err != nil || len(audio) == 0 {
		a.log.Warn("translated narration failed", zap.String("language", language), zap.Error(err))
		return out, []string{models.StageTranslateAudio}, nil
	}

	out.Display = out.Display.Clone()
	out.Display.AudioData = audio
	return out, nil, nil
}

// overlay lays translated text over a copy of base. Audio is dropped.
func overlay(base models.LecturePackage, t *services.TranslatedContent) models.LecturePackage {
	out := base.Clone()
	out.AudioData = nil
	if t == nil {
		return out
	}
	if t.Slides != nil {
		out.Slides = t.Slides
	}
	if t.Script != "" {
		out.Script = t.Script
	}
	if t.Quiz != nil {
		out.Quiz = t.Quiz
	}
	if t.Assignment != nil {
		a := t.Assignment.Clone()
		out.Assignment = &a
	}
	out.EnsureDefaults()
	return out
}

// CreateAssignment generates prompts once per lecture.
func (a *Assembler) CreateAssignment(ctx context.Context, req models.GenerateRequest, w models.Workspace) (models.Workspace, error) {
	if w.Display.Script == "" {
		return w, ErrNoPackage
	}
	if w.Display.Assignment != nil {
		return w, ErrAssignmentExists
	}

	prompts, err := retry.Do(ctx, a.caller, func(ctx context.Context) ([]string, error) {
		return a.text.GenerateAssignment(ctx, req.TopicOrFile(), w.Display.Script)
	})
	if err != nil {
		return w, fmt.Errorf("failed to generate assignment: %w", err)
	}
	if prompts == nil {
		prompts = []string{}
	}

	return w.Apply(func(pkg models.LecturePackage) models.LecturePackage {
		pkg.Assignment = &models.Assignment{Prompts: append([]string{}, prompts...)}
		return pkg
	}), nil
}

// GradeSubmission grades text or a file against the displayed script and
// records the submission with its feedback.
func (a *Assembler) GradeSubmission(ctx context.Context, w models.Workspace, sub models.SubmissionInput) (models.Workspace, error) {
	if w.Display.Script == "" {
		return w, ErrNoPackage
	}
	if w.Display.Assignment == nil {
		return w, ErrNoAssignment
	}
	if strings.TrimSpace(sub.Text) == "" && !sub.IsFile() {
		return w, ErrEmptySubmission
	}

	fb, err := retry.Do(ctx, a.caller, func(ctx context.Context) (*models.AssignmentFeedback, error) {
		return a.text.GradeAssignment(ctx, sub, w.Display.Script)
	})
	if err != nil {
		return w, fmt.Errorf("failed to grade assignment: %w", err)
	}

	feedback := models.AssignmentFeedback{}
	if fb != nil {
		feedback = *fb
	}
	feedback.EnsureDefaults()

	submission := models.Submission{Prompt: sub.Prompt, Text: sub.Text}
	if sub.IsFile() {
		submission.Text = "File: " + sub.File.Name
		submission.File = sub.File.Attached()
	}

	return w.Apply(func(pkg models.LecturePackage) models.LecturePackage {
		if pkg.Assignment == nil {
			return pkg
		}
		s := submission
		if submission.File != nil {
			file := *submission.File
			s.File = &file
		}
		f := feedback
		f.Strengths = append([]string{}, feedback.Strengths...)
		f.Improvements = append([]string{}, feedback.Improvements...)
		pkg.Assignment.UserSubmission = &s
		pkg.Assignment.Feedback = &f
		return pkg
	}), nil
}
