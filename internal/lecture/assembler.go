package lecture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lectern-backend/internal/models"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

// TextModel is the text side of the model gateway.
type TextModel interface {
	StreamScript(ctx context.Context, req models.GenerateRequest) (services.TextStream, error)
	GenerateSlides(ctx context.Context, script, theme string, thinking bool) ([]models.Slide, error)
	GenerateMoreQuiz(ctx context.Context, topic, script, persona string) ([]models.QuizQuestion, error)
	TranslatePackage(ctx context.Context, pkg models.LecturePackage, language string) (*services.TranslatedContent, error)
	GenerateAssignment(ctx context.Context, topic, script string) ([]string, error)
	GradeAssignment(ctx context.Context, sub models.SubmissionInput, script string) (*models.AssignmentFeedback, error)
}

// MediaModel covers grounded search and speech.
type MediaModel interface {
	GenerateQuizAndResources(ctx context.Context, script string, thinking bool) (*models.QuizAndResources, error)
	SynthesizeSpeech(ctx context.Context, script, persona string) ([]byte, error)
}

// Publisher receives every snapshot in order. Snapshots are never mutated
// after they are handed over.
type Publisher func(models.LectureSnapshot)

// Assembler owns one lecture package per generation request and drives it
// from the streamed script through the three enrichment calls.
type Assembler struct {
	text   TextModel
	media  MediaModel
	caller *retry.Caller
	log    *zap.Logger
}

func NewAssembler(text TextModel, media MediaModel, caller *retry.Caller, logger *zap.Logger) *Assembler {
	if caller == nil {
		caller = retry.New(logger)
	}
	return &Assembler{text: text, media: media, caller: caller, log: logger}
}

// run holds the state of a single Generate call.
type run struct {
	state    models.GenerationState
	pkg      models.LecturePackage
	failures []string
	publish  Publisher
}

func (r *run) snapshot(final bool) models.LectureSnapshot {
	return models.LectureSnapshot{
		State:      r.state,
		Language:   models.SourceLanguage,
		Package:    r.pkg.Clone(),
		Failures:   append([]string(nil), r.failures...),
		Final:      final,
		AudioReady: r.pkg.HasAudio(),
	}
}

// emit publishes a copy of the current package and returns another.
func (r *run) emit(final bool) models.LectureSnapshot {
	if r.publish != nil {
		r.publish(r.snapshot(final))
	}
	return r.snapshot(final)
}

func (r *run) transition(state models.GenerationState) {
	r.state = state
	r.emit(false)
}

// Generate streams the script, then fans out slides, quiz with resources,
// and narration. Only a failed script call is an error; enrichment failures
// are listed in the final snapshot's Failures.
func (a *Assembler) Generate(ctx context.Context, req models.GenerateRequest, publish Publisher) (models.LectureSnapshot, error) {
	r := &run{state: models.StateIdle, pkg: models.NewLecturePackage(), publish: publish}

	script, err := a.streamScript(ctx, req, r)
	if err != nil {
		return models.LectureSnapshot{}, err
	}

	r.pkg.Script = script
	r.transition(models.StateScriptComplete)
	r.transition(models.StateEnrichmentPending)

	enriched := a.enrich(ctx, req, script)
	r.pkg, r.failures = enriched.merge(r.pkg)
	r.state = models.StateSettled

	for _, stage := range r.failures {
		a.log.Warn("enrichment branch failed",
			zap.String("stage", stage),
			zap.Error(enriched.errFor(stage)),
		)
	}

	return r.emit(true), nil
}

func (a *Assembler) streamScript(ctx context.Context, req models.GenerateRequest, r *run) (string, error) {
	stream, err := retry.Do(ctx, a.caller, func(ctx context.Context) (services.TextStream, error) {
		return a.text.StreamScript(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate script: %w", err)
	}

	r.state = models.StateScriptStreaming
	var script strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("script stream interrupted: %w", err)
		}
		if chunk == "" {
			continue
		}
		script.WriteString(chunk)
		r.pkg.Script = script.String()
		r.emit(false)
	}

	if strings.TrimSpace(script.String()) == "" {
		return "", ErrEmptyScript
	}
	return script.String(), nil
}

// enrichment is the join of the three branch slots. Each branch writes
// only its own fields.
type enrichment struct {
	slides    []models.Slide
	slidesErr error

	quiz    *models.QuizAndResources
	quizErr error

	audio    []byte
	audioErr error
}

func (a *Assembler) enrich(ctx context.Context, req models.GenerateRequest, script string) *enrichment {
	var (
		e enrichment
		g errgroup.Group
	)

	g.Go(func() error {
		e.slides, e.slidesErr = retry.Do(ctx, a.caller, func(ctx context.Context) ([]models.Slide, error) {
			return a.text.GenerateSlides(ctx, script, req.VisualTheme, req.UseThinkingMode)
		})
		return nil
	})
	g.Go(func() error {
		e.quiz, e.quizErr = retry.Do(ctx, a.caller, func(ctx context.Context) (*models.QuizAndResources, error) {
			return a.media.GenerateQuizAndResources(ctx, script, req.UseThinkingMode)
		})
		return nil
	})
	g.Go(func() error {
		e.audio, e.audioErr = retry.Do(ctx, a.caller, func(ctx context.Context) ([]byte, error) {
			return a.media.SynthesizeSpeech(ctx, script, req.Persona)
		})
		return nil
	})

	// Branches report through their slots, never through Wait.
	_ = g.Wait()
	return &e
}

func (e *enrichment) merge(base models.LecturePackage) (models.LecturePackage, []string) {
	out := base.Clone()
	var failures []string

	if e.slidesErr == nil {
		out.Slides = e.slides
	} else {
		failures = append(failures, models.StageSlides)
	}

	if e.quizErr == nil && e.quiz != nil {
		out.Quiz = e.quiz.Quiz
		out.Resources = e.quiz.Resources
		out.GroundingChunks = e.quiz.GroundingChunks
	} else {
		if e.quizErr == nil {
			e.quizErr = errors.New("no quiz data returned")
		}
		failures = append(failures, models.StageQuizResources)
	}

	if e.audioErr == nil && len(e.audio) > 0 {
		out.AudioData = e.audio
	} else {
		if e.audioErr == nil {
			e.audioErr = services.ErrNoAudio
		}
		failures = append(failures, models.StageAudio)
	}

	out.EnsureDefaults()
	return out, failures
}

func (e *enrichment) errFor(stage string) error {
	switch stage {
	case models.StageSlides:
		return e.slidesErr
	case models.StageQuizResources:
		return e.quizErr
	case models.StageAudio:
		return e.audioErr
	}
	return nil
}
