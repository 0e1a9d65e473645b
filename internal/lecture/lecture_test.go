package lecture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lectern-backend/internal/models"
	"lectern-backend/internal/normalize"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

type sliceStream struct {
	chunks []string
	failAt int // index that fails, -1 for none
	i      int
}

func (s *sliceStream) Next() (string, error) {
	if s.failAt >= 0 && s.i == s.failAt {
		return "", errors.New("connection reset")
	}
	if s.i >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

type fakeText struct {
	stream     func() (services.TextStream, error)
	slides     func() ([]models.Slide, error)
	moreQuiz   func() ([]models.QuizQuestion, error)
	translate  func(pkg models.LecturePackage, language string) (*services.TranslatedContent, error)
	assignment func() ([]string, error)
	grade      func(sub models.SubmissionInput) (*models.AssignmentFeedback, error)
}

func (f *fakeText) StreamScript(ctx context.Context, req models.GenerateRequest) (services.TextStream, error) {
	return f.stream()
}

func (f *fakeText) GenerateSlides(ctx context.Context, script, theme string, thinking bool) ([]models.Slide, error) {
	return f.slides()
}

func (f *fakeText) GenerateMoreQuiz(ctx context.Context, topic, script, persona string) ([]models.QuizQuestion, error) {
	return f.moreQuiz()
}

func (f *fakeText) TranslatePackage(ctx context.Context, pkg models.LecturePackage, language string) (*services.TranslatedContent, error) {
	return f.translate(pkg, language)
}

func (f *fakeText) GenerateAssignment(ctx context.Context, topic, script string) ([]string, error) {
	return f.assignment()
}

func (f *fakeText) GradeAssignment(ctx context.Context, sub models.SubmissionInput, script string) (*models.AssignmentFeedback, error) {
	return f.grade(sub)
}

type fakeMedia struct {
	quiz   func() (*models.QuizAndResources, error)
	speech func(script string) ([]byte, error)
}

func (f *fakeMedia) GenerateQuizAndResources(ctx context.Context, script string, thinking bool) (*models.QuizAndResources, error) {
	return f.quiz()
}

func (f *fakeMedia) SynthesizeSpeech(ctx context.Context, script, persona string) ([]byte, error) {
	return f.speech(script)
}

func instantCaller() *retry.Caller {
	c := retry.New(zap.NewNop())
	c.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c.Jitter = func() time.Duration { return 0 }
	return c
}

var errRateLimit = errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")

func happyText() *fakeText {
	return &fakeText{
		stream: func() (services.TextStream, error) {
			return &sliceStream{chunks: []string{"Cells ", "divide ", "by mitosis."}, failAt: -1}, nil
		},
		slides: func() ([]models.Slide, error) {
			return []models.Slide{{Title: "Mitosis", Content: []string{"prophase"}}}, nil
		},
	}
}

func happyMedia() *fakeMedia {
	return &fakeMedia{
		quiz: func() (*models.QuizAndResources, error) {
			return &models.QuizAndResources{
				Quiz:            []models.QuizQuestion{{Question: "Q1", Options: []string{"a"}, CorrectAnswer: "a"}},
				Resources:       []models.Resource{{Title: "Khan", URL: "https://example.com", Type: models.ResourceVideo}},
				GroundingChunks: []models.GroundingChunk{{Web: &models.WebSource{URI: "https://example.com"}}},
			}, nil
		},
		speech: func(script string) ([]byte, error) { return []byte{1, 0, 2, 0}, nil },
	}
}

func collect(snaps *[]models.LectureSnapshot) Publisher {
	return func(s models.LectureSnapshot) { *snaps = append(*snaps, s) }
}

func TestGenerate_StreamsThenSettles(t *testing.T) {
	a := NewAssembler(happyText(), happyMedia(), instantCaller(), zap.NewNop())

	var snaps []models.LectureSnapshot
	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "Mitosis"}, collect(&snaps))
	require.NoError(t, err)

	var states []models.GenerationState
	for _, s := range snaps {
		states = append(states, s.State)
	}
	assert.Equal(t, []models.GenerationState{
		models.StateScriptStreaming,
		models.StateScriptStreaming,
		models.StateScriptStreaming,
		models.StateScriptComplete,
		models.StateEnrichmentPending,
		models.StateSettled,
	}, states)

	assert.Equal(t, "Cells ", snaps[0].Package.Script)
	assert.Equal(t, "Cells divide ", snaps[1].Package.Script)
	assert.Empty(t, snaps[1].Package.Slides)

	assert.True(t, final.Final)
	assert.Empty(t, final.Failures)
	assert.Equal(t, "Cells divide by mitosis.", final.Package.Script)
	assert.Len(t, final.Package.Slides, 1)
	assert.Len(t, final.Package.Quiz, 1)
	assert.Len(t, final.Package.Resources, 1)
	assert.Len(t, final.Package.GroundingChunks, 1)
	assert.Equal(t, []byte{1, 0, 2, 0}, final.Package.AudioData)
	assert.True(t, final.AudioReady)
	assert.Equal(t, final, snaps[len(snaps)-1])
}

func TestGenerate_BranchFailureIsIsolated(t *testing.T) {
	media := happyMedia()
	media.quiz = func() (*models.QuizAndResources, error) {
		return nil, &normalize.MalformedResponseError{Raw: "nope", Err: errors.New("bad json")}
	}
	a := NewAssembler(happyText(), media, instantCaller(), zap.NewNop())

	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "Mitosis"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{models.StageQuizResources}, final.Failures)
	assert.Len(t, final.Package.Slides, 1)
	assert.NotEmpty(t, final.Package.AudioData)
	assert.NotNil(t, final.Package.Quiz)
	assert.Empty(t, final.Package.Quiz)
	assert.NotNil(t, final.Package.Resources)
	assert.Empty(t, final.Package.Resources)
	assert.Nil(t, final.Package.GroundingChunks)
}

func TestGenerate_AllBranchesFail(t *testing.T) {
	text := happyText()
	text.slides = func() ([]models.Slide, error) { return nil, errors.New("boom") }
	media := &fakeMedia{
		quiz:   func() (*models.QuizAndResources, error) { return nil, errors.New("boom") },
		speech: func(string) ([]byte, error) { return nil, nil },
	}
	a := NewAssembler(text, media, instantCaller(), zap.NewNop())

	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{models.StageSlides, models.StageQuizResources, models.StageAudio}, final.Failures)
	assert.Equal(t, "Cells divide by mitosis.", final.Package.Script)
	assert.False(t, final.AudioReady)
}

func TestGenerate_BootstrapFailureIsTotal(t *testing.T) {
	text := happyText()
	text.stream = func() (services.TextStream, error) { return nil, errors.New("permission denied") }
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	var snaps []models.LectureSnapshot
	_, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, collect(&snaps))
	require.Error(t, err)
	assert.Empty(t, snaps)
	assert.Equal(t, "An error occurred: failed to generate script: permission denied", UserMessage(err))
}

func TestGenerate_BootstrapRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	text := happyText()
	text.stream = func() (services.TextStream, error) {
		if calls.Add(1) <= 2 {
			return nil, errRateLimit
		}
		return &sliceStream{chunks: []string{"ok"}, failAt: -1}, nil
	}
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "ok", final.Package.Script)
}

func TestGenerate_BootstrapRateLimitExhausted(t *testing.T) {
	text := happyText()
	text.stream = func() (services.TextStream, error) { return nil, errRateLimit }
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	_, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, nil)
	require.ErrorIs(t, err, retry.ErrRateLimited)
	assert.Equal(t, MsgBusy, UserMessage(err))
}

func TestGenerate_BranchRetriesIndependently(t *testing.T) {
	var slideCalls atomic.Int32
	text := happyText()
	text.slides = func() ([]models.Slide, error) {
		if slideCalls.Add(1) < 3 {
			return nil, errRateLimit
		}
		return []models.Slide{{Title: "late"}}, nil
	}
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), slideCalls.Load())
	assert.Equal(t, "late", final.Package.Slides[0].Title)
	assert.Empty(t, final.Failures)
}

func TestGenerate_MidStreamErrorIsTotal(t *testing.T) {
	text := happyText()
	text.stream = func() (services.TextStream, error) {
		return &sliceStream{chunks: []string{"a", "b"}, failAt: 1}, nil
	}
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	var snaps []models.LectureSnapshot
	_, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, collect(&snaps))
	require.Error(t, err)
	assert.Len(t, snaps, 1)
}

func TestGenerate_EmptyScript(t *testing.T) {
	text := happyText()
	text.stream = func() (services.TextStream, error) {
		return &sliceStream{chunks: []string{"", "  "}, failAt: -1}, nil
	}
	a := NewAssembler(text, happyMedia(), instantCaller(), zap.NewNop())

	_, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, nil)
	assert.ErrorIs(t, err, ErrEmptyScript)
}

func TestGenerate_SnapshotsDoNotShareState(t *testing.T) {
	a := NewAssembler(happyText(), happyMedia(), instantCaller(), zap.NewNop())

	var snaps []models.LectureSnapshot
	final, err := a.Generate(context.Background(), models.GenerateRequest{Topic: "x"}, collect(&snaps))
	require.NoError(t, err)

	published := snaps[len(snaps)-1]
	published.Package.Slides[0].Content[0] = "tampered"
	published.Package.AudioData[0] = 99

	assert.Equal(t, "prophase", final.Package.Slides[0].Content[0])
	assert.Equal(t, byte(1), final.Package.AudioData[0])
}

func workspaceWithQuiz(questions ...string) models.Workspace {
	pkg := models.NewLecturePackage()
	pkg.Script = "Cells divide by mitosis."
	for _, q := range questions {
		pkg.Quiz = append(pkg.Quiz, models.QuizQuestion{Question: q, Options: []string{"a"}, CorrectAnswer: "a"})
	}
	return models.NewWorkspace(pkg)
}

func TestMoreQuiz_DropsDuplicates(t *testing.T) {
	text := &fakeText{moreQuiz: func() ([]models.QuizQuestion, error) {
		return []models.QuizQuestion{
			{Question: "What is mitosis?"},
			{Question: "What is a cell?"},
			{Question: "What is anaphase?"},
		}, nil
	}}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("What is mitosis?", "What is a cell?")
	out, added, err := a.MoreQuiz(context.Background(), models.GenerateRequest{Topic: "Mitosis"}, w)
	require.NoError(t, err)

	assert.Equal(t, 1, added)
	require.Len(t, out.Display.Quiz, 3)
	assert.Equal(t, "What is anaphase?", out.Display.Quiz[2].Question)
	assert.Len(t, out.Original.Quiz, 3)
	assert.Len(t, w.Display.Quiz, 2)
}

func TestMoreQuiz_TranslatedDisplayLeavesOriginal(t *testing.T) {
	text := &fakeText{moreQuiz: func() ([]models.QuizQuestion, error) {
		return []models.QuizQuestion{{Question: "¿Qué es la mitosis?"}}, nil
	}}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("What is mitosis?")
	w.Language = "Spanish"
	out, _, err := a.MoreQuiz(context.Background(), models.GenerateRequest{}, w)
	require.NoError(t, err)
	assert.Len(t, out.Display.Quiz, 2)
	assert.Len(t, out.Original.Quiz, 1)
}

func TestMoreQuiz_FailureKeepsWorkspace(t *testing.T) {
	text := &fakeText{moreQuiz: func() ([]models.QuizQuestion, error) { return nil, errors.New("down") }}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("Q1")
	out, added, err := a.MoreQuiz(context.Background(), models.GenerateRequest{}, w)
	require.Error(t, err)
	assert.Zero(t, added)
	assert.Equal(t, w, out)
}

func TestTranslate_PublishesTextThenAudio(t *testing.T) {
	text := &fakeText{translate: func(pkg models.LecturePackage, language string) (*services.TranslatedContent, error) {
		return &services.TranslatedContent{Script: "Las células se dividen.", Slides: []models.Slide{{Title: "Mitosis"}}}, nil
	}}
	var narrated string
	media := &fakeMedia{speech: func(script string) ([]byte, error) {
		narrated = script
		return []byte{7, 0}, nil
	}}
	a := NewAssembler(text, media, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("Q1")
	w.Original.AudioData = []byte{1, 0}
	w.Display.AudioData = []byte{1, 0}

	var published []models.Workspace
	out, failures, err := a.Translate(context.Background(), models.GenerateRequest{Persona: "Calm Teacher"}, w, "Spanish",
		func(p models.Workspace) { published = append(published, p) })
	require.NoError(t, err)
	assert.Empty(t, failures)

	require.Len(t, published, 1)
	assert.Nil(t, published[0].Display.AudioData)
	assert.Equal(t, "Las células se dividen.", published[0].Display.Script)

	assert.Equal(t, "Spanish", out.Language)
	assert.Equal(t, "Las células se dividen.", narrated)
	assert.Equal(t, []byte{7, 0}, out.Display.AudioData)
	assert.Len(t, out.Display.Quiz, 1, "untranslated fields come from the original")
	assert.Equal(t, "Cells divide by mitosis.", out.Original.Script)
	assert.Equal(t, []byte{1, 0}, out.Original.AudioData)
}

func TestTranslate_FailureRestoresOriginal(t *testing.T) {
	text := &fakeText{translate: func(models.LecturePackage, string) (*services.TranslatedContent, error) {
		return nil, errors.New("bad gateway")
	}}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("Q1")
	out, _, err := a.Translate(context.Background(), models.GenerateRequest{}, w, "French", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to translate to French")
	assert.Equal(t, models.SourceLanguage, out.Language)
	assert.Equal(t, w.Original, out.Display)
}

func TestTranslate_AudioFailureKeepsText(t *testing.T) {
	text := &fakeText{translate: func(models.LecturePackage, string) (*services.TranslatedContent, error) {
		return &services.TranslatedContent{Script: "Zellen teilen sich."}, nil
	}}
	media := &fakeMedia{speech: func(string) ([]byte, error) { return nil, errors.New("tts down") }}
	a := NewAssembler(text, media, instantCaller(), zap.NewNop())

	out, failures, err := a.Translate(context.Background(), models.GenerateRequest{}, workspaceWithQuiz(), "German", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{models.StageTranslateAudio}, failures)
	assert.Equal(t, "Zellen teilen sich.", out.Display.Script)
	assert.Nil(t, out.Display.AudioData)
}

func TestTranslate_BackToSourceLanguage(t *testing.T) {
	a := NewAssembler(&fakeText{}, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz("Q1")
	w.Language = "Hindi"
	w.Display.Script = "translated"

	out, _, err := a.Translate(context.Background(), models.GenerateRequest{}, w, models.SourceLanguage, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLanguage, out.Language)
	assert.Equal(t, "Cells divide by mitosis.", out.Display.Script)
}

func TestTranslate_UnsupportedLanguage(t *testing.T) {
	a := NewAssembler(&fakeText{}, &fakeMedia{}, instantCaller(), zap.NewNop())
	_, _, err := a.Translate(context.Background(), models.GenerateRequest{}, workspaceWithQuiz(), "Klingon", nil)
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
}

func TestCreateAssignment(t *testing.T) {
	text := &fakeText{assignment: func() ([]string, error) { return []string{"Discuss mitosis."}, nil }}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	out, err := a.CreateAssignment(context.Background(), models.GenerateRequest{Topic: "Mitosis"}, workspaceWithQuiz())
	require.NoError(t, err)
	require.NotNil(t, out.Display.Assignment)
	assert.Equal(t, []string{"Discuss mitosis."}, out.Display.Assignment.Prompts)
	require.NotNil(t, out.Original.Assignment)

	_, err = a.CreateAssignment(context.Background(), models.GenerateRequest{}, out)
	assert.ErrorIs(t, err, ErrAssignmentExists)
}

func TestGradeSubmission(t *testing.T) {
	var graded models.SubmissionInput
	text := &fakeText{grade: func(sub models.SubmissionInput) (*models.AssignmentFeedback, error) {
		graded = sub
		return &models.AssignmentFeedback{Score: 8, Overall: "Solid"}, nil
	}}
	a := NewAssembler(text, &fakeMedia{}, instantCaller(), zap.NewNop())

	w := workspaceWithQuiz()
	_, err := a.GradeSubmission(context.Background(), w, models.SubmissionInput{Prompt: "p", Text: "t"})
	assert.ErrorIs(t, err, ErrNoAssignment)

	w = w.Apply(func(pkg models.LecturePackage) models.LecturePackage {
		pkg.Assignment = &models.Assignment{Prompts: []string{"p"}}
		return pkg
	})

	_, err = a.GradeSubmission(context.Background(), w, models.SubmissionInput{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptySubmission)

	file := &models.SourceFile{Name: "essay.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}
	out, err := a.GradeSubmission(context.Background(), w, models.SubmissionInput{Prompt: "p", File: file})
	require.NoError(t, err)
	assert.Equal(t, "essay.pdf", graded.File.Name)

	sub := out.Display.Assignment.UserSubmission
	require.NotNil(t, sub)
	assert.Equal(t, "File: essay.pdf", sub.Text)
	assert.Equal(t, int64(4), sub.File.Size)

	fb := out.Display.Assignment.Feedback
	require.NotNil(t, fb)
	assert.Equal(t, 8.0, fb.Score)
	assert.NotNil(t, fb.Strengths)
	assert.NotNil(t, fb.Improvements)
	assert.NotNil(t, out.Original.Assignment.Feedback)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"rate limited", fmt.Errorf("wrapped: %w", &retry.RateLimitError{Attempts: 5, Err: errRateLimit}), MsgBusy},
		{"malformed", &normalize.MalformedResponseError{Err: errors.New("x")}, MsgMalformed},
		{"key rejected", fmt.Errorf("%w: not found", services.ErrKeyRejected), services.ErrKeyRejected.Error()},
		{"other", errors.New("boom"), "An error occurred: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
