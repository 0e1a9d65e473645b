package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"lectern-backend/internal/config"
	"lectern-backend/internal/models"
	"lectern-backend/internal/normalize"
)

// TextStream yields script chunks in arrival order and io.EOF once the
// remote side finishes.
type TextStream interface {
	Next() (string, error)
}

// GeminiService issues text, streaming and chat calls. Every method makes
// exactly one remote call; retries belong to the caller.
type GeminiService struct {
	mu     sync.RWMutex
	client *genai.Client

	models      config.Models
	fileExtract *FileExtractService
	log         *zap.Logger
	rateChan    chan struct{} // Token bucket
}

func NewGeminiService(
	ctx context.Context,
	apiKey string,
	models config.Models,
	concurrentReqs int,
	fileExtract *FileExtractService,
	logger *zap.Logger,
) (*GeminiService, error) {
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	s := &GeminiService{
		models:      models,
		fileExtract: fileExtract,
		log:         logger,
		rateChan:    rateChan,
	}
	if apiKey == "" {
		logger.Warn("no Gemini API key configured; model calls fail until one is selected")
		return s, nil
	}
	if err := s.Rebind(ctx, apiKey); err != nil {
		return nil, err
	}
	return s, nil
}

// Rebind swaps in a client for a newly selected key.
func (s *GeminiService) Rebind(ctx context.Context, apiKey string) error {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (s *GeminiService) current() *genai.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *GeminiService) Close() {
	if c := s.current(); c != nil {
		c.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

func (s *GeminiService) model(name string) *genai.GenerativeModel {
	m := s.current().GenerativeModel(name)
	m.SetTemperature(0.7)
	m.SetTopP(0.95)
	return m
}

func (s *GeminiService) jsonModel(name string) *genai.GenerativeModel {
	m := s.model(name)
	m.ResponseMIMEType = "application/json"
	return m
}

func (s *GeminiService) pickModel(thinking bool) string {
	if thinking {
		return s.models.Pro
	}
	return s.models.Fast
}

// StreamScript opens the narration stream. The first chunk is read before
// returning so that rate-limit failures surface here.
func (s *GeminiService) StreamScript(ctx context.Context, req models.GenerateRequest) (TextStream, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	parts, err := s.scriptParts(req)
	if err != nil {
		return nil, err
	}

	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}

	iter := s.model(s.models.Script).GenerateContentStream(ctx, parts...)
	stream := &scriptStream{iter: iter, release: s.releaseRate}

	first, err := stream.pull()
	if err != nil && !errors.Is(err, io.EOF) {
		stream.close()
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	stream.pending = first
	stream.pendingErr = err
	stream.primed = true
	return stream, nil
}

func (s *GeminiService) scriptParts(req models.GenerateRequest) ([]genai.Part, error) {
	prompt := buildScriptPrompt(req)
	if req.File == nil {
		return []genai.Part{genai.Text(prompt)}, nil
	}

	lead := fmt.Sprintf("Analyze the provided file (%s) and generate the lecture script based on it.\n\n", req.File.Name)
	if req.File.IsDocument() && s.fileExtract != nil {
		text, err := s.fileExtract.ExtractText(req.File.Name, req.File.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file: %w", err)
		}
		return []genai.Part{
			genai.Text(lead + "---SOURCE START---\n" + text + "\n---SOURCE END---\n\n" + prompt),
		}, nil
	}

	return []genai.Part{
		genai.Blob{MIMEType: req.File.MIMEType, Data: req.File.Data},
		genai.Text(lead + prompt),
	}, nil
}

type scriptStream struct {
	iter    *genai.GenerateContentResponseIterator
	release func()
	done    bool

	primed     bool
	pending    string
	pendingErr error
}

func (st *scriptStream) Next() (string, error) {
	if st.primed {
		st.primed = false
		if st.pendingErr != nil {
			return "", st.pendingErr
		}
		return st.pending, nil
	}
	return st.pull()
}

func (st *scriptStream) pull() (string, error) {
	if st.done {
		return "", io.EOF
	}
	resp, err := st.iter.Next()
	if errors.Is(err, iterator.Done) {
		st.close()
		return "", io.EOF
	}
	if err != nil {
		st.close()
		return "", err
	}
	return extractText(resp), nil
}

func (st *scriptStream) close() {
	if !st.done {
		st.done = true
		st.release()
	}
}

func (s *GeminiService) generate(ctx context.Context, m *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			s.log.Warn("Gemini stopped early", zap.Int("candidate", i), zap.String("finish_reason", cand.FinishReason.String()))
		}
	}
	return extractText(resp), nil
}

// decode runs model output through the normalization pipeline and logs
// the raw text on failure.
func decode[T any](log *zap.Logger, stage, raw string) (T, error) {
	out, err := normalize.Decode[T](raw)
	if err != nil {
		var mr *normalize.MalformedResponseError
		if errors.As(err, &mr) {
			log.Error("failed to parse model response",
				zap.String("stage", stage),
				zap.String("raw", mr.Raw),
				zap.String("sanitized", mr.Sanitized),
				zap.Error(mr.Err),
			)
		}
	}
	return out, err
}

func (s *GeminiService) GenerateSlides(ctx context.Context, script, theme string, thinking bool) ([]models.Slide, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	m := s.jsonModel(s.pickModel(thinking))
	raw, err := s.generate(ctx, m, genai.Text(buildSlidesPrompt(script, theme)))
	if err != nil {
		return nil, err
	}

	out, err := decode[struct {
		Slides []models.Slide `json:"slides"`
	}](s.log, models.StageSlides, raw)
	if err != nil {
		return nil, err
	}
	return validateSlides(out.Slides), nil
}

func (s *GeminiService) GenerateMoreQuiz(ctx context.Context, topic, script, persona string) ([]models.QuizQuestion, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	raw, err := s.generate(ctx, s.jsonModel(s.models.Fast), genai.Text(buildMoreQuizPrompt(topic, script, persona)))
	if err != nil {
		return nil, err
	}

	questions, err := parseMoreQuiz(raw)
	if err != nil {
		s.log.Error("failed to parse more-quiz response", zap.String("raw", raw), zap.Error(err))
		return nil, err
	}
	return validateQuizQuestions(questions), nil
}

// parseMoreQuiz accepts a bare question array or an object whose only
// array-valued field holds the questions.
func parseMoreQuiz(raw string) ([]models.QuizQuestion, error) {
	v, err := normalize.Parse(raw)
	if err != nil {
		return nil, err
	}

	list, ok := v.([]any)
	if obj, isObj := v.(map[string]any); isObj {
		for _, field := range obj {
			arr, isArr := field.([]any)
			if !isArr {
				continue
			}
			if list != nil {
				ok = false
				break
			}
			list, ok = arr, true
		}
	}
	if !ok {
		return nil, &normalize.MalformedResponseError{Raw: raw, Err: fmt.Errorf("%w: expected a list of questions", normalize.ErrMalformedResponse)}
	}

	b, err := json.Marshal(list)
	if err != nil {
		return nil, &normalize.MalformedResponseError{Raw: raw, Err: err}
	}
	var questions []models.QuizQuestion
	if err := json.Unmarshal(b, &questions); err != nil {
		return nil, &normalize.MalformedResponseError{Raw: raw, Sanitized: string(b), Err: err}
	}
	return questions, nil
}

// TranslatePackage translates the text of pkg. Fields the model leaves out
// are zero in the result.
func (s *GeminiService) TranslatePackage(ctx context.Context, pkg models.LecturePackage, language string) (*TranslatedContent, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	payload, err := json.MarshalIndent(TranslatedContent{
		Slides:     pkg.Slides,
		Script:     pkg.Script,
		Quiz:       pkg.Quiz,
		Assignment: pkg.Assignment,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	raw, err := s.generate(ctx, s.jsonModel(s.models.Pro), genai.Text(buildTranslatePrompt(string(payload), language)))
	if err != nil {
		return nil, err
	}
	out, err := decode[TranslatedContent](s.log, "translate", raw)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TranslatedContent is the subset of a package sent for translation.
type TranslatedContent struct {
	Slides     []models.Slide        `json:"slides"`
	Script     string                `json:"script"`
	Quiz       []models.QuizQuestion `json:"quiz"`
	Assignment *models.Assignment    `json:"assignment,omitempty"`
}

func (s *GeminiService) GenerateAssignment(ctx context.Context, topic, script string) ([]string, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	raw, err := s.generate(ctx, s.jsonModel(s.models.Fast), genai.Text(buildAssignmentPrompt(topic, script)))
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Prompts []string `json:"prompts"`
	}](s.log, "assignment", raw)
	if err != nil {
		return nil, err
	}

	prompts := make([]string, 0, len(out.Prompts))
	for _, p := range out.Prompts {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}
	return prompts, nil
}

func (s *GeminiService) GradeAssignment(ctx context.Context, sub models.SubmissionInput, script string) (*models.AssignmentFeedback, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	instructions := buildGradingPrompt(sub.Prompt)

	var parts []genai.Part
	switch {
	case sub.IsFile() && sub.File.IsDocument() && s.fileExtract != nil:
		text, err := s.fileExtract.ExtractText(sub.File.Name, sub.File.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to read submission file: %w", err)
		}
		parts = append(parts, genai.Text(submissionTextPrompt(text, script, instructions)))
	case sub.IsFile():
		parts = append(parts,
			genai.Text(fmt.Sprintf("The student's submission is in the attached file. The original lecture script is:\n---\n%s\n---\n%s", script, instructions)),
			genai.Blob{MIMEType: sub.File.MIMEType, Data: sub.File.Data},
		)
	default:
		parts = append(parts, genai.Text(submissionTextPrompt(sub.Text, script, instructions)))
	}

	raw, err := s.generate(ctx, s.jsonModel(s.models.Pro), parts...)
	if err != nil {
		return nil, err
	}
	fb, err := decode[models.AssignmentFeedback](s.log, "grade", raw)
	if err != nil {
		return nil, err
	}
	fb.EnsureDefaults()
	return &fb, nil
}

// TranscribeAudio sends recorded audio inline and returns the transcript.
func (s *GeminiService) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if s.current() == nil {
		return "", ErrNoAPIKey
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	text, err := s.generate(ctx, s.model(s.models.Fast),
		genai.Text("Transcribe the following audio accurately. Return plain text only, without markdown, headers, or explanations."),
		genai.Blob{MIMEType: mimeType, Data: audio},
	)
	if err != nil {
		return "", fmt.Errorf("Gemini transcription error: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("Failed to transcribe audio. The model returned an empty response.")
	}
	return text, nil
}

// Chat answers one tutoring turn. When slide is set the question is framed
// by that slide's content.
func (s *GeminiService) Chat(ctx context.Context, history []models.ChatMessage, message string, slide *models.Slide, slideIndex int) (string, error) {
	if s.current() == nil {
		return "", ErrNoAPIKey
	}
	m := s.model(s.models.Chat)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(socraticSystemInstruction)}}

	cs := m.StartChat()
	for _, msg := range history {
		role := "user"
		if msg.Role == "assistant" || msg.Role == "model" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := cs.SendMessage(ctx, genai.Text(buildChatPrompt(message, slide, slideIndex)))
	if err != nil {
		return "", fmt.Errorf("Gemini chat error: %w", err)
	}
	reply := strings.TrimSpace(extractText(resp))
	if reply == "" {
		return "", fmt.Errorf("Gemini returned an empty reply")
	}
	return reply, nil
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func validateSlides(slides []models.Slide) []models.Slide {
	valid := make([]models.Slide, 0, len(slides))
	for _, sl := range slides {
		if strings.TrimSpace(sl.Title) == "" && len(sl.Content) == 0 {
			continue
		}
		if sl.Content == nil {
			sl.Content = []string{}
		}
		valid = append(valid, sl)
	}
	return valid
}

func validateQuizQuestions(questions []models.QuizQuestion) []models.QuizQuestion {
	valid := make([]models.QuizQuestion, 0, len(questions))
	for _, q := range questions {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) == 0 {
			continue
		}
		if q.CorrectAnswer == "" {
			q.CorrectAnswer = q.Options[0]
		}
		valid = append(valid, q)
	}
	return valid
}
