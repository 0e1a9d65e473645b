package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"lectern-backend/internal/config"
	"lectern-backend/internal/models"
)

var (
	ErrNoAPIKey    = errors.New("no API key has been selected")
	ErrKeyRejected = errors.New("API key error, please re-select your key")
	ErrNoAudio     = errors.New("no audio data received from API")
)

// StudioService covers calls that need search grounding, audio output or
// video generation. Like GeminiService it does not retry.
type StudioService struct {
	mu     sync.RWMutex
	client *genai.Client

	models         config.Models
	voice          string
	maxSpeechChars int
	thinkingBudget int32
	pollInterval   time.Duration
	log            *zap.Logger
}

func NewStudioService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*StudioService, error) {
	s := &StudioService{
		models:         cfg.Models,
		voice:          cfg.TTSVoice,
		maxSpeechChars: cfg.TTSMaxChars,
		thinkingBudget: int32(cfg.ThinkingBudget),
		pollInterval:   cfg.VideoPollInterval,
		log:            logger,
	}
	if cfg.GeminiAPIKey == "" {
		return s, nil
	}
	if err := s.Rebind(ctx, cfg.GeminiAPIKey); err != nil {
		return nil, err
	}
	return s, nil
}

func newGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// Rebind swaps in a client for a newly selected key.
func (s *StudioService) Rebind(ctx context.Context, apiKey string) error {
	client, err := newGenAIClient(ctx, apiKey)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *StudioService) current() *genai.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// GenerateQuizAndResources asks for a quiz and reading list with search
// grounding; citations come from the first candidate.
func (s *StudioService) GenerateQuizAndResources(ctx context.Context, script string, thinking bool) (*models.QuizAndResources, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	model := s.models.Fast
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if thinking {
		model = s.models.Pro
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(s.thinkingBudget)}
	}

	resp, err := s.current().Models.GenerateContent(ctx, model,
		genai.Text(buildQuizResourcesPrompt(script)), cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI API error: %w", err)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("AI returned no quiz or resource data")
	}

	out, err := decode[models.QuizAndResources](s.log, models.StageQuizResources, raw)
	if err != nil {
		return nil, err
	}
	out.Quiz = validateQuizQuestions(out.Quiz)
	if out.Resources == nil {
		out.Resources = []models.Resource{}
	}
	out.GroundingChunks = groundingChunks(resp)
	return &out, nil
}

func groundingChunks(resp *genai.GenerateContentResponse) []models.GroundingChunk {
	chunks := []models.GroundingChunk{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return chunks
	}
	for _, c := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if c == nil || c.Web == nil {
			continue
		}
		chunks = append(chunks, models.GroundingChunk{
			Web: &models.WebSource{URI: c.Web.URI, Title: c.Web.Title},
		})
	}
	return chunks
}

// SynthesizeSpeech narrates script in the persona's tone and returns raw
// PCM16 mono 24 kHz samples.
func (s *StudioService) SynthesizeSpeech(ctx context.Context, script, persona string) ([]byte, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	prompt := buildSpeechPrompt(truncateRunes(script, s.maxSpeechChars), persona)

	resp, err := s.current().Models.GenerateContent(ctx, s.models.TTS,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityAudio)},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
				},
			},
		})
	if err != nil {
		return nil, fmt.Errorf("GenAI speech error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoAudio
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, ErrNoAudio
}

// StartVideo submits a video generation and returns its operation name.
func (s *StudioService) StartVideo(ctx context.Context, req models.VideoRequest) (*models.VideoOperation, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	var image *genai.Image
	if req.Image != nil && len(req.Image.Data) > 0 {
		image = &genai.Image{ImageBytes: req.Image.Data, MIMEType: req.Image.MIMEType}
	}

	op, err := s.current().Models.GenerateVideos(ctx, s.models.Video, req.Prompt, image,
		&genai.GenerateVideosConfig{NumberOfVideos: 1})
	if err != nil {
		return nil, mapVideoError(err)
	}
	return videoOperation(op), nil
}

// VideoStatus polls an operation once.
func (s *StudioService) VideoStatus(ctx context.Context, name string) (*models.VideoOperation, error) {
	if s.current() == nil {
		return nil, ErrNoAPIKey
	}
	op, err := s.current().Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: name}, nil)
	if err != nil {
		return nil, mapVideoError(err)
	}
	return videoOperation(op), nil
}

// WaitForVideo polls until the operation is done or ctx ends.
func (s *StudioService) WaitForVideo(ctx context.Context, name string) (*models.VideoOperation, error) {
	for {
		status, err := s.VideoStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		if status.Done {
			return status, nil
		}

		s.log.Debug("video still rendering", zap.String("operation", name))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// DownloadVideo fetches the bytes of a finished video.
func (s *StudioService) DownloadVideo(ctx context.Context, name string) ([]byte, string, error) {
	if s.current() == nil {
		return nil, "", ErrNoAPIKey
	}
	op, err := s.current().Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: name}, nil)
	if err != nil {
		return nil, "", mapVideoError(err)
	}
	if !op.Done {
		return nil, "", fmt.Errorf("video operation %s is still running", name)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, "", errors.New("video generation completed, but no download link was found")
	}

	generated := op.Response.GeneratedVideos[0]
	mimeType := generated.Video.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	if len(generated.Video.VideoBytes) > 0 {
		return generated.Video.VideoBytes, mimeType, nil
	}

	data, err := s.current().Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(generated), nil)
	if err != nil {
		return nil, "", mapVideoError(err)
	}
	return data, mimeType, nil
}

func videoOperation(op *genai.GenerateVideosOperation) *models.VideoOperation {
	out := &models.VideoOperation{Name: op.Name, Done: op.Done}
	if msg, ok := op.Error["message"].(string); ok {
		out.Error = msg
	} else if len(op.Error) > 0 {
		out.Error = fmt.Sprint(op.Error)
	}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 && op.Response.GeneratedVideos[0].Video != nil {
		out.VideoURI = op.Response.GeneratedVideos[0].Video.URI
		out.MIMEType = op.Response.GeneratedVideos[0].Video.MIMEType
	}
	return out
}

func mapVideoError(err error) error {
	if strings.Contains(err.Error(), "Requested entity was not found") {
		return fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	return fmt.Errorf("GenAI video error: %w", err)
}
