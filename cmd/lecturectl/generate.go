package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lectern-backend/internal/audio"
	"lectern-backend/internal/config"
	"lectern-backend/internal/lecture"
	"lectern-backend/internal/logger"
	"lectern-backend/internal/models"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

// runtime holds the model clients a command needs.
type runtime struct {
	cfg    *config.Config
	log    *zap.Logger
	gemini *services.GeminiService
	studio *services.StudioService
	caller *retry.Caller
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.LoadCLI()
	if cfg.GeminiAPIKey == "" {
		return nil, services.ErrNoAPIKey
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	gemini, err := services.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.Models, cfg.GeminiConcurrentReqs,
		services.NewFileExtractService(0), log.Named("gemini"))
	if err != nil {
		return nil, err
	}
	studio, err := services.NewStudioService(ctx, cfg, log.Named("studio"))
	if err != nil {
		gemini.Close()
		return nil, err
	}

	caller := retry.New(log.Named("retry"))
	caller.MaxAttempts = cfg.RetryMaxAttempts
	caller.InitialDelay = cfg.RetryInitialDelay

	return &runtime{cfg: cfg, log: log, gemini: gemini, studio: studio, caller: caller}, nil
}

func (rt *runtime) close() {
	rt.gemini.Close()
	rt.log.Sync()
}

func generateCmd() *cobra.Command {
	var (
		req      models.GenerateRequest
		filePath string
		outDir   string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a lecture package and write it to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if filePath != "" {
				file, err := loadSourceFile(filePath)
				if err != nil {
					return err
				}
				req.File = file
			}
			if fields := req.Validate(); len(fields) > 0 {
				for field, msg := range fields {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
				}
				return fmt.Errorf("invalid lecture request")
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			assembler := lecture.NewAssembler(rt.gemini, rt.studio, rt.caller, rt.log.Named("lecture"))
			progress := cmd.ErrOrStderr()
			last := models.GenerationState("")
			snap, err := assembler.Generate(ctx, req, func(s models.LectureSnapshot) {
				if s.State != last {
					fmt.Fprintf(progress, "\n[%s]\n", s.State)
					last = s.State
				}
				if s.State == models.StateScriptStreaming {
					fmt.Fprint(progress, ".")
				}
			})
			if err != nil {
				return fmt.Errorf("%s", lecture.UserMessage(err))
			}
			if len(snap.Failures) > 0 {
				fmt.Fprintf(progress, "partial lecture, failed: %s\n", strings.Join(snap.Failures, ", "))
			}
			return writePackage(cmd, outDir, snap.Package)
		},
	}
	cmd.Flags().StringVar(&req.Topic, "topic", "", "Lecture topic")
	cmd.Flags().StringVar(&req.Audience, "audience", "University students", "Target audience")
	cmd.Flags().StringVar(&req.Duration, "duration", "5", "Length in minutes")
	cmd.Flags().StringVar(&req.VisualTheme, "theme", "Minimalist", "Visual theme for slides")
	cmd.Flags().StringVar(&req.Persona, "persona", "Friendly Tutor", "Narrator persona")
	cmd.Flags().BoolVar(&req.UseThinkingMode, "thinking", false, "Use the thinking model for slides and quiz")
	cmd.Flags().StringVar(&filePath, "file", "", "Source material (.txt, .pdf, .docx, image or audio)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "lecture", "Output directory")
	return cmd
}

func loadSourceFile(path string) (*models.SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &models.SourceFile{Name: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}

// writePackage writes script.txt, lecture.json and, when narration exists,
// lecture.wav.
func writePackage(cmd *cobra.Command, dir string, pkg models.LecturePackage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "script.txt"), []byte(pkg.Script), 0o644); err != nil {
		return err
	}

	data, err := json.MarshalIndent(pkg.WithoutAudio(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "lecture.json"), data, 0o644); err != nil {
		return err
	}

	if pkg.HasAudio() {
		wav, err := audio.EncodeWAV(pkg.AudioData)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "lecture.wav"), wav, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "narration: %.1fs\n", audio.Narration.Duration(pkg.AudioData))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d slides, %d questions, %d resources to %s\n",
		len(pkg.Slides), len(pkg.Quiz), len(pkg.Resources), dir)
	return nil
}

func videoCmd() *cobra.Command {
	var (
		prompt    string
		imagePath string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Generate a short video and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			req := models.VideoRequest{Prompt: prompt}
			if imagePath != "" {
				image, err := loadSourceFile(imagePath)
				if err != nil {
					return err
				}
				if !strings.HasPrefix(image.MIMEType, "image/") || len(image.Data) > models.MaxVideoImageBytes {
					return fmt.Errorf("reference image must be an image of at most 10MB")
				}
				req.Image = image
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			op, err := retry.Do(ctx, rt.caller, func(ctx context.Context) (*models.VideoOperation, error) {
				return rt.studio.StartVideo(ctx, req)
			})
			if err != nil {
				return fmt.Errorf("%s", lecture.UserMessage(err))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "rendering %s\n", op.Name)

			op, err = rt.studio.WaitForVideo(ctx, op.Name)
			if err != nil {
				return fmt.Errorf("%s", lecture.UserMessage(err))
			}
			if op.Error != "" {
				return fmt.Errorf("video generation failed: %s", op.Error)
			}

			data, _, err := rt.studio.DownloadVideo(ctx, op.Name)
			if err != nil {
				return fmt.Errorf("%s", lecture.UserMessage(err))
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "What the video should show")
	cmd.Flags().StringVar(&imagePath, "image", "", "Optional reference image")
	cmd.Flags().StringVarP(&out, "out", "o", "video.mp4", "Output file")
	return cmd
}
