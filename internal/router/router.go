package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lectern-backend/internal/handlers"
	"lectern-backend/internal/middleware"
)

type Handlers struct {
	Session     *handlers.SessionHandler
	Lecture     *handlers.LectureHandler
	Chat        *handlers.ChatHandler
	Video       *handlers.VideoHandler
	Credentials *handlers.CredentialsHandler
}

// New builds the route table. limiter guards every route that spends
// model quota.
func New(h Handlers, limiter *middleware.RateLimiter, frontendURL string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Post("/sessions", h.Session.Create)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.Session.Get)
			r.Get("/lecture", h.Session.Lecture)
			r.Get("/lecture/audio.wav", h.Session.Audio)
			r.Get("/ws", h.Session.Socket)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/lectures", h.Session.Generate)
				r.Post("/quiz/more", h.Lecture.MoreQuiz)
				r.Put("/language", h.Lecture.SetLanguage)
				r.Post("/assignment", h.Lecture.CreateAssignment)
				r.Post("/assignment/grade", h.Lecture.Grade)
				r.Post("/chat", h.Chat.AskQuestion)
			})
		})

		// ──── Media Routes ────
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/transcribe", h.Chat.Transcribe)
			r.Post("/videos", h.Video.Start)
		})
		r.Get("/videos/operation", h.Video.Status)
		r.Get("/videos/content", h.Video.Content)

		// ──── Credential Routes ────
		r.Get("/credentials", h.Credentials.Status)
		r.Post("/credentials/select", h.Credentials.Select)
	})

	return r
}
