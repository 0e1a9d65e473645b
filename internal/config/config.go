package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Redis
	RedisURL   string
	SessionTTL time.Duration

	// Gemini AI
	GeminiAPIKey         string
	GeminiConcurrentReqs int
	Models               Models
	TTSVoice             string
	TTSMaxChars          int
	ThinkingBudget       int
	VideoPollInterval    time.Duration

	// Retry
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration

	// Workers
	WorkerCount int

	// Uploads
	MaxUploadBytes int64

	// Per-IP requests per minute on model-backed routes
	RateLimitPerMinute int

	// Frontend
	FrontendURL string
}

// Models names the hosted model used for each kind of call.
type Models struct {
	Script string // streamed narration
	Fast   string // slides, quiz, assignment, transcription
	Pro    string // thinking mode, translation, grading
	Chat   string
	TTS    string
	Video  string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := load()
	cfg.RedisURL = mustGetEnv("REDIS_URL")
	return cfg
}

// LoadCLI is Load without the server-only requirements.
func LoadCLI() *Config {
	godotenv.Load()
	return load()
}

func load() *Config {
	return &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		SessionTTL:           getEnvAsDurationOrDefault("SESSION_TTL", 6*time.Hour),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", os.Getenv("API_KEY")),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		Models: Models{
			Script: getEnvOrDefault("MODEL_SCRIPT", "gemini-2.5-flash-lite"),
			Fast:   getEnvOrDefault("MODEL_FAST", "gemini-2.5-flash"),
			Pro:    getEnvOrDefault("MODEL_PRO", "gemini-2.5-pro"),
			Chat:   getEnvOrDefault("MODEL_CHAT", "gemini-2.5-flash-lite"),
			TTS:    getEnvOrDefault("MODEL_TTS", "gemini-2.5-flash-preview-tts"),
			Video:  getEnvOrDefault("MODEL_VIDEO", "veo-2.0-generate-001"),
		},
		TTSVoice:           getEnvOrDefault("TTS_VOICE", "Kore"),
		TTSMaxChars:        getEnvAsIntOrDefault("TTS_MAX_CHARS", 3000),
		ThinkingBudget:     getEnvAsIntOrDefault("THINKING_BUDGET", 32768),
		VideoPollInterval:  getEnvAsDurationOrDefault("VIDEO_POLL_INTERVAL", 10*time.Second),
		RetryMaxAttempts:   max(getEnvAsIntOrDefault("RETRY_MAX_ATTEMPTS", 5), 1),
		RetryInitialDelay:  getEnvAsDurationOrDefault("RETRY_INITIAL_DELAY", time.Second),
		WorkerCount:        getEnvAsIntOrDefault("WORKER_COUNT", 5),
		MaxUploadBytes:     int64(getEnvAsIntOrDefault("MAX_UPLOAD_MB", 20)) << 20,
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
