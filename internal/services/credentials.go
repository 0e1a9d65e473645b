package services

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lectern-backend/internal/models"
)

// KeySelector is the host capability for choosing an API key.
type KeySelector interface {
	HasSelectedKey(ctx context.Context) bool
	OpenSelectKey(ctx context.Context) (models.CredentialStatus, error)
}

// EnvSelector treats the process environment (and an optional .env file) as
// the place a key is chosen. OpenSelectKey re-reads the file so an operator
// can drop a new key in without restarting.
type EnvSelector struct {
	envFile  string
	onSelect func(ctx context.Context, key string) error
	log      *zap.Logger

	mu     sync.RWMutex
	key    string
	source string
}

func NewEnvSelector(envFile, initialKey string, onSelect func(ctx context.Context, key string) error, logger *zap.Logger) *EnvSelector {
	s := &EnvSelector{
		envFile:  envFile,
		onSelect: onSelect,
		log:      logger,
		key:      initialKey,
	}
	if initialKey != "" {
		s.source = "environment"
	}
	return s
}

func (s *EnvSelector) HasSelectedKey(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != ""
}

func (s *EnvSelector) Status() models.CredentialStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CredentialStatus{HasSelectedKey: s.key != "", Source: s.source}
}

// OpenSelectKey reloads the key. When it changed, onSelect rebinds the
// clients that use it.
func (s *EnvSelector) OpenSelectKey(ctx context.Context) (models.CredentialStatus, error) {
	source := "environment"
	if s.envFile != "" {
		err := godotenv.Overload(s.envFile)
		switch {
		case err == nil:
			source = s.envFile
		case errors.Is(err, fs.ErrNotExist):
		default:
			return s.Status(), err
		}
	}

	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("API_KEY")
	}
	if key == "" {
		return s.Status(), ErrNoAPIKey
	}

	s.mu.RLock()
	changed := key != s.key
	s.mu.RUnlock()

	if changed && s.onSelect != nil {
		if err := s.onSelect(ctx, key); err != nil {
			return s.Status(), err
		}
	}

	s.mu.Lock()
	s.key = key
	s.source = source
	s.mu.Unlock()

	if changed {
		s.log.Info("API key selected", zap.String("source", source))
	}
	return s.Status(), nil
}
