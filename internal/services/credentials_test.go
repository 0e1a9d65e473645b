package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvSelector_InitialKey(t *testing.T) {
	s := NewEnvSelector("", "abc", nil, zap.NewNop())
	assert.True(t, s.HasSelectedKey(context.Background()))
	assert.Equal(t, "environment", s.Status().Source)

	empty := NewEnvSelector("", "", nil, zap.NewNop())
	assert.False(t, empty.HasSelectedKey(context.Background()))
}

func TestEnvSelector_OpenSelectKeyFromFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GEMINI_API_KEY=from-file\n"), 0o600))

	var rebound string
	s := NewEnvSelector(envFile, "", func(ctx context.Context, key string) error {
		rebound = key
		return nil
	}, zap.NewNop())

	status, err := s.OpenSelectKey(context.Background())
	require.NoError(t, err)
	assert.True(t, status.HasSelectedKey)
	assert.Equal(t, envFile, status.Source)
	assert.Equal(t, "from-file", rebound)
}

func TestEnvSelector_OpenSelectKeyMissing(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	s := NewEnvSelector(filepath.Join(t.TempDir(), "missing.env"), "", nil, zap.NewNop())
	status, err := s.OpenSelectKey(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.False(t, status.HasSelectedKey)
}

func TestEnvSelector_UnchangedKeySkipsRebind(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "same")

	calls := 0
	s := NewEnvSelector("", "same", func(ctx context.Context, key string) error {
		calls++
		return nil
	}, zap.NewNop())

	_, err := s.OpenSelectKey(context.Background())
	require.NoError(t, err)
	assert.Zero(t, calls)
}
