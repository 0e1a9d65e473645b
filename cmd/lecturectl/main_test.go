package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectern-backend/internal/models"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNormalizeCmd(t *testing.T) {
	raw := "```json\n{\"slides\":[{\"title\":\"Intro\",\"bullet_points\":[\"a\"],\"speaker_notes\":\"hi\"}]}\n```"

	out, err := run(t, raw, "normalize", "-")
	require.NoError(t, err)

	var got map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	slide := got["slides"][0]
	assert.Equal(t, "Intro", slide["title"])
	assert.Equal(t, "hi", slide["speakerNotes"])
	assert.Equal(t, []any{"a"}, slide["content"])
	assert.NotContains(t, slide, "bulletPoints")
}

func TestNormalizeCmd_SanitizeOnly(t *testing.T) {
	out, err := run(t, "Here you go:\n```json\n{\"a\":1}\n```", "normalize", "--sanitize-only", "-")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, strings.TrimSpace(out))
}

func TestNormalizeCmd_Malformed(t *testing.T) {
	_, err := run(t, "not json at all", "normalize", "-")
	assert.Error(t, err)
}

func TestWavCmd(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "n.wav")
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}

	_, err := run(t, base64.StdEncoding.EncodeToString(pcm)+"\n", "wav", "-o", target, "-")
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, pcm, data[44:])
}

func TestExtractCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Mitochondria make energy."), 0o644))

	out, err := run(t, "", "extract", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Mitochondria make energy.")
}

func TestWritePackage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	pkg := models.NewLecturePackage()
	pkg.Script = "Hello class."
	pkg.Slides = []models.Slide{{Title: "One", Content: []string{"a"}}}
	pkg.AudioData = []byte{0, 0, 1, 0}

	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	require.NoError(t, writePackage(root, dir, pkg))

	script, err := os.ReadFile(filepath.Join(dir, "script.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello class.", string(script))

	raw, err := os.ReadFile(filepath.Join(dir, "lecture.json"))
	require.NoError(t, err)
	var saved models.LecturePackage
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Empty(t, saved.AudioData)
	assert.Len(t, saved.Slides, 1)

	_, err = os.Stat(filepath.Join(dir, "lecture.wav"))
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "wrote 1 slides")
}

func TestGenerateCmd_RejectsInvalidRequest(t *testing.T) {
	_, err := run(t, "", "generate", "--persona", "", "--audience", "")
	assert.EqualError(t, err, "invalid lecture request")
}
