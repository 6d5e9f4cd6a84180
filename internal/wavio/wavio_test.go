package wavio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/errors"
)

func TestWriteThenRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clips", "tone.wav")
	w, err := NewWriter(path, 44100, 2)
	require.NoError(t, err)

	first := []float32{0, 0.5, -0.5, 1}
	second := []float32{2, -2} // clamped
	require.NoError(t, w.Write(first))
	require.NoError(t, w.Write(second))
	assert.Equal(t, 3, w.Frames())
	require.NoError(t, w.Close())

	clip, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), clip.Rate)
	assert.Equal(t, uint32(2), clip.Channels)
	assert.Equal(t, 3, clip.Frames())
	assert.InDeltaSlice(t, []float32{0, 0.5, -0.5, 1, 1, -1}, clip.Samples, 1.0/16384)
}

func TestReadFileRejectsNonWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF data"), 0o600))

	_, err := ReadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestNewWriterValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(filepath.Join(t.TempDir(), "x.wav"), 48000, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNewWriterReportsFileErrors(t *testing.T) {
	t.Parallel()

	// a regular file where the parent directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := NewWriter(filepath.Join(blocker, "take.wav"), 48000, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "wav", ee.GetContext()["file_extension"])
	assert.Equal(t, "absolute-path", ee.GetContext()["file_type"])
}
