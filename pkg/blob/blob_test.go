package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

func TestRefForHash(t *testing.T) {
	ref := RefForHash(testHash)
	assert.Equal(t, filepath.Join("a1", "b2", "a1b2c3d4e5f60718.enc"), ref)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ref := RefForHash(testHash)
	require.NoError(t, s.Write(ref, []byte("ciphertext bytes")))

	assert.True(t, s.Exists(ref))

	data, err := s.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext bytes"), data)
}

func TestReadMissing(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(RefForHash(testHash))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ref := RefForHash(testHash)
	require.NoError(t, s.Write(ref, []byte("x")))
	require.NoError(t, s.Delete(ref))
	assert.False(t, s.Exists(ref))

	// Deleting an absent blob is a no-op.
	assert.NoError(t, s.Delete(ref))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(RefForHash(testHash), []byte("x")))

	matches, err := filepath.Glob(filepath.Join(dir, "ingest-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestResolveRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	outside := filepath.Join(dir, "..", "escape.enc")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	defer os.Remove(outside)

	for _, ref := range []string{"", "../escape.enc", "/etc/passwd"} {
		_, err := s.Read(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
	}
}
