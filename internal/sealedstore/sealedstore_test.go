package sealedstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/trusterr"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := DeriveKey("device-123", "nekotick_credentials_v1")

	plaintext := []byte(`{"access_token":"abc"}`)
	sealed, err := Seal(key, plaintext)
	require.NoError(t, err)
	assert.Greater(t, len(sealed), nonceSize)

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenWrongKeyFails(t *testing.T) {
	key1 := DeriveKey("device-1", "salt")
	key2 := DeriveKey("device-2", "salt")

	sealed, err := Seal(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(key2, sealed)
	assert.ErrorIs(t, err, trusterr.ErrDecryptFailed)
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	key := DeriveKey("device-1", "salt")

	sealed, err := Seal(key, []byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Open(key, sealed)
	assert.ErrorIs(t, err, trusterr.ErrDecryptFailed)
}

func TestOpenTooShortFails(t *testing.T) {
	key := DeriveKey("device-1", "salt")

	_, err := Open(key, []byte{1, 2, 3})
	assert.ErrorIs(t, err, trusterr.ErrDecryptFailed)
}

func TestDeriveKeyIsDeterministicConcatenation(t *testing.T) {
	a := DeriveKey("device-1", "nekotick_license_v1")
	b := DeriveKey("device-1", "nekotick_license_v1")
	assert.Equal(t, a, b)

	c := DeriveKey("device-2", "nekotick_license_v1")
	assert.NotEqual(t, a, c)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", ".credentials.dat")

	key := DeriveKey("device-1", "nekotick_credentials_v1")

	plaintext := []byte(`{"access_token":"abc","refresh_token":"def"}`)
	require.NoError(t, Save(path, key, plaintext))
	assert.True(t, Exists(path))

	loaded, err := Load(path, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	key := DeriveKey("device-1", "salt")

	_, err := Load(filepath.Join(dir, ".missing.dat"), key)
	assert.ErrorIs(t, err, trusterr.ErrNotFound)
}

func TestLoadCorruptFileReturnsDecryptFailed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".corrupt.dat")
	require.NoError(t, os.WriteFile(path, []byte("not a sealed blob at all"), 0600))

	key := DeriveKey("device-1", "salt")

	_, err := Load(path, key)
	assert.ErrorIs(t, err, trusterr.ErrDecryptFailed)
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".license.dat")

	key := DeriveKey("device-1", "salt")
	require.NoError(t, Save(path, key, []byte("x")))

	require.NoError(t, Delete(path))
	assert.False(t, Exists(path))
	require.NoError(t, Delete(path))
}

func TestNewGCMRejectsWrongKeySize(t *testing.T) {
	_, err := Seal([]byte("too-short"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, trusterr.ErrCryptoError))
}

func TestWatchExternalChangesDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".license.dat")

	events, closeFn, err := WatchExternalChanges(path)
	require.NoError(t, err)
	defer closeFn()

	key := DeriveKey("device-1", "salt")
	require.NoError(t, Save(path, key, []byte("x")))

	select {
	case ev, ok := <-events:
		require.True(t, ok)
		assert.Equal(t, filepath.Base(path), filepath.Base(ev.Name))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fsnotify event")
	}
}
