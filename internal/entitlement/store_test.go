package entitlement

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/trusterr"
)

func TestEntitlementStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "device-1")

	r := newTrial("device-1", 1_700_000_000)
	require.NoError(t, store.Save(r))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, r, loaded)
}

func TestEntitlementStoreLoadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "device-1")

	_, err := store.Load()
	assert.ErrorIs(t, err, trusterr.ErrNotFound)
}

func TestEntitlementStoreLoadDeviceMismatchDeletesFile(t *testing.T) {
	dir := t.TempDir()
	writer := NewStore(dir, "device-A")
	require.NoError(t, writer.Save(newTrial("device-A", 1_700_000_000)))

	reader := NewStore(dir, "device-B")
	_, err := reader.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trusterr.ErrDeviceMismatch) || errors.Is(err, trusterr.ErrDecryptFailed))
	assert.False(t, writer.Exists())
}

func TestEntitlementStoreLoadSignatureInvalidDeletesFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "device-1")

	r := newTrial("device-1", 1_700_000_000)
	r.Signature = strings.Repeat("0", 64)
	require.NoError(t, store.Save(r))

	_, err := store.Load()
	assert.ErrorIs(t, err, trusterr.ErrSignatureInvalid)
	assert.False(t, store.Exists())
}

func TestEntitlementStoreClearIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "device-1")
	require.NoError(t, store.Save(newTrial("device-1", 1_700_000_000)))

	require.NoError(t, store.Clear())
	assert.False(t, store.Exists())
	require.NoError(t, store.Clear())
}
