package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDatabaseAndDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "history.db")

	log, err := Open(path, "device-1")
	require.NoError(t, err)
	defer log.Close()
}

func TestAppendAndVerifyChain(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "history.db"), "device-1")
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, EventTrialStarted, ""))
	require.NoError(t, log.Append(ctx, EventLicenseActivated, "ABCD-1234-5678-EFGH"))
	require.NoError(t, log.Append(ctx, EventValidationOK, ""))

	events, err := log.Verify()
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.True(t, e.Verified)
	}
	assert.Equal(t, EventTrialStarted, events[0].Type)
	assert.Equal(t, EventLicenseActivated, events[1].Type)
	assert.Equal(t, EventValidationOK, events[2].Type)
}

func TestChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	log, err := Open(path, "device-1")
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), EventTrialStarted, ""))
	require.NoError(t, log.Close())

	reopened, err := Open(path, "device-1")
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Append(context.Background(), EventLicenseActivated, "key"))

	events, err := reopened.Verify()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Verified)
	assert.True(t, events[1].Verified)
}

func TestTamperedRowFailsVerification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	log, err := Open(path, "device-1")
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), EventTrialStarted, ""))
	require.NoError(t, log.Append(context.Background(), EventLicenseActivated, "key"))
	require.NoError(t, log.Close())

	reopened, err := Open(path, "device-1")
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.db.Exec(`UPDATE entitlement_events SET detail = 'tampered' WHERE event_type = ?`, string(EventLicenseActivated))
	require.NoError(t, err)

	events, err := reopened.Verify()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Verified)
	assert.False(t, events[1].Verified)
}

func TestDifferentDeviceIDFailsVerification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	log, err := Open(path, "device-1")
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), EventTrialStarted, ""))
	require.NoError(t, log.Close())

	wrongDevice, err := Open(path, "device-2")
	require.NoError(t, err)
	defer wrongDevice.Close()

	events, err := wrongDevice.Verify()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Verified)
}
