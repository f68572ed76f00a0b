package trustcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/config"
	"trustcore/internal/trusterr"
)

func newTestCore(t *testing.T, licenseAPI *httptest.Server) *Core {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.HistoryDBPath = filepath.Join(dir, "history.db")
	if licenseAPI != nil {
		cfg.LicenseAPIBaseURL = licenseAPI.URL
	}

	core, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	return core
}

func TestOpenInitializesTrialAndDeviceID(t *testing.T) {
	core := newTestCore(t, nil)
	assert.NotEmpty(t, core.GetDeviceID())

	status := core.GetLicenseStatus()
	assert.True(t, status.IsTrial)
	assert.True(t, status.IsPro)
}

func TestOpenRecordsTrialStartedOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.HistoryDBPath = filepath.Join(dir, "history.db")

	first, err := Open(cfg, nil)
	require.NoError(t, err)
	events, err := first.History()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	trialStarted := 0
	for _, e := range events {
		if e.Type == "trial_started" {
			trialStarted++
			assert.True(t, e.Verified)
		}
	}
	assert.Equal(t, 1, trialStarted)

	second, err := Open(cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	events, err = second.History()
	require.NoError(t, err)
	trialStarted = 0
	for _, e := range events {
		if e.Type == "trial_started" {
			trialStarted++
		}
	}
	assert.Equal(t, 1, trialStarted, "reopening an existing device must not record a second trial_started event")
}

func TestReopenReusesSameDeviceID(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.HistoryDBPath = filepath.Join(dir, "history.db")

	first, err := Open(cfg, nil)
	require.NoError(t, err)
	firstID := first.GetDeviceID()
	require.NoError(t, first.Close())

	second, err := Open(cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, firstID, second.GetDeviceID())
}

func TestCredentialLifecycle(t *testing.T) {
	core := newTestCore(t, nil)

	assert.False(t, core.HasCredentials())
	_, err := core.GetCredentials()
	assert.ErrorIs(t, err, trusterr.ErrNotFound)

	require.NoError(t, core.StoreCredentials("access", "refresh", 9_999_999_999, "user@example.com", "folder-1"))
	assert.True(t, core.HasCredentials())

	record, err := core.GetCredentials()
	require.NoError(t, err)
	assert.Equal(t, "access", record.AccessToken)
	assert.Equal(t, "folder-1", record.FolderID)

	require.NoError(t, core.UpdateCredentialAccessToken("access-2", 9_999_999_998))
	record, err = core.GetCredentials()
	require.NoError(t, err)
	assert.Equal(t, "access-2", record.AccessToken)

	require.NoError(t, core.UpdateCredentialFolderID("folder-2"))
	record, err = core.GetCredentials()
	require.NoError(t, err)
	assert.Equal(t, "folder-2", record.FolderID)

	require.NoError(t, core.ClearCredentials())
	assert.False(t, core.HasCredentials())
}

func TestActivateLicenseSuccessRecordsHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	core := newTestCore(t, server)
	ctx := context.Background()

	result, err := core.ActivateLicense(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)
	assert.True(t, result.Success)

	status := core.GetLicenseStatus()
	assert.True(t, status.IsPro)
	require.NotNil(t, status.LicenseKey)

	events, err := core.History()
	require.NoError(t, err)
	require.NotEmpty(t, events)
	found := false
	for _, e := range events {
		if e.Type == "license_activated" {
			found = true
			assert.True(t, e.Verified)
		}
	}
	assert.True(t, found)
}

func TestDeactivateLicenseClearsRecord(t *testing.T) {
	activated := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !activated {
			activated = true
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	core := newTestCore(t, server)
	ctx := context.Background()

	_, err := core.ActivateLicense(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)

	require.NoError(t, core.DeactivateLicense(ctx))

	status := core.GetLicenseStatus()
	assert.False(t, status.IsPro)
	assert.Nil(t, status.LicenseKey)
}

func TestMigrateCredentialsNoLegacySourceIsNoop(t *testing.T) {
	core := newTestCore(t, nil)
	migrated, err := core.MigrateCredentials()
	require.NoError(t, err)
	assert.False(t, migrated)
}
