// Package trustcore wires device fingerprinting, sealed storage,
// credential and entitlement records, and the license API client into
// the single facade a host application embeds: one Core per data
// directory, one sealed file per record type, one license per device.
package trustcore

import (
	"context"
	"fmt"
	"time"

	"trustcore/internal/adapter"
	"trustcore/internal/config"
	"trustcore/internal/credential"
	"trustcore/internal/entitlement"
	"trustcore/internal/fingerprint"
	"trustcore/internal/history"
	"trustcore/internal/licenseapi"
	"trustcore/internal/logging"
	"trustcore/internal/sealedstore"
)

// Core is the entry point a host process uses for every credential and
// entitlement operation. It owns the device identity, both sealed
// stores, the license API client, and the tamper-evident activation
// history log.
type Core struct {
	DeviceID string

	credentials *credential.Store
	entitlement *entitlement.Manager
	history     *history.Log
	log         *logging.Logger

	legacySource credential.LegacySource
}

// Open builds a Core from a configuration, generating or loading the
// device fingerprint, opening both sealed stores, and connecting the
// history log. The returned Core must be closed with Close.
func Open(cfg *config.Config, log *logging.Logger) (*Core, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("trustcore: prepare directories: %w", err)
	}

	deviceID, err := fingerprint.Generate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("trustcore: generate device fingerprint: %w", err)
	}

	historyLog, err := history.Open(cfg.HistoryDBPath, deviceID)
	if err != nil {
		return nil, fmt.Errorf("trustcore: open history log: %w", err)
	}

	apiClient := licenseapi.New(cfg.LicenseAPIBaseURL, cfg.HTTPTimeout())
	entitlementStore := entitlement.NewStore(cfg.DataDir, deviceID)

	core := &Core{
		DeviceID:     deviceID,
		credentials:  credential.NewStore(cfg.DataDir, deviceID),
		entitlement:  entitlement.NewManager(entitlementStore, apiClient, deviceID, nil),
		history:      historyLog,
		log:          log,
		legacySource: adapter.NewSecretServiceSource(),
	}

	trialStarted, err := core.entitlement.EnsureTrialInitialized()
	if err != nil {
		historyLog.Close()
		return nil, fmt.Errorf("trustcore: initialize trial: %w", err)
	}
	if trialStarted {
		core.appendHistory(context.Background(), history.EventTrialStarted, "")
	}

	return core, nil
}

// Close releases the history log's database handle. The sealed stores
// hold no open resources between calls.
func (c *Core) Close() error {
	return c.history.Close()
}

// GetDeviceID returns the stable per-install identifier every sealed
// record is bound to.
func (c *Core) GetDeviceID() string {
	return c.DeviceID
}

// GetCredentials returns the stored OAuth credentials, or
// trusterr.ErrNotFound if none are saved.
func (c *Core) GetCredentials() (*credential.Record, error) {
	return c.credentials.Load()
}

// HasCredentials reports whether a (possibly expired) credential record
// exists without decrypting it.
func (c *Core) HasCredentials() bool {
	return c.credentials.Exists()
}

// StoreCredentials seals and persists a fresh credential record.
func (c *Core) StoreCredentials(accessToken, refreshToken string, expiresAt int64, userEmail, folderID string) error {
	record := credential.New(c.DeviceID, accessToken, refreshToken, expiresAt, userEmail, folderID)
	return c.credentials.Save(record)
}

// UpdateCredentialAccessToken refreshes the access token on the stored
// credential record and re-signs it.
func (c *Core) UpdateCredentialAccessToken(accessToken string, expiresAt int64) error {
	record, err := c.credentials.Load()
	if err != nil {
		return err
	}
	record.UpdateAccessToken(accessToken, expiresAt)
	return c.credentials.Save(record)
}

// UpdateCredentialFolderID updates the destination folder on the stored
// credential record and re-signs it.
func (c *Core) UpdateCredentialFolderID(folderID string) error {
	record, err := c.credentials.Load()
	if err != nil {
		return err
	}
	record.UpdateFolderID(folderID)
	return c.credentials.Save(record)
}

// ClearCredentials deletes the stored credential record.
func (c *Core) ClearCredentials() error {
	return c.credentials.Clear()
}

// MigrateCredentials copies credentials out of the legacy platform
// keyring into the sealed store, if present and not already migrated.
func (c *Core) MigrateCredentials() (bool, error) {
	return credential.Migrate(c.DeviceID, c.credentials, c.legacySource)
}

// ActivateLicense redeems a license key against the license API and, on
// success, upgrades the stored entitlement record.
func (c *Core) ActivateLicense(ctx context.Context, licenseKey string) (*entitlement.ActivationResult, error) {
	result, err := c.entitlement.Activate(ctx, licenseKey)
	if err != nil {
		c.appendHistory(ctx, history.EventTamperDetected, fmt.Sprintf("activation request failed: %v", err))
		return nil, err
	}
	if result.Success {
		c.appendHistory(ctx, history.EventLicenseActivated, entitlement.MaskLicenseKey(licenseKey))
	}
	return result, nil
}

// DeactivateLicense releases the license with the license API and clears
// the local entitlement record.
func (c *Core) DeactivateLicense(ctx context.Context) error {
	if err := c.entitlement.Deactivate(ctx); err != nil {
		return err
	}
	c.appendHistory(ctx, history.EventLicenseDeactivated, "")
	return nil
}

// GetLicenseStatus computes the current entitlement status: trial,
// licensed, grace period, or tamper-suspect.
func (c *Core) GetLicenseStatus() *entitlement.Status {
	return c.entitlement.GetStatus()
}

// ValidateLicenseBackground performs the periodic phone-home validation
// a host calls on a timer, recording the outcome in the history log.
func (c *Core) ValidateLicenseBackground(ctx context.Context) (*entitlement.ValidationResult, error) {
	result, err := c.entitlement.ValidateBackground(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case result.Downgraded:
		c.appendHistory(ctx, history.EventDowngraded, "")
	case result.Success:
		c.appendHistory(ctx, history.EventValidationOK, "")
	}
	return result, nil
}

// History returns the full tamper-evident entitlement event history,
// each entry flagged with whether its hash chain and HMAC still verify.
func (c *Core) History() ([]history.Event, error) {
	return c.history.Verify()
}

func (c *Core) appendHistory(ctx context.Context, eventType history.EventType, detail string) {
	if err := c.history.Append(ctx, eventType, detail); err != nil && c.log != nil {
		c.log.Error("trustcore: failed to append history event", "event_type", string(eventType), "error", err)
	}
}

// ScheduleBackgroundValidation runs ValidateLicenseBackground on cfg's
// validation interval until ctx is cancelled, and also triggers an
// immediate validation whenever the sealed entitlement file changes out
// of band (e.g. a cloud-sync client overwriting it with a copy from
// another device). It is a convenience for hosts that don't already run
// their own scheduler.
func (c *Core) ScheduleBackgroundValidation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	changes, stopWatch, err := sealedstore.WatchExternalChanges(c.entitlement.StorePath())
	if err != nil {
		if c.log != nil {
			c.log.Warn("trustcore: watching entitlement file failed, falling back to polling only", "error", err)
		}
		changes = nil
	} else {
		defer stopWatch()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if _, err := c.ValidateLicenseBackground(ctx); err != nil && c.log != nil {
				c.log.Warn("trustcore: validation after external change failed", "error", err)
			}
		case <-ticker.C:
			if _, err := c.ValidateLicenseBackground(ctx); err != nil && c.log != nil {
				c.log.Warn("trustcore: background validation failed", "error", err)
			}
		}
	}
}
