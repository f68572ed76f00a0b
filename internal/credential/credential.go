// Package credential implements the OAuth token record Trust Core binds to
// a device: construction, re-signing mutators, expiry helpers, and the
// sealed-store-backed Store that persists it with the device-mismatch and
// signature checks the Sealed Store contract requires of its callers.
package credential

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"trustcore/internal/schemacheck"
	"trustcore/internal/sealedstore"
	"trustcore/internal/security"
	"trustcore/internal/trusterr"
)

// CredentialsSalt distinguishes the credential file's AEAD key from the
// entitlement file's. Changing it breaks every sealed file already on
// disk and requires a migration.
const CredentialsSalt = "nekotick_credentials_v1"

// FileName is the credential sealed file's name within the application
// data directory.
const FileName = ".credentials.dat"

// tokenExpiringThreshold is how far ahead of expires_at a token is
// considered "expiring soon" and due for refresh.
const tokenExpiringThreshold = 300 * time.Second

const credentialSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["device_id", "access_token", "refresh_token", "expires_at", "signature"],
  "properties": {
    "device_id":     {"type": "string", "minLength": 1},
    "access_token":  {"type": "string"},
    "refresh_token": {"type": "string"},
    "expires_at":    {"type": "integer"},
    "user_email":    {"type": "string"},
    "folder_id":     {"type": "string"},
    "signature":     {"type": "string", "pattern": "^[0-9a-f]{64}$"}
  },
  "additionalProperties": false
}`

var validator = schemacheck.MustCompile("trustcore://credential.schema.json", []byte(credentialSchemaJSON))

// Record is the OAuth token payload bound to a single device.
type Record struct {
	DeviceID     string `json:"device_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	UserEmail    string `json:"user_email,omitempty"`
	FolderID     string `json:"folder_id,omitempty"`
	Signature    string `json:"signature"`
}

// New builds a Record and stamps its signature.
func New(deviceID, accessToken, refreshToken string, expiresAt int64, userEmail, folderID string) *Record {
	r := &Record{
		DeviceID:     deviceID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UserEmail:    userEmail,
		FolderID:     folderID,
	}
	r.Signature = r.computeSignature()
	return r
}

// UpdateAccessToken replaces the access token and expiry and re-signs.
func (r *Record) UpdateAccessToken(accessToken string, expiresAt int64) {
	r.AccessToken = accessToken
	r.ExpiresAt = expiresAt
	r.Signature = r.computeSignature()
}

// UpdateFolderID replaces the bound sync folder and re-signs.
func (r *Record) UpdateFolderID(folderID string) {
	r.FolderID = folderID
	r.Signature = r.computeSignature()
}

// IsTokenExpiring reports whether the access token expires within the
// refresh threshold (300s) of now.
func (r *Record) IsTokenExpiring(now time.Time) bool {
	return r.ExpiresAt-now.Unix() < int64(tokenExpiringThreshold/time.Second)
}

// Verify reports whether the record's signature matches its fields,
// using a constant-time comparison.
func (r *Record) Verify() bool {
	expected := r.computeSignature()
	return security.SecureCompare([]byte(expected), []byte(r.Signature))
}

func (r *Record) computeSignature() string {
	msg := canonicalMessage(r.AccessToken, r.RefreshToken, r.ExpiresAt, r.UserEmail, r.FolderID)
	mac := hmac.New(sha256.New, []byte(r.DeviceID))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalMessage builds the colon-joined signature message. Field order
// and the trailing salt are part of the on-disk contract and must never
// change without a migration.
func canonicalMessage(accessToken, refreshToken string, expiresAt int64, userEmail, folderID string) string {
	return accessToken + ":" + refreshToken + ":" + strconv.FormatInt(expiresAt, 10) + ":" + userEmail + ":" + folderID + ":" + CredentialsSalt
}

// TokenRefresher exchanges a refresh token for a new access token. It is
// implemented by the OAuth layer, which Trust Core treats as an external
// collaborator.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (accessToken string, expiresAt int64, err error)
}

// RefreshIfNeeded refreshes the access token in place if it is expiring,
// reporting whether a refresh occurred. Callers are responsible for
// persisting the record via Store.Save after a successful refresh. A
// refresh failure is returned verbatim; it is the caller's decision
// whether to proceed with the stale token or force re-authentication.
func (r *Record) RefreshIfNeeded(ctx context.Context, now time.Time, refresher TokenRefresher) (bool, error) {
	if !r.IsTokenExpiring(now) {
		return false, nil
	}
	accessToken, expiresAt, err := refresher.RefreshToken(ctx, r.RefreshToken)
	if err != nil {
		return false, err
	}
	r.UpdateAccessToken(accessToken, expiresAt)
	return true, nil
}

// Store persists a single device's Record through the sealed store,
// applying the device-mismatch-then-signature validation order the
// Sealed Store contract requires of record owners.
type Store struct {
	path     string
	deviceID string
}

// NewStore returns a Store for the credential file in dataDir, bound to
// deviceID.
func NewStore(dataDir, deviceID string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName), deviceID: deviceID}
}

// Path returns the sealed file's location on disk.
func (s *Store) Path() string { return s.path }

func (s *Store) key() []byte {
	return sealedstore.DeriveKey(s.deviceID, CredentialsSalt)
}

// Save serializes, schema-validates, and atomically seals r to disk.
func (s *Store) Save(r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: %v", trusterr.ErrSerializationError, err)
	}
	if err := validator.ValidateJSON(data); err != nil {
		return err
	}
	return sealedstore.Save(s.path, s.key(), data)
}

// Load reads, decrypts, schema-validates, and authenticates the stored
// Record. Any of NotFound, DecryptFailed, DeviceMismatch, or
// SignatureInvalid may be returned; the latter three all delete the file
// before returning, per the sealed store's delete-on-corrupt policy.
func (s *Store) Load() (*Record, error) {
	data, err := sealedstore.Load(s.path, s.key())
	if err != nil {
		if errors.Is(err, trusterr.ErrDecryptFailed) {
			_ = sealedstore.Delete(s.path)
		}
		return nil, err
	}

	if err := validator.ValidateJSON(data); err != nil {
		return nil, err
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", trusterr.ErrSerializationError, err)
	}

	if r.DeviceID != s.deviceID {
		_ = sealedstore.Delete(s.path)
		return nil, trusterr.ErrDeviceMismatch
	}
	if !r.Verify() {
		_ = sealedstore.Delete(s.path)
		return nil, trusterr.ErrSignatureInvalid
	}

	return &r, nil
}

// Clear idempotently removes the sealed credential file.
func (s *Store) Clear() error {
	return sealedstore.Delete(s.path)
}

// Exists reports whether a sealed credential file is present.
func (s *Store) Exists() bool {
	return sealedstore.Exists(s.path)
}

// LegacyCredentials is the shape of a pre-Trust-Core credential found in
// an external legacy store (historically an OS keyring).
type LegacyCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	UserEmail    string
	FolderID     string
}

// LegacySource is an injected adapter over whatever external store held
// credentials before Trust Core existed. Trust Core has no OS-specific
// coupling to keyrings or other legacy stores; callers supply one.
type LegacySource interface {
	// Load returns the legacy credentials, whether any were found, and
	// an error only for failures distinct from "nothing there".
	Load() (*LegacyCredentials, bool, error)
	// Clear removes the legacy credentials after a successful migration.
	Clear() error
}

// Migrate performs the one-shot migration from a LegacySource into store,
// reporting whether a migration actually happened. It is a no-op
// returning (false, nil) if a sealed credential file already exists or if
// the legacy source has nothing to migrate. A failure while clearing the
// legacy source after a successful write does not fail the migration.
func Migrate(deviceID string, store *Store, source LegacySource) (bool, error) {
	if store.Exists() {
		return false, nil
	}

	legacy, found, err := source.Load()
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	record := New(deviceID, legacy.AccessToken, legacy.RefreshToken, legacy.ExpiresAt, legacy.UserEmail, legacy.FolderID)
	if err := store.Save(record); err != nil {
		return false, err
	}

	// Warnings while clearing the legacy source are not fatal: the
	// migration already succeeded, and the legacy store is being
	// decommissioned anyway.
	_ = source.Clear()

	return true, nil
}
