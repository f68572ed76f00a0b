package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"trustcore/internal/schemacheck"
	"trustcore/internal/sealedstore"
	"trustcore/internal/trusterr"
)

const entitlementSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["device_id", "trial_used", "last_seen_utc_time", "signature"],
  "properties": {
    "device_id":          {"type": "string", "minLength": 1},
    "license_key":        {"type": "string"},
    "activated_at":        {"type": "integer"},
    "last_validated_at":   {"type": "integer"},
    "trial_started_at":    {"type": "integer"},
    "trial_used":          {"type": "boolean"},
    "last_seen_utc_time":  {"type": "integer"},
    "signature":           {"type": "string", "pattern": "^[0-9a-f]{64}$"}
  },
  "additionalProperties": false
}`

var validator = schemacheck.MustCompile("trustcore://entitlement.schema.json", []byte(entitlementSchemaJSON))

// Store persists a single device's entitlement Record through the sealed
// store, applying the device-mismatch-then-signature validation order the
// Sealed Store contract requires of record owners.
type Store struct {
	path     string
	deviceID string
}

// NewStore returns a Store for the entitlement file in dataDir, bound to
// deviceID.
func NewStore(dataDir, deviceID string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName), deviceID: deviceID}
}

// Path returns the sealed file's location on disk.
func (s *Store) Path() string { return s.path }

func (s *Store) key() []byte {
	return sealedstore.DeriveKey(s.deviceID, LicenseSalt)
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
// before returning.
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

// Clear idempotently removes the sealed entitlement file.
func (s *Store) Clear() error {
	return sealedstore.Delete(s.path)
}

// Exists reports whether a sealed entitlement file is present.
func (s *Store) Exists() bool {
	return sealedstore.Exists(s.path)
}
