// Package entitlement implements the trial/license state machine: the
// signed Record persisted through the sealed store, and the Manager that
// drives activation, deactivation, background validation, and the
// self-healing clock-tamper guard described in the license API client's
// contract.
package entitlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"trustcore/internal/security"
)

// LicenseSalt distinguishes the entitlement file's AEAD key from the
// credential file's.
const LicenseSalt = "nekotick_license_v1"

// FileName is the entitlement sealed file's name within the application
// data directory.
const FileName = ".license.dat"

// Record is the trial/license entitlement state bound to a device.
type Record struct {
	DeviceID        string `json:"device_id"`
	LicenseKey      string `json:"license_key,omitempty"`
	ActivatedAt     *int64 `json:"activated_at,omitempty"`
	LastValidatedAt *int64 `json:"last_validated_at,omitempty"`
	TrialStartedAt  *int64 `json:"trial_started_at,omitempty"`
	TrialUsed       bool   `json:"trial_used"`
	LastSeenUTCTime int64  `json:"last_seen_utc_time"`
	Signature       string `json:"signature"`
}

// newBare returns an unsigned Record with no trial or license state,
// stamped with the given watermark.
func newBare(deviceID string, now int64) *Record {
	return &Record{DeviceID: deviceID, LastSeenUTCTime: now}
}

// newTrial returns a signed Record starting a fresh trial at now.
func newTrial(deviceID string, now int64) *Record {
	trialStart := now
	r := &Record{
		DeviceID:        deviceID,
		TrialStartedAt:  &trialStart,
		TrialUsed:       false,
		LastSeenUTCTime: now,
	}
	r.Signature = r.computeSignature()
	return r
}

// HasLicense reports whether the record currently carries an active
// license key.
func (r *Record) HasLicense() bool {
	return r.LicenseKey != ""
}

// SetLicense upgrades the record to a license, flags trial as used
// (trial state, if any, is preserved on the record but no longer grants
// entitlement while a license is present), and re-signs.
func (r *Record) SetLicense(licenseKey string, activatedAt, lastValidatedAt int64) {
	r.LicenseKey = licenseKey
	r.ActivatedAt = &activatedAt
	r.LastValidatedAt = &lastValidatedAt
	r.TrialUsed = true
	r.Signature = r.computeSignature()
}

// UpdateValidationTime stamps last_validated_at and the watermark, then
// re-signs.
func (r *Record) UpdateValidationTime(now int64) {
	r.LastValidatedAt = &now
	r.UpdateSeenTimeAndSignature(now)
}

// UpdateSeenTimeAndSignature stamps the anti-rollback watermark and
// re-signs without touching any other field.
func (r *Record) UpdateSeenTimeAndSignature(now int64) {
	r.LastSeenUTCTime = now
	r.Signature = r.computeSignature()
}

// Downgrade clears license fields while preserving trial fields, then
// re-signs. This is the only mutation the server-driven revocation path
// performs.
func (r *Record) Downgrade() {
	r.LicenseKey = ""
	r.ActivatedAt = nil
	r.LastValidatedAt = nil
	r.Signature = r.computeSignature()
}

// Verify reports whether the record's signature matches its fields,
// using a constant-time comparison.
func (r *Record) Verify() bool {
	expected := r.computeSignature()
	return security.SecureCompare([]byte(expected), []byte(r.Signature))
}

func (r *Record) computeSignature() string {
	msg := canonicalMessage(r.LicenseKey, orZero(r.ActivatedAt), orZero(r.LastValidatedAt), orZero(r.TrialStartedAt), r.TrialUsed, r.LastSeenUTCTime)
	mac := hmac.New(sha256.New, []byte(r.DeviceID))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalMessage builds the colon-joined signature message. Field
// order, and the "0"/"" representation of absent integer/string fields,
// are part of the on-disk contract: any future nullable field must pick
// and document its own canonical empty representation before joining the
// signature.
func canonicalMessage(licenseKey string, activatedAt, lastValidatedAt, trialStartedAt int64, trialUsed bool, lastSeenUTCTime int64) string {
	return fmt.Sprintf("%s:%d:%d:%d:%t:%d", licenseKey, activatedAt, lastValidatedAt, trialStartedAt, trialUsed, lastSeenUTCTime)
}

func orZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// MaskLicenseKey renders a license key as PREFIX-****-****-SUFFIX when it
// has 4 or more dash-separated groups, or "****" otherwise.
func MaskLicenseKey(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) >= 4 {
		return parts[0] + "-****-****-" + parts[len(parts)-1]
	}
	return "****"
}
