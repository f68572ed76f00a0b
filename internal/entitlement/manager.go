package entitlement

import (
	"context"
	"errors"
	"time"

	"trustcore/internal/licenseapi"
	"trustcore/internal/trusterr"
)

// Constants governing the entitlement state machine. These must match
// the license API contract exactly; they are part of the on-disk and
// over-the-wire agreement with the server, not tuning knobs.
const (
	ValidationInterval = 72 * time.Hour
	GracePeriod        = 7 * 24 * time.Hour
	TrialDuration      = 7 * 24 * time.Hour
)

// Clock abstracts wall-clock time so the manager can be driven by a fake
// clock in tests (including clock-rollback scenarios) without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Status is the pure, point-in-time view of an entitlement record
// relative to the current clock. Reading it may write back an updated
// watermark as a side effect (see Manager.GetStatus).
type Status struct {
	IsPro              bool    `json:"is_pro"`
	IsTrial            bool    `json:"is_trial"`
	TrialEndsAt        *int64  `json:"trial_ends_at,omitempty"`
	LicenseKey         *string `json:"license_key,omitempty"`
	ActivatedAt        *int64  `json:"activated_at,omitempty"`
	LastValidatedAt    *int64  `json:"last_validated_at,omitempty"`
	NeedsValidation    bool    `json:"needs_validation"`
	InGracePeriod      bool    `json:"in_grace_period"`
	GracePeriodEndsAt  *int64  `json:"grace_period_ends_at,omitempty"`
	TimeTamperDetected bool    `json:"time_tamper_detected"`
}

// ActivationResult is the outcome of Manager.Activate.
type ActivationResult struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ValidationResult is the outcome of Manager.ValidateBackground.
type ValidationResult struct {
	Success       bool `json:"success"`
	Downgraded    bool `json:"downgraded"`
	InGracePeriod bool `json:"in_grace_period"`
}

// Manager drives the trial/license state machine: it owns no state of
// its own beyond a reference to the Store and the API client, and is
// cheap to reconstruct per operation.
type Manager struct {
	store    *Store
	api      *licenseapi.Client
	deviceID string
	clock    Clock
}

// NewManager returns a Manager for deviceID backed by store and api. A
// nil clock uses the system clock.
func NewManager(store *Store, api *licenseapi.Client, deviceID string, clock Clock) *Manager {
	if clock == nil {
		clock = systemClock{}
	}
	return &Manager{store: store, api: api, deviceID: deviceID, clock: clock}
}

func (m *Manager) now() int64 { return m.clock.Now().Unix() }

// StorePath returns the sealed entitlement file's location on disk, for
// callers that want to watch it for out-of-band changes.
func (m *Manager) StorePath() string { return m.store.Path() }

// EnsureTrialInitialized silently creates a trial record for new devices
// on first launch, and is a no-op on every subsequent call (trial
// idempotence). The returned bool reports whether a trial was actually
// started by this call, so callers can log it exactly once.
func (m *Manager) EnsureTrialInitialized() (bool, error) {
	rec, err := m.store.Load()
	if errors.Is(err, trusterr.ErrNotFound) {
		return true, m.store.Save(newTrial(m.deviceID, m.now()))
	}
	if err != nil {
		return false, err
	}

	if rec.TrialStartedAt == nil && !rec.TrialUsed {
		now := m.now()
		rec.TrialStartedAt = &now
		rec.UpdateSeenTimeAndSignature(now)
		return true, m.store.Save(rec)
	}
	return false, nil
}

// Activate calls the license API and, on success, upgrades the record in
// place (creating one if none existed). Business failures reported by
// the server surface verbatim without mutating local state.
func (m *Manager) Activate(ctx context.Context, licenseKey string) (*ActivationResult, error) {
	resp, err := m.api.Activate(ctx, licenseKey, m.deviceID)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return &ActivationResult{Success: false, ErrorCode: resp.ErrorCode, ErrorMessage: resp.Error}, nil
	}

	now := m.now()
	activatedAt := now
	if resp.ActivatedAt != nil {
		activatedAt = *resp.ActivatedAt
	}

	rec, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, trusterr.ErrNotFound) {
			return nil, err
		}
		rec = newBare(m.deviceID, now)
	}

	rec.SetLicense(licenseKey, activatedAt, now)
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	return &ActivationResult{Success: true}, nil
}

// Deactivate unbinds the device entirely: on server success the whole
// entitlement record (including trial state) is deleted.
func (m *Manager) Deactivate(ctx context.Context) error {
	rec, err := m.store.Load()
	if err != nil {
		return err
	}
	if !rec.HasLicense() {
		return trusterr.ErrNotFound
	}

	resp, err := m.api.Deactivate(ctx, rec.LicenseKey, m.deviceID)
	if err != nil {
		return err
	}

	if !resp.Success {
		message := resp.Error
		if message == "" {
			message = "deactivation failed"
		}
		return &trusterr.ApiError{Code: resp.ErrorCode, Message: message}
	}

	return m.store.Clear()
}

// GetStatus computes the current entitlement status relative to the
// record and wall clock. On a clock-sane read it writes back an updated
// watermark (self-healing); on a tamper-suspect read it writes nothing,
// preserving the ratchet until the clock is corrected. A missing or
// unreadable record yields the zero Status (no entitlement).
func (m *Manager) GetStatus() *Status {
	rec, err := m.store.Load()
	if err != nil {
		return &Status{}
	}

	now := m.now()
	tamperDetected := now < rec.LastSeenUTCTime

	if !tamperDetected {
		rec.UpdateSeenTimeAndSignature(now)
		_ = m.store.Save(rec)
	}

	isTrialValid, trialEndsAt := calculateTrialStatus(rec, now)
	isLicenseValid, needsValidation, inGrace, graceEndsAt := calculateLicenseStatus(rec, now)

	isPro := !tamperDetected && (isTrialValid || isLicenseValid)

	var maskedKey *string
	if rec.HasLicense() {
		masked := MaskLicenseKey(rec.LicenseKey)
		maskedKey = &masked
	}

	return &Status{
		IsPro:              isPro,
		IsTrial:            isTrialValid && !tamperDetected,
		TrialEndsAt:        trialEndsAt,
		LicenseKey:         maskedKey,
		ActivatedAt:        rec.ActivatedAt,
		LastValidatedAt:    rec.LastValidatedAt,
		NeedsValidation:    needsValidation,
		InGracePeriod:      inGrace,
		GracePeriodEndsAt:  graceEndsAt,
		TimeTamperDetected: tamperDetected,
	}
}

func calculateTrialStatus(rec *Record, now int64) (bool, *int64) {
	if rec.TrialStartedAt == nil {
		return false, nil
	}
	trialEnd := *rec.TrialStartedAt + int64(TrialDuration/time.Second)
	valid := now < trialEnd && !rec.HasLicense()
	return valid, &trialEnd
}

func calculateLicenseStatus(rec *Record, now int64) (valid, needsValidation, inGrace bool, graceEndsAt *int64) {
	if !rec.HasLicense() {
		return false, false, false, nil
	}

	lastValidated := orZero(rec.LastValidatedAt)
	elapsed := now - lastValidated

	validationIntervalSecs := int64(ValidationInterval / time.Second)
	gracePeriodSecs := int64(GracePeriod / time.Second)

	needsValidation = elapsed > validationIntervalSecs
	inGrace = elapsed > validationIntervalSecs && elapsed <= gracePeriodSecs
	if inGrace {
		ends := lastValidated + gracePeriodSecs
		graceEndsAt = &ends
	}
	valid = elapsed <= gracePeriodSecs
	return valid, needsValidation, inGrace, graceEndsAt
}

// ValidateBackground performs a single silent validation pass: it
// contacts the license API and maps the result (or a network failure) to
// the offline-grace/downgrade policy.
func (m *Manager) ValidateBackground(ctx context.Context) (*ValidationResult, error) {
	rec, err := m.store.Load()
	if errors.Is(err, trusterr.ErrNotFound) {
		return &ValidationResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.HasLicense() {
		return &ValidationResult{}, nil
	}

	now := m.now()
	tamperDetected := now < rec.LastSeenUTCTime

	resp, apiErr := m.api.Validate(ctx, rec.LicenseKey, m.deviceID)
	if apiErr == nil {
		if resp.Success {
			rec.UpdateValidationTime(now)
			if err := m.store.Save(rec); err != nil {
				return nil, err
			}
			return &ValidationResult{Success: true}, nil
		}

		rec.Downgrade()
		if err := m.store.Save(rec); err != nil {
			return nil, err
		}
		return &ValidationResult{Downgraded: true}, nil
	}

	if tamperDetected {
		return &ValidationResult{}, nil
	}

	gracePeriodSecs := int64(GracePeriod / time.Second)
	elapsed := now - orZero(rec.LastValidatedAt)

	if elapsed <= gracePeriodSecs {
		rec.UpdateSeenTimeAndSignature(now)
		if err := m.store.Save(rec); err != nil {
			return nil, err
		}
		return &ValidationResult{InGracePeriod: true}, nil
	}

	rec.Downgrade()
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	return &ValidationResult{Downgraded: true}, nil
}
