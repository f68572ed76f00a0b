package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrialSignsRecord(t *testing.T) {
	r := newTrial("device-1", 1703001600)
	assert.NotEmpty(t, r.Signature)
	assert.True(t, r.Verify())
	assert.False(t, r.TrialUsed)
	require.NotNil(t, r.TrialStartedAt)
	assert.Equal(t, int64(1703001600), *r.TrialStartedAt)
}

func TestTamperedLicenseKeyFailsVerification(t *testing.T) {
	r := newTrial("device-1", 1703001600)
	r.SetLicense("NEKO-ABCD-EFGH-1234", 1703001600, 1703001600)
	r.LicenseKey = "NEKO-FAKE-0000-0000"
	assert.False(t, r.Verify())
}

func TestTamperedActivatedAtFailsVerification(t *testing.T) {
	r := newTrial("device-1", 1703001600)
	r.SetLicense("NEKO-ABCD-EFGH-1234", 1703001600, 1703001600)
	tampered := int64(9_999_999_999)
	r.ActivatedAt = &tampered
	assert.False(t, r.Verify())
}

func TestTamperedDeviceIDFailsVerification(t *testing.T) {
	r := newTrial("device-1", 1703001600)
	r.DeviceID = "other-device"
	assert.False(t, r.Verify())
}

func TestDowngradePreservesTrial(t *testing.T) {
	r := newTrial("device-1", 1000)
	r.SetLicense("NEKO-ABCD-EFGH-1234", 2000, 2000)
	r.Downgrade()

	assert.Empty(t, r.LicenseKey)
	assert.Nil(t, r.ActivatedAt)
	assert.Nil(t, r.LastValidatedAt)
	require.NotNil(t, r.TrialStartedAt)
	assert.Equal(t, int64(1000), *r.TrialStartedAt)
	assert.True(t, r.TrialUsed, "trial_used stays true once a license has ever been activated")
	assert.True(t, r.Verify())
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "NEKO-****-****-1234", MaskLicenseKey("NEKO-ABCD-EFGH-1234"))
	assert.Equal(t, "****", MaskLicenseKey("SHORT"))
	assert.Equal(t, "A-****-****-D", MaskLicenseKey("A-B-C-D"))
}
