//go:build linux

package fingerprint

import (
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
)

// tpmDevicePaths are tried in order; the resource manager device is
// preferred so the kernel serializes access with other TPM consumers.
var tpmDevicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// readTPMEndorsementSeed reads PCR 0 from a local TPM as additional
// device-binding material. It is best-effort: any failure (no TPM, no
// permission, PCR bank unavailable) simply means the caller falls back to
// the platform machine ID.
func readTPMEndorsementSeed() (string, error) {
	var lastErr error
	for _, path := range tpmDevicePaths {
		rwc, err := tpm2.OpenTPM(path)
		if err != nil {
			lastErr = err
			continue
		}
		defer rwc.Close()

		pcrs, err := tpm2.ReadPCRs(rwc, tpm2.PCRSelection{
			Hash: tpm2.AlgSHA256,
			PCRs: []int{0},
		})
		if err != nil {
			lastErr = err
			continue
		}

		value, ok := pcrs[0]
		if !ok || len(value) == 0 {
			lastErr = fmt.Errorf("fingerprint: PCR0 not reported by %s", path)
			continue
		}

		return string(value), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("fingerprint: no TPM device available")
	}
	return "", lastErr
}
