//go:build !linux

package fingerprint

import "errors"

// readTPMEndorsementSeed has no implementation outside Linux; callers fall
// back to the platform machine ID.
func readTPMEndorsementSeed() (string, error) {
	return "", errors.New("fingerprint: TPM source unavailable on this platform")
}
