//go:build darwin

package fingerprint

import (
	"strings"

	"golang.org/x/sys/unix"
)

// readPlatformMachineID reads the hardware UUID via the kern.uuid sysctl.
func readPlatformMachineID() (string, error) {
	id, err := unix.Sysctl("kern.uuid")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(id), nil
}
