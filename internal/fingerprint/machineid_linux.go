//go:build linux

package fingerprint

import (
	"os"
	"strings"
)

// readPlatformMachineID reads the kernel/D-Bus machine ID on Linux.
func readPlatformMachineID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}
	return "", os.ErrNotExist
}
