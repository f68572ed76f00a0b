//go:build !linux

package adapter

import "trustcore/internal/credential"

// SecretServiceSource is a no-op outside Linux: the freedesktop Secret
// Service only exists there. macOS Keychain and Windows Credential
// Manager legacy sources, if ever needed, would live in sibling files
// following this same LegacySource shape.
type SecretServiceSource struct{}

// NewSecretServiceSource returns a source whose Load always reports
// "nothing to migrate" on this platform.
func NewSecretServiceSource() *SecretServiceSource {
	return &SecretServiceSource{}
}

func (s *SecretServiceSource) Load() (*credential.LegacyCredentials, bool, error) {
	return nil, false, nil
}

func (s *SecretServiceSource) Clear() error {
	return nil
}
