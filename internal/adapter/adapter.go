package adapter

import "trustcore/internal/credential"

// Compile-time assertion that SecretServiceSource satisfies the interface
// credential.Migrate expects, on every platform's build-tagged variant.
var _ credential.LegacySource = (*SecretServiceSource)(nil)
