// Package sealedstore implements the AEAD+HMAC sealed file primitives that
// back every device-bound record Trust Core persists (credentials,
// entitlement). A sealed file is laid out as:
//
//	nonce(12) || ciphertext (AES-256-GCM, 16-byte tag embedded)
//
// There is no length prefix, magic number, or version byte: the file is
// either a valid sealed blob for the current key, or it is corrupt/
// foreign and gets deleted on the next failed load.
package sealedstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"trustcore/internal/security"
	"trustcore/internal/trusterr"
)

const (
	nonceSize = 12
	keySize   = 32 // AES-256

	// maxSealedFileSize bounds how much we will read from a sealed file;
	// Trust Core records are always small JSON documents.
	maxSealedFileSize = 1 << 20 // 1 MiB
)

// DeriveKey derives the AEAD key for a device/salt pair as
// SHA-256(device_id || salt). salt is a fixed per-record-type constant
// (e.g. "nekotick_credentials_v1", "nekotick_license_v1") so credential
// and license keys can never collide even when derived from the same
// device identifier. This exact concatenation, with no domain-separation
// label, is load-bearing: changing it is a storage format break, not a
// refactor.
func DeriveKey(deviceID, salt string) []byte {
	sum := sha256.Sum256([]byte(deviceID + salt))
	return sum[:]
}

// Seal encrypts plaintext under key, returning nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if err := security.GenerateSecureRandom(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", trusterr.ErrCryptoError, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal. A failure here
// always means ErrDecryptFailed: a wrong key, a tampered file, or a blob
// from a different device that happens to be the same length.
func Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: sealed data shorter than nonce", trusterr.ErrDecryptFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := sealed[:nonceSize]
	ciphertext := sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w", trusterr.ErrDecryptFailed)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", trusterr.ErrCryptoError, keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trusterr.ErrCryptoError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trusterr.ErrCryptoError, err)
	}
	return gcm, nil
}

// Save atomically encrypts plaintext under key and writes it to path,
// creating the parent directory with owner-only permissions if needed.
func Save(path string, key, plaintext []byte) error {
	sealed, err := Seal(key, plaintext)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), security.PermSecretDir); err != nil {
		return fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}

	if err := security.WriteSecretFile(path, sealed); err != nil {
		return fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}
	return nil
}

// Load reads and decrypts path under key. It returns ErrNotFound if the
// file does not exist and ErrDecryptFailed if authentication fails.
func Load(path string, key []byte) ([]byte, error) {
	if !Exists(path) {
		return nil, trusterr.ErrNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, trusterr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}
	if int64(len(data)) > maxSealedFileSize {
		return nil, fmt.Errorf("%w: sealed file exceeds maximum size", trusterr.ErrStorageError)
	}

	return Open(key, data)
}

// Delete removes path if it exists; removing an absent file is not an
// error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}
	return nil
}

// Exists reports whether a sealed file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WatchExternalChanges watches path's parent directory and forwards any
// event that touches path itself. It is used by the daemon to notice a
// sealed file being replaced out-of-band (for example a cloud-sync client
// overwriting .license.dat with a copy from another device) and trigger
// an immediate re-load instead of waiting for the next poll.
func WatchExternalChanges(path string) (<-chan fsnotify.Event, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, security.PermSecretDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("%w: %v", trusterr.ErrStorageError, err)
	}

	out := make(chan fsnotify.Event, 4)
	base := filepath.Base(path)

	go func() {
		defer close(out)
		for event := range watcher.Events {
			if filepath.Base(event.Name) == base {
				out <- event
			}
		}
	}()

	return out, watcher.Close, nil
}
