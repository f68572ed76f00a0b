//go:build linux

// Package adapter provides injected implementations of
// credential.LegacySource: the one place Trust Core touches an
// OS-specific legacy credential store, kept out of the core so the core
// itself has no platform coupling (see SPEC_FULL.md's note on the
// original's hardcoded keyring dependency).
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"trustcore/internal/credential"
)

const (
	secretServiceDest    = "org.freedesktop.secrets"
	secretServicePath    = "/org/freedesktop/secrets/aliases/default"
	secretServiceIface   = "org.freedesktop.Secret.Service"
	secretCollectionIface = "org.freedesktop.Secret.Collection"
	secretItemIface      = "org.freedesktop.Secret.Item"

	legacyAttributeApp      = "application"
	legacyAttributeAppValue = "nekotick"
)

// secretStruct is the Secret Service "Secret" D-Bus structure:
// (ObjectPath session, ARRAY(BYTE) parameters, ARRAY(BYTE) value, STRING
// content_type).
type secretStruct struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// SecretServiceSource reads legacy OAuth credentials out of the
// freedesktop Secret Service (gnome-keyring / KWallet) over D-Bus, where
// earlier, pre-Trust-Core versions of the application stored them
// directly.
type SecretServiceSource struct {
	conn *dbus.Conn
}

// NewSecretServiceSource returns a source that connects to the session
// bus lazily on first use.
func NewSecretServiceSource() *SecretServiceSource {
	return &SecretServiceSource{}
}

func (s *SecretServiceSource) connect() (*dbus.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("adapter: connect to session bus: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *SecretServiceSource) openPlainSession(service dbus.BusObject) (dbus.ObjectPath, error) {
	var output dbus.Variant
	var sessionPath dbus.ObjectPath
	err := service.Call(secretServiceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).Store(&output, &sessionPath)
	return sessionPath, err
}

// Load searches the default collection for an item tagged
// application=nekotick, decodes its secret as JSON legacy credentials,
// and returns it. A missing Secret Service, a locked collection, or no
// matching item are all reported as "not found", not an error: most
// users migrating have never used the legacy store.
func (s *SecretServiceSource) Load() (*credential.LegacyCredentials, bool, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, false, nil
	}

	collection := conn.Object(secretServiceDest, dbus.ObjectPath(secretServicePath))
	attrs := map[string]string{legacyAttributeApp: legacyAttributeAppValue}

	var items []dbus.ObjectPath
	if err := collection.Call(secretCollectionIface+".SearchItems", 0, attrs).Store(&items); err != nil || len(items) == 0 {
		return nil, false, nil
	}

	service := conn.Object(secretServiceDest, dbus.ObjectPath("/org/freedesktop/secrets"))
	session, err := s.openPlainSession(service)
	if err != nil {
		return nil, false, nil
	}

	item := conn.Object(secretServiceDest, items[0])
	var secret secretStruct
	if err := item.Call(secretItemIface+".GetSecret", 0, session).Store(&secret); err != nil {
		return nil, false, nil
	}

	var legacy credential.LegacyCredentials
	if err := json.Unmarshal(secret.Value, &legacy); err != nil {
		return nil, false, nil
	}

	return &legacy, true, nil
}

// Clear deletes every item tagged application=nekotick from the default
// collection. It is called only after a successful migration, so a
// failure here (permission denied, service unavailable) does not affect
// the data Trust Core already wrote.
func (s *SecretServiceSource) Clear() error {
	conn, err := s.connect()
	if err != nil {
		return nil
	}

	collection := conn.Object(secretServiceDest, dbus.ObjectPath(secretServicePath))
	attrs := map[string]string{legacyAttributeApp: legacyAttributeAppValue}

	var items []dbus.ObjectPath
	if err := collection.Call(secretCollectionIface+".SearchItems", 0, attrs).Store(&items); err != nil {
		return nil
	}

	for _, path := range items {
		item := conn.Object(secretServiceDest, path)
		_ = item.Call(secretItemIface+".Delete", 0).Store()
	}
	return nil
}
