// Package history provides an append-only, HMAC-chained SQLite log of
// entitlement lifecycle events (activation, deactivation, validation,
// downgrade). It is a supporting audit trail, not part of the sealed
// record state itself: losing it never affects entitlement decisions,
// but it gives the host a tamper-evident record of what happened and
// when, independent of the JSON audit log in internal/logging.
package history

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trustcore/internal/security"
)

const schema = `
CREATE TABLE IF NOT EXISTS entitlement_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    occurred_at   INTEGER NOT NULL,
    event_type    TEXT NOT NULL,
    detail        TEXT,
    previous_hash BLOB NOT NULL,
    event_hash    BLOB NOT NULL UNIQUE,
    hmac          BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entitlement_events_time ON entitlement_events(occurred_at);
`

// EventType names the entitlement lifecycle events the log records.
type EventType string

const (
	EventTrialStarted    EventType = "trial_started"
	EventLicenseActivated EventType = "license_activated"
	EventLicenseDeactivated EventType = "license_deactivated"
	EventValidationOK    EventType = "validation_ok"
	EventDowngraded      EventType = "downgraded"
	EventTamperDetected  EventType = "tamper_detected"
)

// Log is an append-only SQLite event log where each row's hash covers
// the previous row's hash, turning the table into a hash chain, and each
// row additionally carries an HMAC keyed by a device-derived key so a
// row edited directly in the database file (bypassing the chain) is
// still detectable.
type Log struct {
	db      *sql.DB
	hmacKey []byte

	mu       sync.Mutex
	lastHash [32]byte
}

// Open opens or creates the SQLite database at path and derives its HMAC
// key from deviceID. The parent directory is created with owner-only
// permissions if missing.
func Open(path, deviceID string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), security.PermSecretDir); err != nil {
		return nil, fmt.Errorf("history: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	if err := os.Chmod(path, security.PermSecretFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set database permissions: %w", err)
	}

	hmacKey, err := security.DeriveKeyWithLabel([]byte(deviceID), "history-log", security.RecommendedKeySize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: derive hmac key: %w", err)
	}

	l := &Log{db: db, hmacKey: hmacKey}
	if err := l.loadLastHash(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) loadLastHash() error {
	row := l.db.QueryRow(`SELECT event_hash FROM entitlement_events ORDER BY id DESC LIMIT 1`)
	var hash []byte
	switch err := row.Scan(&hash); {
	case errors.Is(err, sql.ErrNoRows):
		l.lastHash = [32]byte{}
		return nil
	case err != nil:
		return fmt.Errorf("history: load last hash: %w", err)
	default:
		copy(l.lastHash[:], hash)
		return nil
	}
}

// Append records an event, chaining it to the previous row and signing
// it with the device-derived HMAC key.
func (l *Log) Append(ctx context.Context, eventType EventType, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	occurredAt := time.Now().UnixNano()
	eventHash := sha256.Sum256(append(append([]byte(nil), l.lastHash[:]...), []byte(fmt.Sprintf("%s|%s|%d", eventType, detail, occurredAt))...))

	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(l.lastHash[:])
	mac.Write(eventHash[:])
	signature := mac.Sum(nil)

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO entitlement_events (occurred_at, event_type, detail, previous_hash, event_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?)`,
		occurredAt, string(eventType), detail, l.lastHash[:], eventHash[:], signature,
	)
	if err != nil {
		return fmt.Errorf("history: append event: %w", err)
	}

	l.lastHash = eventHash
	return nil
}

// Event is a decoded row from the log, with Verified reporting whether
// its HMAC matched at read time.
type Event struct {
	OccurredAt time.Time
	Type       EventType
	Detail     string
	Verified   bool
}

// Verify walks the entire chain and reports every event along with
// whether its HMAC and chain linkage verified, in insertion order.
func (l *Log) Verify() ([]Event, error) {
	rows, err := l.db.Query(`SELECT occurred_at, event_type, detail, previous_hash, event_hash, hmac FROM entitlement_events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("history: verify query: %w", err)
	}
	defer rows.Close()

	var events []Event
	var expectedPrev [32]byte

	for rows.Next() {
		var occurredAtNs int64
		var eventType, detail string
		var previousHash, eventHash, storedMAC []byte
		if err := rows.Scan(&occurredAtNs, &eventType, &detail, &previousHash, &eventHash, &storedMAC); err != nil {
			return nil, fmt.Errorf("history: verify scan: %w", err)
		}

		mac := hmac.New(sha256.New, l.hmacKey)
		mac.Write(previousHash)
		mac.Write(eventHash)
		expectedMAC := mac.Sum(nil)

		chainOK := security.SecureCompare(previousHash, expectedPrev[:])
		macOK := security.SecureCompare(storedMAC, expectedMAC)

		events = append(events, Event{
			OccurredAt: time.Unix(0, occurredAtNs),
			Type:       EventType(eventType),
			Detail:     detail,
			Verified:   chainOK && macOK,
		})

		copy(expectedPrev[:], eventHash)
	}

	return events, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Hex is a convenience for logging a hash in the same lower-case hex
// form the rest of Trust Core uses.
func Hex(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}
