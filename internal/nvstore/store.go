package nvstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Store is a namespaced key-value store backed by SQLite.
//
// It is the single persistence surface for state that must survive a
// deep-sleep power cycle. Every mutation is one autocommit statement
// with no multi-key transactions, so a power loss can interrupt a
// sequence of writes but never hide a completed one.
//
// Thread Safety:
//   - Safe for concurrent use; the underlying pool serialises writers.
type Store struct {
	db *sql.DB
}

// New creates a Store on an open database connection.
//
// The nvstore table must already exist (see migrations).
//
// Parameters:
//   - db: Open SQLite connection used for all operations
//
// Returns:
//   - *Store: Store instance ready for use
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put stores a raw value under namespace/key, replacing any existing value.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nvstore (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Get returns the raw value stored under namespace/key.
//
// Returns:
//   - []byte: Stored value
//   - error: ErrNotFound if the key has no value, otherwise the query error
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM nvstore WHERE namespace = ? AND key = ?",
		namespace,
		key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", namespace, key, err)
	}

	return value, nil
}

// Delete removes the value under namespace/key. Deleting a missing key is
// not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM nvstore WHERE namespace = ? AND key = ?",
		namespace,
		key,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", namespace, key, err)
	}

	return nil
}

// DeleteNamespace removes every key in a namespace.
//
// Used when a whole persisted structure is being reset, such as erasing
// the remembered access point after repeated failed joins.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("nvstore: namespace is required")
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM nvstore WHERE namespace = ?",
		namespace,
	)
	if err != nil {
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}

	return nil
}

// PutRecord stores payload wrapped in a versioned CRC envelope.
func (s *Store) PutRecord(ctx context.Context, namespace, key string, payload []byte) error {
	return s.Put(ctx, namespace, key, encodeRecord(payload))
}

// GetRecord returns the payload of a CRC-enveloped value.
//
// Returns:
//   - []byte: Validated payload
//   - error: ErrNotFound if absent, ErrCorrupt if the envelope fails
//     validation, otherwise the query error
func (s *Store) GetRecord(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := s.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}

	payload, err := decodeRecord(value)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, err)
	}

	return payload, nil
}

// PutUint64 stores a counter or sequence number as a CRC-enveloped record.
func (s *Store) PutUint64(ctx context.Context, namespace, key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.PutRecord(ctx, namespace, key, buf[:])
}

// GetUint64 returns a counter stored with PutUint64.
func (s *Store) GetUint64(ctx context.Context, namespace, key string) (uint64, error) {
	payload, err := s.GetRecord(ctx, namespace, key)
	if err != nil {
		return 0, err
	}

	if len(payload) != 8 {
		return 0, fmt.Errorf("%w: %s/%s: expected 8-byte payload, got %d", ErrCorrupt, namespace, key, len(payload))
	}

	return binary.BigEndian.Uint64(payload), nil
}

// PutString stores a string as a CRC-enveloped record.
func (s *Store) PutString(ctx context.Context, namespace, key, v string) error {
	return s.PutRecord(ctx, namespace, key, []byte(v))
}

// GetString returns a string stored with PutString.
func (s *Store) GetString(ctx context.Context, namespace, key string) (string, error) {
	payload, err := s.GetRecord(ctx, namespace, key)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// validateKey rejects empty namespace or key names.
func validateKey(namespace, key string) error {
	if namespace == "" {
		return fmt.Errorf("nvstore: namespace is required")
	}
	if key == "" {
		return fmt.Errorf("nvstore: key is required")
	}
	return nil
}
