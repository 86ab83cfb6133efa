package nvstore

import "errors"

// Domain-specific errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a namespace/key pair has no value.
	ErrNotFound = errors.New("nvstore: key not found")

	// ErrCorrupt is returned when a stored record fails its integrity
	// check (bad length, unknown version, or checksum mismatch).
	ErrCorrupt = errors.New("nvstore: record failed integrity check")
)
