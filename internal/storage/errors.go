package storage

import "errors"

// Sentinels returned by every backend. Postgres maps SQLSTATE codes onto
// them so callers never inspect driver errors.
var (
	ErrNotFound = errors.New("storage: record not found")

	// ErrDuplicateKey means the natural key (signature, pool address,
	// agent id) was already written. Reconciliation relies on it to detect
	// replays.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	ErrInvalidInput = errors.New("storage: invalid input")
)
