package keyvalue

import "errors"

var (
	// ErrDBClosed is returned when trying to operate on a closed database
	ErrDBClosed = errors.New("keyvalue: database is closed")

	// ErrKeyNotFound is returned when a key doesn't exist in the database
	ErrKeyNotFound = errors.New("keyvalue: key not found")

	// ErrUnknownBackend is returned by Open for an unsupported backend name
	ErrUnknownBackend = errors.New("keyvalue: unknown backend")

	// ErrBatchOperationFailed is returned when a batch operation fails
	ErrBatchOperationFailed = errors.New("keyvalue: batch operation failed")
)
