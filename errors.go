package passport

import (
	"errors"
)

var (
	// ErrKeyNotFound is returned when a storage key does not exist
	ErrKeyNotFound = errors.New("storage key not found")

	// ErrStoreOperationFailed is returned when a storage operation fails
	ErrStoreOperationFailed = errors.New("store operation failed")

	// ErrInvalidValue is returned when a stored value cannot be decoded
	ErrInvalidValue = errors.New("invalid stored value")
)
