package passport

import (
	"context"
	"time"
)

// Storage is the single mutable key/value store shared by the connector,
// the authentication delegate and the application. Values are strings;
// structured values are stored JSON encoded (see GetJSON and SetJSON).
type Storage interface {
	// Set stores a value under key. A zero ttl keeps the value until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get retrieves a value by key, returning ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
