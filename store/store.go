package store

import "context"

// Store defines the persistence contract used for session records.
// Implementations must be safe for concurrent use, since a session's
// background refresh runs alongside calls made by the application.
type Store interface {
	// Get returns the value stored for key. It returns an error wrapping
	// ErrNotFound when there is no record for the key.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value for key, replacing any existing record.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the record for key. Removing a key that does not exist
	// is not an error.
	Remove(ctx context.Context, key string) error
}
