// Package storage is the blob store for generated images and audio. The
// subsystem treats it as append-only: replacing an asset stores a new blob
// and repoints the owning record, it never overwrites in place.
package storage

import "context"

// Store is the minimal blob contract the pipeline needs.
type Store interface {
	// Put persists data and returns an opaque storage ID.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// URL returns a URL the asset can be fetched from, or "" if the ID does
	// not resolve. URLs are derived fresh on every read, never persisted.
	URL(id string) string
	// Delete removes the blob. Deleting an unknown ID is not an error.
	Delete(id string) error
}
