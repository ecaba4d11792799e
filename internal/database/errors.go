package database

import "errors"

var (
	// ErrStoreConnection is returned when the backend cannot be reached or its schema
	// cannot be prepared. It is the only store error allowed to escape the adapter.
	ErrStoreConnection = errors.New("vector store connection failed")

	// ErrStoreLocked is returned when embedded storage is already held by another process.
	ErrStoreLocked = errors.New("vector store is locked by another process")

	// ErrInvalidCollection is returned when the configured collection name, metric or
	// dimension cannot be used or disagrees with the stored collection.
	ErrInvalidCollection = errors.New("invalid vector collection")

	// ErrNotFound is returned by backends for unknown face IDs.
	ErrNotFound = errors.New("face not found")

	// ErrInvalidRecord is returned when a record violates the data model invariants.
	ErrInvalidRecord = errors.New("invalid face record")
)
