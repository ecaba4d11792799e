package database

import (
	"context"
	"time"
)

// FaceReader provides read-only access to stored faces.
type FaceReader interface {
	// Get retrieves a face by ID, returns nil if not found
	Get(ctx context.Context, id string) (*FaceRecord, error)
	// Search finds up to limit faces within maxDistance of embedding, closest first
	Search(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]SearchResult, error)
	// ListUnclassified returns faces without a name or labeled "unknown"
	ListUnclassified(ctx context.Context) ([]FaceRecord, error)
	// FindByName returns faces whose normalized name equals the normalized input
	FindByName(ctx context.Context, name string) ([]FaceRecord, error)
	// HasEventSince reports whether a face of eventID was stored at or after since
	HasEventSince(ctx context.Context, eventID string, since time.Time) (bool, error)
	// Count returns the total number of faces stored
	Count(ctx context.Context) (int, error)
}

// FaceWriter provides write access to stored faces.
type FaceWriter interface {
	FaceReader

	// Upsert stores the record under rec.ID, replacing any previous version
	Upsert(ctx context.Context, rec *FaceRecord) error
	// Update merges the partial update into an existing record and stamps at as
	// its update time. Returns false if the id does not exist.
	Update(ctx context.Context, id string, update FaceUpdate, at time.Time) (bool, error)
	// Delete removes a face. Returns false if the id does not exist.
	Delete(ctx context.Context, id string) (bool, error)
}

// Backend is a vector store engine the adapter talks to.
type Backend interface {
	FaceWriter

	// Collection describes the collection the backend was opened with
	Collection() CollectionInfo
	// Location is a human readable description of where data lives (path or host)
	Location() string
	// Close releases connections, file handles and locks
	Close() error
}
