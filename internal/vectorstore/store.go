// Package vectorstore is the backend-agnostic face store used by the
// pipeline. Only opening a store can fail; every runtime operation logs
// backend errors and degrades to an empty or false result.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap"
)

// Store wraps a database.Backend.
type Store struct {
	backend database.Backend
	mode    string
	log     *zap.Logger
	now     func() time.Time
}

// Open connects to the backend registered for cfg.Mode and prepares its
// collection. Errors wrap database.ErrStoreConnection.
func Open(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("vectorstore")

	open, err := database.GetOpener(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}
	backend, err := connect(ctx, cfg, open, log)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Mode, log), nil
}

// New wraps an already opened backend.
func New(backend database.Backend, mode string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, mode: mode, log: log, now: time.Now}
}

// Mode returns the store mode the backend was opened in.
func (s *Store) Mode() string {
	return s.mode
}

// Collection returns the collection name, dimension and metric.
func (s *Store) Collection() database.CollectionInfo {
	return s.backend.Collection()
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Save validates and upserts rec. A missing ID is generated and a zero
// Timestamp is set to now. Returns the stored face ID.
func (s *Store) Save(ctx context.Context, rec *database.FaceRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if err := rec.Validate(s.backend.Collection().Dimension); err != nil {
		return "", err
	}

	if err := s.backend.Upsert(ctx, rec); err != nil {
		s.log.Error("failed to save face", zap.String("face_id", rec.ID), zap.Error(err))
		return "", fmt.Errorf("save face %s: %w", rec.ID, err)
	}
	s.log.Debug("face saved", zap.String("face_id", rec.ID), zap.String("event_id", rec.EventID))
	return rec.ID, nil
}

// Search returns at most limit faces whose similarity score is at least
// scoreThreshold, that is whose distance is at most 1 - scoreThreshold,
// ordered by ascending distance.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, scoreThreshold float64) []database.SearchResult {
	results, err := s.search(ctx, embedding, limit, 1-scoreThreshold)
	if err != nil {
		s.log.Error("face search failed", zap.Error(err))
		return nil
	}
	return results
}

// Nearest returns the single closest face. ok is false when the store is
// empty. Unlike the other operations it reports backend errors so callers
// can tell a failed query from an empty store.
func (s *Store) Nearest(ctx context.Context, embedding []float32) (database.SearchResult, bool, error) {
	results, err := s.search(ctx, embedding, 1, math.MaxFloat64)
	if err != nil {
		return database.SearchResult{}, false, err
	}
	if len(results) == 0 {
		return database.SearchResult{}, false, nil
	}
	return results[0], true, nil
}

func (s *Store) search(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if dim := s.backend.Collection().Dimension; len(embedding) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", database.ErrInvalidRecord, len(embedding), dim)
	}
	results, err := s.backend.Search(ctx, embedding, limit, maxDistance)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get returns the face metadata or nil if it does not exist.
func (s *Store) Get(ctx context.Context, faceID string) *database.FaceRecord {
	rec, err := s.backend.Get(ctx, faceID)
	if err != nil {
		s.log.Error("failed to get face", zap.String("face_id", faceID), zap.Error(err))
		return nil
	}
	return rec
}

// Update merges the set fields of update into the face and stamps its
// update time. Returns false if the face does not exist or the write failed.
func (s *Store) Update(ctx context.Context, faceID string, update database.FaceUpdate) bool {
	ok, err := s.backend.Update(ctx, faceID, update, s.now().UTC())
	if err != nil {
		s.log.Error("failed to update face", zap.String("face_id", faceID), zap.Error(err))
		return false
	}
	return ok
}

// Delete removes the face. Returns false if it does not exist or the delete failed.
func (s *Store) Delete(ctx context.Context, faceID string) bool {
	ok, err := s.backend.Delete(ctx, faceID)
	if err != nil {
		s.log.Error("failed to delete face", zap.String("face_id", faceID), zap.Error(err))
		return false
	}
	return ok
}

// ListUnclassified returns faces with no name or the "unknown" sentinel.
func (s *Store) ListUnclassified(ctx context.Context) []database.FaceRecord {
	faces, err := s.backend.ListUnclassified(ctx)
	if err != nil {
		s.log.Error("failed to list unclassified faces", zap.Error(err))
		return nil
	}
	return faces
}

// FindByName returns faces labeled with name, compared after normalization.
func (s *Store) FindByName(ctx context.Context, name string) []database.FaceRecord {
	faces, err := s.backend.FindByName(ctx, name)
	if err != nil {
		s.log.Error("failed to find faces by name", zap.String("name", name), zap.Error(err))
		return nil
	}
	return faces
}

// HasRecentEvent reports whether a face of eventID was stored at or after since.
func (s *Store) HasRecentEvent(ctx context.Context, eventID string, since time.Time) (bool, error) {
	return s.backend.HasEventSince(ctx, eventID, since)
}

// Stats summarizes the store. Counts are zero when the backend cannot be queried.
func (s *Store) Stats(ctx context.Context) database.Stats {
	stats := database.Stats{
		Mode:       s.mode,
		Collection: s.backend.Collection(),
		Location:   s.backend.Location(),
	}

	count, err := s.backend.Count(ctx)
	if err != nil {
		s.log.Error("failed to count faces", zap.Error(err))
		return stats
	}
	stats.Count = count

	unclassified, err := s.backend.ListUnclassified(ctx)
	if err != nil {
		s.log.Error("failed to count unclassified faces", zap.Error(err))
		return stats
	}
	stats.Unclassified = len(unclassified)
	return stats
}
