// Package mock provides an in-memory database.Backend for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/facematch"
)

// Backend is an in-memory database.Backend with brute-force search.
type Backend struct {
	mu      sync.RWMutex
	faces   map[string]*database.FaceRecord
	info    database.CollectionInfo
	closed  bool
	Closes  int
	Upserts int

	// Error injection
	GetError      error
	SearchError   error
	ListError     error
	FindError     error
	HasEventError error
	CountError    error
	UpsertError   error
	UpdateError   error
	DeleteError   error
}

// NewBackend creates an empty backend for the given collection.
func NewBackend(info database.CollectionInfo) *Backend {
	if info.Name == "" {
		info.Name = database.DefaultCollection
	}
	if info.Metric == "" {
		info.Metric = database.MetricCosine
	}
	return &Backend{
		faces: make(map[string]*database.FaceRecord),
		info:  info,
	}
}

// AddFace stores a record directly, bypassing error injection.
func (m *Backend) AddFace(rec database.FaceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[rec.ID] = &rec
}

// Closed reports whether Close was called.
func (m *Backend) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Backend) Get(ctx context.Context, id string) (*database.FaceRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.faces[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (m *Backend) Search(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.SearchResult, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]database.SearchResult, 0, len(m.faces))
	for _, rec := range m.faces {
		dist := m.info.Metric.Distance(embedding, rec.Embedding)
		if dist > maxDistance {
			continue
		}
		meta := *rec
		meta.Embedding = nil
		results = append(results, database.SearchResult{FaceID: rec.ID, Distance: dist, Record: meta})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].FaceID < results[j].FaceID
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Backend) ListUnclassified(ctx context.Context) ([]database.FaceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.filter(func(r *database.FaceRecord) bool { return !r.Classified() }), nil
}

func (m *Backend) FindByName(ctx context.Context, name string) ([]database.FaceRecord, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	want := facematch.NameKey(name)
	return m.filter(func(r *database.FaceRecord) bool {
		return r.Name != "" && facematch.NameKey(r.Name) == want
	}), nil
}

func (m *Backend) filter(keep func(*database.FaceRecord) bool) []database.FaceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.FaceRecord
	for _, rec := range m.faces {
		if keep(rec) {
			meta := *rec
			meta.Embedding = nil
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Backend) HasEventSince(ctx context.Context, eventID string, since time.Time) (bool, error) {
	if m.HasEventError != nil {
		return false, m.HasEventError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.faces {
		if rec.EventID == eventID && !rec.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Backend) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

func (m *Backend) Upsert(ctx context.Context, rec *database.FaceRecord) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *rec
	stored.Embedding = append([]float32(nil), rec.Embedding...)
	m.faces[rec.ID] = &stored
	m.Upserts++
	return nil
}

func (m *Backend) Update(ctx context.Context, id string, update database.FaceUpdate, at time.Time) (bool, error) {
	if m.UpdateError != nil {
		return false, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.faces[id]
	if !ok {
		return false, nil
	}
	update.Apply(rec, at)
	return true, nil
}

func (m *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.faces[id]; !ok {
		return false, nil
	}
	delete(m.faces, id)
	return true, nil
}

func (m *Backend) Collection() database.CollectionInfo {
	return m.info
}

func (m *Backend) Location() string {
	return "memory"
}

func (m *Backend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.Closes++
	return nil
}

var _ database.Backend = (*Backend)(nil)
