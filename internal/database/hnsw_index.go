package database

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex wraps the HNSW graph for face embedding search.
// The graph only holds vectors; record metadata lives in idToFace, which is
// also the source of truth for membership. Deleted faces stay in the graph as
// stale nodes until enough of them pile up to trigger a rebuild.
type HNSWIndex struct {
	graph    *hnsw.Graph[string]
	idToFace map[string]*FaceRecord
	inGraph  map[string]struct{} // keys ever added to the current graph
	stale    int                 // keys in inGraph no longer in idToFace
	metric   Metric
	mu       sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex(metric Metric) *HNSWIndex {
	return &HNSWIndex{
		idToFace: make(map[string]*FaceRecord),
		inGraph:  make(map[string]struct{}),
		metric:   metric,
	}
}

func (h *HNSWIndex) newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if h.metric == MetricEuclidean {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// BuildFromRecords builds the index from a slice of records.
func (h *HNSWIndex) BuildFromRecords(records []FaceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.idToFace = make(map[string]*FaceRecord, len(records))
	for i := range records {
		rec := &records[i]
		if len(rec.Embedding) == 0 {
			continue
		}
		h.idToFace[rec.ID] = rec
	}
	h.rebuildLocked()
}

// rebuildLocked recreates the graph from idToFace. Callers hold h.mu.
func (h *HNSWIndex) rebuildLocked() {
	h.inGraph = make(map[string]struct{}, len(h.idToFace))
	h.stale = 0
	if len(h.idToFace) == 0 {
		h.graph = nil
		return
	}

	ids := make([]string, 0, len(h.idToFace))
	for id := range h.idToFace {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g := h.newGraph()
	for _, id := range ids {
		g.Add(hnsw.MakeNode(id, h.idToFace[id].Embedding))
		h.inGraph[id] = struct{}{}
	}
	h.graph = g
}

// Add inserts or replaces a single record. Replacing a key that is already
// part of the graph triggers a full rebuild; new keys are inserted in place.
func (h *HNSWIndex) Add(rec FaceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(rec.Embedding) == 0 {
		return
	}
	h.idToFace[rec.ID] = &rec
	if _, seen := h.inGraph[rec.ID]; seen {
		h.rebuildLocked()
		return
	}
	if h.graph == nil {
		h.graph = h.newGraph()
	}
	h.graph.Add(hnsw.MakeNode(rec.ID, rec.Embedding))
	h.inGraph[rec.ID] = struct{}{}
}

// Get returns a copy of the record for id.
func (h *HNSWIndex) Get(id string) (FaceRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.idToFace[id]
	if !ok {
		return FaceRecord{}, false
	}
	return *rec, true
}

// UpdateMetadata applies a partial update to the cached record.
// Returns false if the id is not indexed.
func (h *HNSWIndex) UpdateMetadata(id string, rec FaceRecord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.idToFace[id]
	if !ok {
		return false
	}
	rec.Embedding = existing.Embedding
	h.idToFace[id] = &rec
	return true
}

// Delete removes a face from the index. The graph node is left in place and
// the graph is rebuilt once stale nodes exceed a quarter of it.
func (h *HNSWIndex) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.idToFace[id]; !ok {
		return false
	}
	delete(h.idToFace, id)
	if _, ok := h.inGraph[id]; ok {
		h.stale++
	}
	if h.stale*HNSWStaleRebuildDivisor > len(h.inGraph) {
		h.rebuildLocked()
	}
	return true
}

// Stale returns the number of deleted faces still present in the graph.
func (h *HNSWIndex) Stale() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stale
}

// Count returns the number of indexed faces.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToFace)
}

// Search returns up to limit records within maxDistance of query, ordered by
// ascending distance. Distances are recomputed exactly from stored embeddings.
func (h *HNSWIndex) Search(query []float32, limit int, maxDistance float64) []SearchResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.idToFace) == 0 || limit <= 0 {
		return nil
	}

	// Request more candidates to ensure we have enough after distance filtering.
	searchK := max(limit*HNSWSearchMultiplier, HNSWMinSearchK)
	neighbors := h.graph.Search(query, searchK)

	results := make([]SearchResult, 0, limit)
	live, skipped := 0, 0
	for _, n := range neighbors {
		rec, ok := h.idToFace[n.Key]
		if !ok {
			skipped++
			continue
		}
		live++
		if res, ok := h.result(query, rec, maxDistance); ok {
			results = append(results, res)
		}
	}

	// Stale nodes crowded live faces out of the candidate list.
	if skipped > 0 && live < limit && live < len(h.idToFace) {
		results = results[:0]
		for _, rec := range h.idToFace {
			if res, ok := h.result(query, rec, maxDistance); ok {
				results = append(results, res)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].FaceID < results[j].FaceID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (h *HNSWIndex) result(query []float32, rec *FaceRecord, maxDistance float64) (SearchResult, bool) {
	dist := h.metric.Distance(query, rec.Embedding)
	if dist > maxDistance {
		return SearchResult{}, false
	}
	meta := *rec
	meta.Embedding = nil
	return SearchResult{FaceID: rec.ID, Distance: dist, Record: meta}, true
}
