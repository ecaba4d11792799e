package database

// DefaultDimension is the embedding length produced by the face embedder.
const DefaultDimension = 512

// DefaultCollection is the collection (table) name used when none is configured.
const DefaultCollection = "faces"

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3

	// HNSWMinSearchK is the smallest candidate pool requested from the graph.
	HNSWMinSearchK = 100

	// HNSWStaleRebuildDivisor triggers a graph rebuild once deleted nodes make
	// up more than 1/HNSWStaleRebuildDivisor of the graph.
	HNSWStaleRebuildDivisor = 4
)
