// Package facematch holds small helpers shared by the face pipeline and the
// vector store: person name normalization and bounding box geometry.
package facematch
