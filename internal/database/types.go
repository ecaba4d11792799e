package database

import (
	"fmt"
	"time"

	"github.com/kozaktomas/facewatch/internal/facematch"
)

// UnknownName is the sentinel label for faces nobody has identified yet.
const UnknownName = "unknown"

// QualityMetrics holds the heuristic quality scores of a single face crop.
type QualityMetrics struct {
	Sharpness    float64 `json:"sharpness"`     // variance of the Laplacian response
	FaceArea     float64 `json:"face_area"`     // crop width * height in pixels
	Brightness   float64 `json:"brightness"`    // mean grayscale intensity, 0-255
	Contrast     float64 `json:"contrast"`      // grayscale standard deviation
	QualityScore float64 `json:"quality_score"` // weighted score in [0, 1]
}

// BBox is a face bounding box [x1, y1, x2, y2] in source image pixels.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Valid reports whether the box is a non-empty rectangle with non-negative corners.
func (b BBox) Valid() bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 > b.X1 && b.Y2 > b.Y1
}

// Slice returns the box as [x1, y1, x2, y2].
func (b BBox) Slice() []float64 {
	return []float64{float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)}
}

// BBoxFromSlice converts [x1, y1, x2, y2] back to a BBox.
func BBoxFromSlice(v []float64) BBox {
	if len(v) != 4 {
		return BBox{}
	}
	return BBox{X1: int(v[0]), Y1: int(v[1]), X2: int(v[2]), Y2: int(v[3])}
}

// FaceRecord is a single extracted face together with its labeling metadata.
// Once saved, records are owned by the vector store.
type FaceRecord struct {
	ID                  string         `json:"face_id"`
	Embedding           []float32      `json:"embedding,omitempty"`
	Quality             QualityMetrics `json:"quality_metrics"`
	DetectionConfidence float64        `json:"detection_confidence"`
	BBox                BBox           `json:"face_bbox"`
	FaceIndex           int            `json:"face_index"`
	Thumbnail           string         `json:"thumbnail"` // path of the stored thumbnail file
	EventID             string         `json:"event_id"`
	Camera              string         `json:"camera,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	UpdatedAt           *time.Time     `json:"updated_at,omitempty"`

	// Labeling fields. An empty Name means the face is unclassified.
	Name          string  `json:"name,omitempty"`
	Relationship  string  `json:"relationship,omitempty"`
	Confidence    float64 `json:"confidence"`
	Notes         string  `json:"notes,omitempty"`
	SuggestedName string  `json:"suggested_name,omitempty"`
}

// Classified reports whether the face carries a real identity label.
func (f *FaceRecord) Classified() bool {
	return IsClassifiedName(f.Name)
}

// IsClassifiedName reports whether name is set and not the "unknown" sentinel.
func IsClassifiedName(name string) bool {
	normalized := facematch.NameKey(name)
	return normalized != "" && normalized != UnknownName
}

// Validate checks the record invariants enforced at the store boundary.
func (f *FaceRecord) Validate(dim int) error {
	if len(f.Embedding) != dim {
		return fmt.Errorf("%w: embedding has %d dimensions, expected %d", ErrInvalidRecord, len(f.Embedding), dim)
	}
	if f.Quality.QualityScore < 0 || f.Quality.QualityScore > 1 {
		return fmt.Errorf("%w: quality score %f outside [0, 1]", ErrInvalidRecord, f.Quality.QualityScore)
	}
	if !f.BBox.Valid() {
		return fmt.Errorf("%w: invalid bounding box %+v", ErrInvalidRecord, f.BBox)
	}
	if f.DetectionConfidence < 0 || f.DetectionConfidence > 1 {
		return fmt.Errorf("%w: detection confidence %f outside [0, 1]", ErrInvalidRecord, f.DetectionConfidence)
	}
	return nil
}

// FaceUpdate carries the fields of a partial update. Nil fields are left untouched.
type FaceUpdate struct {
	Name          *string  `json:"name,omitempty"`
	Relationship  *string  `json:"relationship,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
	SuggestedName *string  `json:"suggested_name,omitempty"`
}

// Empty reports whether the update touches no field.
func (u FaceUpdate) Empty() bool {
	return u.Name == nil && u.Relationship == nil && u.Confidence == nil && u.Notes == nil && u.SuggestedName == nil
}

// Apply merges the update into rec and stamps the update time.
func (u FaceUpdate) Apply(rec *FaceRecord, at time.Time) {
	if u.Name != nil {
		rec.Name = *u.Name
	}
	if u.Relationship != nil {
		rec.Relationship = *u.Relationship
	}
	if u.Confidence != nil {
		rec.Confidence = *u.Confidence
	}
	if u.Notes != nil {
		rec.Notes = *u.Notes
	}
	if u.SuggestedName != nil {
		rec.SuggestedName = *u.SuggestedName
	}
	stamp := at
	rec.UpdatedAt = &stamp
}

// SearchResult is one nearest-neighbour hit. Record carries metadata only,
// the embedding is not loaded on search paths.
type SearchResult struct {
	FaceID   string
	Distance float64
	Record   FaceRecord
}

// CollectionInfo describes the configured vector collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
}

// Stats is the summary returned by the store.
type Stats struct {
	Mode         string         `json:"mode"`
	Collection   CollectionInfo `json:"collection"`
	Count        int            `json:"count"`
	Unclassified int            `json:"unclassified"`
	Location     string         `json:"location"`
}
