package embedded

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/facematch"
)

// collectionRow records how a collection was created so a later open with a
// different dimension or metric is rejected instead of corrupting the index.
type collectionRow struct {
	Name      string `gorm:"primaryKey"`
	Dimension int    `gorm:"not null"`
	Metric    string `gorm:"not null"`
	CreatedAt time.Time
}

func (collectionRow) TableName() string { return "collections" }

// faceRow is the on-disk form of a FaceRecord. The table name is the
// collection name and is set per query.
type faceRow struct {
	ID                  string `gorm:"primaryKey"`
	Embedding           []byte `gorm:"not null"`
	Sharpness           float64
	FaceArea            float64
	Brightness          float64
	Contrast            float64
	QualityScore        float64
	DetectionConfidence float64
	BBoxX1              int
	BBoxY1              int
	BBoxX2              int
	BBoxY2              int
	FaceIndex           int
	Thumbnail           string
	EventID             string `gorm:"index:idx_event_time,priority:1"`
	Camera              string
	Timestamp           time.Time  `gorm:"index:idx_event_time,priority:2"`
	LabelUpdatedAt      *time.Time `gorm:"column:updated_at"`
	Name                string
	NameKey             string `gorm:"index"` // normalized name for lookups
	Relationship        string
	Confidence          float64
	Notes               string
	SuggestedName       string
}

func nameKey(name string) string {
	return facematch.NameKey(name)
}

func toRow(rec *database.FaceRecord) faceRow {
	return faceRow{
		ID:                  rec.ID,
		Embedding:           encodeEmbedding(rec.Embedding),
		Sharpness:           rec.Quality.Sharpness,
		FaceArea:            rec.Quality.FaceArea,
		Brightness:          rec.Quality.Brightness,
		Contrast:            rec.Quality.Contrast,
		QualityScore:        rec.Quality.QualityScore,
		DetectionConfidence: rec.DetectionConfidence,
		BBoxX1:              rec.BBox.X1,
		BBoxY1:              rec.BBox.Y1,
		BBoxX2:              rec.BBox.X2,
		BBoxY2:              rec.BBox.Y2,
		FaceIndex:           rec.FaceIndex,
		Thumbnail:           rec.Thumbnail,
		EventID:             rec.EventID,
		Camera:              rec.Camera,
		Timestamp:           rec.Timestamp.UTC(),
		LabelUpdatedAt:      rec.UpdatedAt,
		Name:                rec.Name,
		NameKey:             nameKey(rec.Name),
		Relationship:        rec.Relationship,
		Confidence:          rec.Confidence,
		Notes:               rec.Notes,
		SuggestedName:       rec.SuggestedName,
	}
}

func (r *faceRow) toRecord() (database.FaceRecord, error) {
	emb, err := decodeEmbedding(r.Embedding)
	if err != nil {
		return database.FaceRecord{}, fmt.Errorf("face %s: %w", r.ID, err)
	}
	return database.FaceRecord{
		ID:        r.ID,
		Embedding: emb,
		Quality: database.QualityMetrics{
			Sharpness:    r.Sharpness,
			FaceArea:     r.FaceArea,
			Brightness:   r.Brightness,
			Contrast:     r.Contrast,
			QualityScore: r.QualityScore,
		},
		DetectionConfidence: r.DetectionConfidence,
		BBox:                database.BBox{X1: r.BBoxX1, Y1: r.BBoxY1, X2: r.BBoxX2, Y2: r.BBoxY2},
		FaceIndex:           r.FaceIndex,
		Thumbnail:           r.Thumbnail,
		EventID:             r.EventID,
		Camera:              r.Camera,
		Timestamp:           r.Timestamp,
		UpdatedAt:           r.LabelUpdatedAt,
		Name:                r.Name,
		Relationship:        r.Relationship,
		Confidence:          r.Confidence,
		Notes:               r.Notes,
		SuggestedName:       r.SuggestedName,
	}, nil
}

// encodeEmbedding packs the vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
