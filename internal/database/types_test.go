package database

import (
	"errors"
	"testing"
	"time"
)

func validRecord(dim int) FaceRecord {
	emb := make([]float32, dim)
	emb[0] = 1
	return FaceRecord{
		ID:                  "face-1",
		Embedding:           emb,
		Quality:             QualityMetrics{Sharpness: 150, FaceArea: 10000, Brightness: 120, Contrast: 50, QualityScore: 0.8},
		DetectionConfidence: 0.9,
		BBox:                BBox{X1: 10, Y1: 10, X2: 110, Y2: 130},
		EventID:             "evt",
		Timestamp:           time.Now(),
	}
}

func TestBBox(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 110, Y2: 70}
	if b.Width() != 100 || b.Height() != 50 {
		t.Errorf("unexpected size %dx%d", b.Width(), b.Height())
	}
	if !b.Valid() {
		t.Error("expected valid bbox")
	}
	if got := BBoxFromSlice(b.Slice()); got != b {
		t.Errorf("BBoxFromSlice(Slice()) = %+v, want %+v", got, b)
	}
	if got := BBoxFromSlice([]float64{1, 2}); got != (BBox{}) {
		t.Errorf("expected zero bbox for short slice, got %+v", got)
	}

	invalid := []BBox{
		{X1: 10, Y1: 10, X2: 10, Y2: 20},
		{X1: 10, Y1: 30, X2: 20, Y2: 20},
		{X1: -1, Y1: 0, X2: 20, Y2: 20},
	}
	for _, b := range invalid {
		if b.Valid() {
			t.Errorf("expected %+v to be invalid", b)
		}
	}
}

func TestFaceRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *FaceRecord)
		wantErr bool
	}{
		{"valid", func(r *FaceRecord) {}, false},
		{"short embedding", func(r *FaceRecord) { r.Embedding = r.Embedding[:3] }, true},
		{"score above one", func(r *FaceRecord) { r.Quality.QualityScore = 1.2 }, true},
		{"negative score", func(r *FaceRecord) { r.Quality.QualityScore = -0.1 }, true},
		{"invalid bbox", func(r *FaceRecord) { r.BBox = BBox{X1: 5, Y1: 5, X2: 4, Y2: 10} }, true},
		{"detection confidence above one", func(r *FaceRecord) { r.DetectionConfidence = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord(8)
			tt.mutate(&rec)
			err := rec.Validate(8)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("expected ErrInvalidRecord, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestIsClassifiedName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", false},
		{"unknown", false},
		{"Unknown", false},
		{"UNKNOWN", false},
		{" unknown", false},
		{"unknown ", false},
		{"UNKNOWN\n", false},
		{"   ", false},
		{"Jan Novák", true},
		{" Alice ", true},
		{"mail carrier", true},
	}
	for _, tt := range tests {
		if got := IsClassifiedName(tt.name); got != tt.want {
			t.Errorf("IsClassifiedName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFaceUpdate_Apply(t *testing.T) {
	rec := validRecord(4)
	rec.Relationship = "neighbor"
	rec.Notes = "blue jacket"

	name := "Alice"
	conf := 0.95
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	u := FaceUpdate{Name: &name, Confidence: &conf}
	if u.Empty() {
		t.Fatal("expected non-empty update")
	}
	u.Apply(&rec, at)

	if rec.Name != "Alice" || rec.Confidence != 0.95 {
		t.Errorf("update not applied: %+v", rec)
	}
	if rec.Relationship != "neighbor" || rec.Notes != "blue jacket" {
		t.Errorf("unspecified fields changed: %+v", rec)
	}
	if rec.UpdatedAt == nil || !rec.UpdatedAt.Equal(at) {
		t.Errorf("expected update timestamp %v, got %v", at, rec.UpdatedAt)
	}
	if !(FaceUpdate{}).Empty() {
		t.Error("zero update should be empty")
	}
}
