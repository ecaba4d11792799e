package quality

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap/zaptest"
)

func testAssessor(t *testing.T) *Assessor {
	return NewAssessor(config.QualityConfig{
		BlurThreshold:     100,
		ReferenceSize:     100,
		OptimalBrightness: 128,
		ContrastCap:       64,
	}, zaptest.NewLogger(t))
}

func uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func checkerboard(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 30, G: 30, B: 30, A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 225, G: 225, B: 225, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestAssess_ZeroOnUnusableInput(t *testing.T) {
	a := testAssessor(t)
	var typedNil *image.RGBA

	tests := []struct {
		name string
		img  image.Image
	}{
		{"nil", nil},
		{"empty", image.NewRGBA(image.Rect(0, 0, 0, 0))},
		{"typed nil", typedNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assess(tt.img)
			if got != (database.QualityMetrics{}) {
				t.Errorf("expected zero metrics, got %+v", got)
			}
		})
	}
}

func TestAssess_UniformImage(t *testing.T) {
	a := testAssessor(t)
	got := a.Assess(uniform(50, 50, 128))

	if got.Sharpness != 0 {
		t.Errorf("expected zero sharpness, got %f", got.Sharpness)
	}
	if got.Contrast != 0 {
		t.Errorf("expected zero contrast, got %f", got.Contrast)
	}
	if got.FaceArea != 2500 {
		t.Errorf("expected area 2500, got %f", got.FaceArea)
	}
	if math.Abs(got.Brightness-128) > 0.5 {
		t.Errorf("expected brightness ~128, got %f", got.Brightness)
	}
	// size 0.25 * 0.2 + brightness 1.0 * 0.2
	if math.Abs(got.QualityScore-0.25) > 0.01 {
		t.Errorf("expected score ~0.25, got %f", got.QualityScore)
	}
}

func TestAssess_SharpCheckerboard(t *testing.T) {
	a := testAssessor(t)
	got := a.Assess(checkerboard(120, 120, 4))

	if got.Sharpness < 100 {
		t.Errorf("expected sharpness above blur threshold, got %f", got.Sharpness)
	}
	if got.Contrast < 64 {
		t.Errorf("expected high contrast, got %f", got.Contrast)
	}
	if got.QualityScore < 0.9 || got.QualityScore > 1 {
		t.Errorf("expected score in [0.9, 1], got %f", got.QualityScore)
	}
}

func TestAssess_ScoreAlwaysInRange(t *testing.T) {
	a := testAssessor(t)
	images := []image.Image{
		uniform(1, 1, 0),
		uniform(1, 40, 255),
		uniform(300, 2, 10),
		checkerboard(7, 3, 1),
		checkerboard(400, 400, 1),
	}
	for _, img := range images {
		got := a.Assess(img)
		if got.QualityScore < 0 || got.QualityScore > 1 {
			t.Errorf("score %f out of range for %v", got.QualityScore, img.Bounds())
		}
		if got.Brightness < 0 || got.Brightness > 255 {
			t.Errorf("brightness %f out of range", got.Brightness)
		}
	}
}

func TestAssess_DarkImageScoresLowBrightness(t *testing.T) {
	a := testAssessor(t)
	dark := a.Assess(uniform(100, 100, 0))
	mid := a.Assess(uniform(100, 100, 128))
	if dark.QualityScore >= mid.QualityScore {
		t.Errorf("expected dark score %f < mid-gray score %f", dark.QualityScore, mid.QualityScore)
	}
}

func TestReflect101(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{-1, 5, 1},
		{0, 5, 0},
		{4, 5, 4},
		{5, 5, 3},
		{-1, 1, 0},
		{1, 1, 0},
		{-3, 2, 1},
	}
	for _, tt := range tests {
		if got := reflect101(tt.i, tt.n); got != tt.want {
			t.Errorf("reflect101(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}
