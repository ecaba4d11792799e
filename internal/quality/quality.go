// Package quality scores face crops by sharpness, size, brightness and contrast.
package quality

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap"
)

// Sub-score weights of the combined quality score.
const (
	weightSharpness  = 0.4
	weightSize       = 0.2
	weightBrightness = 0.2
	weightContrast   = 0.2
)

// Assessor computes QualityMetrics for face crops.
type Assessor struct {
	blurThreshold     float64
	referenceArea     float64
	optimalBrightness float64
	contrastCap       float64
	log               *zap.Logger
}

// NewAssessor creates an assessor with the given caps.
func NewAssessor(cfg config.QualityConfig, log *zap.Logger) *Assessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assessor{
		blurThreshold:     cfg.BlurThreshold,
		referenceArea:     float64(cfg.ReferenceSize) * float64(cfg.ReferenceSize),
		optimalBrightness: cfg.OptimalBrightness,
		contrastCap:       cfg.ContrastCap,
		log:               log.Named("quality"),
	}
}

// Assess scores the crop. A nil, empty or otherwise unusable image yields
// all-zero metrics; Assess never panics.
func (a *Assessor) Assess(img image.Image) (m database.QualityMetrics) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("quality assessment failed", zap.Any("panic", r))
			m = database.QualityMetrics{}
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return database.QualityMetrics{}
	}

	gray := toGray(img)
	mean, std := meanStd(gray.pix)
	sharpness := laplacianVariance(gray)

	m = database.QualityMetrics{
		Sharpness:  sharpness,
		FaceArea:   float64(gray.w * gray.h),
		Brightness: mean,
		Contrast:   std,
	}
	m.QualityScore = a.score(m)
	return m
}

func (a *Assessor) score(m database.QualityMetrics) float64 {
	sharp := ratio(m.Sharpness, a.blurThreshold)
	size := ratio(m.FaceArea, a.referenceArea)
	contrast := ratio(m.Contrast, a.contrastCap)

	var bright float64
	if a.optimalBrightness > 0 {
		bright = clamp01(1 - math.Abs(m.Brightness-a.optimalBrightness)/a.optimalBrightness)
	}

	return clamp01(weightSharpness*sharp + weightSize*size + weightBrightness*bright + weightContrast*contrast)
}

// ratio returns v/limit clipped to [0, 1]; a non-positive limit scores zero.
func ratio(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp01(v / limit)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// grayPlane is a row-major grayscale intensity buffer.
type grayPlane struct {
	w, h int
	pix  []float64
}

func toGray(img image.Image) grayPlane {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	plane := grayPlane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < plane.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+plane.w*4]
		for x := 0; x < plane.w; x++ {
			plane.pix[y*plane.w+x] = float64(row[x*4])
		}
	}
	return plane
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// laplacianVariance convolves the plane with the 4-neighbour Laplacian kernel
// and returns the variance of the response. Borders are mirrored without
// repeating the edge pixel.
func laplacianVariance(g grayPlane) float64 {
	resp := make([]float64, len(g.pix))
	at := func(x, y int) float64 {
		return g.pix[reflect101(y, g.h)*g.w+reflect101(x, g.w)]
	}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			resp[y*g.w+x] = at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
		}
	}
	_, std := meanStd(resp)
	return std * std
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
