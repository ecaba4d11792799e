package facematch

import (
	"image"
	"math"
)

// DetectorBoxToRect converts a detector bbox [x1, y1, x2, y2] in pixels to an
// image rectangle. Fractional edges are widened outward so the rectangle
// always covers the detection.
func DetectorBoxToRect(bbox []float64) (image.Rectangle, bool) {
	if len(bbox) != 4 {
		return image.Rectangle{}, false
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, false
		}
	}
	r := image.Rect(
		int(math.Floor(bbox[0])),
		int(math.Floor(bbox[1])),
		int(math.Ceil(bbox[2])),
		int(math.Ceil(bbox[3])),
	)
	return r, !r.Empty()
}

// PadRect grows r by padding pixels on every side and clamps the result to
// bounds. The returned rectangle is empty if r does not intersect bounds.
func PadRect(r image.Rectangle, padding int, bounds image.Rectangle) image.Rectangle {
	if padding < 0 {
		padding = 0
	}
	return r.Inset(-padding).Intersect(bounds)
}

// MinSide returns the smaller of the rectangle's width and height.
func MinSide(r image.Rectangle) int {
	return min(r.Dx(), r.Dy())
}
