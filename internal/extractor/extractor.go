// Package extractor turns a camera snapshot into face records: it runs the
// detector, crops and scores every face, and writes a thumbnail per face.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/facematch"
	"github.com/kozaktomas/facewatch/internal/inference"
	"github.com/kozaktomas/facewatch/internal/quality"
	"github.com/kozaktomas/facewatch/internal/thumbnail"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // snapshots from some cameras
)

// Reasons a detected face is skipped.
var (
	ErrInvalidBox   = errors.New("invalid face bounding box")
	ErrFaceTooSmall = errors.New("face too small")
	ErrLowQuality   = errors.New("face quality below threshold")
	ErrBlurry       = errors.New("face too blurry")
	ErrBadEmbedding = errors.New("unexpected embedding dimension")
	ErrFacePanicked = errors.New("face extraction panicked")
)

// Detector finds faces and computes their embeddings.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) ([]inference.Detection, error)
}

// Source describes where a snapshot came from.
type Source struct {
	EventID string
	Camera  string // falls back to the EXIF camera make and model
}

// Outcome is the result for one detected face, in detector order.
// Exactly one of Record and Err is set.
type Outcome struct {
	Index  int
	Record *database.FaceRecord
	Err    error
}

// Records returns the successfully extracted faces.
func Records(outcomes []Outcome) []database.FaceRecord {
	records := make([]database.FaceRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil && o.Record != nil {
			records = append(records, *o.Record)
		}
	}
	return records
}

// Extractor extracts faces from snapshots.
type Extractor struct {
	detector Detector
	assessor *quality.Assessor
	enhancer *thumbnail.Enhancer
	thumbs   *thumbnail.FileStore
	log      *zap.Logger

	padding       int
	minFaceSize   int
	minQuality    float64
	blurThreshold float64
	dimension     int

	newID func() string
	now   func() time.Time
}

// New creates an Extractor configured from cfg.
func New(
	cfg *config.Config,
	detector Detector,
	assessor *quality.Assessor,
	enhancer *thumbnail.Enhancer,
	thumbs *thumbnail.FileStore,
	log *zap.Logger,
) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		detector:      detector,
		assessor:      assessor,
		enhancer:      enhancer,
		thumbs:        thumbs,
		log:           log.Named("extractor"),
		padding:       cfg.Extraction.Padding,
		minFaceSize:   cfg.Extraction.MinFaceSize,
		minQuality:    cfg.Extraction.MinQualityScore,
		blurThreshold: cfg.Quality.BlurThreshold,
		dimension:     cfg.Store.Dimension,
		newID:         uuid.NewString,
		now:           time.Now,
	}
}

// ExtractFile reads the snapshot at path and extracts its faces.
func (e *Extractor) ExtractFile(ctx context.Context, path string, src Source) []Outcome {
	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Error("failed to read snapshot", zap.String("path", path), zap.Error(err))
		return nil
	}
	return e.Extract(ctx, data, src)
}

// Extract detects faces in the encoded image data. An unreadable image or a
// failing detector yields no outcomes; per-face problems are reported in the
// face's Outcome and do not affect the other faces.
func (e *Extractor) Extract(ctx context.Context, data []byte, src Source) []Outcome {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		e.log.Error("failed to decode snapshot", zap.String("event_id", src.EventID), zap.Error(err))
		return nil
	}

	detections, err := e.detector.Detect(ctx, data)
	if err != nil {
		e.log.Error("face detection failed", zap.String("event_id", src.EventID), zap.Error(err))
		return nil
	}
	if len(detections) == 0 {
		e.log.Debug("no faces detected", zap.String("event_id", src.EventID))
		return nil
	}

	if src.Camera == "" {
		src.Camera = cameraFromExif(data)
	}

	outcomes := make([]Outcome, 0, len(detections))
	for i, det := range detections {
		rec, err := e.extractFace(ctx, img, i, det, src)
		if err != nil {
			e.log.Info("skipping face",
				zap.String("event_id", src.EventID),
				zap.Int("face_index", i),
				zap.Error(err),
			)
		}
		outcomes = append(outcomes, Outcome{Index: i, Record: rec, Err: err})
	}
	return outcomes
}

func (e *Extractor) extractFace(
	ctx context.Context, img image.Image, index int, det inference.Detection, src Source,
) (rec *database.FaceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("%w: %v", ErrFacePanicked, r)
		}
	}()

	bounds := img.Bounds()
	box, ok := facematch.DetectorBoxToRect(det.BBox)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBox, det.BBox)
	}
	box = box.Intersect(bounds)
	if box.Empty() {
		return nil, fmt.Errorf("%w: %v outside image %v", ErrInvalidBox, det.BBox, bounds)
	}

	crop := facematch.PadRect(box, e.padding, bounds)
	if side := facematch.MinSide(crop); side < e.minFaceSize {
		return nil, fmt.Errorf("%w: %dpx < %dpx", ErrFaceTooSmall, side, e.minFaceSize)
	}
	if e.dimension > 0 && len(det.Embedding) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrBadEmbedding, len(det.Embedding), e.dimension)
	}

	faceImg := imaging.Crop(img, crop)
	metrics := e.assessor.Assess(faceImg)
	if metrics.QualityScore < e.minQuality {
		return nil, fmt.Errorf("%w: %.3f < %.3f", ErrLowQuality, metrics.QualityScore, e.minQuality)
	}
	if metrics.Sharpness < e.blurThreshold {
		return nil, fmt.Errorf("%w: sharpness %.1f < %.1f", ErrBlurry, metrics.Sharpness, e.blurThreshold)
	}

	faceID := e.newID()
	thumbPath, err := e.thumbs.Save(faceID, e.enhancer.Enhance(ctx, faceImg))
	if err != nil {
		return nil, fmt.Errorf("thumbnail for face %d: %w", index, err)
	}

	origin := bounds.Min
	return &database.FaceRecord{
		ID:                  faceID,
		Embedding:           det.Embedding,
		Quality:             metrics,
		DetectionConfidence: min(max(det.DetScore, 0), 1),
		BBox: database.BBox{
			X1: box.Min.X - origin.X,
			Y1: box.Min.Y - origin.Y,
			X2: box.Max.X - origin.X,
			Y2: box.Max.Y - origin.Y,
		},
		FaceIndex: index,
		Thumbnail: thumbPath,
		EventID:   src.EventID,
		Camera:    src.Camera,
		Timestamp: e.now().UTC(),
	}, nil
}
