// Package thumbnail turns face crops of any size into fixed-size thumbnails.
//
// Enhance runs an ordered list of strategies and returns the first result of
// the requested size. The list always ends in a plain resize, so a thumbnail
// is produced for every input.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/facewatch/internal/config"
	"go.uber.org/zap"
)

// errSkipped is returned by strategies that do not apply to the input.
var errSkipped = errors.New("strategy not applicable")

// Strategy produces a size x size thumbnail from a crop.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, img image.Image, size int) (*image.NRGBA, error)
}

// Upscaler performs super-resolution on small crops.
type Upscaler interface {
	Upscale(ctx context.Context, img image.Image) (image.Image, error)
}

// Enhancer selects and runs thumbnail strategies.
type Enhancer struct {
	size       int
	strategies []Strategy
	log        *zap.Logger
}

// NewEnhancer builds the default chain: optional super-resolution, the
// size-adaptive path and the baseline resize. up may be nil.
func NewEnhancer(cfg config.ThumbnailConfig, up Upscaler, log *zap.Logger) *Enhancer {
	if log == nil {
		log = zap.NewNop()
	}
	adaptive := Adaptive{}
	strategies := make([]Strategy, 0, 3)
	if cfg.SuperResolution && up != nil {
		strategies = append(strategies, SuperResolution{Upscaler: up, Below: cfg.SuperResolutionBelow, Next: adaptive})
	}
	strategies = append(strategies, adaptive, Baseline{})
	return NewEnhancerWithStrategies(cfg.Size, log, strategies...)
}

// NewEnhancerWithStrategies builds an enhancer around a custom chain.
// Baseline is always appended as the last resort.
func NewEnhancerWithStrategies(size int, log *zap.Logger, strategies ...Strategy) *Enhancer {
	if log == nil {
		log = zap.NewNop()
	}
	if n := len(strategies); n == 0 || strategies[n-1].Name() != (Baseline{}).Name() {
		strategies = append(strategies, Baseline{})
	}
	return &Enhancer{size: size, strategies: strategies, log: log.Named("thumbnail")}
}

// Size returns the side length of produced thumbnails.
func (e *Enhancer) Size() int {
	return e.size
}

// Enhance returns a size x size thumbnail. It never returns nil and never
// panics; a nil or empty crop yields a black thumbnail.
func (e *Enhancer) Enhance(ctx context.Context, img image.Image) *image.NRGBA {
	if !usable(img) {
		return blank(e.size)
	}

	for _, s := range e.strategies {
		out, err := e.try(ctx, s, img)
		if err == nil {
			return out
		}
		if !errors.Is(err, errSkipped) {
			e.log.Debug("thumbnail strategy failed, trying next",
				zap.String("strategy", s.Name()),
				zap.Error(err),
			)
		}
	}

	e.log.Warn("all thumbnail strategies failed, returning blank thumbnail")
	return blank(e.size)
}

// try runs a single strategy, turning panics and wrong-sized output into errors.
func (e *Enhancer) try(ctx context.Context, s Strategy, img image.Image) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()

	out, err = s.Apply(ctx, img, e.size)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("strategy %s returned no image", s.Name())
	}
	if b := out.Bounds(); b.Dx() != e.size || b.Dy() != e.size {
		return nil, fmt.Errorf("strategy %s produced %dx%d, expected %dx%d", s.Name(), b.Dx(), b.Dy(), e.size, e.size)
	}
	return out, nil
}

func usable(img image.Image) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return img != nil && !img.Bounds().Empty()
}

func blank(size int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, size, size))
}
