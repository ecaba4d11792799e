package cmd

import (
	"context"

	"github.com/kozaktomas/facewatch/internal/dedup"
	"github.com/kozaktomas/facewatch/internal/extractor"
	"github.com/kozaktomas/facewatch/internal/inference"
	"github.com/kozaktomas/facewatch/internal/matcher"
	"github.com/kozaktomas/facewatch/internal/pipeline"
	"github.com/kozaktomas/facewatch/internal/quality"
	"github.com/kozaktomas/facewatch/internal/thumbnail"
	"go.uber.org/zap"
)

// newPipeline wires the processing pipeline around the opened store.
// The returned cleanup closes the dedup cache, if one was connected.
func (a *app) newPipeline(ctx context.Context) (*pipeline.Service, func()) {
	client := inference.NewClient(a.cfg.Detector.URL, a.cfg.Detector.Timeout)

	var upscaler thumbnail.Upscaler
	if a.cfg.Thumbnail.SuperResolution {
		upscaler = client
	}

	ext := extractor.New(a.cfg, client,
		quality.NewAssessor(a.cfg.Quality, a.log),
		thumbnail.NewEnhancer(a.cfg.Thumbnail, upscaler, a.log),
		thumbnail.NewFileStore(a.cfg.Extraction.ThumbnailDir),
		a.log,
	)

	cleanup := func() {}
	var cache dedup.Cache
	if a.cfg.Dedup.RedisURL != "" {
		rc, err := dedup.NewRedisCache(ctx, a.cfg.Dedup.RedisURL)
		if err != nil {
			a.log.Warn("dedup cache unavailable, using the vector store only", zap.Error(err))
		} else {
			cache = rc
			cleanup = func() { _ = rc.Close() }
		}
	}

	svc := pipeline.New(ext,
		matcher.New(a.cfg.Matching, a.store, a.log),
		a.store,
		dedup.New(a.cfg.Dedup, a.store, cache, a.log),
		a.log,
	)
	return svc, cleanup
}
