// Package matcher classifies extracted faces against the stored faces.
package matcher

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap"
)

// Kind is the outcome of matching one face.
type Kind string

const (
	KindIdentified Kind = "identified"
	KindSuggestion Kind = "suggestion"
	KindUnknown    Kind = "unknown"
	KindError      Kind = "error"
)

// MatchResult describes how one face compares to the store.
// FaceID, Name, Confidence and Distance are set for identified and
// suggestion results, Message for errors.
type MatchResult struct {
	Kind       Kind    `json:"kind"`
	FaceID     string  `json:"face_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Distance   float64 `json:"distance,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// NeedsConfirmation reports whether a human has to confirm the match.
func (r MatchResult) NeedsConfirmation() bool {
	return r.Kind == KindSuggestion
}

// Persist reports whether the face should be stored for labeling.
func (r MatchResult) Persist() bool {
	return r.Kind == KindUnknown || r.Kind == KindSuggestion
}

// FaceMatch pairs an extracted face with its match.
type FaceMatch struct {
	Face   database.FaceRecord `json:"face"`
	Result MatchResult         `json:"result"`
}

// NearestFinder returns the closest stored face; ok is false for an empty store.
type NearestFinder interface {
	Nearest(ctx context.Context, embedding []float32) (database.SearchResult, bool, error)
}

// Matcher classifies faces by nearest-neighbour distance.
type Matcher struct {
	store      NearestFinder
	definite   float64
	borderline float64
	log        *zap.Logger
}

// New creates a Matcher with the thresholds from cfg.
func New(cfg config.MatchingConfig, store NearestFinder, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{
		store:      store,
		definite:   cfg.DefiniteThreshold,
		borderline: cfg.BorderlineThreshold,
		log:        log.Named("matcher"),
	}
}

// Classify maps a distance to a result kind.
func (m *Matcher) Classify(distance float64) Kind {
	switch {
	case distance <= m.definite:
		return KindIdentified
	case distance <= m.borderline:
		return KindSuggestion
	default:
		return KindUnknown
	}
}

// Identify matches a single face. A failed store query yields an error result.
func (m *Matcher) Identify(ctx context.Context, face database.FaceRecord) MatchResult {
	nearest, ok, err := m.store.Nearest(ctx, face.Embedding)
	if err != nil {
		m.log.Error("nearest neighbour query failed", zap.String("face_id", face.ID), zap.Error(err))
		return MatchResult{Kind: KindError, Message: fmt.Sprintf("search failed: %v", err)}
	}
	if !ok {
		return MatchResult{Kind: KindUnknown}
	}

	kind := m.Classify(nearest.Distance)
	if kind == KindUnknown {
		return MatchResult{Kind: KindUnknown}
	}
	return MatchResult{
		Kind:       kind,
		FaceID:     nearest.FaceID,
		Name:       nearest.Record.Name,
		Confidence: clamp01(1 - nearest.Distance),
		Distance:   nearest.Distance,
	}
}

// IdentifyAll matches every face in order. One failing face does not stop
// the others.
func (m *Matcher) IdentifyAll(ctx context.Context, faces []database.FaceRecord) []FaceMatch {
	matches := make([]FaceMatch, 0, len(faces))
	for _, face := range faces {
		result := m.Identify(ctx, face)
		m.log.Debug("face matched",
			zap.String("face_id", face.ID),
			zap.String("kind", string(result.Kind)),
			zap.Float64("distance", result.Distance),
		)
		matches = append(matches, FaceMatch{Face: face, Result: result})
	}
	return matches
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
