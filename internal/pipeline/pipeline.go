// Package pipeline processes one uploaded snapshot end to end: extract
// faces, match them against the store and persist the new ones.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/kozaktomas/facewatch/internal/dedup"
	"github.com/kozaktomas/facewatch/internal/extractor"
	"github.com/kozaktomas/facewatch/internal/matcher"
	"github.com/kozaktomas/facewatch/internal/vectorstore"
	"go.uber.org/zap"
)

// Upload is one snapshot to process.
type Upload struct {
	Data    []byte
	EventID string // generated when empty
	Camera  string
}

// Report summarizes a processed upload.
type Report struct {
	EventID      string              `json:"event_id"`
	Matches      []matcher.FaceMatch `json:"matches"`
	Skipped      int                 `json:"skipped"` // faces rejected during extraction
	Saved        int                 `json:"saved"`
	Deduplicated bool                `json:"deduplicated"` // new faces were not saved because the event was seen recently
	SaveErrors   int                 `json:"save_errors"`
}

// Service wires the pipeline components together.
type Service struct {
	extractor *extractor.Extractor
	matcher   *matcher.Matcher
	store     *vectorstore.Store
	dedup     *dedup.Deduplicator
	log       *zap.Logger
	tempDir   string
}

// New creates a Service. The store is owned by the caller.
func New(
	ext *extractor.Extractor,
	m *matcher.Matcher,
	store *vectorstore.Store,
	d *dedup.Deduplicator,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		extractor: ext,
		matcher:   m,
		store:     store,
		dedup:     d,
		log:       log.Named("pipeline"),
	}
}

// Process extracts and matches the faces of an upload and saves the unknown
// and suggested ones unless the same event was saved within the dedup window.
// It never fails; problems show up as an empty match list or error results.
func (s *Service) Process(ctx context.Context, up Upload) Report {
	report := Report{EventID: up.EventID}
	if report.EventID == "" {
		report.EventID = uuid.NewString()
	}

	path, err := s.writeTemp(up.Data)
	if err != nil {
		s.log.Error("failed to stage upload", zap.String("event_id", report.EventID), zap.Error(err))
		return report
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove temporary file", zap.String("path", path), zap.Error(err))
		}
	}()

	outcomes := s.extractor.ExtractFile(ctx, path, extractor.Source{EventID: report.EventID, Camera: up.Camera})
	faces := extractor.Records(outcomes)
	report.Skipped = len(outcomes) - len(faces)

	report.Matches = s.matcher.IdentifyAll(ctx, faces)
	s.persist(ctx, &report)

	s.log.Info("upload processed",
		zap.String("event_id", report.EventID),
		zap.Int("faces", len(report.Matches)),
		zap.Int("skipped", report.Skipped),
		zap.Int("saved", report.Saved),
		zap.Bool("deduplicated", report.Deduplicated),
	)
	return report
}

func (s *Service) persist(ctx context.Context, report *Report) {
	var pending []int
	for i, m := range report.Matches {
		if m.Result.Persist() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	if s.dedup.CheckRecent(ctx, report.EventID) {
		report.Deduplicated = true
		return
	}

	for _, i := range pending {
		m := &report.Matches[i]
		if m.Result.Kind == matcher.KindSuggestion {
			m.Face.SuggestedName = m.Result.Name
		}
		rec := m.Face
		if _, err := s.store.Save(ctx, &rec); err != nil {
			report.SaveErrors++
			continue
		}
		report.Saved++
	}
	if report.Saved > 0 {
		s.dedup.Record(ctx, report.EventID)
	}
}

func (s *Service) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}
