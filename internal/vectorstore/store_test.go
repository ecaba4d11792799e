package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/database/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testDim = 3

func newTestStore(t *testing.T) (*Store, *mock.Backend) {
	backend := mock.NewBackend(database.CollectionInfo{Name: "faces", Dimension: testDim, Metric: database.MetricCosine})
	s := New(backend, database.ModeEmbedded, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, backend
}

func validRecord() *database.FaceRecord {
	return &database.FaceRecord{
		Embedding:           []float32{1, 0, 0},
		Quality:             database.QualityMetrics{Sharpness: 150, FaceArea: 10000, Brightness: 128, Contrast: 40, QualityScore: 0.8},
		DetectionConfidence: 0.95,
		BBox:                database.BBox{X1: 10, Y1: 10, X2: 110, Y2: 110},
		EventID:             "event-1",
		Camera:              "porch",
		Name:                database.UnknownName,
	}
}

func TestSave_GeneratesIDAndRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := validRecord()
	id, err := s.Save(ctx, rec)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if id == "" || rec.ID != id {
		t.Fatalf("expected generated id on record, got %q / %q", id, rec.ID)
	}
	if !rec.Timestamp.Equal(s.now()) {
		t.Errorf("expected timestamp to default to now, got %v", rec.Timestamp)
	}

	got := s.Get(ctx, id)
	if got == nil {
		t.Fatal("expected stored face")
	}
	if got.EventID != "event-1" || got.Camera != "porch" || got.BBox != rec.BBox || got.Quality != rec.Quality {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestSave_KeepsProvidedID(t *testing.T) {
	s, _ := newTestStore(t)
	rec := validRecord()
	rec.ID = "face-42"
	id, err := s.Save(context.Background(), rec)
	if err != nil || id != "face-42" {
		t.Errorf("expected face-42, got %q, %v", id, err)
	}
}

func TestSave_RejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *database.FaceRecord)
	}{
		{"wrong dimension", func(r *database.FaceRecord) { r.Embedding = []float32{1, 0} }},
		{"score above one", func(r *database.FaceRecord) { r.Quality.QualityScore = 1.2 }},
		{"empty bbox", func(r *database.FaceRecord) { r.BBox = database.BBox{X1: 5, Y1: 5, X2: 5, Y2: 9} }},
		{"negative bbox", func(r *database.FaceRecord) { r.BBox.X1 = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, backend := newTestStore(t)
			rec := validRecord()
			tt.mutate(rec)
			_, err := s.Save(context.Background(), rec)
			if !errors.Is(err, database.ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
			if backend.Upserts != 0 {
				t.Errorf("invalid record must not reach the backend")
			}
		})
	}
}

func TestSave_BackendError(t *testing.T) {
	s, backend := newTestStore(t)
	backend.UpsertError = errors.New("disk full")
	if _, err := s.Save(context.Background(), validRecord()); err == nil {
		t.Error("expected error")
	}
}

func TestSearch_OrderingLimitAndThreshold(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	backend.AddFace(database.FaceRecord{ID: "same", Embedding: []float32{1, 0, 0}})
	backend.AddFace(database.FaceRecord{ID: "close", Embedding: []float32{1, 0.3, 0}})
	backend.AddFace(database.FaceRecord{ID: "orthogonal", Embedding: []float32{0, 1, 0}})
	backend.AddFace(database.FaceRecord{ID: "opposite", Embedding: []float32{-1, 0, 0}})

	query := []float32{1, 0, 0}

	all := s.Search(ctx, query, 10, -1) // max distance 2
	if len(all) != 4 {
		t.Fatalf("expected 4 results, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Distance < all[i-1].Distance {
			t.Errorf("results not sorted: %v then %v", all[i-1].Distance, all[i].Distance)
		}
	}

	limited := s.Search(ctx, query, 2, -1)
	if len(limited) != 2 || limited[0].FaceID != "same" || limited[1].FaceID != "close" {
		t.Errorf("unexpected limited results %+v", limited)
	}

	// score 0.5 means distance at most 0.5
	near := s.Search(ctx, query, 10, 0.5)
	if len(near) != 2 {
		t.Errorf("expected 2 results within distance 0.5, got %d", len(near))
	}

	if got := s.Search(ctx, query, 0, 0); got != nil {
		t.Errorf("expected nil for zero limit, got %v", got)
	}
}

func TestSearch_DegradesOnError(t *testing.T) {
	s, backend := newTestStore(t)
	backend.AddFace(database.FaceRecord{ID: "a", Embedding: []float32{1, 0, 0}})
	backend.SearchError = errors.New("connection reset")

	if got := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := s.Search(context.Background(), []float32{1, 0}, 5, 0); got != nil {
		t.Errorf("expected nil for wrong dimension, got %v", got)
	}
}

func TestNearest(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Nearest(ctx, []float32{1, 0, 0})
	if err != nil || ok {
		t.Fatalf("expected empty store to report no match, got %v, %v", ok, err)
	}

	backend.AddFace(database.FaceRecord{ID: "far", Embedding: []float32{-1, 0, 0}})
	res, ok, err := s.Nearest(ctx, []float32{1, 0, 0})
	if err != nil || !ok || res.FaceID != "far" {
		t.Fatalf("expected far face regardless of distance, got %+v, %v, %v", res, ok, err)
	}
	if math.Abs(res.Distance-2) > 1e-9 {
		t.Errorf("expected distance 2, got %f", res.Distance)
	}

	backend.SearchError = errors.New("timeout")
	if _, _, err := s.Nearest(ctx, []float32{1, 0, 0}); err == nil {
		t.Error("expected Nearest to report backend errors")
	}
}

func TestUpdate_PreservesOtherFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := validRecord()
	rec.Notes = "seen at night"
	id, err := s.Save(ctx, rec)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	name := "Alice"
	if !s.Update(ctx, id, database.FaceUpdate{Name: &name}) {
		t.Fatal("expected update to succeed")
	}
	got := s.Get(ctx, id)
	if got.Name != "Alice" {
		t.Errorf("expected name Alice, got %q", got.Name)
	}
	if got.Notes != "seen at night" || got.EventID != "event-1" || got.Quality != rec.Quality {
		t.Errorf("update clobbered other fields: %+v", got)
	}
	if got.UpdatedAt == nil || !got.UpdatedAt.Equal(s.now()) {
		t.Errorf("expected update stamp, got %v", got.UpdatedAt)
	}

	if s.Update(ctx, "missing", database.FaceUpdate{Name: &name}) {
		t.Error("expected false for unknown id")
	}
}

func TestRuntimeOperationsDegrade(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()
	backend.AddFace(database.FaceRecord{ID: "a", Embedding: []float32{1, 0, 0}})

	boom := errors.New("backend down")
	backend.GetError = boom
	backend.UpdateError = boom
	backend.DeleteError = boom
	backend.ListError = boom
	backend.FindError = boom
	backend.CountError = boom

	name := "x"
	if s.Get(ctx, "a") != nil {
		t.Error("Get should degrade to nil")
	}
	if s.Update(ctx, "a", database.FaceUpdate{Name: &name}) {
		t.Error("Update should degrade to false")
	}
	if s.Delete(ctx, "a") {
		t.Error("Delete should degrade to false")
	}
	if s.ListUnclassified(ctx) != nil {
		t.Error("ListUnclassified should degrade to nil")
	}
	if s.FindByName(ctx, "x") != nil {
		t.Error("FindByName should degrade to nil")
	}
	stats := s.Stats(ctx)
	if stats.Count != 0 || stats.Collection.Dimension != testDim || stats.Mode != database.ModeEmbedded {
		t.Errorf("unexpected degraded stats %+v", stats)
	}
}

func TestDeleteAndListUnclassified(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	backend.AddFace(database.FaceRecord{ID: "u1", Embedding: []float32{1, 0, 0}, Name: "unknown"})
	backend.AddFace(database.FaceRecord{ID: "u2", Embedding: []float32{1, 0, 0}})
	backend.AddFace(database.FaceRecord{ID: "k", Embedding: []float32{1, 0, 0}, Name: "Bob"})

	if got := s.ListUnclassified(ctx); len(got) != 2 {
		t.Errorf("expected 2 unclassified faces, got %d", len(got))
	}
	stats := s.Stats(ctx)
	if stats.Count != 3 || stats.Unclassified != 2 || stats.Location != "memory" {
		t.Errorf("unexpected stats %+v", stats)
	}

	if !s.Delete(ctx, "k") {
		t.Error("expected delete to succeed")
	}
	if s.Delete(ctx, "k") {
		t.Error("expected second delete to report false")
	}
}

// instantTimer fires as soon as it is started and records every wait.
type instantTimer struct {
	delays *[]time.Duration
	c      chan time.Time
}

func (f *instantTimer) Start(d time.Duration) {
	*f.delays = append(*f.delays, d)
	f.c <- time.Now()
}

func (f *instantTimer) Stop() {}

func (f *instantTimer) C() <-chan time.Time { return f.c }

func recordDelays(t *testing.T, delays *[]time.Duration) {
	orig := retryTimer
	retryTimer = func() backoff.Timer {
		return &instantTimer{delays: delays, c: make(chan time.Time, 1)}
	}
	t.Cleanup(func() { retryTimer = orig })
}

func TestConnect_RemoteRetriesWithBackoff(t *testing.T) {
	var delays []time.Duration
	recordDelays(t, &delays)

	calls := 0
	open := func(context.Context, *config.StoreConfig, *zap.Logger) (database.Backend, error) {
		calls++
		if calls < 4 {
			return nil, errors.New("connection refused")
		}
		return mock.NewBackend(database.CollectionInfo{Dimension: testDim}), nil
	}

	cfg := &config.StoreConfig{Mode: database.ModeRemote, ConnectAttempts: 5, ConnectBaseDelay: time.Second}
	backend, err := connect(context.Background(), cfg, open, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("expected success on 4th attempt, got %v", err)
	}
	if backend == nil || calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestConnect_RemoteGivesUp(t *testing.T) {
	var delays []time.Duration
	recordDelays(t, &delays)

	calls := 0
	open := func(context.Context, *config.StoreConfig, *zap.Logger) (database.Backend, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	cfg := &config.StoreConfig{Mode: database.ModeRemote, ConnectAttempts: 5, ConnectBaseDelay: time.Second}
	_, err := connect(context.Background(), cfg, open, zaptest.NewLogger(t))
	if !errors.Is(err, database.ErrStoreConnection) {
		t.Errorf("expected ErrStoreConnection, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) || delays[3] != want[3] {
		t.Errorf("expected delays %v, got %v", want, delays)
	}
}

func TestConnect_NoRetry(t *testing.T) {
	var delays []time.Duration
	recordDelays(t, &delays)

	tests := []struct {
		name string
		mode string
		err  error
	}{
		{"embedded failure", database.ModeEmbedded, errors.New("cannot create directory")},
		{"lock conflict", database.ModeEmbedded, lockedErr()},
		{"remote lock conflict", database.ModeRemote, lockedErr()},
		{"remote invalid collection", database.ModeRemote, fmt.Errorf("%w: name %q", database.ErrInvalidCollection, "a b")},
		{"remote dimension mismatch", database.ModeRemote, fmt.Errorf("%w: %w: dimension 4, configured 8", database.ErrStoreConnection, database.ErrInvalidCollection)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays = nil
			calls := 0
			open := func(context.Context, *config.StoreConfig, *zap.Logger) (database.Backend, error) {
				calls++
				return nil, tt.err
			}
			cfg := &config.StoreConfig{Mode: tt.mode, ConnectAttempts: 5, ConnectBaseDelay: time.Second}
			_, err := connect(context.Background(), cfg, open, zaptest.NewLogger(t))
			if !errors.Is(err, database.ErrStoreConnection) {
				t.Errorf("expected ErrStoreConnection, got %v", err)
			}
			if calls != 1 || len(delays) != 0 {
				t.Errorf("expected a single attempt without backoff, got %d calls, delays %v", calls, delays)
			}
		})
	}
}

func lockedErr() error {
	return errors.Join(database.ErrStoreConnection, database.ErrStoreLocked)
}

func TestShared_LazySingleton(t *testing.T) {
	opens := 0
	backend := mock.NewBackend(database.CollectionInfo{Dimension: testDim})
	database.RegisterBackend("shared-test", func(context.Context, *config.StoreConfig, *zap.Logger) (database.Backend, error) {
		opens++
		return backend, nil
	})
	t.Cleanup(func() { CloseShared() })

	cfg := &config.StoreConfig{Mode: "shared-test"}
	first, err := Shared(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Shared failed: %v", err)
	}
	second, err := Shared(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Shared failed: %v", err)
	}
	if first != second || opens != 1 {
		t.Errorf("expected one shared instance, got %d opens", opens)
	}

	if err := CloseShared(); err != nil {
		t.Fatalf("CloseShared failed: %v", err)
	}
	if !backend.Closed() {
		t.Error("expected backend to be closed")
	}
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := Open(context.Background(), &config.StoreConfig{Mode: "nope"}, zaptest.NewLogger(t))
	if !errors.Is(err, database.ErrStoreConnection) {
		t.Errorf("expected ErrStoreConnection, got %v", err)
	}
}
