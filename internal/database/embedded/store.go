// Package embedded implements the single-process vector store: face rows in
// a SQLite file managed by gorm, an in-memory HNSW graph for search and an
// exclusive lock file next to the database.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func init() {
	database.RegisterBackend(database.ModeEmbedded, Open)
}

// Store is the embedded database.Backend.
type Store struct {
	db    *gorm.DB
	lock  *fileLock
	index *database.HNSWIndex
	info  database.CollectionInfo
	path  string
	log   *zap.Logger
}

// Open locks cfg.Path, opens the SQLite file, makes sure the collection
// exists and loads all faces into the search index. A lock held by another
// process fails immediately.
func Open(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (database.Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	info, err := collectionInfo(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: store path is required", database.ErrStoreConnection)
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating store directory %s: %w", database.ErrStoreConnection, dir, err)
		}
	}

	lock, err := acquireLock(cfg.Path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}

	s := &Store{
		lock:  lock,
		index: database.NewHNSWIndex(info.Metric),
		info:  info,
		path:  cfg.Path,
		log:   log.Named("embedded"),
	}
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}

	s.log.Info("embedded vector store opened",
		zap.String("path", s.path),
		zap.String("collection", info.Name),
		zap.Int("faces", s.index.Count()),
	)
	return s, nil
}

func collectionInfo(cfg *config.StoreConfig) (database.CollectionInfo, error) {
	metric, err := database.ParseMetric(cfg.Metric)
	if err != nil {
		return database.CollectionInfo{}, fmt.Errorf("%w: %w", database.ErrInvalidCollection, err)
	}
	name := cfg.Collection
	if name == "" {
		name = database.DefaultCollection
	}
	if !collectionName.MatchString(name) || name == "collections" {
		return database.CollectionInfo{}, fmt.Errorf("%w: name %q", database.ErrInvalidCollection, name)
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = database.DefaultDimension
	}
	return database.CollectionInfo{Name: name, Dimension: dim, Metric: metric}, nil
}

func (s *Store) open(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: gormlogger.New(zapWriter{s.log.Sugar()}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	s.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	sqlDB.SetMaxOpenConns(1)

	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	return s.loadIndex(ctx)
}

func (s *Store) ensureCollection(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&collectionRow{}); err != nil {
		return fmt.Errorf("migrating collections table: %w", err)
	}

	var existing collectionRow
	err := db.Where("name = ?", s.info.Name).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := collectionRow{Name: s.info.Name, Dimension: s.info.Dimension, Metric: string(s.info.Metric), CreatedAt: time.Now().UTC()}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("creating collection %s: %w", s.info.Name, err)
		}
		s.log.Info("created collection",
			zap.String("collection", s.info.Name),
			zap.Int("dimension", s.info.Dimension),
			zap.String("metric", string(s.info.Metric)),
		)
	case err != nil:
		return fmt.Errorf("reading collection %s: %w", s.info.Name, err)
	default:
		if existing.Dimension != s.info.Dimension || existing.Metric != string(s.info.Metric) {
			return fmt.Errorf("%w: collection %s was created with dimension %d and metric %s, configured %d and %s", database.ErrInvalidCollection,
				s.info.Name, existing.Dimension, existing.Metric, s.info.Dimension, s.info.Metric)
		}
	}

	if err := s.faces(ctx).AutoMigrate(&faceRow{}); err != nil {
		return fmt.Errorf("migrating faces table %s: %w", s.info.Name, err)
	}
	return nil
}

func (s *Store) loadIndex(ctx context.Context) error {
	var rows []faceRow
	if err := s.faces(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("loading faces: %w", err)
	}
	records := make([]database.FaceRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			s.log.Warn("skipping unreadable face row", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	s.index.BuildFromRecords(records)
	return nil
}

// faces scopes a query to the collection table.
func (s *Store) faces(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.info.Name)
}

func (s *Store) Get(ctx context.Context, id string) (*database.FaceRecord, error) {
	rec, ok := s.index.Get(id)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.SearchResult, error) {
	if len(embedding) != s.info.Dimension {
		return nil, fmt.Errorf("query has %d dimensions, collection expects %d", len(embedding), s.info.Dimension)
	}
	return s.index.Search(embedding, limit, maxDistance), nil
}

func (s *Store) ListUnclassified(ctx context.Context) ([]database.FaceRecord, error) {
	return s.listWhere(ctx, "name_key IN ?", []string{"", database.UnknownName})
}

func (s *Store) FindByName(ctx context.Context, name string) ([]database.FaceRecord, error) {
	key := nameKey(name)
	if key == "" {
		return nil, nil
	}
	return s.listWhere(ctx, "name_key = ?", key)
}

func (s *Store) listWhere(ctx context.Context, query string, args ...any) ([]database.FaceRecord, error) {
	var rows []faceRow
	if err := s.faces(ctx).Omit("embedding").Where(query, args...).Order("timestamp").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing faces: %w", err)
	}
	out := make([]database.FaceRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		rec.Embedding = nil
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) HasEventSince(ctx context.Context, eventID string, since time.Time) (bool, error) {
	var count int64
	err := s.faces(ctx).
		Where("event_id = ? AND timestamp >= ?", eventID, since.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking recent faces of event %s: %w", eventID, err)
	}
	return count > 0, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.faces(ctx).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting faces: %w", err)
	}
	return int(count), nil
}

func (s *Store) Upsert(ctx context.Context, rec *database.FaceRecord) error {
	row := toRow(rec)
	err := s.faces(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing face %s: %w", rec.ID, err)
	}
	s.index.Add(*rec)
	return nil
}

func (s *Store) Update(ctx context.Context, id string, update database.FaceUpdate, at time.Time) (bool, error) {
	rec, ok := s.index.Get(id)
	if !ok {
		return false, nil
	}
	update.Apply(&rec, at)

	fields := map[string]any{"updated_at": at.UTC()}
	if update.Name != nil {
		fields["name"] = rec.Name
		fields["name_key"] = nameKey(rec.Name)
	}
	if update.Relationship != nil {
		fields["relationship"] = rec.Relationship
	}
	if update.Confidence != nil {
		fields["confidence"] = rec.Confidence
	}
	if update.Notes != nil {
		fields["notes"] = rec.Notes
	}
	if update.SuggestedName != nil {
		fields["suggested_name"] = rec.SuggestedName
	}

	res := s.faces(ctx).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("updating face %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.index.UpdateMetadata(id, rec)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res := s.faces(ctx).Where("id = ?", id).Delete(&faceRow{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting face %s: %w", id, res.Error)
	}
	s.index.Delete(id)
	return res.RowsAffected > 0, nil
}

func (s *Store) Collection() database.CollectionInfo {
	return s.info
}

func (s *Store) Location() string {
	return s.path
}

// Close closes the database and releases the lock file.
func (s *Store) Close() error {
	var errs []error
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing sqlite database: %w", err))
			}
		}
		s.db = nil
	}
	if err := s.lock.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// zapWriter adapts gorm's Printf-style logger to zap.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}
