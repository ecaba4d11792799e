package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// metaColumns are the columns read on every path; the embedding is only
// selected where it is needed.
var metaColumns = []string{
	"id", "sharpness", "face_area", "brightness", "contrast", "quality_score",
	"detection_confidence", "bbox", "face_index", "thumbnail", "event_id", "camera",
	"created_at", "updated_at", "name", "relationship", "confidence", "notes", "suggested_name",
}

// FaceRepository stores faces of one collection in a pgvector table.
type FaceRepository struct {
	pool     *Pool
	info     database.CollectionInfo
	table    string
	location string
}

// NewFaceRepository creates a repository for an already migrated collection.
func NewFaceRepository(pool *Pool, info database.CollectionInfo, location string) *FaceRepository {
	return &FaceRepository{
		pool:     pool,
		info:     info,
		table:    pq.QuoteIdentifier(info.Name),
		location: location,
	}
}

// distanceOperator returns the pgvector operator for the collection metric.
func (r *FaceRepository) distanceOperator() string {
	if r.info.Metric == database.MetricEuclidean {
		return "<->"
	}
	return "<=>"
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanFaceRow scans metaColumns followed by any extra destinations.
func scanFaceRow(row rowScanner, extra ...any) (database.FaceRecord, error) {
	var rec database.FaceRecord
	var bbox pq.Float64Array
	var updatedAt sql.NullTime

	dest := []any{
		&rec.ID, &rec.Quality.Sharpness, &rec.Quality.FaceArea, &rec.Quality.Brightness,
		&rec.Quality.Contrast, &rec.Quality.QualityScore, &rec.DetectionConfidence, &bbox,
		&rec.FaceIndex, &rec.Thumbnail, &rec.EventID, &rec.Camera, &rec.Timestamp, &updatedAt,
		&rec.Name, &rec.Relationship, &rec.Confidence, &rec.Notes, &rec.SuggestedName,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return database.FaceRecord{}, err
	}

	rec.BBox = database.BBoxFromSlice(bbox)
	if updatedAt.Valid {
		t := updatedAt.Time
		rec.UpdatedAt = &t
	}
	return rec, nil
}

func scanFaces(rows *sql.Rows) ([]database.FaceRecord, error) {
	var faces []database.FaceRecord
	for rows.Next() {
		face, err := scanFaceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// Get retrieves a face by ID including its embedding. Returns nil if not found.
func (r *FaceRepository) Get(ctx context.Context, id string) (*database.FaceRecord, error) {
	query, args, err := psql.Select(metaColumns...).Column("embedding").
		From(r.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var vec pgvector.Vector
	rec, err := scanFaceRow(r.pool.db.QueryRowContext(ctx, query, args...), &vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get face %s: %w", id, err)
	}
	rec.Embedding = vec.Slice()
	return &rec, nil
}

// Search returns faces within maxDistance of embedding, closest first.
func (r *FaceRepository) Search(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(embedding)
	distance := fmt.Sprintf("embedding %s ?::vector", r.distanceOperator())

	query, args, err := psql.Select(metaColumns...).
		Column(sq.Expr(distance+" AS distance", vec)).
		From(r.table).
		Where(sq.Expr("("+distance+") <= ?", vec, maxDistance)).
		OrderBy("distance").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	// Use transaction to set ef_search for better recall.
	tx, err := r.pool.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	efSearch := max(database.HNSWEfSearch, limit*database.HNSWSearchMultiplier)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var results []database.SearchResult
	for rows.Next() {
		var dist float64
		rec, err := scanFaceRow(rows, &dist)
		if err != nil {
			return nil, fmt.Errorf("scan similar face: %w", err)
		}
		results = append(results, database.SearchResult{FaceID: rec.ID, Distance: dist, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar faces: %w", err)
	}
	return results, nil
}

func (r *FaceRepository) list(ctx context.Context, where sq.Sqlizer) ([]database.FaceRecord, error) {
	query, args, err := psql.Select(metaColumns...).
		From(r.table).
		Where(where).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// ListUnclassified returns faces without a name or labeled "unknown".
func (r *FaceRepository) ListUnclassified(ctx context.Context) ([]database.FaceRecord, error) {
	return r.list(ctx, sq.Eq{"name_key": []string{"", database.UnknownName}})
}

// FindByName returns faces whose name normalizes to the same key as name,
// so "jan-novak" matches "Jan Novák".
func (r *FaceRepository) FindByName(ctx context.Context, name string) ([]database.FaceRecord, error) {
	key := facematch.NameKey(name)
	if key == "" {
		return nil, nil
	}
	return r.list(ctx, sq.Eq{"name_key": key})
}

// HasEventSince reports whether a face of eventID was stored at or after since.
func (r *FaceRepository) HasEventSince(ctx context.Context, eventID string, since time.Time) (bool, error) {
	query := fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE event_id = $1 AND created_at >= $2)", r.table)

	var exists bool
	if err := r.pool.db.QueryRowContext(ctx, query, eventID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recent faces of event %s: %w", eventID, err)
	}
	return exists, nil
}

// Count returns the total number of faces stored.
func (r *FaceRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// Upsert stores the record, replacing any previous version with the same id.
func (r *FaceRepository) Upsert(ctx context.Context, rec *database.FaceRecord) error {
	query, args, err := psql.Insert(r.table).
		Columns(
			"id", "embedding", "sharpness", "face_area", "brightness", "contrast", "quality_score",
			"detection_confidence", "bbox", "face_index", "thumbnail", "event_id", "camera",
			"created_at", "updated_at", "name", "name_key", "relationship", "confidence", "notes", "suggested_name",
		).
		Values(
			rec.ID, pgvector.NewVector(rec.Embedding), rec.Quality.Sharpness, rec.Quality.FaceArea,
			rec.Quality.Brightness, rec.Quality.Contrast, rec.Quality.QualityScore,
			rec.DetectionConfidence, pq.Float64Array(rec.BBox.Slice()), rec.FaceIndex, rec.Thumbnail,
			rec.EventID, rec.Camera, rec.Timestamp, rec.UpdatedAt, rec.Name,
			facematch.NameKey(rec.Name), rec.Relationship, rec.Confidence, rec.Notes, rec.SuggestedName,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			sharpness = EXCLUDED.sharpness,
			face_area = EXCLUDED.face_area,
			brightness = EXCLUDED.brightness,
			contrast = EXCLUDED.contrast,
			quality_score = EXCLUDED.quality_score,
			detection_confidence = EXCLUDED.detection_confidence,
			bbox = EXCLUDED.bbox,
			face_index = EXCLUDED.face_index,
			thumbnail = EXCLUDED.thumbnail,
			event_id = EXCLUDED.event_id,
			camera = EXCLUDED.camera,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			name = EXCLUDED.name,
			name_key = EXCLUDED.name_key,
			relationship = EXCLUDED.relationship,
			confidence = EXCLUDED.confidence,
			notes = EXCLUDED.notes,
			suggested_name = EXCLUDED.suggested_name`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.pool.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert face %s: %w", rec.ID, err)
	}
	return nil
}

// Update merges the set fields of update into the stored face.
func (r *FaceRepository) Update(ctx context.Context, id string, update database.FaceUpdate, at time.Time) (bool, error) {
	b := psql.Update(r.table).Set("updated_at", at).Where(sq.Eq{"id": id})
	if update.Name != nil {
		b = b.Set("name", *update.Name).Set("name_key", facematch.NameKey(*update.Name))
	}
	if update.Relationship != nil {
		b = b.Set("relationship", *update.Relationship)
	}
	if update.Confidence != nil {
		b = b.Set("confidence", *update.Confidence)
	}
	if update.Notes != nil {
		b = b.Set("notes", *update.Notes)
	}
	if update.SuggestedName != nil {
		b = b.Set("suggested_name", *update.SuggestedName)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}
	res, err := r.pool.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update face %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update face %s: %w", id, err)
	}
	return n > 0, nil
}

// Delete removes a face. Returns false if it did not exist.
func (r *FaceRepository) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := psql.Delete(r.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete: %w", err)
	}
	res, err := r.pool.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete face %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete face %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *FaceRepository) Collection() database.CollectionInfo {
	return r.info
}

func (r *FaceRepository) Location() string {
	return r.location
}

func (r *FaceRepository) Close() error {
	return r.pool.Close()
}

var _ database.Backend = (*FaceRepository)(nil)
