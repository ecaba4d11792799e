package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationParams fills the per-collection migration templates.
type migrationParams struct {
	Table     string // quoted identifier
	Prefix    string // unquoted, used for index names
	Dimension int
	OpClass   string
	M         int
}

func opClass(m database.Metric) string {
	if m == database.MetricEuclidean {
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

// bootstrap creates the extension and the bookkeeping tables shared by all collections.
func (p *Pool) bootstrap(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			metric TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create bookkeeping tables: %w", err)
	}
	return nil
}

// ensureCollection registers the collection or verifies that an existing one
// was created with the same dimension and metric.
func (p *Pool) ensureCollection(ctx context.Context, info database.CollectionInfo) (created bool, err error) {
	var dim int
	var metric string
	err = p.db.QueryRowContext(ctx,
		"SELECT dimension, metric FROM vector_collections WHERE name = $1", info.Name,
	).Scan(&dim, &metric)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = p.db.ExecContext(ctx,
			"INSERT INTO vector_collections (name, dimension, metric) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING",
			info.Name, info.Dimension, string(info.Metric))
		if err != nil {
			return false, fmt.Errorf("register collection %s: %w", info.Name, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read collection %s: %w", info.Name, err)
	case dim != info.Dimension || metric != string(info.Metric):
		return false, fmt.Errorf("%w: collection %s was created with dimension %d and metric %s, configured %d and %s", database.ErrInvalidCollection,
			info.Name, dim, metric, info.Dimension, info.Metric)
	}
	return false, nil
}

// getAppliedMigrations returns the applied migration files of one collection.
func (p *Pool) getAppliedMigrations(ctx context.Context, collection string) (map[string]bool, error) {
	applied := make(map[string]bool)
	rows, err := p.db.QueryContext(ctx,
		"SELECT version FROM schema_migrations WHERE version LIKE $1", collection+"/%")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[strings.TrimPrefix(v, collection+"/")] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// getPendingMigrationFiles returns sorted SQL migration filenames not yet applied.
func getPendingMigrationFiles(applied map[string]bool) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func renderMigration(file string, params migrationParams) (string, error) {
	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", file, err)
	}
	tmpl, err := template.New(file).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parse migration %s: %w", file, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render migration %s: %w", file, err)
	}
	return buf.String(), nil
}

// Migrate prepares the collection: extension, bookkeeping tables, the face
// table and its indexes. Safe to run on every start.
func (p *Pool) Migrate(ctx context.Context, info database.CollectionInfo, log *zap.Logger) error {
	if err := p.bootstrap(ctx); err != nil {
		return err
	}
	created, err := p.ensureCollection(ctx, info)
	if err != nil {
		return err
	}
	if created {
		log.Info("created collection",
			zap.String("collection", info.Name),
			zap.Int("dimension", info.Dimension),
			zap.String("metric", string(info.Metric)),
		)
	}

	applied, err := p.getAppliedMigrations(ctx, info.Name)
	if err != nil {
		return err
	}
	files, err := getPendingMigrationFiles(applied)
	if err != nil {
		return err
	}

	params := migrationParams{
		Table:     pq.QuoteIdentifier(info.Name),
		Prefix:    info.Name,
		Dimension: info.Dimension,
		OpClass:   opClass(info.Metric),
		M:         database.HNSWMaxNeighbors,
	}

	for _, file := range files {
		stmt, err := renderMigration(file, params)
		if err != nil {
			return err
		}

		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for %s: %w", file, err)
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", file, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", info.Name+"/"+file); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}

		log.Info("applied migration", zap.String("collection", info.Name), zap.String("file", file))
	}

	return nil
}
