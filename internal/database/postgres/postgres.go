// Package postgres implements the remote vector store on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func init() {
	database.RegisterBackend(database.ModeRemote, Open)
}

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool and verifies it with a ping.
func NewPool(ctx context.Context, cfg *config.StoreConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Open connects to cfg.URL once and prepares the collection. Retrying is
// left to the caller.
func Open(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (database.Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("postgres")

	info, err := collectionInfo(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
	}

	if err := pool.Migrate(ctx, info, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to run migrations: %w", database.ErrStoreConnection, err)
	}

	repo := NewFaceRepository(pool, info, redactURL(cfg.URL))
	log.Info("remote vector store opened",
		zap.String("location", repo.Location()),
		zap.String("collection", info.Name),
	)
	return repo, nil
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
	if !collectionName.MatchString(name) || name == "schema_migrations" || name == "vector_collections" {
		return database.CollectionInfo{}, fmt.Errorf("%w: name %q", database.ErrInvalidCollection, name)
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = database.DefaultDimension
	}
	return database.CollectionInfo{Name: name, Dimension: dim, Metric: metric}, nil
}
