//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func setupTestContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return "", func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	return dbURL, func() { container.Terminate(ctx) }
}

func storeConfig(url string, dim int) *config.StoreConfig {
	return &config.StoreConfig{
		Mode:         database.ModeRemote,
		URL:          url,
		Collection:   "faces",
		Dimension:    dim,
		Metric:       "cosine",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestFaceRepository(t *testing.T) {
	url, cleanup := setupTestContainer(t)
	if url == "" {
		return
	}
	defer cleanup()

	ctx := context.Background()
	backend, err := Open(ctx, storeConfig(url, 8), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Close()

	now := time.Now().UTC().Truncate(time.Microsecond)
	faces := []database.FaceRecord{
		{ID: "a", Embedding: unitVector(8, 0), BBox: database.BBox{X1: 1, Y1: 2, X2: 50, Y2: 60},
			EventID: "ev1", Timestamp: now, Name: "Jan Novák", DetectionConfidence: 0.9},
		{ID: "b", Embedding: unitVector(8, 1), BBox: database.BBox{X1: 0, Y1: 0, X2: 40, Y2: 40},
			EventID: "ev2", Timestamp: now.Add(-time.Hour)},
		{ID: "c", Embedding: unitVector(8, 2), BBox: database.BBox{X1: 0, Y1: 0, X2: 40, Y2: 40},
			EventID: "ev3", Timestamp: now, Name: "Unknown"},
	}
	for i := range faces {
		if err := backend.Upsert(ctx, &faces[i]); err != nil {
			t.Fatalf("Failed to upsert %s: %v", faces[i].ID, err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		got, err := backend.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if got == nil {
			t.Fatal("Expected face, got nil")
		}
		if got.Name != "Jan Novák" || got.BBox != faces[0].BBox || len(got.Embedding) != 8 {
			t.Errorf("Unexpected record %+v", got)
		}

		missing, err := backend.Get(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("Expected nil for unknown id, got %v, %v", missing, err)
		}
	})

	t.Run("Search", func(t *testing.T) {
		results, err := backend.Search(ctx, unitVector(8, 0), 5, 0.5)
		if err != nil {
			t.Fatalf("Failed to search: %v", err)
		}
		if len(results) != 1 || results[0].FaceID != "a" {
			t.Fatalf("Expected only a, got %+v", results)
		}
		if results[0].Distance > 1e-6 {
			t.Errorf("Expected zero distance, got %f", results[0].Distance)
		}
	})

	t.Run("ListUnclassified", func(t *testing.T) {
		list, err := backend.ListUnclassified(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
			t.Errorf("Expected b then c, got %+v", list)
		}
	})

	t.Run("FindByName", func(t *testing.T) {
		list, err := backend.FindByName(ctx, "jan novak")
		if err != nil {
			t.Fatalf("Failed to find: %v", err)
		}
		if len(list) != 1 || list[0].ID != "a" {
			t.Errorf("Expected a, got %+v", list)
		}
	})

	t.Run("HasEventSince", func(t *testing.T) {
		recent, err := backend.HasEventSince(ctx, "ev2", now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("Failed to check event: %v", err)
		}
		if recent {
			t.Error("Expected ev2 to be outside the window")
		}
		recent, err = backend.HasEventSince(ctx, "ev1", now.Add(-time.Minute))
		if err != nil || !recent {
			t.Errorf("Expected ev1 to be recent, got %v, %v", recent, err)
		}
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		name := "Eva"
		ok, err := backend.Update(ctx, "b", database.FaceUpdate{Name: &name}, now)
		if err != nil || !ok {
			t.Fatalf("Expected update to succeed, got %v, %v", ok, err)
		}
		got, _ := backend.Get(ctx, "b")
		if got.Name != "Eva" || got.UpdatedAt == nil {
			t.Errorf("Update not reflected: %+v", got)
		}

		ok, err = backend.Update(ctx, "nope", database.FaceUpdate{Name: &name}, now)
		if err != nil || ok {
			t.Errorf("Expected false for unknown id, got %v, %v", ok, err)
		}

		ok, err = backend.Delete(ctx, "c")
		if err != nil || !ok {
			t.Errorf("Expected delete to succeed, got %v, %v", ok, err)
		}
		count, err := backend.Count(ctx)
		if err != nil || count != 2 {
			t.Errorf("Expected 2 faces, got %d, %v", count, err)
		}
	})
}

func TestOpen_DimensionMismatch(t *testing.T) {
	url, cleanup := setupTestContainer(t)
	if url == "" {
		return
	}
	defer cleanup()

	ctx := context.Background()
	backend, err := Open(ctx, storeConfig(url, 8), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	backend.Close()

	// Reopening is idempotent.
	backend, err = Open(ctx, storeConfig(url, 8), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	backend.Close()

	_, err = Open(ctx, storeConfig(url, 16), zaptest.NewLogger(t))
	if !errors.Is(err, database.ErrStoreConnection) {
		t.Errorf("Expected ErrStoreConnection, got %v", err)
	}
}
