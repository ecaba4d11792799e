package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/facewatch/internal/config"
	_ "github.com/kozaktomas/facewatch/internal/database/embedded"
	_ "github.com/kozaktomas/facewatch/internal/database/postgres"
	"github.com/kozaktomas/facewatch/internal/logger"
	"github.com/kozaktomas/facewatch/internal/vectorstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "facewatch",
	Short: "Recognize faces in camera snapshots",
	Long: `Facewatch extracts faces from camera snapshots, matches them against
previously seen faces and stores unknown faces for later labeling.

Faces are kept in a vector store: an embedded SQLite file (default) or a
PostgreSQL database with the pgvector extension.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// app holds what every command needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *vectorstore.Store
}

// loadApp reads and validates the configuration, builds the logger and
// opens the vector store. Callers must call close.
func loadApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := vectorstore.Shared(ctx, &cfg.Store, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	return &app{cfg: cfg, log: log, store: store}, nil
}

func (a *app) close() {
	if err := vectorstore.CloseShared(); err != nil {
		a.log.Warn("failed to close vector store", zap.Error(err))
	}
	_ = a.log.Sync()
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
