package vectorstore

import (
	"context"
	"sync"

	"github.com/kozaktomas/facewatch/internal/config"
	"go.uber.org/zap"
)

var (
	shared   *Store
	sharedMu sync.Mutex
)

// Shared returns the process-wide store, opening it on first use.
// A failed open is not cached so a later call tries again.
func Shared(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (*Store, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}
	s, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	shared = s
	return shared, nil
}

// CloseShared closes the process-wide store if it was opened.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	return err
}
