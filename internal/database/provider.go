package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/facewatch/internal/config"
	"go.uber.org/zap"
)

// Store modes.
const (
	ModeEmbedded = "embedded"
	ModeRemote   = "remote"
)

// Opener connects to a backend and makes sure its collection exists.
// A single call is one connection attempt; retrying is the caller's job.
type Opener func(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (Backend, error)

var (
	openers   = map[string]Opener{}
	openersMu sync.RWMutex
)

// RegisterBackend registers the opener for a store mode.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(mode string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[mode] = opener
}

// GetOpener returns the opener registered for mode.
func GetOpener(mode string) (Opener, error) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	opener, ok := openers[mode]
	if !ok {
		return nil, fmt.Errorf("no vector store backend registered for mode %q (registered: %v)", mode, registeredModesLocked())
	}
	return opener, nil
}

func registeredModesLocked() []string {
	modes := make([]string, 0, len(openers))
	for m := range openers {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}
