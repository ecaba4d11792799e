// Package dedup suppresses repeated persistence of faces from the same
// camera event within a time window.
package dedup

import (
	"context"
	"time"

	"github.com/kozaktomas/facewatch/internal/config"
	"go.uber.org/zap"
)

// EventStore reports whether faces of an event were stored recently.
type EventStore interface {
	HasRecentEvent(ctx context.Context, eventID string, since time.Time) (bool, error)
}

// Cache remembers recently persisted event IDs.
type Cache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string, ttl time.Duration) error
}

// Deduplicator decides whether an upload's faces should be persisted.
type Deduplicator struct {
	window time.Duration
	store  EventStore
	cache  Cache // optional
	log    *zap.Logger
	now    func() time.Time
}

// New creates a Deduplicator. cache may be nil.
func New(cfg config.DedupConfig, store EventStore, cache Cache, log *zap.Logger) *Deduplicator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deduplicator{
		window: cfg.Window,
		store:  store,
		cache:  cache,
		log:    log.Named("dedup"),
		now:    time.Now,
	}
}

// Enabled reports whether a positive window is configured.
func (d *Deduplicator) Enabled() bool {
	return d.window > 0
}

// CheckRecent reports whether faces of eventID were stored within the
// window. It is always false when deduplication is disabled, and errors
// count as "not recent" so a failing backend never blocks a save.
func (d *Deduplicator) CheckRecent(ctx context.Context, eventID string) bool {
	if !d.Enabled() {
		return false
	}

	if d.cache != nil {
		seen, err := d.cache.Seen(ctx, eventID)
		if err != nil {
			d.log.Warn("dedup cache lookup failed", zap.String("event_id", eventID), zap.Error(err))
		} else if seen {
			return true
		}
	}

	since := d.now().UTC().Add(-d.window)
	recent, err := d.store.HasRecentEvent(ctx, eventID, since)
	if err != nil {
		d.log.Warn("dedup store lookup failed, allowing save", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return recent
}

// Record notes that faces of eventID were just persisted.
func (d *Deduplicator) Record(ctx context.Context, eventID string) {
	if !d.Enabled() || d.cache == nil {
		return
	}
	if err := d.cache.Remember(ctx, eventID, d.window); err != nil {
		d.log.Warn("failed to cache event", zap.String("event_id", eventID), zap.Error(err))
	}
}
