package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/facewatch/internal/config"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	stored map[string]time.Time
	err    error
	calls  int
}

func (f *fakeStore) HasRecentEvent(_ context.Context, eventID string, since time.Time) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	ts, ok := f.stored[eventID]
	return ok && !ts.Before(since), nil
}

type fakeCache struct {
	keys    map[string]time.Duration
	seenErr error
}

func (f *fakeCache) Seen(_ context.Context, eventID string) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	_, ok := f.keys[eventID]
	return ok, nil
}

func (f *fakeCache) Remember(_ context.Context, eventID string, ttl time.Duration) error {
	f.keys[eventID] = ttl
	return nil
}

var now = time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)

func TestCheckRecent(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		stored map[string]time.Time
		err    error
		want   bool
	}{
		{"disabled window", 0, map[string]time.Time{"e": now}, nil, false},
		{"negative window", -time.Second, map[string]time.Time{"e": now}, nil, false},
		{"within window", time.Minute, map[string]time.Time{"e": now.Add(-30 * time.Second)}, nil, true},
		{"exactly at window edge", time.Minute, map[string]time.Time{"e": now.Add(-time.Minute)}, nil, true},
		{"outside window", time.Minute, map[string]time.Time{"e": now.Add(-2 * time.Minute)}, nil, false},
		{"other event", time.Minute, map[string]time.Time{"other": now}, nil, false},
		{"store error fails open", time.Minute, map[string]time.Time{"e": now}, errors.New("down"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{stored: tt.stored, err: tt.err}
			d := New(config.DedupConfig{Window: tt.window}, store, nil, zaptest.NewLogger(t))
			d.now = func() time.Time { return now }

			if got := d.CheckRecent(context.Background(), "e"); got != tt.want {
				t.Errorf("CheckRecent() = %v, want %v", got, tt.want)
			}
			if tt.window <= 0 && store.calls != 0 {
				t.Error("disabled dedup must not query the store")
			}
		})
	}
}

func TestCheckRecent_UsesCache(t *testing.T) {
	store := &fakeStore{stored: map[string]time.Time{}}
	cache := &fakeCache{keys: map[string]time.Duration{}}
	d := New(config.DedupConfig{Window: time.Minute}, store, cache, zaptest.NewLogger(t))
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if d.CheckRecent(ctx, "e") {
		t.Fatal("expected unseen event")
	}
	d.Record(ctx, "e")
	if ttl := cache.keys["e"]; ttl != time.Minute {
		t.Errorf("expected TTL equal to window, got %v", ttl)
	}

	calls := store.calls
	if !d.CheckRecent(ctx, "e") {
		t.Error("expected cached event to be recent")
	}
	if store.calls != calls {
		t.Error("cache hit must not query the store")
	}
}

func TestCheckRecent_CacheErrorFallsBackToStore(t *testing.T) {
	store := &fakeStore{stored: map[string]time.Time{"e": now}}
	cache := &fakeCache{keys: map[string]time.Duration{}, seenErr: errors.New("redis down")}
	d := New(config.DedupConfig{Window: time.Minute}, store, cache, zaptest.NewLogger(t))
	d.now = func() time.Time { return now }

	if !d.CheckRecent(context.Background(), "e") {
		t.Error("expected store answer when cache fails")
	}
}

func TestRecord_DisabledIsNoop(t *testing.T) {
	cache := &fakeCache{keys: map[string]time.Duration{}}
	d := New(config.DedupConfig{}, &fakeStore{}, cache, zaptest.NewLogger(t))
	d.Record(context.Background(), "e")
	if len(cache.keys) != 0 {
		t.Error("expected no cache writes when disabled")
	}
}

func TestCacheKey(t *testing.T) {
	if got := cacheKey("cam1-42"); got != "dedup:cam1-42" {
		t.Errorf("unexpected key %q", got)
	}
}
