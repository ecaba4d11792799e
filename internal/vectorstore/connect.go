package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"go.uber.org/zap"
)

// retryTimer drives the waits between connection attempts. nil selects the
// library's real timer; tests swap in one that fires immediately.
var retryTimer = func() backoff.Timer { return nil }

// connectBackOff doubles from base with no jitter and allows attempts-1 retries.
func connectBackOff(ctx context.Context, base time.Duration, attempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Hour),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// connect opens the backend for cfg.Mode. Embedded storage is tried once;
// remote storage is retried with exponential backoff starting at
// cfg.ConnectBaseDelay. A held lock or a bad collection definition is never
// retried.
func connect(ctx context.Context, cfg *config.StoreConfig, open database.Opener, log *zap.Logger) (database.Backend, error) {
	attempts := 1
	if cfg.Mode == database.ModeRemote && cfg.ConnectAttempts > 1 {
		attempts = cfg.ConnectAttempts
	}
	delay := cfg.ConnectBaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	attempt := 0
	operation := func() (database.Backend, error) {
		attempt++
		backend, err := open(ctx, cfg, log)
		if err == nil {
			return backend, nil
		}
		if errors.Is(err, database.ErrStoreLocked) || errors.Is(err, database.ErrInvalidCollection) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("vector store connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	backend, err := backoff.RetryNotifyWithTimerAndData(operation, connectBackOff(ctx, delay, attempts), notify, retryTimer())
	if err == nil {
		if attempt > 1 {
			log.Info("vector store connected after retry", zap.Int("attempt", attempt))
		}
		return backend, nil
	}
	if errors.Is(err, database.ErrStoreConnection) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", database.ErrStoreConnection, err)
}
