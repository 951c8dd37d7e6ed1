package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// expireBatch bounds one store call; a sweep keeps calling while batches
// come back full.
const expireBatch = 100

// Timer sweeps pending attempts past their deadline into StateExpired.
// It sweeps once on start, catching attempts that lapsed while the process
// was down, then on every tick.
type Timer struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
	running  atomic.Bool
}

// NewTimer creates an expiry timer. A non-positive interval means one minute.
func NewTimer(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

// Running reports whether Start is looping.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start blocks until ctx is done or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.stopped:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends Start. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Sweep expires every stale pending attempt and returns how many moved.
// Panics from the store are logged and swallowed so the loop survives.
func (t *Timer) Sweep(ctx context.Context) (total int) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in payment expiry sweep", "panic", fmt.Sprint(r))
		}
	}()

	now := t.reconciler.now()
	for ctx.Err() == nil {
		n, err := t.reconciler.ExpireStale(ctx, now, expireBatch)
		total += n
		if err != nil {
			t.logger.Warn("failed to expire pending payments", "error", err, "expired", total)
			return total
		}
		if n < expireBatch {
			break
		}
	}
	if total > 0 {
		t.logger.Info("expired pending payments", "count", total)
	}
	return total
}
