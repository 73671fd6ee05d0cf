package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/safeswap/escrowcore/internal/metrics"
)

// Timer runs one reconciliation task on a fixed interval. A panicking or
// failing cycle is logged and the next tick still fires.
type Timer struct {
	name     string
	interval time.Duration
	cycle    func(ctx context.Context) error
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a repeating task.
func NewTimer(name string, interval time.Duration, logger *slog.Logger, cycle func(ctx context.Context) error) *Timer {
	return &Timer{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger.With("task", name),
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the task loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeCycle(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in monitor cycle", "panic", fmt.Sprint(r))
			metrics.MonitorCyclesTotal.WithLabelValues(t.name, "panic").Inc()
		}
	}()

	if err := t.cycle(ctx); err != nil {
		t.logger.Warn("monitor cycle failed", "error", err)
		metrics.MonitorCyclesTotal.WithLabelValues(t.name, "error").Inc()
		return
	}
	metrics.MonitorCyclesTotal.WithLabelValues(t.name, "ok").Inc()
}
