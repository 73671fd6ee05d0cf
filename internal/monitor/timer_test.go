package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestTimerRunsAndStops(t *testing.T) {
	ticks := make(chan struct{}, 16)
	timer := NewTimer("test", 5*time.Millisecond, slog.New(slog.DiscardHandler), func(context.Context) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("timer did not tick")
		}
	}
	if !timer.Running() {
		t.Error("Running() = false while loop is active")
	}

	timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	if timer.Running() {
		t.Error("Running() = true after stop")
	}
}

func TestTimerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := NewTimer("test", time.Millisecond, slog.New(slog.DiscardHandler), func(context.Context) error {
		return nil
	})

	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer ignored context cancellation")
	}
}

func TestTimerSurvivesPanicsAndErrors(t *testing.T) {
	ticks := make(chan int, 16)
	var n int
	timer := NewTimer("test", time.Millisecond, slog.New(slog.DiscardHandler), func(context.Context) error {
		n++
		select {
		case ticks <- n:
		default:
		}
		switch n {
		case 1:
			panic("cycle exploded")
		case 2:
			return errors.New("cycle failed")
		}
		return nil
	})

	go timer.Start(context.Background())
	defer timer.Stop()

	// The loop must reach a third cycle after one panic and one error.
	deadline := time.After(time.Second)
	for {
		select {
		case seen := <-ticks:
			if seen >= 3 {
				return
			}
		case <-deadline:
			t.Fatal("timer did not keep ticking past failures")
		}
	}
}
