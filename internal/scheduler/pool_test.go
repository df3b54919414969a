package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(quiet(), 2)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		p.Submit(func(ctx context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	p.Drain(context.Background())
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds 2 slots", peak.Load())
	}
}

func TestLightTaskDoesNotWaitForSlot(t *testing.T) {
	p := New(quiet(), 1)
	release := make(chan struct{})
	finished := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		<-release
		close(finished)
	})
	p.Go(func(ctx context.Context) { close(release) })
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("light task was blocked behind the heavy slot")
	}
	p.Drain(context.Background())
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	p := New(quiet(), 1)
	p.StopAccepting()
	if p.Submit(func(context.Context) {}) {
		t.Fatal("expected submit to be rejected")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := New(quiet(), 1)
	var seen atomic.Bool
	p.onPanic = func(any) { seen.Store(true) }
	p.Submit(func(context.Context) { panic("boom") })
	p.Drain(context.Background())
	if !seen.Load() {
		t.Fatal("panic not observed")
	}
}

func TestDrainTimeoutCancelsTasks(t *testing.T) {
	p := New(quiet(), 1)
	p.Submit(func(ctx context.Context) { <-ctx.Done() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p.Drain(ctx)
}

func TestSafely(t *testing.T) {
	err := Safely(func() error { panic("x") })
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if err := Safely(func() error { return nil }); err != nil {
		t.Fatalf("unexpected %v", err)
	}
}
