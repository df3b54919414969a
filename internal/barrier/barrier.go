// Package barrier provides the latch a bundled install waits on while its
// sibling patch downloads finish.
package barrier

import (
	"context"
	"sync"
)

// Failed is the remaining count after SignalFailed.
const Failed = -1

// Barrier is a one-shot countdown latch with a failure state. The done
// channel closes when the count reaches zero or on the first failure, so a
// signal sent before WaitForAll is never missed.
type Barrier struct {
	mu        sync.Mutex
	expected  int
	remaining int
	files     []string
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a barrier expecting n signals. A barrier expecting none is
// already resolved.
func New(n int) *Barrier {
	if n < 0 {
		n = 0
	}
	b := &Barrier{expected: n, remaining: n, done: make(chan struct{})}
	if n == 0 {
		b.release()
	}
	return b
}

func (b *Barrier) release() { b.closeOnce.Do(func() { close(b.done) }) }

// AddFile records a sibling patch file. Files are applied in the order they
// were added.
func (b *Barrier) AddFile(name string) {
	b.mu.Lock()
	b.files = append(b.files, name)
	b.mu.Unlock()
}

func (b *Barrier) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

func (b *Barrier) Expected() int { return b.expected }

func (b *Barrier) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// SignalReady counts one sibling as ready. Extra signals after zero and any
// signal after a failure are ignored.
func (b *Barrier) SignalReady() {
	b.mu.Lock()
	if b.remaining > 0 {
		b.remaining--
	}
	resolved := b.remaining <= 0
	b.mu.Unlock()
	if resolved {
		b.release()
	}
}

// SignalFailed marks the barrier failed and wakes the waiter. Failure wins
// over any number of ready signals; repeated calls are no-ops.
func (b *Barrier) SignalFailed() {
	b.mu.Lock()
	b.remaining = Failed
	b.mu.Unlock()
	b.release()
}

// WaitForAll blocks until every sibling is ready, one failed, or ctx ends.
// It reports true only when all siblings are ready.
func (b *Barrier) WaitForAll(ctx context.Context) bool {
	select {
	case <-b.done:
	case <-ctx.Done():
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining == 0
}
