package barrier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestWaitAfterAllReady(t *testing.T) {
	b := New(3)
	for i := 0; i < 3; i++ {
		b.SignalReady()
	}
	assert.True(t, b.WaitForAll(context.Background()))
}

func TestZeroExpectedIsResolved(t *testing.T) {
	assert.True(t, New(0).WaitForAll(context.Background()))
}

func TestFailureWakesWaiter(t *testing.T) {
	b := New(2)
	b.SignalReady()
	got := make(chan bool)
	go func() { got <- b.WaitForAll(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	b.SignalFailed()
	b.SignalFailed()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by failure")
	}
	assert.Equal(t, Failed, b.Remaining())
	b.SignalReady()
	assert.Equal(t, Failed, b.Remaining())
}

func TestConcurrentSignals(t *testing.T) {
	const n = 50
	b := New(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.SignalReady()
		}()
	}
	assert.True(t, b.WaitForAll(context.Background()))
	wg.Wait()
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, New(1).WaitForAll(ctx))
}

func TestFilesKeepOrder(t *testing.T) {
	b := New(2)
	b.AddFile("p1")
	b.AddFile("p2")
	assert.Equal(t, []string{"p1", "p2"}, b.Files())
}

func TestBarrierProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("ready signals at or above expected resolve true", prop.ForAll(
		func(expected, extra int) bool {
			b := New(expected)
			for i := 0; i < expected+extra; i++ {
				b.SignalReady()
			}
			return b.WaitForAll(context.Background()) && b.Remaining() == 0
		},
		gen.IntRange(0, 20), gen.IntRange(0, 5),
	))

	properties.Property("any failure reports false regardless of ready count", prop.ForAll(
		func(expected, ready int) bool {
			b := New(expected)
			for i := 0; i < ready; i++ {
				b.SignalReady()
			}
			b.SignalFailed()
			for i := 0; i < expected; i++ {
				b.SignalReady()
			}
			return !b.WaitForAll(context.Background()) && b.Remaining() == Failed
		},
		gen.IntRange(0, 20), gen.IntRange(0, 25),
	))

	properties.TestingRun(t)
}
