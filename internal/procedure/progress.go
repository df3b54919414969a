package procedure

import "sync"

// progress clamps reports to [0, 100] and drops values below the last one.
type progress struct {
	mu   sync.Mutex
	last float64
	fn   func(float64)
}

func newProgress(fn func(float64)) *progress {
	if fn == nil {
		fn = func(float64) {}
	}
	return &progress{fn: fn}
}

func (p *progress) set(v float64) {
	v = min(max(v, 0), 100)
	p.mu.Lock()
	if v <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = v
	p.mu.Unlock()
	p.fn(v)
}

// span maps [0, 1] onto [from, to].
func (p *progress) span(from, to float64) func(float64) {
	return func(f float64) { p.set(from + (to-from)*f) }
}

func (p *progress) done() { p.set(100) }
