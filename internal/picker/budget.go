package picker

import "sync/atomic"

// DefaultGetTryLimit is the per-tier GET budget when none is configured.
const DefaultGetTryLimit = 40

// Budget is a per-tier allowance of network attempts. Safe for concurrent use.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget returns a budget holding n units.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(n))
	return b
}

// Take consumes one unit and reports whether one was available.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Release returns one unit taken with Take.
func (b *Budget) Release() {
	if b != nil {
		b.remaining.Add(1)
	}
}

// Remaining reports the units left.
func (b *Budget) Remaining() int {
	if b == nil {
		return 0
	}
	return int(b.remaining.Load())
}
