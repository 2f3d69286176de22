package heap

import "sync/atomic"

// Int64Counter is a small atomic accumulator, used for
// SharedHeap.DeltaAllocated (spec.md §4.3 step 1's trigger byte count).
type Int64Counter struct{ v int64 }

// Add adds delta to the counter.
func (c *Int64Counter) Add(delta int64) { atomic.AddInt64(&c.v, delta) }

// Load returns the current value.
func (c *Int64Counter) Load() int64 { return atomic.LoadInt64(&c.v) }

// Reset zeroes the counter and returns its prior value.
func (c *Int64Counter) Reset() int64 { return atomic.SwapInt64(&c.v, 0) }
