package testutil

import "sync"

// DeterministicClock provides reproducible nanosecond timestamps for
// tests. Each read returns the current value and advances by a fixed
// step, so repeated runs stamp identical sequences.
//
// Implements the runtime's Clock interface.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	now   int64
	start int64
	step  int64
}

// NewDeterministicClock creates a clock that starts at start and
// advances by step on every read. A start below 1 is clamped to 1 so
// stamped operations never carry a zero timestamp.
func NewDeterministicClock(start, step int64) *DeterministicClock {
	if start < 1 {
		start = 1
	}
	return &DeterministicClock{now: start, start: start, step: step}
}

// Now returns the current timestamp and advances the clock by its
// step.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now
	c.now += c.step
	return n
}

// Current returns the timestamp the next Now call will report,
// without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to a specific timestamp. Later reads continue
// from there. Setting the clock backwards is allowed; the runtime
// clamps stamps so persisted timestamps stay monotonic regardless.
func (c *DeterministicClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Reset returns the clock to its start value for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
