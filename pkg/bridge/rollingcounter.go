package bridge

import "sync"

// RollingCounter hands out sequential ids in [min, max], wrapping back to
// min once max is reached. Used for both the A_SYNC token and each
// connection's local stream ids.
type RollingCounter struct {
	mu       sync.Mutex
	min, max uint32
	now      uint32
}

// NewRollingCounter creates a counter cycling through [min, max]. The first
// call to Next returns min+1; it only returns min again once the counter
// wraps.
func NewRollingCounter(max, min uint32) *RollingCounter {
	return &RollingCounter{min: min, max: max, now: min}
}

// Next advances the counter and returns its new value.
func (c *RollingCounter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now >= c.max {
		c.now = c.min
	} else {
		c.now++
	}
	return c.now
}
