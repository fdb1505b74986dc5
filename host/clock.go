package host

import (
	"sync/atomic"
	"time"
)

// Clock reports the current block timestamp in unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is a Clock whose time only moves when told to.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock creates a ManualClock set to ts.
func NewManualClock(ts uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(ts)
	return c
}

// Now implements Clock.
func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts uint64) {
	c.now.Store(ts)
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.now.Add(d)
}
