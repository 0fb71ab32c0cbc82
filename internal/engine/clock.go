package engine

import "sync/atomic"

// Sequencer hands out the engine's seq numbers. Implemented by Clock and by
// testutil.DeterministicClock.
type Sequencer interface {
	Next() int64
	Current() int64
}

// Clock is the engine's logical clock.
//
// Every arrival, match and drop is stamped with a strictly increasing seq
// from this clock. Seq orders the run log; sample stamps order the data.
// The two are never mixed.
//
// Clock is safe for concurrent use, though only the engine's writer
// goroutine calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
// Used to continue a stored run after its last seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
