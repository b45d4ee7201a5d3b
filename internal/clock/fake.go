package clock

import "time"

// FakeClock pins Now to a fixed instant so tests can sit a charge exactly on
// a permission's expiry boundary or land folds in a chosen daily bucket.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a clock frozen at t, normalized to UTC the same way
// the real clock reports it.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the frozen instant forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set repins the frozen instant to t.
func (c *FakeClock) Set(t time.Time) {
	c.now = t.UTC()
}
