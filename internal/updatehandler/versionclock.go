package updatehandler

import (
	"sync"
	"time"
)

// versionClock assigns monotonically increasing versions when a leader
// add/delete carries no assigned version (Version == 0).
// Seeded from wall-clock nanoseconds and bumped under a mutex so two
// concurrent assignments never collide, the same "clock-ish" version
// source real optimistic-concurrency update logs use.
type versionClock struct {
	mu   sync.Mutex
	last int64
}

func newVersionClock() *versionClock {
	return &versionClock{last: time.Now().UnixNano()}
}

func (c *versionClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}
