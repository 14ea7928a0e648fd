package detect

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum interval between two emissions of the same
// key. Callers pass the event time so synthetic streams stay deterministic.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}

// Debounce counts consecutive hits per key. A condition must hold for the
// configured number of samples before it is acted on; any break resets the
// run to zero.
type Debounce struct {
	counts map[string]int
}

func NewDebounce() *Debounce {
	return &Debounce{counts: make(map[string]int)}
}

// Hit records one more consecutive sample for key and returns the run length.
func (d *Debounce) Hit(key string) int {
	d.counts[key]++
	return d.counts[key]
}

func (d *Debounce) Count(key string) int {
	return d.counts[key]
}

func (d *Debounce) Reset(key string) {
	delete(d.counts, key)
}

func (d *Debounce) ResetAll() {
	d.counts = make(map[string]int)
}
