package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// localCounters is the in-process fallback: one fixed window per key that
// resets when its start predates now - window. Coarser than the sorted-set
// path but it keeps limiting functional while redis is down.
type localCounters struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

func newLocalCounters(limit int, window time.Duration) *localCounters {
	return &localCounters{
		limit:   limit,
		window:  window,
		entries: make(map[string]*localWindow),
	}
}

func (c *localCounters) check(key string, now time.Time) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.start.Before(now.Add(-c.window)) {
		e = &localWindow{start: now}
		c.entries[key] = e
	}
	e.count++

	// Self-prune occasionally so abandoned keys don't accumulate.
	if rand.Intn(64) == 0 {
		c.pruneLocked(now)
	}

	remaining := c.limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   e.count <= c.limit,
		Limit:     c.limit,
		Remaining: remaining,
		ResetAt:   e.start.Add(c.window),
	}
}

func (c *localCounters) pruneLocked(now time.Time) {
	stale := now.Add(-2 * c.window)
	for k, e := range c.entries {
		if e.start.Before(stale) {
			delete(c.entries, k)
		}
	}
}
