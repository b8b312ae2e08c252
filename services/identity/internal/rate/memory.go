package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps windows in process. Use it for a single instance only.
type MemoryLimiter struct {
	mu           sync.Mutex
	entries      map[string]*entry
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type entry struct {
	count int
	reset time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{
		entries:      map[string]*entry{},
		cleanupEvery: time.Minute,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	if err := validRule(rule); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupEvery {
		for k, v := range l.entries {
			if !now.Before(v.reset) {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok || !now.Before(e.reset) {
		l.entries[key] = &entry{count: 1, reset: now.Add(rule.Window)}
		return Decision{Allowed: true, Remaining: rule.Limit - 1}, nil
	}

	if e.count >= rule.Limit {
		return Decision{Allowed: false, RetryAfter: e.reset.Sub(now)}, nil
	}

	e.count++
	return Decision{Allowed: true, Remaining: rule.Limit - e.count}, nil
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
