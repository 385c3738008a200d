package workerloop

import (
	"context"
	"sync"
	"time"
)

// NeverUpdateChecker always reports no update available, the default
// for a worker with no process supervisor wired in front of it (e.g.
// under test, or a dev box per original_source/auto_updater.py's own
// "not on gcp, assume dev" short-circuit).
type NeverUpdateChecker struct{}

func (NeverUpdateChecker) ShouldUpdate(context.Context) bool { return false }

// IntervalUpdateChecker gates a real check function behind a minimum
// polling interval, generalized from auto_updater.py's
// last_update_check_time bookkeeping. The git-pull mechanics that
// function used to decide "is there a new revision" are out of scope
// here (SPEC_FULL.md §1 Out of scope); Check supplies just that
// yes/no answer, e.g. by comparing the running binary's build id
// against a version file the process supervisor writes.
type IntervalUpdateChecker struct {
	Interval time.Duration
	Check    func(ctx context.Context) bool

	mu   sync.Mutex
	last time.Time
}

// ShouldUpdate calls Check at most once per Interval; it returns
// false between checks without re-invoking Check.
func (c *IntervalUpdateChecker) ShouldUpdate(ctx context.Context) bool {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.last) < c.Interval {
		c.mu.Unlock()
		return false
	}
	c.last = now
	c.mu.Unlock()

	return c.Check(ctx)
}
