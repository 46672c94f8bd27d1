package catalog

import (
	"sync"
	"time"
)

// debouncer collapses rapid successive triggers into one callback after a
// quiet period. Every trigger restarts the timer.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{duration: duration}
}

// trigger schedules fn after the quiet period, cancelling any pending run.
func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// cancel drops any pending run.
func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
