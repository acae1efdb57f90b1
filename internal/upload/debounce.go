package upload

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of triggers into a single callback fired after a
// quiet period. Used so a batch of completions produces exactly one
// directory-refresh notification instead of one per file.
type debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	fn    func()
	timer *time.Timer
}

func newDebouncer(quiet time.Duration, fn func()) *debouncer {
	return &debouncer{
		quiet: quiet,
		fn:    fn,
	}
}

// Trigger (re)starts the quiet period.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fn)
}

// Stop cancels any pending callback.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
