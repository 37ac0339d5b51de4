package projector

import (
	"sync"
	"time"
)

// DebounceDelay is how long a raw query must sit unchanged before it
// commits to the view filter.
const DebounceDelay = 300 * time.Millisecond

// Debouncer delays search-query commits so per-keystroke updates do not
// recompute the view. Set replaces any pending commit; only the last value
// within the window fires.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	commit  func(string)
	stopped bool
}

func NewDebouncer(delay time.Duration, commit func(string)) *Debouncer {
	if delay <= 0 {
		delay = DebounceDelay
	}
	return &Debouncer{delay: delay, commit: commit}
}

// Set schedules value to commit after the delay, replacing any pending value.
func (d *Debouncer) Set(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.commit(value)
		}
	})
}

// Flush commits any pending value immediately.
func (d *Debouncer) Flush(value string) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.commit(value)
	}
}

// Stop cancels any pending commit and blocks further ones.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
