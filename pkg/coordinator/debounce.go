package coordinator

import (
	"sync"
	"time"
)

// debouncer runs fn once cooldown has passed since the first Trigger of a
// burst. Triggers that arrive while a run is pending are absorbed.
type debouncer struct {
	cooldown time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(cooldown time.Duration, fn func()) *debouncer {
	return &debouncer{cooldown: cooldown, fn: fn}
}

// Trigger schedules fn unless a run is already pending.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.cooldown, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fn()
	}
}

// Pending reports whether a run is scheduled.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels a pending run and ignores later triggers.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
