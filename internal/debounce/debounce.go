// Package debounce coalesces bursts of events into at most one callback
// invocation per key per time window.
package debounce

import (
	"sync"
	"time"
)

// DefaultKey is used when callers have no natural per-event key.
const DefaultKey = "global"

// Debouncer fires fn(key) once per window for each key that saw at least one
// Trigger during that window. The first trigger arms a timer; triggers that
// land while the timer is pending are absorbed.
type Debouncer struct {
	window time.Duration
	fn     func(key string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// New creates a Debouncer. A non-positive window defaults to 100 ms.
func New(window time.Duration, fn func(key string)) *Debouncer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Debouncer{
		window:  window,
		fn:      fn,
		pending: make(map[string]*time.Timer),
	}
}

// Trigger records an event for key. The callback runs on a timer goroutine
// once the window elapses.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if _, armed := d.pending[key]; armed {
		return
	}
	d.pending[key] = time.AfterFunc(d.window, func() { d.fire(key) })
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fn(key)
	}
}

// Stop cancels all pending timers. Pending callbacks that have not started
// will not run; Trigger becomes a no-op.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
	}
}
