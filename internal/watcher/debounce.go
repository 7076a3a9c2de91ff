package watcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the delay used when none is given.
const DefaultDebounce = 100 * time.Millisecond

// Debouncer wraps a Source and delivers one event per path per quiet
// period. The operations seen during the period are merged.
type Debouncer struct {
	inner Source
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool

	events  chan Event
	errors  chan error
	closeCh chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncer starts debouncing inner. A non-positive delay selects
// DefaultDebounce.
func NewDebouncer(inner Source, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	d := &Debouncer{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, defaultBufferSize),
		errors:  make(chan error, defaultBufferSize),
		closeCh: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Add watches dir through the wrapped source.
func (d *Debouncer) Add(dir string) error {
	return d.inner.Add(dir)
}

// Events returns the debounced event channel.
func (d *Debouncer) Events() <-chan Event {
	return d.events
}

// Errors returns the wrapped source's errors.
func (d *Debouncer) Errors() <-chan error {
	return d.errors
}

// Close drops pending events and closes the wrapped source.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeCh)
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	err := d.inner.Close()
	d.wg.Wait()
	close(d.events)
	close(d.errors)
	return err
}

// Flush delivers every pending event now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.fire(path)
	}
}

// Dropped returns the number of merged events lost to a full buffer.
func (d *Debouncer) Dropped() uint64 {
	return d.dropped.Load()
}

// Pending returns the number of paths waiting for their quiet period.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) loop() {
	defer d.wg.Done()
	events, errs := d.inner.Events(), d.inner.Errors()
	for events != nil || errs != nil {
		select {
		case <-d.closeCh:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.queue(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.mu.Lock()
			if !d.closed {
				select {
				case d.errors <- err:
				default:
				}
			}
			d.mu.Unlock()
		}
	}
}

func (d *Debouncer) queue(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if p, ok := d.pending[ev.Path]; ok {
		p.event.Op |= ev.Op
		p.event.Time = ev.Time
		p.timer.Reset(d.delay)
		return
	}

	path := ev.Path
	d.pending[path] = &pendingEvent{
		event: ev,
		timer: time.AfterFunc(d.delay, func() { d.fire(path) }),
	}
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[path]
	if !ok || d.closed {
		return
	}
	delete(d.pending, path)

	select {
	case d.events <- p.event:
	default:
		d.dropped.Add(1)
		select {
		case d.errors <- fmt.Errorf("%w: %s", ErrEventDropped, path):
		default:
		}
	}
}

var _ Source = (*Debouncer)(nil)
