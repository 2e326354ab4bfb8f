package fsobserve

import (
	"log/slog"
	"time"

	"github.com/fsobserve/fsobserve/queue"
)

// dispatcher drains a single shared [queue.Queue] and fans each [Event] out
// to the handlers registered for the watch it belongs to. One dispatcher
// goroutine per Observer, grounded on the teacher's single readEvents
// goroutine per Watcher (backend_inotify.go, windows.go) generalized from
// "one backend, one reader" to "N backends, one fan-out point" since
// fsobserve multiplexes several watches' emitters onto one queue.
type dispatcher struct {
	registry *watchRegistry
	logger   *slog.Logger
}

// taggedEvent is what emitters actually enqueue: the public Event plus the
// watchKey it was produced for. queue.Queue is generic over any T, so this
// stays internal without needing a second queue type.
type taggedEvent struct {
	event Event
	key   watchKey
}

func taggedEqual(a, b taggedEvent) bool {
	return a.key == b.key && a.event.equalStructural(b.event)
}

func newDispatcher(registry *watchRegistry, logger *slog.Logger) (*dispatcher, *queue.Queue[taggedEvent]) {
	q := queue.New(defaultQueueCapacity, taggedEqual)
	return &dispatcher{registry: registry, logger: logger}, q
}

const defaultQueueCapacity = 4096

// run drains q until it's closed, delivering each entry to the handlers of
// the watch it was tagged for. A handler panic is recovered and logged,
// never stopping the dispatcher (spec.md §5: one misbehaving handler must
// not take down unrelated watches).
func (d *dispatcher) run(q *queue.Queue[taggedEvent]) {
	for {
		te, err := q.Get(dispatchPollInterval)
		if err != nil {
			if err == queue.ErrClosed {
				return
			}
			continue // timeout: loop and check again
		}
		d.deliver(te)
	}
}

// dispatchPollInterval bounds how long run blocks in Get before re-checking
// for closure; it is not an event-latency knob, since q.Put wakes a
// blocked Get immediately.
const dispatchPollInterval = 250 * time.Millisecond

func (d *dispatcher) deliver(te taggedEvent) {
	watch, ok := d.registry.find(te.key)
	if !ok {
		return // watch was unscheduled between enqueue and drain
	}
	if !watch.Filter.Allows(te.event.Kind) {
		return
	}
	for _, h := range d.registry.handlersFor(te.key) {
		d.invoke(h, te.event, watch)
	}
}

func (d *dispatcher) invoke(h Handler, event Event, watch ObservedWatch) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "watch", watch, "event", event, "panic", r)
		}
	}()
	h.Dispatch(event)
	route(h, event)
}
