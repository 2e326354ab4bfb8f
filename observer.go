package fsobserve

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fsobserve/fsobserve/queue"
)

// Default tunables, overridden by functional options. Grounded on the
// teacher's WithBufferSize-style options (fsnotify.go's withOpts).
const (
	defaultPollInterval = time.Second
	defaultMoveWindow   = 10 * time.Millisecond
)

// Option configures an [Observer]. Modeled on the teacher's functional
// options (fsnotify.go: WithBufferSize, withOps) generalized from one knob
// to the observer-wide set spec.md §9 resolves its Open Questions into.
type Option func(*observerConfig)

type observerConfig struct {
	logger       *slog.Logger
	pollInterval time.Duration
	moveWindow   time.Duration
	fileEvents   bool
}

// WithLogger sets the [log/slog.Logger] the Observer and its emitters log
// through. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *observerConfig) { c.logger = logger }
}

// WithPollInterval sets the directory re-scan interval used by the polling
// backend. Ignored by kernel-notification backends.
func WithPollInterval(d time.Duration) Option {
	return func(c *observerConfig) { c.pollInterval = d }
}

// WithMoveWindow sets how long the inotify backend holds an IN_MOVED_FROM
// waiting for its same-cookie IN_MOVED_TO before emitting it as a plain
// delete (spec.md §9's move-pairing Open Question). An IN_MOVED_TO with no
// held partner is emitted as a create at once, so a rename whose halves
// arrive further apart than the window degrades to delete+create. Default
// 10ms; wider windows pair more renames correctly at the cost of latency.
// Other backends ignore it.
func WithMoveWindow(d time.Duration) Option {
	return func(c *observerConfig) { c.moveWindow = d }
}

// WithFileEvents enables FileOpened/FileClosed/DirOpened/DirClosed
// delivery. Off by default (spec.md §9): most consumers only care about
// content changes, and open/close notifications are the highest-volume
// event class on Linux in particular.
func WithFileEvents(enabled bool) Option {
	return func(c *observerConfig) { c.fileEvents = enabled }
}

// Observer is the engine root: it owns the watch registry, the shared
// event queue, the dispatcher goroutine, and every live backend emitter.
// The zero value is not usable; construct with [NewObserver].
//
// Grounded on the teacher's Watcher (fsnotify.go) generalized from "one
// backend instance" to "one registry of (watch, emitter) pairs feeding a
// shared dispatcher", per spec.md §3's Observer Kernel.
type Observer struct {
	cfg      observerConfig
	registry *watchRegistry
	queue    *queue.Queue[taggedEvent]
	disp     *dispatcher

	mu      sync.Mutex
	state   observerState
	group   *errgroup.Group
	groupCx context.CancelFunc
}

type observerState uint8

const (
	stateIdle observerState = iota
	stateRunning
	stateStopped
)

// NewObserver constructs an Observer. Schedule may be called before Start;
// watches registered before Start begin emitting once Start runs.
func NewObserver(opts ...Option) *Observer {
	cfg := observerConfig{
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		moveWindow:   defaultMoveWindow,
		fileEvents:   false,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	registry := newWatchRegistry()
	disp, q := newDispatcher(registry, cfg.logger)
	return &Observer{
		cfg:      cfg,
		registry: registry,
		queue:    q,
		disp:     disp,
		state:    stateIdle,
	}
}

func (o *Observer) backendConfig() backendConfig {
	return backendConfig{
		logger:       o.cfg.logger,
		pollInterval: o.cfg.pollInterval,
		moveWindow:   o.cfg.moveWindow,
		fileEvents:   o.cfg.fileEvents,
	}
}

// Start launches the dispatcher goroutine and every emitter for watches
// already scheduled. Calling Start twice, or after Stop, returns
// [ErrIllegalState].
func (o *Observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateIdle {
		return ErrIllegalState
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(ctx)
	o.group = group
	o.groupCx = cancel
	o.state = stateRunning

	group.Go(func() error {
		o.disp.run(o.queue)
		return nil
	})

	for _, w := range o.registry.all() {
		if err := o.startEmitterLocked(w); err != nil {
			o.cfg.logger.Error("starting emitter", "watch", w, "error", err)
		}
	}
	return nil
}

// Schedule begins observing path. Calling Schedule again with the same
// (path, recursive) pair attaches handler to the existing watch instead of
// creating a second backend resource (spec.md §3). The returned
// ObservedWatch is the handle used for AddHandlerForWatch,
// RemoveHandlerForWatch, and Unschedule.
func (o *Observer) Schedule(path string, recursive bool, filter EventFilter, handler Handler) (ObservedWatch, error) {
	canon, err := canonicalize(path)
	if err != nil {
		return ObservedWatch{}, err
	}
	if _, err := os.Lstat(canon); err != nil {
		return ObservedWatch{}, err
	}
	watch := ObservedWatch{Path: canon, Recursive: recursive, Filter: filter}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == stateStopped {
		return ObservedWatch{}, ErrIllegalState
	}

	if existing, ok := o.registry.find(watch.key()); ok {
		o.registry.addHandler(existing.key(), handler)
		return existing, nil
	}

	e, err := newEmitter(watch, o.backendConfig())
	if err != nil {
		return ObservedWatch{}, err
	}
	o.registry.register(watch, e, handler)
	if o.state == stateRunning {
		if err := o.startEmitterLocked(watch); err != nil {
			o.registry.remove(watch.key())
			return ObservedWatch{}, err
		}
	}
	return watch, nil
}

// startEmitterLocked starts the emitter already registered for w. Caller
// holds o.mu.
func (o *Observer) startEmitterLocked(w ObservedWatch) error {
	e := o.registry.emitterFor(w.key())
	if e == nil {
		return nil
	}
	return e.start(&keyedQueue{inner: o.queue, key: w.key(), observer: o})
}

// AddHandlerForWatch attaches handler to an already-scheduled watch.
// Returns [ErrNonExistentWatch] if watch is unknown.
func (o *Observer) AddHandlerForWatch(watch ObservedWatch, handler Handler) error {
	if !o.registry.addHandler(watch.key(), handler) {
		return ErrNonExistentWatch
	}
	return nil
}

// RemoveHandlerForWatch detaches handler from watch. If that empties the
// watch's handler set, the watch is unscheduled and its emitter stopped,
// per spec.md §3. Removing a handler that was never attached, or from a
// watch that no longer exists, is a silent no-op.
func (o *Observer) RemoveHandlerForWatch(watch ObservedWatch, handler Handler) error {
	e, becameEmpty := o.registry.removeHandler(watch.key(), handler)
	if becameEmpty && e != nil {
		return e.stop()
	}
	return nil
}

// Unschedule stops observing watch entirely, regardless of how many
// handlers remain attached. Calling Unschedule on an already-dead watch
// succeeds silently (spec.md §7).
func (o *Observer) Unschedule(watch ObservedWatch) error {
	e := o.registry.remove(watch.key())
	if e == nil {
		return nil
	}
	return e.stop()
}

// UnscheduleAll stops every live watch.
func (o *Observer) UnscheduleAll() error {
	var firstErr error
	for _, w := range o.registry.all() {
		if err := o.Unschedule(w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop unschedules every watch, closes the event queue, and signals the
// dispatcher to exit. It does not block for the dispatcher to finish; call
// Join after Stop to wait.
func (o *Observer) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateRunning {
		return ErrIllegalState
	}
	o.state = stateStopped
	err := o.UnscheduleAll()
	o.queue.Close()
	if o.groupCx != nil {
		o.groupCx()
	}
	return err
}

// Join blocks until the dispatcher goroutine launched by Start has
// returned.
func (o *Observer) Join() error {
	o.mu.Lock()
	group := o.group
	o.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// keyedQueue adapts the shared taggedEvent queue to the [EventSink]
// interface emitters are written against, tagging every Put with the
// watch it belongs to. Emitters never see watchKey directly — they only
// know their own watch — keeping backend_*.go decoupled from the
// registry's internal key type.
type keyedQueue struct {
	inner    *queue.Queue[taggedEvent]
	key      watchKey
	observer *Observer
}

func (k *keyedQueue) Put(event Event) error {
	return k.inner.Put(taggedEvent{event: event, key: k.key})
}

// Fail hands the watch off to the Observer for unscheduling. It runs in a
// new goroutine because the backend calling Fail is very often doing so
// from inside its own event-reading goroutine, which Observer.failWatch's
// call to Unschedule (and so emitter.stop) must not block on.
func (k *keyedQueue) Fail(err error) {
	go k.observer.failWatch(k.key, err)
}

// failWatch logs a terminal [WatchError] for key and unschedules it. A
// watch already gone (e.g. the caller races a concurrent Unschedule) is a
// silent no-op, matching Unschedule's own idempotence (spec.md §7).
func (o *Observer) failWatch(key watchKey, cause error) {
	watch, ok := o.registry.find(key)
	if !ok {
		return
	}
	werr := &WatchError{Watch: watch, Err: cause}
	o.cfg.logger.Error("watch failed", "error", werr)
	if err := o.Unschedule(watch); err != nil {
		o.cfg.logger.Error("unscheduling failed watch", "watch", watch, "error", err)
	}
}
