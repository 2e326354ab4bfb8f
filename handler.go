package fsobserve

// Handler receives events dispatched from a watch it's attached to.
// Dispatch must not block for long: the dispatcher calls every handler for
// an event sequentially (spec.md §5), so a slow handler backpressures the
// whole observer.
//
// Handler values are compared by == when attaching/detaching (so the same
// handler isn't registered twice, and removeHandler can find the right
// one to drop) — implement Handler on a pointer type, or a value type with
// only comparable fields, the way [HandlerFunc] wraps a plain function in a
// pointer underneath.
type Handler interface {
	Dispatch(Event)
}

// Several small one-method interfaces a Handler may additionally implement
// for per-variant routing, discovered via type assertion at dispatch time
// rather than reflective on_<event> name lookup (spec.md §9's redesign of
// the Python source's dynamic method lookup). A handler that doesn't
// implement any of these still receives every event through Dispatch.
type (
	CreatedHandler  interface{ OnCreated(Event) }
	DeletedHandler  interface{ OnDeleted(Event) }
	ModifiedHandler interface{ OnModified(Event) }
	MovedHandler    interface{ OnMoved(Event) }
	OpenedHandler   interface{ OnOpened(Event) }
	ClosedHandler   interface{ OnClosed(Event) }
	AnyEventHandler interface{ OnAnyEvent(Event) }
)

// route calls the per-variant callback matching event.Kind, if h implements
// it, then always calls OnAnyEvent if h implements that too. It does not
// call Dispatch: the dispatcher (dispatcher.invoke) calls h.Dispatch and
// then route(h, event) for every handler, so Dispatch implementations do
// not call route themselves.
func route(h Handler, event Event) {
	switch event.Kind {
	case FileCreated, DirCreated:
		if hh, ok := h.(CreatedHandler); ok {
			hh.OnCreated(event)
		}
	case FileDeleted, DirDeleted:
		if hh, ok := h.(DeletedHandler); ok {
			hh.OnDeleted(event)
		}
	case FileModified, DirModified:
		if hh, ok := h.(ModifiedHandler); ok {
			hh.OnModified(event)
		}
	case FileMoved, DirMoved:
		if hh, ok := h.(MovedHandler); ok {
			hh.OnMoved(event)
		}
	case FileOpened, DirOpened:
		if hh, ok := h.(OpenedHandler); ok {
			hh.OnOpened(event)
		}
	case FileClosed, DirClosed, FileClosedNoWrite, DirClosedNoWrite:
		if hh, ok := h.(ClosedHandler); ok {
			hh.OnClosed(event)
		}
	}
	if hh, ok := h.(AnyEventHandler); ok {
		hh.OnAnyEvent(event)
	}
}

// funcHandler adapts a plain function to Handler. It's a pointer type so
// two funcHandler values are never accidentally == (each call to
// [HandlerFunc] produces a distinct, individually removable handler).
type funcHandler struct {
	fn func(Event)
}

// HandlerFunc adapts fn to a [Handler] whose Dispatch calls fn for every
// event. The returned Handler implements none of the On* callbacks. Keep
// the returned Handler if you intend to unschedule it later — a second
// call to HandlerFunc with the same fn produces a distinct handler
// identity.
func HandlerFunc(fn func(Event)) Handler {
	return &funcHandler{fn: fn}
}

func (f *funcHandler) Dispatch(event Event) { f.fn(event) }

// FilteredHandler wraps an inner Handler, forwarding only events whose Kind
// passes filter. Use it to filter independent of a watch's own EventFilter
// — e.g. one physical watch feeding several handlers with different
// interests.
type FilteredHandler struct {
	Inner  Handler
	Filter EventFilter
}

func (f *FilteredHandler) Dispatch(event Event) {
	if f.Filter.Allows(event.Kind) {
		f.Inner.Dispatch(event)
	}
}
