package fsobserve

import (
	"sync"

	"github.com/fsobserve/fsobserve/internal/util"
)

// watchRegistry maps ObservedWatch → handler set, path → watch set, and
// ObservedWatch → emitter, directly grounded on the teacher's watches
// struct in backend_inotify.go (wd map[uint32]*watch, path
// map[string]uint32, mu sync.RWMutex, add/remove/byPath). All mutation goes
// through mu so scheduling and dispatch never observe an intermediate
// state, per spec.md §5. Each watch's handler set is an OrderedSet so
// dispatch order matches the order handlers were scheduled in, and adding
// the same handler twice is a no-op rather than a duplicate delivery.
type watchRegistry struct {
	mu sync.RWMutex

	byKey    map[watchKey]*ObservedWatch
	handlers map[watchKey]*util.OrderedSet[Handler]
	emitters map[watchKey]emitter
	byPath   map[string]map[watchKey]bool
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		byKey:    make(map[watchKey]*ObservedWatch),
		handlers: make(map[watchKey]*util.OrderedSet[Handler]),
		emitters: make(map[watchKey]emitter),
		byPath:   make(map[string]map[watchKey]bool),
	}
}

// find returns the existing watch for key, if any.
func (r *watchRegistry) find(key watchKey) (ObservedWatch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byKey[key]
	if !ok {
		return ObservedWatch{}, false
	}
	return *w, true
}

// register adds watch with its emitter and attaches handler. Returns
// whether the watch was newly created (vs. already present).
func (r *watchRegistry) register(w ObservedWatch, e emitter, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := w.key()
	_, existed := r.byKey[key]
	if !existed {
		r.byKey[key] = &w
		r.emitters[key] = e
		r.handlers[key] = util.NewOrderedSet[Handler]()
		if r.byPath[w.Path] == nil {
			r.byPath[w.Path] = map[watchKey]bool{}
		}
		r.byPath[w.Path][key] = true
	}
	r.handlers[key].Add(h)
	return !existed
}

// addHandler attaches h to an already-registered watch. Returns false if
// the watch doesn't exist.
func (r *watchRegistry) addHandler(key watchKey, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.handlers[key]
	if !ok {
		return false
	}
	set.Add(h)
	return true
}

// removeHandler detaches h from key. Returns the emitter to stop and true
// if the watch's handler set became empty as a result (spec.md §3: "An
// empty handler set for a watch causes the watch to be unscheduled").
func (r *watchRegistry) removeHandler(key watchKey, h Handler) (emitter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[key]
	if !ok {
		return nil, false
	}
	set.Remove(h)
	if set.Len() > 0 {
		return nil, false
	}
	return r.removeLocked(key), true
}

// remove deletes key entirely (handlers, emitter, path index) and returns
// the emitter to stop, or nil if the watch didn't exist.
func (r *watchRegistry) remove(key watchKey) emitter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key)
}

func (r *watchRegistry) removeLocked(key watchKey) emitter {
	w, ok := r.byKey[key]
	if !ok {
		return nil
	}
	e := r.emitters[key]
	delete(r.byKey, key)
	delete(r.handlers, key)
	delete(r.emitters, key)
	if set := r.byPath[w.Path]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(r.byPath, w.Path)
		}
	}
	return e
}

// emitterFor returns the emitter registered for key, or nil.
func (r *watchRegistry) emitterFor(key watchKey) emitter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emitters[key]
}

// handlersFor returns a snapshot of the handlers registered for key, in the
// order they were scheduled.
func (r *watchRegistry) handlersFor(key watchKey) []Handler {
	r.mu.RLock()
	set, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return set.Items()
}

// all returns every live watch, for unscheduleAll.
func (r *watchRegistry) all() []ObservedWatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ObservedWatch, 0, len(r.byKey))
	for _, w := range r.byKey {
		out = append(out, *w)
	}
	return out
}
