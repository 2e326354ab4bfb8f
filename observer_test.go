package fsobserve

import (
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/fsobserve/fsobserve/internal/ztest"
)

func kindsString(kinds []Kind) string {
	cp := make([]string, len(kinds))
	for i, k := range kinds {
		cp[i] = k.String()
	}
	sort.Strings(cp)
	return strings.Join(cp, "\n")
}

func assertKinds(t *testing.T, h *recordingHandler, want ...Kind) {
	t.Helper()
	waitForEvents()
	have := h.kinds()
	if d := ztest.Diff(kindsString(have), kindsString(want)); d != "" {
		t.Errorf("kinds mismatch:%s", d)
	}
}

func TestObserverScheduleAndStop(t *testing.T) {
	tmp := t.TempDir()
	o := newTestObserver(t)

	h := &recordingHandler{}
	watch, err := o.Schedule(tmp, false, nil, h)
	if err != nil {
		t.Fatalf("Schedule: %s", err)
	}
	if watch.Path != tmp {
		t.Fatalf("watch.Path = %q, want %q", watch.Path, tmp)
	}

	touch(t, tmp, "a.txt")
	assertKinds(t, h, FileCreated)
}

func TestObserverScheduleTwiceReturnsSameWatch(t *testing.T) {
	tmp := t.TempDir()
	o := newTestObserver(t)

	h1, h2 := &recordingHandler{}, &recordingHandler{}
	w1, err := o.Schedule(tmp, false, nil, h1)
	if err != nil {
		t.Fatalf("Schedule: %s", err)
	}
	w2, err := o.Schedule(tmp, false, nil, h2)
	if err != nil {
		t.Fatalf("Schedule: %s", err)
	}
	if w1.key() != w2.key() {
		t.Fatalf("scheduling the same path twice produced different watches: %v != %v", w1, w2)
	}

	touch(t, tmp, "a.txt")
	assertKinds(t, h1, FileCreated)
	assertKinds(t, h2, FileCreated)
}

func TestObserverRemoveHandlerForWatchUnschedulesWhenEmpty(t *testing.T) {
	tmp := t.TempDir()
	o := newTestObserver(t)

	h := &recordingHandler{}
	watch, err := o.Schedule(tmp, false, nil, h)
	if err != nil {
		t.Fatalf("Schedule: %s", err)
	}
	if err := o.RemoveHandlerForWatch(watch, h); err != nil {
		t.Fatalf("RemoveHandlerForWatch: %s", err)
	}

	touch(t, tmp, "a.txt")
	waitForEvents()
	if len(h.snapshot()) != 0 {
		t.Fatalf("handler still received events after its only handler was removed: %v", h.snapshot())
	}
}

func TestObserverUnscheduleIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	o := newTestObserver(t)

	h := &recordingHandler{}
	watch, err := o.Schedule(tmp, false, nil, h)
	if err != nil {
		t.Fatalf("Schedule: %s", err)
	}
	if err := o.Unschedule(watch); err != nil {
		t.Fatalf("first Unschedule: %s", err)
	}
	if err := o.Unschedule(watch); err != nil {
		t.Fatalf("second Unschedule on a dead watch should be a silent no-op: %s", err)
	}
}

func TestObserverEventFilterRestrictsDispatch(t *testing.T) {
	tmp := t.TempDir()
	o := newTestObserver(t)

	h := &recordingHandler{}
	filter := NewEventFilter(FileModified, DirModified)
	if _, err := o.Schedule(tmp, false, filter, h); err != nil {
		t.Fatalf("Schedule: %s", err)
	}

	touch(t, tmp, "a.txt")
	cat(t, "hello", tmp, "a.txt")
	waitForEvents()

	kinds := h.kinds()
	if containsKind(kinds, FileCreated) {
		t.Fatalf("filter should have dropped FileCreated, got %v", kinds)
	}
}

func TestObserverStartTwiceFails(t *testing.T) {
	o := newTestObserver(t)
	if err := o.Start(); err != ErrIllegalState {
		t.Fatalf("Start() on a running Observer = %v, want ErrIllegalState", err)
	}
}

func TestObserverScheduleAfterStopFails(t *testing.T) {
	tmp := t.TempDir()
	o := NewObserver()
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %s", err)
	}
	o.Join()

	if _, err := o.Schedule(tmp, false, nil, &recordingHandler{}); err != ErrIllegalState {
		t.Fatalf("Schedule() after Stop = %v, want ErrIllegalState", err)
	}
}

func TestObserverCreateThenDelete(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mv via exec.Command isn't available on windows; covered by os.Rename path")
	}
	tmp := t.TempDir()
	o := newTestObserver(t, WithMoveWindow(20*time.Millisecond))

	h := &recordingHandler{}
	if _, err := o.Schedule(tmp, false, nil, h); err != nil {
		t.Fatalf("Schedule: %s", err)
	}

	touch(t, tmp, "a.txt")
	rm(t, tmp, "a.txt")
	assertKinds(t, h, FileCreated, FileDeleted)
}

func TestHandlerFuncIsDistinctEachCall(t *testing.T) {
	a := HandlerFunc(func(Event) {})
	b := HandlerFunc(func(Event) {})
	if a == b {
		t.Fatal("two HandlerFunc values wrapping different closures should not compare equal")
	}
}

func TestFilteredHandlerDropsDisallowedKinds(t *testing.T) {
	inner := &recordingHandler{}
	f := &FilteredHandler{Inner: inner, Filter: NewEventFilter(FileCreated)}

	f.Dispatch(NewEvent(FileCreated, "/a", false, false))
	f.Dispatch(NewEvent(FileModified, "/a", false, false))

	got := inner.kinds()
	if len(got) != 1 || got[0] != FileCreated {
		t.Fatalf("kinds = %v, want [FileCreated]", got)
	}
}

func TestRouteDispatchesOnAnyEvent(t *testing.T) {
	var got []Event
	h := &anyEventRecorder{record: func(e Event) { got = append(got, e) }}

	route(h, NewEvent(FileCreated, "/a", false, false))
	if len(got) != 1 {
		t.Fatalf("OnAnyEvent called %d times, want 1", len(got))
	}
}

type anyEventRecorder struct{ record func(Event) }

func (a *anyEventRecorder) Dispatch(Event)     {}
func (a *anyEventRecorder) OnAnyEvent(e Event) { a.record(e) }
