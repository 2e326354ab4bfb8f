package fsobserve

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

// We wait a little bit after most commands; gives the system some time to
// sync things and makes things more consistent across platforms.
func eventSeparator() { time.Sleep(50 * time.Millisecond) }
func waitForEvents()  { time.Sleep(500 * time.Millisecond) }

// mkdir
func mkdir(t *testing.T, path ...string) {
	t.Helper()
	if err := os.Mkdir(filepath.Join(path...), 0o0755); err != nil {
		t.Fatalf("mkdir(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// ln -s
func symlink(t *testing.T, target string, link ...string) {
	t.Helper()
	if err := os.Symlink(target, filepath.Join(link...)); err != nil {
		t.Fatalf("symlink(%q, %q): %s", target, filepath.Join(link...), err)
	}
	eventSeparator()
}

// cat
func cat(t *testing.T, data string, path ...string) {
	t.Helper()
	fp, err := os.OpenFile(filepath.Join(path...), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		t.Fatalf("cat(%q): %s", filepath.Join(path...), err)
	}
	if _, err := fp.WriteString(data); err != nil {
		t.Fatalf("cat(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Sync(); err != nil {
		t.Fatalf("cat(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("cat(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// touch
func touch(t *testing.T, path ...string) {
	t.Helper()
	fp, err := os.Create(filepath.Join(path...))
	if err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// mv
func mv(t *testing.T, src string, dst ...string) {
	t.Helper()
	var err error
	switch runtime.GOOS {
	case "windows", "plan9":
		err = os.Rename(src, filepath.Join(dst...))
	default:
		err = exec.Command("mv", src, filepath.Join(dst...)).Run()
	}
	if err != nil {
		t.Fatalf("mv(%q, %q): %s", src, filepath.Join(dst...), err)
	}
	eventSeparator()
}

// rm
func rm(t *testing.T, path ...string) {
	t.Helper()
	if err := os.Remove(filepath.Join(path...)); err != nil {
		t.Fatalf("rm(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// rm -r
func rmAll(t *testing.T, path ...string) {
	t.Helper()
	if err := os.RemoveAll(filepath.Join(path...)); err != nil {
		t.Fatalf("rmAll(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// chmod
func chmod(t *testing.T, mode fs.FileMode, path ...string) {
	t.Helper()
	if err := os.Chmod(filepath.Join(path...), mode); err != nil {
		t.Fatalf("chmod(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// recordingHandler collects every event dispatched to it, safe for a test
// goroutine to read from after waitForEvents while the dispatcher goroutine
// is still writing to it concurrently.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Dispatch(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) kinds() []Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Kind, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func containsKind(kinds []Kind, want Kind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// newTestObserver constructs a started Observer with a short move window,
// scoped to the test's lifetime: Stop+Join run automatically on cleanup.
func newTestObserver(t *testing.T, opts ...Option) *Observer {
	t.Helper()
	o := NewObserver(append([]Option{WithMoveWindow(10 * time.Millisecond)}, opts...)...)
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	t.Cleanup(func() {
		o.Stop()
		o.Join()
	})
	return o
}
