package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdir(t *testing.T, path ...string) {
	t.Helper()
	if err := os.Mkdir(filepath.Join(path...), 0o755); err != nil {
		t.Fatalf("mkdir(%q): %s", filepath.Join(path...), err)
	}
}

func touch(t *testing.T, path ...string) {
	t.Helper()
	fp, err := os.Create(filepath.Join(path...))
	if err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
}

func TestWalkRecordsRootAndChildren(t *testing.T) {
	tmp := t.TempDir()
	mkdir(t, tmp, "d")
	touch(t, tmp, "a")
	touch(t, tmp, "d", "b")

	w := NewWalker()
	snap, err := w.Walk(tmp, true)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{tmp, filepath.Join(tmp, "d"), filepath.Join(tmp, "a"), filepath.Join(tmp, "d", "b")} {
		if _, ok := snap.ByPath(want); !ok {
			t.Errorf("missing entry for %q", want)
		}
	}
	if snap.Len() != 4 {
		t.Errorf("got %d entries, want 4", snap.Len())
	}
}

func TestWalkNonRecursiveSkipsGrandchildren(t *testing.T) {
	tmp := t.TempDir()
	mkdir(t, tmp, "d")
	touch(t, tmp, "d", "b")

	w := NewWalker()
	snap, err := w.Walk(tmp, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := snap.ByPath(filepath.Join(tmp, "d")); !ok {
		t.Error("expected top-level dir to be recorded")
	}
	if _, ok := snap.ByPath(filepath.Join(tmp, "d", "b")); ok {
		t.Error("non-recursive walk should not descend into subdirectories")
	}
}

func TestWalkSkipsUnreadableDirWithoutFailing(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can read anything; permission test is meaningless")
	}
	tmp := t.TempDir()
	mkdir(t, tmp, "locked")
	touch(t, tmp, "locked", "secret")
	if err := os.Chmod(filepath.Join(tmp, "locked"), 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(filepath.Join(tmp, "locked"), 0o755)

	w := NewWalker()
	snap, err := w.Walk(tmp, true)
	if err != nil {
		t.Fatalf("walk should not fail on an unreadable subdirectory: %s", err)
	}
	if _, ok := snap.ByPath(filepath.Join(tmp, "locked")); !ok {
		t.Error("the unreadable directory itself should still be recorded")
	}
	if _, ok := snap.ByPath(filepath.Join(tmp, "locked", "secret")); ok {
		t.Error("contents of an unreadable directory should be skipped, not errored")
	}
}

func TestWalkDiffRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	w := NewWalker()

	s1, err := w.Walk(tmp, true)
	if err != nil {
		t.Fatal(err)
	}
	touch(t, tmp, "a")
	s2, err := w.Walk(tmp, true)
	if err != nil {
		t.Fatal(err)
	}

	result := Diff(s1, s2)
	if len(result.Changes) != 1 || result.Changes[0].Kind != Created || result.Changes[0].Path != filepath.Join(tmp, "a") {
		t.Fatalf("got %v", result.Changes)
	}
}
