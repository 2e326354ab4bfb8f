package snapshot

import "testing"

func mkSnap(root string, entries ...Entry) *Snapshot {
	s := Empty(root)
	for _, e := range entries {
		s.entries[e.Identity] = e
		s.byPath[e.Path] = e.Identity
	}
	return s
}

func TestDiffIdempotentOnIdenticalSnapshots(t *testing.T) {
	s := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File})
	result := Diff(s, s)
	if len(result.Changes) != 0 {
		t.Fatalf("diff(S, S) should be empty, got %v", result.Changes)
	}
}

func TestDiffCreated(t *testing.T) {
	s1 := mkSnap("/root")
	s2 := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File})

	result := Diff(s1, s2)
	if len(result.Changes) != 1 || result.Changes[0].Kind != Created || result.Changes[0].Path != "/root/a" {
		t.Fatalf("got %v", result.Changes)
	}
}

func TestDiffDeleted(t *testing.T) {
	s1 := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File})
	s2 := mkSnap("/root")

	result := Diff(s1, s2)
	if len(result.Changes) != 1 || result.Changes[0].Kind != Deleted || result.Changes[0].Path != "/root/a" {
		t.Fatalf("got %v", result.Changes)
	}
}

func TestDiffMove(t *testing.T) {
	s1 := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File})
	s2 := mkSnap("/root", Entry{Path: "/root/b", Identity: Identity{0, 1}, Type: File})

	result := Diff(s1, s2)
	if len(result.Changes) != 1 {
		t.Fatalf("want a single Moved change, got %v", result.Changes)
	}
	c := result.Changes[0]
	if c.Kind != Moved || c.Path != "/root/a" || c.DestPath != "/root/b" {
		t.Fatalf("got %+v", c)
	}
}

func TestDiffOrderingDirsBeforeFilesOnCreate(t *testing.T) {
	s1 := mkSnap("/root")
	s2 := mkSnap("/root",
		Entry{Path: "/root/f", Identity: Identity{0, 1}, Type: File},
		Entry{Path: "/root/d", Identity: Identity{0, 2}, Type: Dir},
	)

	result := Diff(s1, s2)
	if len(result.Changes) != 2 {
		t.Fatalf("got %v", result.Changes)
	}
	if result.Changes[0].Path != "/root/d" || result.Changes[1].Path != "/root/f" {
		t.Fatalf("expected dir before file, got %v", result.Changes)
	}
}

func TestDiffOrderingFilesBeforeDirsOnDelete(t *testing.T) {
	s1 := mkSnap("/root",
		Entry{Path: "/root/f", Identity: Identity{0, 1}, Type: File},
		Entry{Path: "/root/d", Identity: Identity{0, 2}, Type: Dir},
	)
	s2 := mkSnap("/root")

	result := Diff(s1, s2)
	if len(result.Changes) != 2 {
		t.Fatalf("got %v", result.Changes)
	}
	if result.Changes[0].Path != "/root/f" || result.Changes[1].Path != "/root/d" {
		t.Fatalf("expected file before dir, got %v", result.Changes)
	}
}

func TestDiffModified(t *testing.T) {
	s1 := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File, Size: 10})
	s2 := mkSnap("/root", Entry{Path: "/root/a", Identity: Identity{0, 1}, Type: File, Size: 20})

	result := Diff(s1, s2)
	if len(result.Changes) != 1 || result.Changes[0].Kind != Modified {
		t.Fatalf("got %v", result.Changes)
	}
}
