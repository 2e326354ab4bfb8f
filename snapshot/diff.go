package snapshot

// ChangeKind mirrors the subset of event kinds the differ can produce;
// callers (the polling backend, and catch-up walks in the other backends)
// translate these into the canonical fsobserve.Event/Kind pairing, keeping
// this package free of a dependency on the event model.
type ChangeKind uint8

const (
	Created ChangeKind = iota
	Deleted
	Modified
	Moved
)

// Change is one diff result. For Moved, Path is the old path and DestPath
// the new one.
type Change struct {
	Kind     ChangeKind
	Path     string
	DestPath string
	IsDir    bool
}

// DiffResult is the output of [Diff]: an ordered sequence of changes plus a
// hint for callers that want to degrade to a coarse catch-up event instead
// of enumerating an enormous diff (see spec.md §4.2 note on overflow
// degradation, added in SPEC_FULL.md §5.2).
type DiffResult struct {
	Changes      []Change
	OverflowHint bool
}

// OverflowCeiling is the default number of raw identity-level differences
// above which DiffResult.OverflowHint is set.
const OverflowCeiling = 10000

// Diff compares prev and cur, two snapshots of the same root, and returns
// the sequence of changes that would transform prev into cur, per the
// ordering spec.md §4.2 mandates:
//
//  1. identity set difference: created, deleted, common
//  2. moves: same identity, different path in prev vs cur
//  3. remaining creations: directories first, then files
//  4. remaining deletions: files first, then directories
//  5. modifications (mtime or size changed) for common entries
//
// Overall order: creations, then modifications, then deletions, with moves
// reported first since they must be taken out of the created/deleted sets
// before those are enumerated.
func Diff(prev, cur *Snapshot) DiffResult {
	var result DiffResult

	created := map[Identity]Entry{}
	for id, e := range cur.entries {
		if _, ok := prev.entries[id]; !ok {
			created[id] = e
		}
	}
	deleted := map[Identity]Entry{}
	for id, e := range prev.entries {
		if _, ok := cur.entries[id]; !ok {
			deleted[id] = e
		}
	}

	if len(created)+len(deleted) > OverflowCeiling {
		result.OverflowHint = true
	}

	var moves []Change
	for id, curE := range cur.entries {
		prevE, ok := prev.entries[id]
		if !ok || prevE.Path == curE.Path {
			continue
		}
		moves = append(moves, Change{
			Kind:     Moved,
			Path:     prevE.Path,
			DestPath: curE.Path,
			IsDir:    curE.IsDir(),
		})
		delete(created, id)
		delete(deleted, id)
	}

	var createdDirs, createdFiles []Change
	for _, e := range created {
		c := Change{Kind: Created, Path: e.Path, IsDir: e.IsDir()}
		if e.IsDir() {
			createdDirs = append(createdDirs, c)
		} else {
			createdFiles = append(createdFiles, c)
		}
	}

	var deletedFiles, deletedDirs []Change
	for _, e := range deleted {
		c := Change{Kind: Deleted, Path: e.Path, IsDir: e.IsDir()}
		if e.IsDir() {
			deletedDirs = append(deletedDirs, c)
		} else {
			deletedFiles = append(deletedFiles, c)
		}
	}

	var modified []Change
	for id, curE := range cur.entries {
		prevE, ok := prev.entries[id]
		if !ok || prevE.Path != curE.Path {
			continue
		}
		if !prevE.ModTime.Equal(curE.ModTime) || prevE.Size != curE.Size {
			modified = append(modified, Change{Kind: Modified, Path: curE.Path, IsDir: curE.IsDir()})
		}
	}

	result.Changes = append(result.Changes, moves...)
	result.Changes = append(result.Changes, createdDirs...)
	result.Changes = append(result.Changes, createdFiles...)
	result.Changes = append(result.Changes, modified...)
	result.Changes = append(result.Changes, deletedFiles...)
	result.Changes = append(result.Changes, deletedDirs...)
	return result
}
