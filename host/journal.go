// Package host models the execution environment the settlement engine runs in:
// an undo journal giving every settlement all-or-nothing semantics, a registry of
// contracts addressable by account, and the block clock.
package host

// Journal records undo operations for state mutated inside open snapshots.
//
// Mutations made while no snapshot is open are permanent and are not recorded.
// The journal is not safe for concurrent use; callers hold the host lock (see
// Host.Enter) while appending or snapshotting.
type Journal struct {
	entries []func()
	open    int
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records an undo operation. It is a no-op when no snapshot is open.
func (j *Journal) Append(undo func()) {
	if j.open == 0 {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot opens a snapshot and returns its identifier.
func (j *Journal) Snapshot() int {
	j.open++
	return len(j.entries)
}

// RevertToSnapshot undoes every mutation recorded since the snapshot was taken,
// newest first, and closes the snapshot.
func (j *Journal) RevertToSnapshot(id int) {
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:id]
	j.close()
}

// Release closes a snapshot keeping its mutations. Once the outermost snapshot is
// released the recorded undo operations are dropped.
func (j *Journal) Release(id int) {
	_ = id
	j.close()
}

// Depth returns the number of open snapshots.
func (j *Journal) Depth() int {
	return j.open
}

// Len returns the number of recorded undo operations.
func (j *Journal) Len() int {
	return len(j.entries)
}

func (j *Journal) close() {
	if j.open > 0 {
		j.open--
	}
	if j.open == 0 {
		j.entries = nil
	}
}
