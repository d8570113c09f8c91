// Package borrowdbg is the debug-mode dynamic borrow checker: a runtime
// safety net that re-validates the ownership invariants the static checker
// is supposed to guarantee. It catches unsafe escape-hatch misuse and
// checker bugs. Release builds never construct a Table, so the release
// runtime carries zero borrow metadata.
package borrowdbg

import (
	"sync"
)

// Kind distinguishes shared from exclusive borrows
type Kind int

const (
	KindShared Kind = iota
	KindMut
)

func (k Kind) String() string {
	if k == KindMut {
		return "mut"
	}
	return "shared"
}

// Access is the kind of memory access being validated
type Access int

const (
	AccessRead Access = iota
	AccessWrite
)

// allocRecord tracks one registered allocation. Records are kept after
// free (alive=false) so double frees are identified, not misreported.
type allocRecord struct {
	size        int
	alive       bool
	sharedCount int
	mutActive   bool
}

// borrowRecord tracks one borrow of an allocation
type borrowRecord struct {
	aid    uint64
	kind   Kind
	off    int
	length int
	active bool
}

// DebugStats is the debug checker's own counter record.
type DebugStats struct {
	BorrowViolations uint64 `json:"borrow_violations" yaml:"borrow_violations"`
}

// Table holds the allocation and borrow tables for one invocation.
// IDs are dense 1-based indices into the backing slices, assigned in issue
// order, which keeps diagnostics and iteration deterministic and makes
// reset a wholesale truncation.
//
// The mutex exists for hosts that run the single-threaded model on more
// than one OS thread; outcomes stay deterministic because ID assignment
// order is fixed by the generated code, not by scheduling.
type Table struct {
	mu      sync.Mutex
	allocs  []allocRecord
	borrows []borrowRecord
	stats   DebugStats
}

// NewTable creates an empty debug table.
func NewTable() *Table {
	return &Table{}
}

// Reset truncates both tables. Called at invocation start.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allocs = t.allocs[:0]
	t.borrows = t.borrows[:0]
	t.stats = DebugStats{}
}

// Stats returns a copy of the violation counters.
func (t *Table) Stats() DebugStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// violate counts and raises a deterministic fatal violation.
// The message is fixed-format: same program, same input, same text.
func (t *Table) violate(msg string) {
	t.stats.BorrowViolations++
	panic(Violation{Msg: msg})
}

func (t *Table) alloc(aid uint64) *allocRecord {
	if aid == 0 || aid > uint64(len(t.allocs)) {
		return nil
	}
	return &t.allocs[aid-1]
}

func (t *Table) borrow(bid uint64) *borrowRecord {
	if bid == 0 || bid > uint64(len(t.borrows)) {
		return nil
	}
	return &t.borrows[bid-1]
}

// Register records a new allocation and returns its alloc_id.
func (t *Table) Register(size int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allocs = append(t.allocs, allocRecord{size: size, alive: true})
	return uint64(len(t.allocs))
}

// AcquireBorrow validates and records a borrow of [off, off+length) within
// allocation aid, returning its borrow_id.
//
// A shared borrow is legal from zero borrows or more shared borrows.
// A mutable borrow is legal only from zero borrows.
func (t *Table) AcquireBorrow(aid uint64, kind Kind, off, length int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.alloc(aid)
	if a == nil {
		t.violate("borrow of unknown allocation")
	}
	if !a.alive {
		t.violate("borrow of freed allocation")
	}
	if off < 0 || length < 0 || off+length > a.size {
		t.violate("borrow range out of bounds")
	}
	switch kind {
	case KindShared:
		if a.mutActive {
			t.violate("conflicting borrow: shared while mutably borrowed")
		}
		a.sharedCount++
	case KindMut:
		if a.mutActive {
			t.violate("conflicting borrow: already mutably borrowed")
		}
		if a.sharedCount > 0 {
			t.violate("conflicting borrow: mutable while shared")
		}
		a.mutActive = true
	}

	t.borrows = append(t.borrows, borrowRecord{aid: aid, kind: kind, off: off, length: length, active: true})
	return uint64(len(t.borrows))
}

// ReleaseBorrow ends an active borrow. Releasing an unknown or already
// released borrow is itself a violation, never a silent no-op.
func (t *Table) ReleaseBorrow(bid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.borrow(bid)
	if b == nil {
		t.violate("release of unknown borrow")
	}
	if !b.active {
		t.violate("release of already released borrow")
	}
	b.active = false

	a := t.alloc(b.aid)
	switch b.kind {
	case KindShared:
		a.sharedCount--
	case KindMut:
		a.mutActive = false
	}
}

// CheckAccess validates one dereference through a borrow: the borrow must
// still be active, the range must sit inside the borrow's original range,
// and writes require an exclusive borrow.
func (t *Table) CheckAccess(bid uint64, access Access, off, length int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.borrow(bid)
	if b == nil {
		t.violate("access through unknown borrow")
	}
	if !b.active {
		t.violate("access after release")
	}
	if off < 0 || length < 0 || off+length > b.length {
		t.violate("access outside borrowed range")
	}
	if access == AccessWrite && b.kind != KindMut {
		t.violate("write through shared borrow")
	}
	a := t.alloc(b.aid)
	if a == nil || !a.alive {
		t.violate("access into freed allocation")
	}
}

// Unregister marks an allocation freed. Freeing while any borrow of it is
// still active, or freeing twice, is a violation.
func (t *Table) Unregister(aid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.alloc(aid)
	if a == nil {
		t.violate("free of unknown allocation")
	}
	if !a.alive {
		t.violate("double free")
	}
	if a.sharedCount > 0 || a.mutActive {
		t.violate("free while borrowed")
	}
	a.alive = false
}

// LiveBorrows returns the number of currently active borrows across all
// allocations. Used by tests and the end-of-invocation audit.
func (t *Table) LiveBorrows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.borrows {
		if t.borrows[i].active {
			n++
		}
	}
	return n
}
