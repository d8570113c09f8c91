package value

import (
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
)

// View is a non-owning window into an owning value's storage: a
// (pointer, length) pair, plus the allocation and borrow identifiers that
// exist only while the debug checker is active. It never outlives its
// owner; the static checker proves that, and the debug table re-checks it.
type View struct {
	blk *alloc.Block
	off int
	n   int
	mut bool
	aid uint64
	bid uint64
}

// Len returns the view's length.
func (w *View) Len() int { return w.n }

// Mut reports whether the view has exclusive write access.
func (w *View) Mut() bool { return w.mut }

func borrowKind(mut bool) borrowdbg.Kind {
	if mut {
		return borrowdbg.KindMut
	}
	return borrowdbg.KindShared
}

// viewOf builds a view over blk[off:off+n] for owner allocation aid.
func viewOf(rt *Runtime, blk *alloc.Block, ownerLen int, aid uint64, mut bool, start, length int) *View {
	if start < 0 || length < 0 || start+length > ownerLen {
		alloc.Panicf("slice bounds out of range")
	}
	w := &View{blk: blk, off: start, n: length, mut: mut, aid: aid}
	if length == 0 {
		// Zero-length views keep a valid sentinel pointer.
		w.blk = nil
	}
	if rt.Dbg != nil && aid != 0 {
		w.bid = rt.Dbg.AcquireBorrow(aid, borrowKind(mut), start, length)
	}
	return w
}

// View borrows [start, start+length) of an owned byte buffer.
func (b *Bytes) View(rt *Runtime, mut bool, start, length int) *View {
	if b.blk == nil && !(start == 0 && length == 0) {
		alloc.Panicf("borrow of empty value")
	}
	return viewOf(rt, b.blk, b.n, b.aid, mut, start, length)
}

// ViewAll borrows the whole buffer.
func (b *Bytes) ViewAll(rt *Runtime, mut bool) *View {
	return b.View(rt, mut, 0, b.n)
}

// View borrows [start, start+length) of a vector's live elements.
func (v *Vec) View(rt *Runtime, mut bool, start, length int) *View {
	if v.blk == nil && !(start == 0 && length == 0) {
		alloc.Panicf("borrow of empty value")
	}
	return viewOf(rt, v.blk, v.length, v.aid, mut, start, length)
}

// ViewAll borrows all live elements of a vector.
func (v *Vec) ViewAll(rt *Runtime, mut bool) *View {
	return v.View(rt, mut, 0, v.length)
}

// Release ends the borrow. Emitted at the close of the view's lexical
// scope. Safe only once; a second release is a debug violation.
func (w *View) Release(rt *Runtime) {
	if rt.Dbg != nil && w.bid != 0 {
		rt.Dbg.ReleaseBorrow(w.bid)
	}
	w.blk = nil
	w.n = 0
	w.bid = 0
}

// Get reads one byte through the view.
func (w *View) Get(rt *Runtime, i int) byte {
	if rt.Dbg != nil && w.bid != 0 {
		rt.Dbg.CheckAccess(w.bid, borrowdbg.AccessRead, i, 1)
	}
	if i < 0 || i >= w.n {
		alloc.Panicf("view index out of range")
	}
	return w.blk.Data()[w.off+i]
}

// Set writes one byte through the view. Requires a mutable view.
func (w *View) Set(rt *Runtime, i int, b byte) {
	if rt.Dbg != nil && w.bid != 0 {
		rt.Dbg.CheckAccess(w.bid, borrowdbg.AccessWrite, i, 1)
	}
	if !w.mut {
		alloc.Panicf("write through shared view")
	}
	if i < 0 || i >= w.n {
		alloc.Panicf("view index out of range")
	}
	w.blk.Data()[w.off+i] = b
}

// Contents reads the whole viewed range. The returned slice aliases the
// owner's storage and must not be retained past the borrow.
func (w *View) Contents(rt *Runtime) []byte {
	if w.n == 0 {
		return sentinel[:0]
	}
	if rt.Dbg != nil && w.bid != 0 {
		rt.Dbg.CheckAccess(w.bid, borrowdbg.AccessRead, 0, w.n)
	}
	return w.blk.Data()[w.off : w.off+w.n]
}
