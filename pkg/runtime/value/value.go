// Package value implements the fixed-layout owning and borrowing value
// representations the backend emits code against: owned bytes (a box over
// a byte buffer), byte vectors (ptr/len/cap), and shared or mutable views.
// All heap traffic goes through the allocator; in debug configurations
// every borrow operation is additionally validated by the borrow table.
package value

import (
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
)

// Runtime bundles the allocator with the optional debug checker.
// Dbg == nil is the release configuration: no borrow metadata is kept and
// no borrow entry points are called.
type Runtime struct {
	Al     *alloc.Allocator
	Dbg    *borrowdbg.Table
	Growth int // vec growth factor, >= 2
}

// NewRuntime creates a runtime around an allocator. dbg may be nil.
func NewRuntime(al *alloc.Allocator, dbg *borrowdbg.Table) *Runtime {
	return &Runtime{Al: al, Dbg: dbg, Growth: 2}
}

// Reset clears allocator and debug state for a fresh invocation.
func (rt *Runtime) Reset() {
	rt.Al.Reset()
	if rt.Dbg != nil {
		rt.Dbg.Reset()
	}
}

// sentinel backs zero-length views so their pointer is never nil and never
// aliases freed memory, even if a caller dereferences it by mistake.
var sentinel = [1]byte{}

// Bytes is an owned heap byte buffer. The empty representation (blk nil)
// is the canonical moved-out state; destroying it is a no-op, which makes
// drop idempotent after a move.
type Bytes struct {
	blk *alloc.Block
	n   int
	aid uint64
}

// Len returns the logical length.
func (b *Bytes) Len() int { return b.n }

// Empty reports the canonical moved-out state.
func (b *Bytes) Empty() bool { return b.blk == nil }

// Data returns the live contents. Only the value layer and the
// interpreter touch this directly; generated C goes through views.
func (b *Bytes) Data() []byte {
	if b.blk == nil {
		return nil
	}
	return b.blk.Data()[:b.n]
}

// NewBytes allocates an owned copy of data. The copy is charged to the
// bulk-copy counter.
func NewBytes(rt *Runtime, data []byte) *Bytes {
	if len(data) == 0 {
		return &Bytes{}
	}
	blk := rt.Al.Alloc(len(data), 1)
	copy(blk.Data(), data)
	rt.Al.CountCopy(len(data))
	b := &Bytes{blk: blk, n: len(data)}
	if rt.Dbg != nil {
		b.aid = rt.Dbg.Register(blk.Size())
	}
	return b
}

// Drop destroys the buffer. Safe to call on an empty (moved-out) value.
func (b *Bytes) Drop(rt *Runtime) {
	if b.blk == nil {
		return
	}
	if rt.Dbg != nil && b.aid != 0 {
		rt.Dbg.Unregister(b.aid)
	}
	rt.Al.Free(b.blk)
	b.blk = nil
	b.n = 0
	b.aid = 0
}

// Move transfers ownership into a fresh value and leaves b empty.
func (b *Bytes) Move() *Bytes {
	out := &Bytes{blk: b.blk, n: b.n, aid: b.aid}
	b.blk = nil
	b.n = 0
	b.aid = 0
	return out
}

// FreeRaw releases the backing allocation without consuming the binding.
// This is the unsafe escape hatch; with the debug table active it is the
// way to provoke a free-while-borrowed violation on purpose.
func (b *Bytes) FreeRaw(rt *Runtime) {
	if b.blk == nil {
		alloc.Panicf("free-raw of empty value")
	}
	if rt.Dbg != nil && b.aid != 0 {
		rt.Dbg.Unregister(b.aid)
	}
	rt.Al.Free(b.blk)
}

// Concat builds a new owned buffer holding x followed by y.
// Both copies are charged to the bulk-copy counter.
func Concat(rt *Runtime, x, y []byte) *Bytes {
	total := len(x) + len(y)
	if total == 0 {
		return &Bytes{}
	}
	blk := rt.Al.Alloc(total, 1)
	copy(blk.Data(), x)
	copy(blk.Data()[len(x):], y)
	rt.Al.CountCopy(total)
	b := &Bytes{blk: blk, n: total}
	if rt.Dbg != nil {
		b.aid = rt.Dbg.Register(blk.Size())
	}
	return b
}

// Vec is an owned growable byte buffer with len <= cap. The canonical
// empty representation is {nil, 0, 0}.
type Vec struct {
	blk      *alloc.Block
	length   int
	capacity int
	aid      uint64
}

// Len returns the number of live elements.
func (v *Vec) Len() int { return v.length }

// Cap returns the allocated capacity.
func (v *Vec) Cap() int { return v.capacity }

// Empty reports the canonical moved-out state.
func (v *Vec) Empty() bool { return v.blk == nil && v.capacity == 0 }

// Data returns the live elements.
func (v *Vec) Data() []byte {
	if v.blk == nil {
		return nil
	}
	return v.blk.Data()[:v.length]
}

// NewVec allocates a vector with the given capacity and zero length.
// Capacity zero allocates nothing.
func NewVec(rt *Runtime, capacity int) *Vec {
	if capacity < 0 {
		alloc.Panicf("vec with negative capacity")
	}
	v := &Vec{capacity: capacity}
	if capacity > 0 {
		v.blk = rt.Al.Alloc(capacity, 1)
		if rt.Dbg != nil {
			v.aid = rt.Dbg.Register(v.blk.Size())
		}
	}
	return v
}

// grow reallocates to at least need bytes of capacity using the exact
// deterministic growth policy: next = max(4, cap*Growth).
func (v *Vec) grow(rt *Runtime, need int) {
	newCap := v.capacity
	if newCap == 0 {
		newCap = 4
	}
	g := rt.Growth
	if g < 2 {
		g = 2
	}
	for newCap < need {
		newCap *= g
	}
	if v.blk == nil {
		v.blk = rt.Al.Alloc(newCap, 1)
		if rt.Dbg != nil {
			v.aid = rt.Dbg.Register(v.blk.Size())
		}
	} else {
		// Reallocation changes allocation identity. The debug table must
		// see the old allocation freed first, which also rejects growing
		// a vector that is still borrowed.
		if rt.Dbg != nil && v.aid != 0 {
			rt.Dbg.Unregister(v.aid)
		}
		v.blk = rt.Al.Realloc(v.blk, newCap)
		if rt.Dbg != nil {
			v.aid = rt.Dbg.Register(v.blk.Size())
		}
	}
	v.capacity = newCap
}

// Push appends a single byte, growing if len == cap.
func (v *Vec) Push(rt *Runtime, b byte) {
	if v.length == v.capacity {
		v.grow(rt, v.length+1)
	}
	v.blk.Data()[v.length] = b
	v.length++
}

// Append extends the vector with a copy of data, charged to the
// bulk-copy counter.
func (v *Vec) Append(rt *Runtime, data []byte) {
	if len(data) == 0 {
		return
	}
	if v.length+len(data) > v.capacity {
		v.grow(rt, v.length+len(data))
	}
	copy(v.blk.Data()[v.length:], data)
	rt.Al.CountCopy(len(data))
	v.length += len(data)
}

// Reserve ensures capacity for exactly n bytes total, allocating once.
func (v *Vec) Reserve(rt *Runtime, n int) {
	if n <= v.capacity {
		return
	}
	if v.blk == nil {
		v.blk = rt.Al.Alloc(n, 1)
		if rt.Dbg != nil {
			v.aid = rt.Dbg.Register(v.blk.Size())
		}
	} else {
		if rt.Dbg != nil && v.aid != 0 {
			rt.Dbg.Unregister(v.aid)
		}
		v.blk = rt.Al.Realloc(v.blk, n)
		if rt.Dbg != nil {
			v.aid = rt.Dbg.Register(v.blk.Size())
		}
	}
	v.capacity = n
}

// Drop destroys the contents in index order, then the buffer.
// Safe to call on an empty (moved-out) value.
func (v *Vec) Drop(rt *Runtime) {
	if v.blk == nil {
		v.length = 0
		v.capacity = 0
		return
	}
	if rt.Dbg != nil && v.aid != 0 {
		rt.Dbg.Unregister(v.aid)
	}
	rt.Al.Free(v.blk)
	v.blk = nil
	v.length = 0
	v.capacity = 0
	v.aid = 0
}

// Move transfers ownership into a fresh value and leaves v as {nil,0,0}.
func (v *Vec) Move() *Vec {
	out := &Vec{blk: v.blk, length: v.length, capacity: v.capacity, aid: v.aid}
	v.blk = nil
	v.length = 0
	v.capacity = 0
	v.aid = 0
	return out
}

// FreeRaw releases the backing allocation without consuming the binding.
func (v *Vec) FreeRaw(rt *Runtime) {
	if v.blk == nil {
		alloc.Panicf("free-raw of empty value")
	}
	if rt.Dbg != nil && v.aid != 0 {
		rt.Dbg.Unregister(v.aid)
	}
	rt.Al.Free(v.blk)
}

// TakeBytes moves the vector's live contents into an exact-size owned
// buffer and consumes the vector. Used when a vector leaves vector-land,
// e.g. when it becomes the invocation output.
func (v *Vec) TakeBytes(rt *Runtime) *Bytes {
	out := NewBytes(rt, v.Data())
	v.Drop(rt)
	return out
}
