// Package alloc implements the raw allocation primitives of the runtime:
// alloc, realloc, free and panic, with deterministic instrumented
// bookkeeping. It knows nothing about language-level value layouts.
package alloc

import (
	"fmt"
	"log/slog"
)

// DefaultMemoryCap is the hard live-byte limit when none is configured.
// The cap exists so exhaustion is a deterministic trap, not an OS event.
const DefaultMemoryCap = 64 << 20

// Violation is a fatal, deterministic runtime invariant failure. It is
// raised via panic and carries a fixed-format message: no addresses, no
// timestamps, nothing that differs between runs.
type Violation struct {
	Msg string
}

func (v Violation) Error() string {
	return "memory violation: " + v.Msg
}

// Panicf raises a Violation with a fixed-format message.
func Panicf(format string, args ...interface{}) {
	panic(Violation{Msg: fmt.Sprintf(format, args...)})
}

// Block is one live heap allocation handed out by the allocator.
// Generated code treats the (Block, offset) pair as its pointer type.
type Block struct {
	id    uint64
	data  []byte
	align int
	freed bool
}

// ID returns the block's allocation-order identifier (1-based).
func (b *Block) ID() uint64 { return b.id }

// Size returns the usable size in bytes.
func (b *Block) Size() int { return len(b.data) }

// Freed reports whether the block has been released.
func (b *Block) Freed() bool { return b.freed }

// Data exposes the backing bytes. Touching a freed block is always a
// program error; without the debug table it would otherwise surface as a
// host crash, so the guard lives here.
func (b *Block) Data() []byte {
	if b.freed {
		Panicf("use of freed block")
	}
	return b.data
}

// Allocator owns all heap blocks for one invocation and keeps the
// deterministic counters the reporting layer samples.
type Allocator struct {
	cap    uint64
	nextID uint64
	stats  MemStats
	log    *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithCap sets the hard live-byte cap.
func WithCap(capBytes uint64) Option {
	return func(a *Allocator) {
		if capBytes > 0 {
			a.cap = capBytes
		}
	}
}

// WithLogger sets the trace logger. Logging is off the accounting path and
// never feeds into any deterministic output.
func WithLogger(log *slog.Logger) Option {
	return func(a *Allocator) { a.log = log }
}

// New creates an allocator with a fresh counter state.
func New(opts ...Option) *Allocator {
	a := &Allocator{cap: DefaultMemoryCap}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Reset clears all counters and restarts ID assignment. Called at
// invocation start so two runs of the same program are bitwise comparable.
func (a *Allocator) Reset() {
	a.nextID = 0
	a.stats = MemStats{}
}

// Cap returns the configured hard live-byte cap.
func (a *Allocator) Cap() uint64 { return a.cap }

func (a *Allocator) checkCap(delta uint64) {
	if a.stats.LiveBytes+delta > a.cap {
		Panicf("memory cap exceeded")
	}
}

// Alloc returns a new exclusively-owned block of size bytes.
// size must be positive and align a power of two.
func (a *Allocator) Alloc(size, align int) *Block {
	if size <= 0 {
		Panicf("alloc of non-positive size")
	}
	if align <= 0 || align&(align-1) != 0 {
		Panicf("alloc with invalid alignment")
	}
	a.checkCap(uint64(size))

	a.nextID++
	b := &Block{id: a.nextID, data: make([]byte, size), align: align}

	a.stats.AllocCalls++
	a.stats.BytesAllocTotal += uint64(size)
	a.stats.LiveBytes += uint64(size)
	a.stats.LiveAllocs++
	a.updatePeaks()

	if a.log != nil {
		a.log.Debug("alloc", "id", b.id, "size", size, "align", align)
	}
	return b
}

// Realloc resizes a block, preserving the prefix up to min(old,new) size.
// A new block identity is returned; the old block is dead afterwards.
// The internal prefix copy is not charged to MemcpyBytes: that counter is
// reserved for the value layer's bulk copy helpers.
func (a *Allocator) Realloc(b *Block, newSize int) *Block {
	if b == nil || b.freed {
		Panicf("realloc of dead block")
	}
	if newSize <= 0 {
		Panicf("realloc to non-positive size")
	}
	oldSize := len(b.data)
	if newSize > oldSize {
		a.checkCap(uint64(newSize - oldSize))
	}

	a.nextID++
	nb := &Block{id: a.nextID, data: make([]byte, newSize), align: b.align}
	copy(nb.data, b.data)
	b.freed = true
	b.data = nil

	a.stats.ReallocCalls++
	if newSize > oldSize {
		delta := uint64(newSize - oldSize)
		a.stats.BytesAllocTotal += delta
		a.stats.LiveBytes += delta
		a.updatePeaks()
	} else {
		delta := uint64(oldSize - newSize)
		a.stats.BytesFreedTotal += delta
		a.stats.LiveBytes -= delta
	}

	if a.log != nil {
		a.log.Debug("realloc", "old_id", b.id, "new_id", nb.id, "old_size", oldSize, "new_size", newSize)
	}
	return nb
}

// Free releases a block. Double frees are deterministic violations here
// even in release mode; the debug checker additionally rejects freeing
// while borrowed before the call ever reaches this point.
func (a *Allocator) Free(b *Block) {
	if b == nil || b.freed {
		Panicf("double free")
	}
	size := uint64(len(b.data))
	b.freed = true
	b.data = nil

	a.stats.FreeCalls++
	a.stats.BytesFreedTotal += size
	a.stats.LiveBytes -= size
	a.stats.LiveAllocs--

	if a.log != nil {
		a.log.Debug("free", "id", b.id, "size", size)
	}
}

// CountCopy charges n bytes to the bulk-copy counter. Called by the value
// layer's copy and concatenation helpers.
func (a *Allocator) CountCopy(n int) {
	if n > 0 {
		a.stats.MemcpyBytes += uint64(n)
	}
}

func (a *Allocator) updatePeaks() {
	if a.stats.LiveBytes > a.stats.PeakLiveBytes {
		a.stats.PeakLiveBytes = a.stats.LiveBytes
	}
	if a.stats.LiveAllocs > a.stats.PeakLiveAllocs {
		a.stats.PeakLiveAllocs = a.stats.LiveAllocs
	}
}

// Stats returns a copy of the current counters.
func (a *Allocator) Stats() MemStats {
	return a.stats
}
