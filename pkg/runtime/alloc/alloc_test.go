package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trapOf runs f and returns the violation message it panics with, or ""
// if it returns normally.
func trapOf(t *testing.T, f func()) string {
	t.Helper()
	msg := ""
	func() {
		defer func() {
			if r := recover(); r != nil {
				v, ok := r.(Violation)
				require.True(t, ok, "panic is not a Violation: %v", r)
				msg = v.Msg
			}
		}()
		f()
	}()
	return msg
}

func TestAllocCounters(t *testing.T) {
	a := New()
	b1 := a.Alloc(16, 1)
	b2 := a.Alloc(32, 8)

	s := a.Stats()
	assert.Equal(t, uint64(2), s.AllocCalls)
	assert.Equal(t, uint64(48), s.BytesAllocTotal)
	assert.Equal(t, uint64(48), s.LiveBytes)
	assert.Equal(t, uint64(2), s.LiveAllocs)
	assert.Equal(t, uint64(48), s.PeakLiveBytes)
	assert.Equal(t, uint64(2), s.PeakLiveAllocs)

	a.Free(b1)
	a.Free(b2)
	s = a.Stats()
	assert.Equal(t, uint64(2), s.FreeCalls)
	assert.Equal(t, uint64(48), s.BytesFreedTotal)
	assert.Equal(t, uint64(0), s.LiveBytes)
	assert.Equal(t, uint64(0), s.LiveAllocs)
	assert.Equal(t, uint64(48), s.PeakLiveBytes, "peaks survive frees")
	assert.True(t, s.LeakFree())
}

func TestAllocDeterminism(t *testing.T) {
	run := func() MemStats {
		a := New()
		b := a.Alloc(10, 1)
		b = a.Realloc(b, 40)
		a.CountCopy(10)
		a.Free(b)
		return a.Stats()
	}
	assert.Equal(t, run(), run(), "same operations, same counters")
}

func TestDoubleFree(t *testing.T) {
	a := New()
	b := a.Alloc(8, 1)
	a.Free(b)
	assert.Equal(t, "double free", trapOf(t, func() { a.Free(b) }))
}

func TestUseAfterFree(t *testing.T) {
	a := New()
	b := a.Alloc(8, 1)
	a.Free(b)
	assert.Equal(t, "use of freed block", trapOf(t, func() { _ = b.Data() }))
}

func TestMemoryCap(t *testing.T) {
	a := New(WithCap(100))
	a.Alloc(60, 1)
	assert.Equal(t, "memory cap exceeded", trapOf(t, func() { a.Alloc(41, 1) }))

	// The failed allocation must not disturb any counter.
	s := a.Stats()
	assert.Equal(t, uint64(1), s.AllocCalls)
	assert.Equal(t, uint64(60), s.LiveBytes)
}

func TestReallocIdentityAndAccounting(t *testing.T) {
	a := New()
	b := a.Alloc(4, 1)
	copy(b.Data(), []byte{1, 2, 3, 4})

	nb := a.Realloc(b, 8)
	require.NotEqual(t, b.ID(), nb.ID(), "realloc returns a new identity")
	assert.True(t, b.Freed())
	assert.Equal(t, []byte{1, 2, 3, 4}, nb.Data()[:4], "prefix preserved")

	s := a.Stats()
	assert.Equal(t, uint64(1), s.ReallocCalls)
	assert.Equal(t, uint64(8), s.LiveBytes)
	assert.Equal(t, uint64(1), s.LiveAllocs)
	assert.Equal(t, uint64(0), s.MemcpyBytes, "realloc's internal copy is not charged")

	assert.Equal(t, "realloc of dead block", trapOf(t, func() { a.Realloc(b, 16) }))
}

func TestReallocShrink(t *testing.T) {
	a := New()
	b := a.Alloc(16, 1)
	nb := a.Realloc(b, 4)
	s := a.Stats()
	assert.Equal(t, uint64(4), s.LiveBytes)
	assert.Equal(t, uint64(12), s.BytesFreedTotal)
	a.Free(nb)
	assert.True(t, a.Stats().LeakFree())
}

func TestInvalidRequests(t *testing.T) {
	a := New()
	assert.Equal(t, "alloc of non-positive size", trapOf(t, func() { a.Alloc(0, 1) }))
	assert.Equal(t, "alloc with invalid alignment", trapOf(t, func() { a.Alloc(8, 3) }))
}

func TestReset(t *testing.T) {
	a := New(WithCap(1024))
	a.Alloc(100, 1)
	a.Reset()
	assert.Equal(t, MemStats{}, a.Stats())
	assert.Equal(t, uint64(1024), a.Cap(), "cap survives reset")
}
