package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedarc/pkg/checker"
	"cedarc/pkg/ir"
	"cedarc/pkg/ir/build"
	"cedarc/pkg/parser"
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
	"cedarc/pkg/runtime/value"
)

func compile(t *testing.T, src string) *ir.Program {
	t.Helper()
	forms, err := parser.ParseAllString(src)
	require.NoError(t, err)
	prog, err := build.Program(forms)
	require.NoError(t, err)
	if ds := checker.Check(prog); ds != nil {
		t.Fatalf("program rejected by the static checker:\n%s", ds.Error())
	}
	return prog
}

func runRelease(t *testing.T, src string, opts Options) *Result {
	t.Helper()
	rt := value.NewRuntime(alloc.New(), nil)
	return Run(compile(t, src), rt, opts)
}

func runDebug(t *testing.T, src string, opts Options) *Result {
	t.Helper()
	rt := value.NewRuntime(alloc.New(), borrowdbg.NewTable())
	return Run(compile(t, src), rt, opts)
}

func TestHelloOutput(t *testing.T) {
	src := `
(defn main ()
  (let ((a (bytes "hello "))
        (b (bytes "world")))
    (out (concat a b))))`
	res := runRelease(t, src, Options{})
	require.True(t, res.OK, "trap: %s", res.Trap)
	assert.Equal(t, "hello world", string(res.Output))
	assert.True(t, res.LeakFree(), "live_allocs=%d live_bytes=%d", res.Mem.LiveAllocs, res.Mem.LiveBytes)
}

func TestReleaseAndDebugAgree(t *testing.T) {
	src := `
(defn shout ((own b)) :owned
  (concat b (bytes "!")))
(defn main ()
  (let ((x (bytes "hey")))
    (out (shout (move x)))))`
	rel := runRelease(t, src, Options{})
	dbg := runDebug(t, src, Options{})
	require.True(t, rel.OK)
	require.True(t, dbg.OK)
	assert.Equal(t, rel.Output, dbg.Output)
	assert.Equal(t, rel.Mem, dbg.Mem, "debug checking must not change the memory profile")
	assert.Equal(t, uint64(0), dbg.Debug.BorrowViolations)
}

func TestDeterministicCounters(t *testing.T) {
	src := `
(defn main ()
  (let ((v (vec 0)) (i 0))
    (while (< i 100)
      (push! v i)
      (set! i (+ i 1)))
    (out v)))`
	first := runRelease(t, src, Options{})
	require.True(t, first.OK)
	for i := 0; i < 3; i++ {
		again := runRelease(t, src, Options{})
		assert.Equal(t, first.Output, again.Output)
		assert.Equal(t, first.Mem, again.Mem, "same program, same counters, every run")
	}
	assert.Equal(t, uint64(1), first.Mem.AllocCalls)
	assert.Equal(t, uint64(5), first.Mem.ReallocCalls, "growth 4, 8, 16, 32, 64, 128")
}

// The same output bytes can cost very different allocator traffic. A
// reserved vector build must beat repeated concatenation on both
// allocation count and bulk-copy volume while producing identical output.
func TestConcatVersusReservedAppend(t *testing.T) {
	concatSrc := `
(defn main ()
  (let ((acc (bytes "")) (i 0))
    (while (< i 8)
      (set! acc (concat acc (bytes "ab")))
      (set! i (+ i 1)))
    (out acc)))`
	reservedSrc := `
(defn main ()
  (let ((v (vec 0)) (i 0))
    (reserve! v 16)
    (while (< i 8)
      (append! v (bytes "ab"))
      (set! i (+ i 1)))
    (out v)))`

	cat := runRelease(t, concatSrc, Options{})
	res := runRelease(t, reservedSrc, Options{})
	require.True(t, cat.OK, "trap: %s", cat.Trap)
	require.True(t, res.OK, "trap: %s", res.Trap)

	assert.Equal(t, "abababababababab", string(cat.Output))
	assert.Equal(t, cat.Output, res.Output, "outputs must be byte-identical")

	assert.Less(t, res.Mem.AllocCalls, cat.Mem.AllocCalls)
	assert.Less(t, res.Mem.MemcpyBytes, cat.Mem.MemcpyBytes)
	assert.Equal(t, uint64(0), res.Mem.ReallocCalls, "reserved build never grows")

	assert.True(t, cat.LeakFree())
	assert.True(t, res.LeakFree())
}

func TestFreeRawDoubleFreeInRelease(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abcd")))
    (free-raw x)
    0))`
	res := runRelease(t, src, Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "double free", res.Trap, "the scheduled scope drop hits the raw-freed block")
}

func TestFreeRawWhileBorrowedInDebug(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((w (borrow x)))
      (free-raw x)
      (get w 0))))`
	res := runDebug(t, src, Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "free while borrowed", res.Trap)
	assert.Equal(t, uint64(1), res.Debug.BorrowViolations)
}

// Without the debug table the freed-block guard in the allocator is what
// turns the same misuse into a deterministic trap instead of a crash.
func TestFreeRawThenViewAccessInRelease(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((w (borrow x)))
      (free-raw x)
      (get w 0))))`
	res := runRelease(t, src, Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "use of freed block", res.Trap)
}

func TestSliceBoundsTrap(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((w (slice x 2 5)))
      (get w 0))))`
	for _, res := range []*Result{runRelease(t, src, Options{}), runDebug(t, src, Options{})} {
		assert.False(t, res.OK)
		assert.Equal(t, "slice bounds out of range", res.Trap)
	}
}

func TestMemoryCapTrap(t *testing.T) {
	src := `
(defn main ()
  (let ((v (vec 1000)))
    (out v)))`
	rt := value.NewRuntime(alloc.New(alloc.WithCap(100)), nil)
	res := Run(compile(t, src), rt, Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "memory cap exceeded", res.Trap)
}

func TestOutputCap(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "0123456789")))
    (out x)))`
	res := runRelease(t, src, Options{MaxOutputBytes: 4})
	assert.False(t, res.OK)
	assert.Equal(t, "output limit exceeded", res.Trap)
}

// A value allocated while evaluating a loop condition is rebuilt on every
// iteration; the head block drops it before the branch, so the run ends
// with an empty heap no matter how many times the condition ran.
func TestLoopConditionTempsAreDropped(t *testing.T) {
	src := `
(defn main ()
  (let ((i 0))
    (while (< i (len (concat (bytes "aa") (bytes "bb"))))
      (set! i (+ i 1)))
    0))`
	res := runRelease(t, src, Options{})
	require.True(t, res.OK, "trap: %s", res.Trap)
	assert.True(t, res.LeakFree())
	assert.Equal(t, uint64(0), res.Mem.LiveAllocs)
	assert.Equal(t, uint64(0), res.Mem.LiveBytes)
	// Four iterations (i 0..3) plus the final check each rebuild the
	// condition value, so the alloc counters still show the churn.
	assert.Equal(t, uint64(15), res.Mem.AllocCalls)
	assert.Equal(t, res.Mem.AllocCalls, res.Mem.FreeCalls)
}

// A borrow taken inside a loop condition is released in the head block;
// iteration two must re-acquire cleanly instead of tripping the debug
// exclusivity check against its own previous acquisition.
func TestLoopConditionBorrowReleasedEachIteration(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abc")))
    (let ((i 0))
      (while (< (get (borrow-mut x) i) 99)
        (set! i (+ i 1)))
      (out x))))`
	res := runDebug(t, src, Options{})
	require.True(t, res.OK, "trap: %s", res.Trap)
	assert.True(t, res.LeakFree())
	assert.Equal(t, uint64(0), res.Debug.BorrowViolations)
	assert.Equal(t, "abc", string(res.Output))
}

func TestViewReadAndWrite(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((m (borrow-mut x)))
      (put! m 0 (+ (get m 0) 1))
      0)
    (out x)))`
	res := runRelease(t, src, Options{})
	require.True(t, res.OK, "trap: %s", res.Trap)
	assert.Equal(t, "bbcd", string(res.Output))
}

func TestStepLimit(t *testing.T) {
	src := `
(defn main ()
  (let ((i 0))
    (while (< i 1) 0)
    0))`
	res := runRelease(t, src, Options{StepLimit: 100})
	assert.False(t, res.OK)
	assert.Equal(t, "step limit exceeded", res.Trap)
}
