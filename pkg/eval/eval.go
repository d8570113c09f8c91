// Package eval executes lowered programs directly against the runtime
// value layer. It is the reference executor: the C backend and this
// interpreter must agree on every observable outcome, including allocator
// counters and violation messages, for the same program.
package eval

import (
	"fmt"
	"log/slog"

	"cedarc/pkg/ir"
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
	"cedarc/pkg/runtime/value"
)

// DefaultStepLimit bounds interpreted statements per invocation so a
// non-terminating loop becomes a deterministic trap instead of a hang.
const DefaultStepLimit = 10_000_000

// Options configure one invocation.
type Options struct {
	// MaxOutputBytes caps the accumulated output. Zero means no cap.
	MaxOutputBytes int
	// StepLimit overrides DefaultStepLimit when positive.
	StepLimit int
	// Logger receives per-invocation trace records. Nil disables tracing.
	Logger *slog.Logger
}

// Result is the outcome record of one invocation. On a trap, Output holds
// whatever had been extracted before the trap and OK is false. Mem and
// Debug are sampled after output extraction and all scope cleanup, so the
// leak gate in Mem reflects the final heap.
type Result struct {
	OK     bool
	Trap   string
	Output []byte
	Mem    alloc.MemStats
	Debug  borrowdbg.DebugStats
}

// LeakFree reports whether the invocation ended with an empty heap.
func (r *Result) LeakFree() bool {
	return r.Mem.LiveAllocs == 0 && r.Mem.LiveBytes == 0
}

type cellKind int

const (
	cInt cellKind = iota
	cBytes
	cVec
	cView
)

// cell is one live runtime value in an interpreter frame.
type cell struct {
	kind cellKind
	i    int64
	b    *value.Bytes
	v    *value.Vec
	w    *value.View
}

type machine struct {
	prog  *ir.Program
	rt    *value.Runtime
	opts  Options
	steps int
	out   []byte
}

// Run resets the runtime, executes main, and samples the counters.
// Violations raised by the allocator or the borrow table surface as the
// Trap field; any other panic is a bug and propagates.
func Run(prog *ir.Program, rt *value.Runtime, opts Options) (res *Result) {
	rt.Reset()
	m := &machine{prog: prog, rt: rt, opts: opts}
	res = &Result{}

	defer func() {
		res.Output = m.out
		res.Mem = rt.Al.Stats()
		if rt.Dbg != nil {
			res.Debug = rt.Dbg.Stats()
		}
		if r := recover(); r != nil {
			switch v := r.(type) {
			case alloc.Violation:
				res.Trap = v.Msg
			case borrowdbg.Violation:
				res.Trap = v.Msg
			default:
				panic(r)
			}
			res.OK = false
			// A trap abandons the heap mid-flight; counters after it
			// describe the wreck, not a leak verdict.
			if rt.Dbg != nil {
				res.Debug = rt.Dbg.Stats()
			}
			res.Mem = rt.Al.Stats()
			if m.opts.Logger != nil {
				m.opts.Logger.Error("invocation trapped", "trap", res.Trap)
			}
		}
	}()

	main := prog.Lookup("main")
	if main == nil {
		alloc.Panicf("program has no main function")
	}
	m.call(main, nil)
	res.OK = true
	if m.opts.Logger != nil {
		m.opts.Logger.Debug("invocation finished",
			"output_bytes", len(m.out),
			"live_allocs", rt.Al.Stats().LiveAllocs)
	}
	return res
}

func (m *machine) stepLimit() int {
	if m.opts.StepLimit > 0 {
		return m.opts.StepLimit
	}
	return DefaultStepLimit
}

func (m *machine) call(fn *ir.Func, args []cell) cell {
	if len(args) != len(fn.Params) {
		alloc.Panicf("call of %s with %d arguments, want %d", fn.Name, len(args), len(fn.Params))
	}
	env := make(map[string]cell, len(fn.Params))
	for i, p := range fn.Params {
		env[p.Name] = args[i]
	}

	blk := fn.Blocks[0]
	for {
		for i := range blk.Stmts {
			m.steps++
			if m.steps > m.stepLimit() {
				alloc.Panicf("step limit exceeded")
			}
			m.exec(fn, env, &blk.Stmts[i])
		}
		t := &blk.Term
		switch t.Kind {
		case ir.TermJump:
			blk = m.block(fn, t.To)
		case ir.TermCondBr:
			if m.intOf(env, t.Cond) != 0 {
				blk = m.block(fn, t.To)
			} else {
				blk = m.block(fn, t.Else)
			}
		case ir.TermRet:
			if t.Val == "" {
				return cell{kind: cInt}
			}
			return m.cellOf(env, t.Val)
		default:
			alloc.Panicf("block %d of %s has no terminator", blk.ID, fn.Name)
		}
	}
}

func (m *machine) block(fn *ir.Func, id int) *ir.Block {
	for _, b := range fn.Blocks {
		if b.ID == id {
			return b
		}
	}
	alloc.Panicf("jump to unknown block %d in %s", id, fn.Name)
	return nil
}

func (m *machine) cellOf(env map[string]cell, name string) cell {
	c, ok := env[name]
	if !ok {
		alloc.Panicf("read of undefined binding %s", name)
	}
	return c
}

func (m *machine) intOf(env map[string]cell, name string) int64 {
	c := m.cellOf(env, name)
	if c.kind != cInt {
		alloc.Panicf("binding %s is not an integer", name)
	}
	return c.i
}

// ownedData reads the live contents of an owned or viewed value.
// View reads go through the checked access path.
func (m *machine) ownedData(env map[string]cell, name string) []byte {
	c := m.cellOf(env, name)
	switch c.kind {
	case cBytes:
		return c.b.Data()
	case cVec:
		return c.v.Data()
	case cView:
		return c.w.Contents(m.rt)
	default:
		alloc.Panicf("binding %s has no byte contents", name)
		return nil
	}
}

func (m *machine) exec(fn *ir.Func, env map[string]cell, st *ir.Stmt) {
	switch st.Op {
	case ir.OpConstInt:
		env[st.Dst] = cell{kind: cInt, i: st.N}

	case ir.OpCopy:
		env[st.Dst] = cell{kind: cInt, i: m.intOf(env, st.Src)}

	case ir.OpBin:
		env[st.Dst] = cell{kind: cInt, i: binEval(st.BinKind, m.intOf(env, st.Src), m.intOf(env, st.Src2))}

	case ir.OpNewBytes:
		env[st.Dst] = cell{kind: cBytes, b: value.NewBytes(m.rt, st.Lit)}

	case ir.OpNewVec:
		n := m.intOf(env, st.Src)
		env[st.Dst] = cell{kind: cVec, v: value.NewVec(m.rt, int(n))}

	case ir.OpLen:
		c := m.cellOf(env, st.Src)
		var n int
		switch c.kind {
		case cBytes:
			n = c.b.Len()
		case cVec:
			n = c.v.Len()
		case cView:
			n = c.w.Len()
		default:
			alloc.Panicf("len of integer binding %s", st.Src)
		}
		env[st.Dst] = cell{kind: cInt, i: int64(n)}

	case ir.OpMove:
		c := m.cellOf(env, st.Src)
		switch c.kind {
		case cBytes:
			env[st.Dst] = cell{kind: cBytes, b: c.b.Move()}
		case cVec:
			env[st.Dst] = cell{kind: cVec, v: c.v.Move()}
		default:
			alloc.Panicf("move of non-owned binding %s", st.Src)
		}

	case ir.OpBorrow:
		c := m.cellOf(env, st.Src)
		mut := st.Kind == ir.BorrowMut
		switch c.kind {
		case cBytes:
			env[st.Dst] = cell{kind: cView, w: c.b.ViewAll(m.rt, mut)}
		case cVec:
			env[st.Dst] = cell{kind: cView, w: c.v.ViewAll(m.rt, mut)}
		default:
			alloc.Panicf("borrow of non-owned binding %s", st.Src)
		}

	case ir.OpSlice:
		c := m.cellOf(env, st.Src)
		mut := st.Kind == ir.BorrowMut
		start := int(m.intOf(env, st.Src2))
		length := int(m.intOf(env, st.Src3))
		switch c.kind {
		case cBytes:
			env[st.Dst] = cell{kind: cView, w: c.b.View(m.rt, mut, start, length)}
		case cVec:
			env[st.Dst] = cell{kind: cView, w: c.v.View(m.rt, mut, start, length)}
		default:
			alloc.Panicf("slice of non-owned binding %s", st.Src)
		}

	case ir.OpEndBorrow:
		c := m.cellOf(env, st.Dst)
		if c.kind != cView {
			alloc.Panicf("end-borrow of non-view binding %s", st.Dst)
		}
		c.w.Release(m.rt)

	case ir.OpGet:
		c := m.cellOf(env, st.Src)
		if c.kind != cView {
			alloc.Panicf("get through non-view binding %s", st.Src)
		}
		env[st.Dst] = cell{kind: cInt, i: int64(c.w.Get(m.rt, int(m.intOf(env, st.Src2))))}

	case ir.OpPut:
		c := m.cellOf(env, st.Src)
		if c.kind != cView {
			alloc.Panicf("put through non-view binding %s", st.Src)
		}
		c.w.Set(m.rt, int(m.intOf(env, st.Src2)), byte(m.intOf(env, st.Src3)))

	case ir.OpPush:
		c := m.cellOf(env, st.Src)
		if c.kind != cVec {
			alloc.Panicf("push into non-vec binding %s", st.Src)
		}
		c.v.Push(m.rt, byte(m.intOf(env, st.Src2)))

	case ir.OpAppend:
		c := m.cellOf(env, st.Src)
		if c.kind != cVec {
			alloc.Panicf("append into non-vec binding %s", st.Src)
		}
		c.v.Append(m.rt, m.ownedData(env, st.Src2))

	case ir.OpReserve:
		c := m.cellOf(env, st.Src)
		if c.kind != cVec {
			alloc.Panicf("reserve on non-vec binding %s", st.Src)
		}
		c.v.Reserve(m.rt, int(m.intOf(env, st.Src2)))

	case ir.OpConcat:
		env[st.Dst] = cell{kind: cBytes,
			b: value.Concat(m.rt, m.ownedData(env, st.Src), m.ownedData(env, st.Src2))}

	case ir.OpDrop:
		c := m.cellOf(env, st.Src)
		switch c.kind {
		case cBytes:
			c.b.Drop(m.rt)
		case cVec:
			c.v.Drop(m.rt)
		default:
			alloc.Panicf("drop of non-owned binding %s", st.Src)
		}

	case ir.OpFreeRaw:
		c := m.cellOf(env, st.Src)
		switch c.kind {
		case cBytes:
			c.b.FreeRaw(m.rt)
		case cVec:
			c.v.FreeRaw(m.rt)
		default:
			alloc.Panicf("free-raw of non-owned binding %s", st.Src)
		}

	case ir.OpOut:
		m.emitOut(env, st)

	case ir.OpCall:
		callee := m.prog.Lookup(st.Callee)
		if callee == nil {
			alloc.Panicf("call of unknown function %s", st.Callee)
		}
		args := make([]cell, len(st.Args))
		for i, a := range st.Args {
			args[i] = m.cellOf(env, a)
		}
		env[st.Dst] = m.call(callee, args)

	default:
		alloc.Panicf("unhandled op %v", st.Op)
	}
}

// emitOut copies the value's contents into the invocation output and
// consumes the value. The copy leaves the managed heap, so it is not
// charged to the bulk-copy counter.
func (m *machine) emitOut(env map[string]cell, st *ir.Stmt) {
	c := m.cellOf(env, st.Src)
	var data []byte
	switch c.kind {
	case cBytes:
		data = c.b.Data()
	case cVec:
		data = c.v.Data()
	default:
		alloc.Panicf("out of non-owned binding %s", st.Src)
	}
	if m.opts.MaxOutputBytes > 0 && len(m.out)+len(data) > m.opts.MaxOutputBytes {
		alloc.Panicf("output limit exceeded")
	}
	m.out = append(m.out, data...)
	switch c.kind {
	case cBytes:
		c.b.Drop(m.rt)
	case cVec:
		c.v.Drop(m.rt)
	}
}

func binEval(kind string, a, b int64) int64 {
	switch kind {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		if b == 0 {
			alloc.Panicf("division by zero")
		}
		return a / b
	case "%":
		if b == 0 {
			alloc.Panicf("division by zero")
		}
		return a % b
	case "<":
		return b2i(a < b)
	case ">":
		return b2i(a > b)
	case "<=":
		return b2i(a <= b)
	case ">=":
		return b2i(a >= b)
	case "=":
		return b2i(a == b)
	case "!=":
		return b2i(a != b)
	default:
		panic(fmt.Sprintf("unknown binary op %q", kind))
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
