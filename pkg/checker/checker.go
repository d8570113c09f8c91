// Package checker implements the release-mode static ownership, borrow
// and lifetime analysis. It is the only safety enforcement in release
// builds: a program that passes here runs with zero borrow metadata.
//
// The analysis is a standard forward dataflow fixed point per function:
// each program point carries a per-binding ownership state plus the set of
// live borrows; transfer functions update it per statement; merge points
// join per-branch states precisely (owned vs moved becomes a conflict
// that errors only on later use). Violations are collected across the
// whole program and reported as one batch in stable source order.
package checker

import (
	"fmt"

	"cedarc/pkg/ast"
	"cedarc/pkg/ir"
)

// Check analyzes every function of the program and returns all ownership
// violations found. A nil return means the program is memory safe under
// the release ABI.
func Check(prog *ir.Program) Diagnostics {
	var ds Diagnostics
	for _, fn := range prog.Funcs {
		ds = append(ds, checkFunc(prog, fn)...)
	}
	ds.Sort()
	if len(ds) == 0 {
		return nil
	}
	return ds
}

type fnChecker struct {
	prog *ir.Program
	fn   *ir.Func
	ds   Diagnostics
	// report toggles diagnostic emission: off while iterating to a fixed
	// point, on for the final pass so each violation is reported once.
	report bool
}

func checkFunc(prog *ir.Program, fn *ir.Func) Diagnostics {
	c := &fnChecker{prog: prog, fn: fn}

	in := make([]*state, len(fn.Blocks))
	entry := newState()
	for _, p := range fn.Params {
		if p.Owned {
			entry.own[p.Name] = stOwned
		}
	}
	in[0] = entry

	// Fixed-point iteration. Block IDs are assigned in lowering order, so
	// the worklist discipline is deterministic.
	work := []int{0}
	for len(work) > 0 {
		id := work[0]
		work = work[1:]
		if in[id] == nil {
			continue
		}
		out := c.transferBlock(fn.Blocks[id], in[id].clone())
		for _, succ := range fn.Blocks[id].Succs() {
			if in[succ] == nil {
				in[succ] = out.clone()
				work = append(work, succ)
			} else if in[succ].join(out) {
				work = append(work, succ)
			}
		}
	}

	// Reporting pass over the stable in-states.
	c.report = true
	for id, b := range fn.Blocks {
		if in[id] == nil {
			continue // unreachable
		}
		c.transferBlock(b, in[id].clone())
	}
	return c.ds
}

func (c *fnChecker) errf(pos ast.Pos, binding, format string, args ...interface{}) {
	if !c.report {
		return
	}
	c.ds = append(c.ds, Diagnostic{
		Pos:     pos,
		Fn:      c.fn.Name,
		Binding: binding,
		Msg:     fmt.Sprintf(format, args...),
	})
}

func (c *fnChecker) transferBlock(b *ir.Block, s *state) *state {
	for i := range b.Stmts {
		c.transferStmt(&b.Stmts[i], s)
	}
	c.transferTerm(&b.Term, s)
	return s
}

// useOwned validates a non-consuming read of an owning binding.
func (c *fnChecker) useOwned(s *state, pos ast.Pos, name string) {
	switch s.own[name] {
	case stMoved:
		c.errf(pos, name, "use of moved value")
	case stConflict:
		c.errf(pos, name, "use of conditionally moved value")
	}
	if s.mutBorrowOf(name) {
		c.errf(pos, name, "read while mutably borrowed")
	}
}

// consumeOwned validates and applies a consuming use (move, drop, out,
// call argument, return).
func (c *fnChecker) consumeOwned(s *state, pos ast.Pos, name, what string) {
	switch s.own[name] {
	case stMoved:
		c.errf(pos, name, "%s of moved value", what)
	case stConflict:
		c.errf(pos, name, "%s of conditionally moved value", what)
	}
	if bs := s.borrowsOf(name); len(bs) > 0 {
		c.errf(pos, name, "%s while borrowed by %s", what, bs[0])
	}
	s.own[name] = stMoved
}

// mutateOwned validates an in-place mutation (push, append, set!).
// Mutation while any borrow is live invalidates views, so it is rejected.
func (c *fnChecker) mutateOwned(s *state, pos ast.Pos, name, what string) {
	switch s.own[name] {
	case stMoved:
		c.errf(pos, name, "%s of moved value", what)
	case stConflict:
		c.errf(pos, name, "%s of conditionally moved value", what)
	}
	if bs := s.borrowsOf(name); len(bs) > 0 {
		c.errf(pos, name, "set while borrowed by %s", bs[0])
	}
}

// useView validates a read or write through a view binding.
func (c *fnChecker) useView(s *state, pos ast.Pos, name string) {
	if _, ok := s.views[name]; !ok {
		c.errf(pos, name, "use of released view")
	}
}

func (c *fnChecker) transferStmt(st *ir.Stmt, s *state) {
	switch st.Op {
	case ir.OpConstInt, ir.OpCopy, ir.OpBin:
		// Integer bindings are trivially copyable; nothing to track.

	case ir.OpNewBytes, ir.OpNewVec, ir.OpConcat:
		if st.Op == ir.OpConcat {
			c.useOperand(s, st.Pos, st.Src)
			c.useOperand(s, st.Pos, st.Src2)
		}
		s.own[st.Dst] = stOwned

	case ir.OpLen:
		c.useOperand(s, st.Pos, st.Src)

	case ir.OpMove:
		c.consumeOwned(s, st.Pos, st.Src, "move")
		s.own[st.Dst] = stOwned

	case ir.OpBorrow, ir.OpSlice:
		c.borrowFrom(s, st)

	case ir.OpEndBorrow:
		if _, ok := s.views[st.Dst]; !ok && !st.Implicit {
			c.errf(st.Pos, st.Dst, "end of inactive borrow")
		}
		delete(s.views, st.Dst)

	case ir.OpGet:
		c.useView(s, st.Pos, st.Src)

	case ir.OpPut:
		c.useView(s, st.Pos, st.Src)
		if v, ok := s.views[st.Src]; ok && v.kind != ir.BorrowMut {
			c.errf(st.Pos, st.Src, "write through shared borrow")
		}

	case ir.OpPush:
		c.mutateOwned(s, st.Pos, st.Src, "push")

	case ir.OpAppend:
		c.mutateOwned(s, st.Pos, st.Src, "append")
		c.useOperand(s, st.Pos, st.Src2)

	case ir.OpReserve:
		c.mutateOwned(s, st.Pos, st.Src, "reserve")

	case ir.OpDrop:
		c.transferDrop(st, s)

	case ir.OpFreeRaw:
		// Unsafe escape hatch: deliberately unchecked here. The debug-mode
		// dynamic checker owns misuse of this operation.
		c.useOwned(s, st.Pos, st.Src)

	case ir.OpOut:
		c.consumeOwned(s, st.Pos, st.Src, "out")

	case ir.OpCall:
		c.transferCall(st, s)
	}
}

// useOperand validates a non-consuming read of any operand binding.
func (c *fnChecker) useOperand(s *state, pos ast.Pos, name string) {
	switch c.fn.Class(name) {
	case ir.ClassOwned:
		c.useOwned(s, pos, name)
	case ir.ClassView:
		c.useView(s, pos, name)
	}
}

func (c *fnChecker) borrowFrom(s *state, st *ir.Stmt) {
	owner := st.Src
	switch s.own[owner] {
	case stMoved:
		c.errf(st.Pos, owner, "borrow of moved value")
	case stConflict:
		c.errf(st.Pos, owner, "borrow of conditionally moved value")
	}
	switch st.Kind {
	case ir.BorrowShared:
		if s.mutBorrowOf(owner) {
			c.errf(st.Pos, owner, "conflicting borrow: shared while mutably borrowed")
		}
	case ir.BorrowMut:
		if s.mutBorrowOf(owner) {
			c.errf(st.Pos, owner, "conflicting borrow: already mutably borrowed")
		}
		if n := s.sharedBorrowsOf(owner); n > 0 {
			c.errf(st.Pos, owner, "conflicting borrow: mutable while shared")
		}
	}
	s.views[st.Dst] = viewInfo{owner: owner, kind: st.Kind}
}

func (c *fnChecker) transferDrop(st *ir.Stmt, s *state) {
	name := st.Src
	cur := s.own[name]
	switch {
	case cur == stMoved && st.Implicit:
		// Scope-end drop of a fully moved binding: suppressed by the
		// analysis; drop idempotence over the empty representation is the
		// backstop, never the mechanism.
	case cur == stMoved:
		c.errf(st.Pos, name, "drop of moved value")
	case cur == stConflict:
		c.errf(st.Pos, name, "conditionally moved binding reaches scope end")
	default:
		if bs := s.borrowsOf(name); len(bs) > 0 {
			c.errf(st.Pos, name, "dropped while borrowed by %s", bs[0])
		}
	}
	s.own[name] = stMoved
}

func (c *fnChecker) transferCall(st *ir.Stmt, s *state) {
	callee := c.prog.Lookup(st.Callee)
	if callee == nil {
		c.errf(st.Pos, st.Callee, "call to unknown function")
		return
	}
	if len(st.Args) != len(callee.Params) {
		c.errf(st.Pos, st.Callee, "call with %d args, want %d", len(st.Args), len(callee.Params))
	}
	for i, arg := range st.Args {
		switch c.fn.Class(arg) {
		case ir.ClassView:
			c.errf(st.Pos, arg, "borrowed view cannot cross a call boundary")
		case ir.ClassOwned:
			// Owning arguments are consumed by the callee.
			c.consumeOwned(s, st.Pos, arg, "pass")
			if i < len(callee.Params) && !callee.Params[i].Owned {
				c.errf(st.Pos, arg, "owned value passed for integer parameter")
			}
		default:
			if i < len(callee.Params) && callee.Params[i].Owned {
				c.errf(st.Pos, arg, "integer passed for owned parameter")
			}
		}
	}
	if callee.RetOwned {
		s.own[st.Dst] = stOwned
	}
}

func (c *fnChecker) transferTerm(t *ir.Term, s *state) {
	if t.Kind != ir.TermRet || t.Val == "" {
		return
	}
	switch c.fn.Class(t.Val) {
	case ir.ClassView:
		// The no-dangling-borrow property: a borrow cannot outlive its
		// owner's scope, and every owner's scope ends inside the function.
		c.errf(t.Pos, t.Val, "cannot return borrowed view")
	case ir.ClassOwned:
		c.consumeOwned(s, t.Pos, t.Val, "return")
	}
}
