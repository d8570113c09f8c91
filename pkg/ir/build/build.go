// Package build lowers parsed source into the IR control-flow graph.
// Lowering is where drop scheduling happens: every owned binding that is
// not consumed gets exactly one compiler-inserted drop at the close of its
// lexical scope, in reverse declaration order, and every view gets a
// borrow-end marker at the same point. The checker then proves those
// schedules safe; the backend and interpreter just execute them.
package build

import (
	"fmt"

	"cedarc/pkg/ast"
	"cedarc/pkg/ir"
)

// Error is a lowering failure with a source position.
type Error struct {
	Pos ast.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func errf(pos ast.Pos, format string, args ...interface{}) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Program lowers a list of top-level forms into an ir.Program.
// Every top-level form must be a (defn ...); execution starts at main.
func Program(forms []*ast.Value) (*ir.Program, error) {
	prog := &ir.Program{}

	// Pass 1: signatures, so calls can be classified during lowering.
	for _, form := range forms {
		fn, err := signature(form)
		if err != nil {
			return nil, err
		}
		if prog.Lookup(fn.Name) != nil {
			return nil, errf(form.Pos, "duplicate function %s", fn.Name)
		}
		prog.Funcs = append(prog.Funcs, fn)
	}
	if prog.Lookup("main") == nil {
		return nil, errf(ast.Pos{Line: 1, Col: 1}, "program has no main function")
	}

	// Pass 2: bodies.
	for i, form := range forms {
		if err := lowerBody(prog, prog.Funcs[i], form); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func signature(form *ast.Value) (*ir.Func, error) {
	if !ast.IsCell(form) || !ast.SymIs(form.Car, "defn") {
		return nil, errf(form.Pos, "top-level form must be (defn ...)")
	}
	parts := ast.ListSlice(form.Cdr)
	if len(parts) < 2 {
		return nil, errf(form.Pos, "defn needs a name and a parameter list")
	}
	nameV, paramsV := parts[0], parts[1]
	if !ast.IsSym(nameV) {
		return nil, errf(form.Pos, "defn name must be a symbol")
	}

	fn := &ir.Func{
		Name:      nameV.Str,
		Pos:       form.Pos,
		BindKinds: make(map[string]ir.BindClass),
	}
	for _, pv := range ast.ListSlice(paramsV) {
		switch {
		case ast.IsSym(pv):
			fn.Params = append(fn.Params, ir.Param{Name: pv.Str})
		case ast.IsCell(pv) && ast.SymIs(pv.Car, "own") && ast.IsSym(ast.ListAt(pv, 1)):
			fn.Params = append(fn.Params, ir.Param{Name: ast.ListAt(pv, 1).Str, Owned: true})
		default:
			return nil, errf(pv.Pos, "parameter must be a symbol or (own symbol)")
		}
	}
	if len(parts) > 2 && ast.SymIs(parts[2], ":owned") {
		fn.RetOwned = true
	}
	return fn, nil
}

// binding is one lowered value: its IR name, class, and whether it was
// freshly produced by the expression (fresh temps alias into let
// bindings; named bindings require an explicit or implicit move).
type binding struct {
	name  string
	class ir.BindClass
	fresh bool
}

// scopeEntry is one cleanup obligation at scope close
type scopeEntry struct {
	name  string
	class ir.BindClass
	pos   ast.Pos
}

type scope struct {
	entries []scopeEntry
	env     map[string]binding
}

type lowerer struct {
	prog   *ir.Program
	fn     *ir.Func
	cur    *ir.Block
	scopes []*scope
	temps  int
}

func lowerBody(prog *ir.Program, fn *ir.Func, form *ast.Value) error {
	parts := ast.ListSlice(form.Cdr)
	body := parts[2:]
	if fn.RetOwned && len(parts) > 2 {
		body = parts[3:]
	}

	lo := &lowerer{prog: prog, fn: fn}
	lo.cur = fn.NewBlock()
	lo.pushScope()
	for _, p := range fn.Params {
		class := ir.ClassInt
		if p.Owned {
			class = ir.ClassOwned
		}
		fn.BindKinds[p.Name] = class
		lo.topScope().env[p.Name] = binding{name: p.Name, class: class}
		if p.Owned {
			lo.declare(p.Name, class, fn.Pos)
		}
	}

	last := binding{}
	for _, e := range body {
		b, err := lo.lowerExpr(e)
		if err != nil {
			return err
		}
		last = b
	}
	if lo.cur != nil {
		ret := ""
		if last.name != "" && (fn.RetOwned || last.class == ir.ClassInt) {
			ret = last.name
			if fn.RetOwned && last.class != ir.ClassOwned {
				return errf(form.Pos, "function %s declared :owned but returns %s", fn.Name, last.class)
			}
		}
		lo.closeScopesForExit(form.Pos, ret)
		lo.cur.Term = ir.Term{Kind: ir.TermRet, Pos: form.Pos, Val: ret}
	}
	return nil
}

func (lo *lowerer) pushScope() {
	lo.scopes = append(lo.scopes, &scope{env: make(map[string]binding)})
}

func (lo *lowerer) popScope(pos ast.Pos) {
	sc := lo.topScope()
	lo.emitCleanup(sc, pos, "")
	lo.scopes = lo.scopes[:len(lo.scopes)-1]
}

func (lo *lowerer) topScope() *scope {
	return lo.scopes[len(lo.scopes)-1]
}

// emitCleanup releases sc's obligations in reverse declaration order,
// skipping the binding named keep (a value being returned).
func (lo *lowerer) emitCleanup(sc *scope, pos ast.Pos, keep string) {
	for i := len(sc.entries) - 1; i >= 0; i-- {
		e := sc.entries[i]
		if e.name == keep {
			continue
		}
		switch e.class {
		case ir.ClassView:
			lo.emit(ir.Stmt{Op: ir.OpEndBorrow, Pos: pos, Dst: e.name, Implicit: true})
		case ir.ClassOwned:
			lo.emit(ir.Stmt{Op: ir.OpDrop, Pos: pos, Src: e.name, Implicit: true})
		}
	}
}

// closeScopesForExit releases every open scope, innermost first, for an
// early return or function end. A view is always declared after the
// owner it borrows from, so reverse declaration order ends every borrow
// before its owner's drop can run.
func (lo *lowerer) closeScopesForExit(pos ast.Pos, keep string) {
	for i := len(lo.scopes) - 1; i >= 0; i-- {
		lo.emitCleanup(lo.scopes[i], pos, keep)
	}
}

func (lo *lowerer) declare(name string, class ir.BindClass, pos ast.Pos) {
	sc := lo.topScope()
	sc.entries = append(sc.entries, scopeEntry{name: name, class: class, pos: pos})
}

func (lo *lowerer) lookup(name string) (binding, bool) {
	for i := len(lo.scopes) - 1; i >= 0; i-- {
		if b, ok := lo.scopes[i].env[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (lo *lowerer) temp(class ir.BindClass) string {
	lo.temps++
	name := fmt.Sprintf("%%t%d", lo.temps)
	lo.fn.BindKinds[name] = class
	return name
}

func (lo *lowerer) emit(st ir.Stmt) {
	if lo.cur != nil {
		lo.cur.Stmts = append(lo.cur.Stmts, st)
	}
}

func (lo *lowerer) lowerExpr(e *ast.Value) (binding, error) {
	switch {
	case ast.IsInt(e):
		t := lo.temp(ir.ClassInt)
		lo.emit(ir.Stmt{Op: ir.OpConstInt, Pos: e.Pos, Dst: t, N: e.Int})
		return binding{name: t, class: ir.ClassInt, fresh: true}, nil

	case ast.IsStr(e):
		return binding{}, errf(e.Pos, "string literal only allowed inside (bytes ...)")

	case ast.IsSym(e):
		b, ok := lo.lookup(e.Str)
		if !ok {
			return binding{}, errf(e.Pos, "unknown binding %s", e.Str)
		}
		return binding{name: b.name, class: b.class}, nil

	case ast.IsCell(e):
		return lo.lowerForm(e)

	default:
		return binding{}, errf(e.Pos, "cannot lower %s", e)
	}
}

var binOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"<": true, ">": true, "<=": true, ">=": true, "=": true, "!=": true,
}

func (lo *lowerer) lowerForm(e *ast.Value) (binding, error) {
	head := e.Car
	args := ast.ListSlice(e.Cdr)
	if !ast.IsSym(head) {
		return binding{}, errf(e.Pos, "expected operator, got %s", head)
	}
	op := head.Str

	if binOps[op] {
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "%s needs 2 arguments", op)
		}
		a, err := lo.lowerInt(args[0])
		if err != nil {
			return binding{}, err
		}
		b, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		t := lo.temp(ir.ClassInt)
		lo.emit(ir.Stmt{Op: ir.OpBin, Pos: e.Pos, Dst: t, Src: a, Src2: b, BinKind: op})
		return binding{name: t, class: ir.ClassInt, fresh: true}, nil
	}

	switch op {
	case "bytes":
		if len(args) != 1 || !ast.IsStr(args[0]) {
			return binding{}, errf(e.Pos, "bytes needs one string literal")
		}
		t := lo.temp(ir.ClassOwned)
		lo.emit(ir.Stmt{Op: ir.OpNewBytes, Pos: e.Pos, Dst: t, Lit: []byte(args[0].Str)})
		lo.declare(t, ir.ClassOwned, e.Pos)
		return binding{name: t, class: ir.ClassOwned, fresh: true}, nil

	case "vec":
		if len(args) != 1 {
			return binding{}, errf(e.Pos, "vec needs a capacity")
		}
		n, err := lo.lowerInt(args[0])
		if err != nil {
			return binding{}, err
		}
		t := lo.temp(ir.ClassOwned)
		lo.emit(ir.Stmt{Op: ir.OpNewVec, Pos: e.Pos, Dst: t, Src: n})
		lo.declare(t, ir.ClassOwned, e.Pos)
		return binding{name: t, class: ir.ClassOwned, fresh: true}, nil

	case "len":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		t := lo.temp(ir.ClassInt)
		lo.emit(ir.Stmt{Op: ir.OpLen, Pos: e.Pos, Dst: t, Src: b.name})
		return binding{name: t, class: ir.ClassInt, fresh: true}, nil

	case "move":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "move needs an owned value")
		}
		t := lo.temp(ir.ClassOwned)
		lo.emit(ir.Stmt{Op: ir.OpMove, Pos: e.Pos, Dst: t, Src: b.name})
		lo.declare(t, ir.ClassOwned, e.Pos)
		return binding{name: t, class: ir.ClassOwned, fresh: true}, nil

	case "borrow", "borrow-mut":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "%s needs an owned value", op)
		}
		kind := ir.BorrowShared
		if op == "borrow-mut" {
			kind = ir.BorrowMut
		}
		t := lo.temp(ir.ClassView)
		lo.emit(ir.Stmt{Op: ir.OpBorrow, Pos: e.Pos, Dst: t, Src: b.name, Kind: kind})
		lo.declare(t, ir.ClassView, e.Pos)
		return binding{name: t, class: ir.ClassView, fresh: true}, nil

	case "slice", "slice-mut":
		if len(args) != 3 {
			return binding{}, errf(e.Pos, "%s needs owner, start, length", op)
		}
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "%s needs an owned value", op)
		}
		start, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		length, err := lo.lowerInt(args[2])
		if err != nil {
			return binding{}, err
		}
		kind := ir.BorrowShared
		if op == "slice-mut" {
			kind = ir.BorrowMut
		}
		t := lo.temp(ir.ClassView)
		lo.emit(ir.Stmt{Op: ir.OpSlice, Pos: e.Pos, Dst: t, Src: b.name, Src2: start, Src3: length, Kind: kind})
		lo.declare(t, ir.ClassView, e.Pos)
		return binding{name: t, class: ir.ClassView, fresh: true}, nil

	case "get":
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "get needs a view and an index")
		}
		v, err := lo.lowerView(args[0])
		if err != nil {
			return binding{}, err
		}
		i, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		t := lo.temp(ir.ClassInt)
		lo.emit(ir.Stmt{Op: ir.OpGet, Pos: e.Pos, Dst: t, Src: v, Src2: i})
		return binding{name: t, class: ir.ClassInt, fresh: true}, nil

	case "put!":
		if len(args) != 3 {
			return binding{}, errf(e.Pos, "put! needs a view, an index and a value")
		}
		v, err := lo.lowerView(args[0])
		if err != nil {
			return binding{}, err
		}
		i, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		x, err := lo.lowerInt(args[2])
		if err != nil {
			return binding{}, err
		}
		lo.emit(ir.Stmt{Op: ir.OpPut, Pos: e.Pos, Src: v, Src2: i, Src3: x})
		return lo.unitResult(e.Pos), nil

	case "push!":
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "push! needs a vec and a byte value")
		}
		v, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		x, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		lo.emit(ir.Stmt{Op: ir.OpPush, Pos: e.Pos, Src: v.name, Src2: x})
		return lo.unitResult(e.Pos), nil

	case "append!":
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "append! needs a vec and a source")
		}
		v, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		src, err := lo.lowerOperand(e, args, 1)
		if err != nil {
			return binding{}, err
		}
		lo.emit(ir.Stmt{Op: ir.OpAppend, Pos: e.Pos, Src: v.name, Src2: src.name})
		return lo.unitResult(e.Pos), nil

	case "reserve!":
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "reserve! needs a vec and a capacity")
		}
		v, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		n, err := lo.lowerInt(args[1])
		if err != nil {
			return binding{}, err
		}
		lo.emit(ir.Stmt{Op: ir.OpReserve, Pos: e.Pos, Src: v.name, Src2: n})
		return lo.unitResult(e.Pos), nil

	case "concat":
		if len(args) != 2 {
			return binding{}, errf(e.Pos, "concat needs two sources")
		}
		a, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		b, err := lo.lowerOperand(e, args, 1)
		if err != nil {
			return binding{}, err
		}
		t := lo.temp(ir.ClassOwned)
		lo.emit(ir.Stmt{Op: ir.OpConcat, Pos: e.Pos, Dst: t, Src: a.name, Src2: b.name})
		lo.declare(t, ir.ClassOwned, e.Pos)
		return binding{name: t, class: ir.ClassOwned, fresh: true}, nil

	case "drop!":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "drop! needs an owned value")
		}
		lo.emit(ir.Stmt{Op: ir.OpDrop, Pos: e.Pos, Src: b.name})
		return lo.unitResult(e.Pos), nil

	case "free-raw":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "free-raw needs an owned value")
		}
		lo.emit(ir.Stmt{Op: ir.OpFreeRaw, Pos: e.Pos, Src: b.name})
		return lo.unitResult(e.Pos), nil

	case "out":
		b, err := lo.lowerOperand(e, args, 0)
		if err != nil {
			return binding{}, err
		}
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "out needs an owned value")
		}
		lo.emit(ir.Stmt{Op: ir.OpOut, Pos: e.Pos, Src: b.name})
		return lo.unitResult(e.Pos), nil

	case "let":
		return lo.lowerLet(e, args)

	case "set!":
		return lo.lowerSet(e, args)

	case "if":
		return lo.lowerIf(e, args)

	case "while":
		return lo.lowerWhile(e, args)

	case "do":
		last := lo.unitResult(e.Pos)
		for _, sub := range args {
			b, err := lo.lowerExpr(sub)
			if err != nil {
				return binding{}, err
			}
			last = b
		}
		return last, nil

	case "return":
		return lo.lowerReturn(e, args)

	default:
		return lo.lowerCall(e, op, args)
	}
}

// unitResult materializes the integer 0 for statement-like forms.
func (lo *lowerer) unitResult(pos ast.Pos) binding {
	t := lo.temp(ir.ClassInt)
	lo.emit(ir.Stmt{Op: ir.OpConstInt, Pos: pos, Dst: t, N: 0})
	return binding{name: t, class: ir.ClassInt, fresh: true}
}

func (lo *lowerer) lowerOperand(parent *ast.Value, args []*ast.Value, i int) (binding, error) {
	if i >= len(args) {
		return binding{}, errf(parent.Pos, "missing argument")
	}
	return lo.lowerExpr(args[i])
}

func (lo *lowerer) lowerInt(e *ast.Value) (string, error) {
	b, err := lo.lowerExpr(e)
	if err != nil {
		return "", err
	}
	if b.class != ir.ClassInt {
		return "", errf(e.Pos, "expected an integer value, got %s", b.class)
	}
	return b.name, nil
}

func (lo *lowerer) lowerView(e *ast.Value) (string, error) {
	b, err := lo.lowerExpr(e)
	if err != nil {
		return "", err
	}
	if b.class != ir.ClassView {
		return "", errf(e.Pos, "expected a view, got %s", b.class)
	}
	return b.name, nil
}

func (lo *lowerer) lowerLet(e *ast.Value, args []*ast.Value) (binding, error) {
	if len(args) < 1 {
		return binding{}, errf(e.Pos, "let needs a binding list")
	}
	lo.pushScope()
	for _, bindV := range ast.ListSlice(args[0]) {
		sym := ast.ListAt(bindV, 0)
		valE := ast.ListAt(bindV, 1)
		if !ast.IsSym(sym) || valE == nil {
			return binding{}, errf(bindV.Pos, "let binding must be (name expr)")
		}
		b, err := lo.lowerExpr(valE)
		if err != nil {
			return binding{}, err
		}
		bound := b
		if b.class == ir.ClassOwned && !b.fresh {
			// Binding an existing owned value moves it.
			t := lo.temp(ir.ClassOwned)
			lo.emit(ir.Stmt{Op: ir.OpMove, Pos: bindV.Pos, Dst: t, Src: b.name})
			lo.declare(t, ir.ClassOwned, bindV.Pos)
			bound = binding{name: t, class: ir.ClassOwned}
		}
		lo.topScope().env[sym.Str] = binding{name: bound.name, class: bound.class}
	}

	last := lo.unitResult(e.Pos)
	for _, sub := range args[1:] {
		b, err := lo.lowerExpr(sub)
		if err != nil {
			return binding{}, err
		}
		last = b
	}

	// A let whose value is an owned binding from this scope would be
	// dropped by the scope cleanup it escapes; move it out first.
	if last.class == ir.ClassOwned {
		t := lo.temp(ir.ClassOwned)
		lo.emit(ir.Stmt{Op: ir.OpMove, Pos: e.Pos, Dst: t, Src: last.name})
		lo.popScope(e.Pos)
		lo.declare(t, ir.ClassOwned, e.Pos)
		return binding{name: t, class: ir.ClassOwned, fresh: true}, nil
	}
	if last.class == ir.ClassView {
		return binding{}, errf(e.Pos, "a view cannot escape its let scope")
	}
	lo.popScope(e.Pos)
	return last, nil
}

func (lo *lowerer) lowerSet(e *ast.Value, args []*ast.Value) (binding, error) {
	if len(args) != 2 || !ast.IsSym(args[0]) {
		return binding{}, errf(e.Pos, "set! needs a name and an expression")
	}
	target, ok := lo.lookup(args[0].Str)
	if !ok {
		return binding{}, errf(e.Pos, "unknown binding %s", args[0].Str)
	}
	b, err := lo.lowerExpr(args[1])
	if err != nil {
		return binding{}, err
	}
	switch target.class {
	case ir.ClassInt:
		if b.class != ir.ClassInt {
			return binding{}, errf(e.Pos, "cannot assign %s to integer binding", b.class)
		}
		lo.emit(ir.Stmt{Op: ir.OpCopy, Pos: e.Pos, Dst: target.name, Src: b.name})
	case ir.ClassOwned:
		if b.class != ir.ClassOwned {
			return binding{}, errf(e.Pos, "cannot assign %s to owned binding", b.class)
		}
		// Destroy the old value, then transfer the new one in. The drop is
		// implicit so assigning into a moved-out slot is a redefinition,
		// not an error.
		lo.emit(ir.Stmt{Op: ir.OpDrop, Pos: e.Pos, Src: target.name, Implicit: true})
		lo.emit(ir.Stmt{Op: ir.OpMove, Pos: e.Pos, Dst: target.name, Src: b.name})
	default:
		return binding{}, errf(e.Pos, "cannot assign to a view binding")
	}
	return lo.unitResult(e.Pos), nil
}

func (lo *lowerer) lowerIf(e *ast.Value, args []*ast.Value) (binding, error) {
	if len(args) < 2 || len(args) > 3 {
		return binding{}, errf(e.Pos, "if needs condition, then, optional else")
	}
	cond, err := lo.lowerInt(args[0])
	if err != nil {
		return binding{}, err
	}

	// Result slot, defined before the branch so it exists on both paths.
	res := lo.temp(ir.ClassInt)
	lo.emit(ir.Stmt{Op: ir.OpConstInt, Pos: e.Pos, Dst: res, N: 0})

	thenB := lo.fn.NewBlock()
	elseB := lo.fn.NewBlock()
	joinB := lo.fn.NewBlock()
	lo.cur.Term = ir.Term{Kind: ir.TermCondBr, Pos: e.Pos, Cond: cond, To: thenB.ID, Else: elseB.ID}

	lower := func(blk *ir.Block, body *ast.Value) error {
		lo.cur = blk
		lo.pushScope()
		if body != nil {
			b, err := lo.lowerExpr(body)
			if err != nil {
				return err
			}
			if b.class == ir.ClassInt {
				lo.emit(ir.Stmt{Op: ir.OpCopy, Pos: body.Pos, Dst: res, Src: b.name})
			} else if b.class == ir.ClassOwned && b.fresh {
				return errf(body.Pos, "if branches cannot yield owned values; bind with let")
			}
		}
		lo.popScope(e.Pos)
		if lo.cur != nil {
			lo.cur.Term = ir.Term{Kind: ir.TermJump, Pos: e.Pos, To: joinB.ID}
		}
		return nil
	}

	if err := lower(thenB, args[1]); err != nil {
		return binding{}, err
	}
	var elseBody *ast.Value
	if len(args) == 3 {
		elseBody = args[2]
	}
	if err := lower(elseB, elseBody); err != nil {
		return binding{}, err
	}

	lo.cur = joinB
	return binding{name: res, class: ir.ClassInt, fresh: true}, nil
}

func (lo *lowerer) lowerWhile(e *ast.Value, args []*ast.Value) (binding, error) {
	if len(args) < 1 {
		return binding{}, errf(e.Pos, "while needs a condition")
	}
	headB := lo.fn.NewBlock()
	bodyB := lo.fn.NewBlock()
	exitB := lo.fn.NewBlock()

	lo.cur.Term = ir.Term{Kind: ir.TermJump, Pos: e.Pos, To: headB.ID}
	lo.cur = headB
	// The condition re-runs on every iteration, so any owned temporary or
	// borrow it produces must be cleaned up in the head block itself. The
	// condition result is an integer and survives the cleanup.
	lo.pushScope()
	cond, err := lo.lowerInt(args[0])
	if err != nil {
		return binding{}, err
	}
	lo.popScope(e.Pos)
	lo.cur.Term = ir.Term{Kind: ir.TermCondBr, Pos: e.Pos, Cond: cond, To: bodyB.ID, Else: exitB.ID}

	lo.cur = bodyB
	lo.pushScope()
	for _, sub := range args[1:] {
		if _, err := lo.lowerExpr(sub); err != nil {
			return binding{}, err
		}
	}
	lo.popScope(e.Pos)
	if lo.cur != nil {
		lo.cur.Term = ir.Term{Kind: ir.TermJump, Pos: e.Pos, To: headB.ID}
	}

	lo.cur = exitB
	return lo.unitResult(e.Pos), nil
}

func (lo *lowerer) lowerReturn(e *ast.Value, args []*ast.Value) (binding, error) {
	val := ""
	if len(args) == 1 {
		b, err := lo.lowerExpr(args[0])
		if err != nil {
			return binding{}, err
		}
		// A returned view is lowered anyway; the checker reports the
		// escape with a proper diagnostic.
		val = b.name
	} else if len(args) > 1 {
		return binding{}, errf(e.Pos, "return takes at most one value")
	}

	lo.closeScopesForExit(e.Pos, val)
	lo.cur.Term = ir.Term{Kind: ir.TermRet, Pos: e.Pos, Val: val}

	// Code after a return in the same sequence is unreachable; give it a
	// fresh block so lowering can continue without touching the ret.
	lo.cur = lo.fn.NewBlock()
	lo.cur.Term = ir.Term{Kind: ir.TermRet, Pos: e.Pos}
	return lo.unitResult(e.Pos), nil
}

func (lo *lowerer) lowerCall(e *ast.Value, name string, args []*ast.Value) (binding, error) {
	callee := lo.prog.Lookup(name)
	if callee == nil {
		return binding{}, errf(e.Pos, "unknown function %s", name)
	}
	var lowered []string
	for _, a := range args {
		b, err := lo.lowerExpr(a)
		if err != nil {
			return binding{}, err
		}
		lowered = append(lowered, b.name)
	}
	class := ir.ClassInt
	if callee.RetOwned {
		class = ir.ClassOwned
	}
	t := lo.temp(class)
	lo.emit(ir.Stmt{Op: ir.OpCall, Pos: e.Pos, Dst: t, Callee: name, Args: lowered})
	if class == ir.ClassOwned {
		lo.declare(t, ir.ClassOwned, e.Pos)
	}
	return binding{name: t, class: class, fresh: true}, nil
}
