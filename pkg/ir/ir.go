// Package ir defines the control-flow-graph form that the ownership checker,
// the interpreter, and the C backend all consume. Every expression operand is
// lowered to a named binding, so statements only ever reference bindings.
package ir

import (
	"fmt"
	"strings"

	"cedarc/pkg/ast"
)

// Op identifies a statement kind
type Op int

const (
	OpConstInt Op = iota // Dst = N
	OpCopy               // Dst = Src (integer copy, value semantics)
	OpBin                // Dst = Src <BinKind> Src2
	OpNewBytes           // Dst = owned bytes from Lit
	OpNewVec             // Dst = vec with capacity Src
	OpLen                // Dst = logical length of Src
	OpMove               // Dst = move Src (source invalidated)
	OpBorrow             // Dst = whole-value view of Src (Kind)
	OpSlice              // Dst = view of Src[Src2 : Src2+Src3] (Kind)
	OpEndBorrow          // view Dst goes out of scope
	OpGet                // Dst = Src[Src2] through a view
	OpPut                // Src[Src2] = Src3 through a mutable view
	OpPush               // push byte Src2 onto vec Src
	OpAppend             // append contents of Src2 onto vec Src
	OpReserve            // grow vec Src's capacity to at least Src2
	OpConcat             // Dst = new owned bytes, Src ++ Src2
	OpDrop               // destroy owned Src; Implicit for scope-end drops
	OpFreeRaw            // unsafe: free Src's allocation, binding untouched
	OpOut                // invocation output = move Src
	OpCall               // Dst = Callee(Args...)
)

// BorrowKind distinguishes shared from exclusive views
type BorrowKind int

const (
	BorrowShared BorrowKind = iota
	BorrowMut
)

func (k BorrowKind) String() string {
	if k == BorrowMut {
		return "mut"
	}
	return "shared"
}

// Stmt is a single non-terminator statement
type Stmt struct {
	Op      Op
	Pos     ast.Pos
	Dst     string
	Src     string
	Src2    string
	Src3    string
	N       int64
	Lit     []byte
	BinKind string
	Kind    BorrowKind
	Callee  string
	Args    []string

	// Implicit marks compiler-scheduled statements (scope-end drops and
	// borrow releases) as opposed to ones the program wrote.
	Implicit bool
}

// TermKind identifies a block terminator
type TermKind int

const (
	TermJump TermKind = iota
	TermCondBr
	TermRet
)

// Term is a block terminator
type Term struct {
	Kind TermKind
	Pos  ast.Pos
	Cond string // TermCondBr: integer binding, nonzero takes To
	To   int
	Else int
	Val  string // TermRet: "" for no value
}

// Block is a basic block: statements plus one terminator
type Block struct {
	ID    int
	Stmts []Stmt
	Term  Term
}

// Param is a function parameter
type Param struct {
	Name  string
	Owned bool // owned value consumed by the callee; false means integer
}

// Func is one function's CFG. Entry is always block 0.
type Func struct {
	Name      string
	Pos       ast.Pos
	Params    []Param
	RetOwned  bool // function returns an owned value (else integer or none)
	Blocks    []*Block
	BindKinds map[string]BindClass
}

// BindClass is the statically-known kind of a binding
type BindClass int

const (
	ClassInt   BindClass = iota // trivially copyable
	ClassOwned                  // owning bytes or vec
	ClassView                   // borrowed view
)

func (c BindClass) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassOwned:
		return "owned"
	case ClassView:
		return "view"
	default:
		return "?"
	}
}

// Program is a set of functions; execution starts at "main".
type Program struct {
	Funcs []*Func
}

// Lookup returns the function with the given name, or nil.
func (p *Program) Lookup(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NewBlock appends an empty block and returns it
func (f *Func) NewBlock() *Block {
	b := &Block{ID: len(f.Blocks)}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Class returns the binding class of name, defaulting to ClassInt.
func (f *Func) Class(name string) BindClass {
	if c, ok := f.BindKinds[name]; ok {
		return c
	}
	return ClassInt
}

func (s *Stmt) String() string {
	switch s.Op {
	case OpConstInt:
		return fmt.Sprintf("%s = const %d", s.Dst, s.N)
	case OpCopy:
		return fmt.Sprintf("%s = %s", s.Dst, s.Src)
	case OpBin:
		return fmt.Sprintf("%s = %s %s %s", s.Dst, s.Src, s.BinKind, s.Src2)
	case OpNewBytes:
		return fmt.Sprintf("%s = bytes %q", s.Dst, s.Lit)
	case OpNewVec:
		return fmt.Sprintf("%s = vec cap=%s", s.Dst, s.Src)
	case OpLen:
		return fmt.Sprintf("%s = len %s", s.Dst, s.Src)
	case OpMove:
		return fmt.Sprintf("%s = move %s", s.Dst, s.Src)
	case OpBorrow:
		return fmt.Sprintf("%s = borrow(%s) %s", s.Dst, s.Kind, s.Src)
	case OpSlice:
		return fmt.Sprintf("%s = slice(%s) %s[%s:+%s]", s.Dst, s.Kind, s.Src, s.Src2, s.Src3)
	case OpEndBorrow:
		return fmt.Sprintf("end-borrow %s", s.Dst)
	case OpGet:
		return fmt.Sprintf("%s = %s[%s]", s.Dst, s.Src, s.Src2)
	case OpPut:
		return fmt.Sprintf("%s[%s] = %s", s.Src, s.Src2, s.Src3)
	case OpPush:
		return fmt.Sprintf("push %s %s", s.Src, s.Src2)
	case OpAppend:
		return fmt.Sprintf("append %s %s", s.Src, s.Src2)
	case OpReserve:
		return fmt.Sprintf("reserve %s %s", s.Src, s.Src2)
	case OpConcat:
		return fmt.Sprintf("%s = concat %s %s", s.Dst, s.Src, s.Src2)
	case OpDrop:
		if s.Implicit {
			return fmt.Sprintf("drop %s (scope)", s.Src)
		}
		return fmt.Sprintf("drop %s", s.Src)
	case OpFreeRaw:
		return fmt.Sprintf("free-raw %s", s.Src)
	case OpOut:
		return fmt.Sprintf("out %s", s.Src)
	case OpCall:
		return fmt.Sprintf("%s = call %s(%s)", s.Dst, s.Callee, strings.Join(s.Args, ", "))
	default:
		return "?"
	}
}

func (t *Term) String() string {
	switch t.Kind {
	case TermJump:
		return fmt.Sprintf("jump b%d", t.To)
	case TermCondBr:
		return fmt.Sprintf("br %s ? b%d : b%d", t.Cond, t.To, t.Else)
	case TermRet:
		if t.Val == "" {
			return "ret"
		}
		return fmt.Sprintf("ret %s", t.Val)
	default:
		return "?"
	}
}

// String renders the function for debugging and golden tests
func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s:\n", f.Name)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "b%d:\n", b.ID)
		for i := range b.Stmts {
			fmt.Fprintf(&sb, "  %s\n", b.Stmts[i].String())
		}
		fmt.Fprintf(&sb, "  %s\n", b.Term.String())
	}
	return sb.String()
}

// Succs returns the successor block IDs of b
func (b *Block) Succs() []int {
	switch b.Term.Kind {
	case TermJump:
		return []int{b.Term.To}
	case TermCondBr:
		return []int{b.Term.To, b.Term.Else}
	default:
		return nil
	}
}
