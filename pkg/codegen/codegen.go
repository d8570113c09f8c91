// Package codegen emits C99 from the lowered CFG form. The emitted
// program compiles against the ABI header in two configurations: release,
// where ownership was proven statically and no borrow metadata exists,
// and debug (-DCEDAR_DEBUG_BORROW=1), where the same layouts grow table
// IDs and every borrow operation calls into the borrow table.
package codegen

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"cedarc/pkg/ir"
)

// ownedKind is the concrete C type behind an owned binding.
type ownedKind int

const (
	kUnknown ownedKind = iota
	kBytes
	kVec
)

// Generator emits one translation unit from a program.
type Generator struct {
	w           io.Writer
	prog        *ir.Program
	kinds       map[string]map[string]ownedKind // func -> binding -> kind
	retKinds    map[string]ownedKind
	litNames    map[*ir.Stmt]string
	litCounter  int
	indentLevel int
}

// NewGenerator creates a generator writing to w.
func NewGenerator(w io.Writer) *Generator {
	return &Generator{w: w}
}

func (g *Generator) emit(format string, args ...interface{}) {
	fmt.Fprintf(g.w, format, args...)
}

func (g *Generator) indent() string {
	return strings.Repeat("    ", g.indentLevel)
}

// Generate emits the full translation unit: include, literal pools, one C
// function per program function, and a host main driver.
func (g *Generator) Generate(prog *ir.Program) error {
	g.prog = prog
	if err := g.inferKinds(); err != nil {
		return err
	}
	g.emit("/* Generated by cedarc. Do not edit. */\n")
	g.emit("#include \"cedar_abi.h\"\n\n")
	g.emitLiterals()
	g.emitPrototypes()
	for _, fn := range prog.Funcs {
		if err := g.emitFunc(fn); err != nil {
			return err
		}
	}
	g.emit("int main(void) {\n")
	g.emit("    (void)cedar_fn_main();\n")
	g.emit("    return 0;\n")
	g.emit("}\n")
	return nil
}

// inferKinds resolves every owned binding, parameter, and return slot to
// bytes or vec with a fixpoint over the call graph. Bindings that stay
// unresolved (possible for dead code) default to bytes.
func (g *Generator) inferKinds() error {
	g.kinds = make(map[string]map[string]ownedKind, len(g.prog.Funcs))
	g.retKinds = make(map[string]ownedKind, len(g.prog.Funcs))
	for _, fn := range g.prog.Funcs {
		g.kinds[fn.Name] = make(map[string]ownedKind)
	}

	set := func(fn *ir.Func, name string, k ownedKind) (bool, error) {
		if k == kUnknown || name == "" || fn.Class(name) != ir.ClassOwned {
			return false, nil
		}
		old := g.kinds[fn.Name][name]
		if old == kUnknown {
			g.kinds[fn.Name][name] = k
			return true, nil
		}
		if old != k {
			return false, fmt.Errorf("binding %s in %s is used as both bytes and vec", name, fn.Name)
		}
		return false, nil
	}

	for changed := true; changed; {
		changed = false
		for _, fn := range g.prog.Funcs {
			for _, blk := range fn.Blocks {
				for i := range blk.Stmts {
					st := &blk.Stmts[i]
					var c bool
					var err error
					switch st.Op {
					case ir.OpNewBytes, ir.OpConcat:
						c, err = set(fn, st.Dst, kBytes)
					case ir.OpNewVec:
						c, err = set(fn, st.Dst, kVec)
					case ir.OpPush, ir.OpAppend, ir.OpReserve:
						c, err = set(fn, st.Src, kVec)
					case ir.OpMove:
						if c, err = set(fn, st.Dst, g.kinds[fn.Name][st.Src]); err == nil && !c {
							c, err = set(fn, st.Src, g.kinds[fn.Name][st.Dst])
						}
					case ir.OpCall:
						callee := g.prog.Lookup(st.Callee)
						for ai, arg := range st.Args {
							if ai >= len(callee.Params) || !callee.Params[ai].Owned {
								continue
							}
							pc, perr := set(callee, callee.Params[ai].Name, g.kinds[fn.Name][arg])
							if perr != nil {
								return perr
							}
							ac, aerr := set(fn, arg, g.kinds[callee.Name][callee.Params[ai].Name])
							if aerr != nil {
								return aerr
							}
							c = c || pc || ac
						}
						c2, err2 := set(fn, st.Dst, g.retKinds[st.Callee])
						if err2 != nil {
							return err2
						}
						c = c || c2
					}
					if err != nil {
						return err
					}
					changed = changed || c
				}
				t := &blk.Term
				if t.Kind == ir.TermRet && t.Val != "" && fn.RetOwned {
					k := g.kinds[fn.Name][t.Val]
					if k != kUnknown && g.retKinds[fn.Name] == kUnknown {
						g.retKinds[fn.Name] = k
						changed = true
					}
				}
			}
		}
	}
	return nil
}

func (g *Generator) kindOf(fn *ir.Func, name string) ownedKind {
	if k := g.kinds[fn.Name][name]; k != kUnknown {
		return k
	}
	return kBytes
}

// emitLiterals hoists every byte-string literal into a static pool.
// Arrays are used instead of C string literals so arbitrary bytes round
// trip without escape ambiguity.
func (g *Generator) emitLiterals() {
	g.litNames = make(map[*ir.Stmt]string)
	for _, fn := range g.prog.Funcs {
		for _, blk := range fn.Blocks {
			for i := range blk.Stmts {
				st := &blk.Stmts[i]
				if st.Op != ir.OpNewBytes || len(st.Lit) == 0 {
					continue
				}
				g.litCounter++
				name := fmt.Sprintf("cedar_lit_%d", g.litCounter)
				g.litNames[st] = name
				g.emit("static const uint8_t %s[%d] = {", name, len(st.Lit))
				for j, b := range st.Lit {
					if j > 0 {
						g.emit(", ")
					}
					g.emit("0x%02x", b)
				}
				g.emit("};\n")
			}
		}
	}
	if g.litCounter > 0 {
		g.emit("\n")
	}
}

func cname(binding string) string {
	s := strings.TrimPrefix(binding, "%")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func fnName(name string) string {
	return "cedar_fn_" + strings.ReplaceAll(name, "-", "_")
}

func (g *Generator) ctype(fn *ir.Func, name string) string {
	switch fn.Class(name) {
	case ir.ClassOwned:
		if g.kindOf(fn, name) == kVec {
			return "cedar_vec_u8_t"
		}
		return "cedar_bytes_t"
	case ir.ClassView:
		return "cedar_bytes_view_t"
	default:
		return "int64_t"
	}
}

func (g *Generator) retType(fn *ir.Func) string {
	if !fn.RetOwned {
		return "int64_t"
	}
	if g.retKinds[fn.Name] == kVec {
		return "cedar_vec_u8_t"
	}
	return "cedar_bytes_t"
}

func (g *Generator) signature(fn *ir.Func) string {
	var params []string
	for _, p := range fn.Params {
		params = append(params, g.ctype(fn, p.Name)+" "+cname(p.Name))
	}
	if len(params) == 0 {
		params = append(params, "void")
	}
	return fmt.Sprintf("%s %s(%s)", g.retType(fn), fnName(fn.Name), strings.Join(params, ", "))
}

func (g *Generator) emitPrototypes() {
	for _, fn := range g.prog.Funcs {
		g.emit("%s;\n", g.signature(fn))
	}
	g.emit("\n")
}

// dataExpr yields pointer and length expressions for a binding's live
// contents, whatever shape it has.
func (g *Generator) dataExpr(fn *ir.Func, name string) (ptr, length string) {
	n := cname(name)
	switch fn.Class(name) {
	case ir.ClassView:
		return n + ".ptr", n + ".len"
	case ir.ClassOwned:
		if g.kindOf(fn, name) == kVec {
			return n + ".data", n + ".len"
		}
		return n + ".ptr", n + ".len"
	default:
		return "", ""
	}
}

func (g *Generator) emitFunc(fn *ir.Func) error {
	g.emit("%s {\n", g.signature(fn))
	g.indentLevel = 1

	// Locals. Owned and view locals start in the canonical empty state so
	// a drop on a never-assigned path is a no-op.
	params := make(map[string]bool, len(fn.Params))
	for _, p := range fn.Params {
		params[p.Name] = true
	}
	var names []string
	for name := range fn.BindKinds {
		if !params[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		t := g.ctype(fn, name)
		if t == "int64_t" {
			g.emit("%s%s %s = 0;\n", g.indent(), t, cname(name))
		} else {
			g.emit("%s%s %s = {0};\n", g.indent(), t, cname(name))
		}
	}
	if len(names) > 0 {
		g.emit("\n")
	}

	for _, blk := range fn.Blocks {
		g.emit("b%d:\n", blk.ID)
		for i := range blk.Stmts {
			if err := g.emitStmt(fn, &blk.Stmts[i]); err != nil {
				return err
			}
		}
		g.emitTerm(fn, &blk.Term)
	}

	g.indentLevel = 0
	g.emit("}\n\n")
	return nil
}

func (g *Generator) emitStmt(fn *ir.Func, st *ir.Stmt) error {
	ind := g.indent()
	dst := cname(st.Dst)
	src := cname(st.Src)

	switch st.Op {
	case ir.OpConstInt:
		g.emit("%s%s = %d;\n", ind, dst, st.N)

	case ir.OpCopy:
		g.emit("%s%s = %s;\n", ind, dst, src)

	case ir.OpBin:
		b := cname(st.Src2)
		switch st.BinKind {
		case "/":
			g.emit("%s%s = cedar_idiv(%s, %s);\n", ind, dst, src, b)
		case "%":
			g.emit("%s%s = cedar_imod(%s, %s);\n", ind, dst, src, b)
		case "=":
			g.emit("%s%s = (%s == %s);\n", ind, dst, src, b)
		case "!=":
			g.emit("%s%s = (%s != %s);\n", ind, dst, src, b)
		default:
			g.emit("%s%s = (%s %s %s);\n", ind, dst, src, st.BinKind, b)
		}

	case ir.OpNewBytes:
		if lit, ok := g.litNames[st]; ok {
			g.emit("%s%s = cedar_bytes_new(%s, %d);\n", ind, dst, lit, len(st.Lit))
		} else {
			g.emit("%s%s = cedar_bytes_new(NULL, 0);\n", ind, dst)
		}

	case ir.OpNewVec:
		g.emit("%s%s = cedar_vec_new((size_t)%s);\n", ind, dst, src)

	case ir.OpLen:
		g.emit("%s%s = (int64_t)%s.len;\n", ind, dst, src)

	case ir.OpMove:
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%s%s = cedar_vec_move(&%s);\n", ind, dst, src)
		} else {
			g.emit("%s%s = cedar_bytes_move(&%s);\n", ind, dst, src)
		}

	case ir.OpBorrow:
		mut := 0
		if st.Kind == ir.BorrowMut {
			mut = 1
		}
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%s%s = cedar_vec_view(&%s, 0, %s.len, %d);\n", ind, dst, src, src, mut)
		} else {
			g.emit("%s%s = cedar_bytes_view(&%s, 0, %s.len, %d);\n", ind, dst, src, src, mut)
		}

	case ir.OpSlice:
		mut := 0
		if st.Kind == ir.BorrowMut {
			mut = 1
		}
		off, length := cname(st.Src2), cname(st.Src3)
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%s%s = cedar_vec_view(&%s, (size_t)%s, (size_t)%s, %d);\n", ind, dst, src, off, length, mut)
		} else {
			g.emit("%s%s = cedar_bytes_view(&%s, (size_t)%s, (size_t)%s, %d);\n", ind, dst, src, off, length, mut)
		}

	case ir.OpEndBorrow:
		g.emit("%scedar_view_release(&%s);\n", ind, dst)

	case ir.OpGet:
		g.emit("%s%s = (int64_t)cedar_view_get(&%s, (size_t)%s);\n", ind, dst, src, cname(st.Src2))

	case ir.OpPut:
		g.emit("%scedar_view_put(&%s, (size_t)%s, (uint8_t)%s);\n", ind, src, cname(st.Src2), cname(st.Src3))

	case ir.OpPush:
		g.emit("%scedar_vec_push(&%s, (uint8_t)%s);\n", ind, src, cname(st.Src2))

	case ir.OpAppend:
		ptr, length := g.dataExpr(fn, st.Src2)
		g.emit("%scedar_vec_append(&%s, %s, %s);\n", ind, src, ptr, length)

	case ir.OpReserve:
		g.emit("%scedar_vec_reserve(&%s, (size_t)%s);\n", ind, src, cname(st.Src2))

	case ir.OpConcat:
		xp, xn := g.dataExpr(fn, st.Src)
		yp, yn := g.dataExpr(fn, st.Src2)
		g.emit("%s%s = cedar_concat(%s, %s, %s, %s);\n", ind, dst, xp, xn, yp, yn)

	case ir.OpDrop:
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%scedar_vec_drop(&%s);\n", ind, src)
		} else {
			g.emit("%scedar_bytes_drop(&%s);\n", ind, src)
		}

	case ir.OpFreeRaw:
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%scedar_vec_free_raw(&%s);\n", ind, src)
		} else {
			g.emit("%scedar_bytes_free_raw(&%s);\n", ind, src)
		}

	case ir.OpOut:
		if g.kindOf(fn, st.Src) == kVec {
			g.emit("%scedar_out_vec(&%s);\n", ind, src)
		} else {
			g.emit("%scedar_out_bytes(&%s);\n", ind, src)
		}

	case ir.OpCall:
		callee := g.prog.Lookup(st.Callee)
		var args []string
		for i, a := range st.Args {
			an := cname(a)
			if i < len(callee.Params) && callee.Params[i].Owned {
				// Ownership transfers at the call boundary, so the
				// caller's slot is emptied before the callee runs.
				if g.kindOf(fn, a) == kVec {
					args = append(args, fmt.Sprintf("cedar_vec_move(&%s)", an))
				} else {
					args = append(args, fmt.Sprintf("cedar_bytes_move(&%s)", an))
				}
			} else {
				args = append(args, an)
			}
		}
		g.emit("%s%s = %s(%s);\n", ind, dst, fnName(st.Callee), strings.Join(args, ", "))

	default:
		return fmt.Errorf("unhandled op in %s: %s", fn.Name, st.String())
	}
	return nil
}

func (g *Generator) emitTerm(fn *ir.Func, t *ir.Term) {
	ind := g.indent()
	switch t.Kind {
	case ir.TermJump:
		g.emit("%sgoto b%d;\n", ind, t.To)
	case ir.TermCondBr:
		g.emit("%sif (%s) goto b%d; else goto b%d;\n", ind, cname(t.Cond), t.To, t.Else)
	case ir.TermRet:
		if t.Val == "" {
			if fn.RetOwned {
				if g.retKinds[fn.Name] == kVec {
					g.emit("%s{ cedar_vec_u8_t zero__ = {0}; return zero__; }\n", ind)
				} else {
					g.emit("%s{ cedar_bytes_t zero__ = {0}; return zero__; }\n", ind)
				}
			} else {
				g.emit("%sreturn 0;\n", ind)
			}
		} else {
			g.emit("%sreturn %s;\n", ind, cname(t.Val))
		}
	}
}
