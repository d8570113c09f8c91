package ast

import (
	"fmt"
	"strings"
)

// Tag represents the type of a Value
type Tag int

const (
	TInt Tag = iota
	TSym
	TStr
	TCell
	TNil
)

// Pos is a source position. Line and Col are 1-based.
type Pos struct {
	Line int
	Col  int
}

// Before reports whether p comes before q in source order.
func (p Pos) Before(q Pos) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Col < q.Col
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Value is the core tagged union type for all syntax values
type Value struct {
	Tag Tag
	Pos Pos

	// TInt
	Int int64

	// TSym, TStr
	Str string

	// TCell
	Car *Value
	Cdr *Value
}

// Nil is the canonical empty list
var Nil = &Value{Tag: TNil}

// NewInt creates an integer value
func NewInt(i int64, pos Pos) *Value {
	return &Value{Tag: TInt, Int: i, Pos: pos}
}

// NewSym creates a symbol value
func NewSym(s string, pos Pos) *Value {
	return &Value{Tag: TSym, Str: s, Pos: pos}
}

// NewStr creates a string literal value
func NewStr(s string, pos Pos) *Value {
	return &Value{Tag: TStr, Str: s, Pos: pos}
}

// Cons creates a pair
func Cons(car, cdr *Value) *Value {
	pos := Pos{}
	if car != nil {
		pos = car.Pos
	}
	return &Value{Tag: TCell, Car: car, Cdr: cdr, Pos: pos}
}

// IsNil checks if a value is nil/empty list
func IsNil(v *Value) bool {
	return v == nil || v.Tag == TNil
}

// IsSym checks if a value is a symbol
func IsSym(v *Value) bool {
	return v != nil && v.Tag == TSym
}

// IsInt checks if a value is an integer
func IsInt(v *Value) bool {
	return v != nil && v.Tag == TInt
}

// IsStr checks if a value is a string literal
func IsStr(v *Value) bool {
	return v != nil && v.Tag == TStr
}

// IsCell checks if a value is a pair
func IsCell(v *Value) bool {
	return v != nil && v.Tag == TCell
}

// SymIs checks if a value is the given symbol
func SymIs(v *Value, name string) bool {
	return IsSym(v) && v.Str == name
}

// ListLen returns the length of a proper list
func ListLen(v *Value) int {
	n := 0
	for IsCell(v) {
		n++
		v = v.Cdr
	}
	return n
}

// ListAt returns the i-th element of a proper list, or nil
func ListAt(v *Value, i int) *Value {
	for IsCell(v) {
		if i == 0 {
			return v.Car
		}
		i--
		v = v.Cdr
	}
	return nil
}

// ListSlice collects list elements into a Go slice
func ListSlice(v *Value) []*Value {
	var out []*Value
	for IsCell(v) {
		out = append(out, v.Car)
		v = v.Cdr
	}
	return out
}

// String renders a value back to source-ish form
func (v *Value) String() string {
	if v == nil {
		return "()"
	}
	switch v.Tag {
	case TNil:
		return "()"
	case TInt:
		return fmt.Sprintf("%d", v.Int)
	case TSym:
		return v.Str
	case TStr:
		return fmt.Sprintf("%q", v.Str)
	case TCell:
		var sb strings.Builder
		sb.WriteByte('(')
		first := true
		cur := v
		for IsCell(cur) {
			if !first {
				sb.WriteByte(' ')
			}
			sb.WriteString(cur.Car.String())
			first = false
			cur = cur.Cdr
		}
		if !IsNil(cur) {
			sb.WriteString(" . ")
			sb.WriteString(cur.String())
		}
		sb.WriteByte(')')
		return sb.String()
	default:
		return "?"
	}
}
