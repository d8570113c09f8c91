package parser

import (
	"testing"

	"cedarc/pkg/ast"
)

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		input string
		check func(v *ast.Value) bool
	}{
		{"42", func(v *ast.Value) bool { return ast.IsInt(v) && v.Int == 42 }},
		{"-7", func(v *ast.Value) bool { return ast.IsInt(v) && v.Int == -7 }},
		{"foo", func(v *ast.Value) bool { return ast.SymIs(v, "foo") }},
		{"push!", func(v *ast.Value) bool { return ast.SymIs(v, "push!") }},
		{"borrow-mut", func(v *ast.Value) bool { return ast.SymIs(v, "borrow-mut") }},
		{`"hi"`, func(v *ast.Value) bool { return ast.IsStr(v) && v.Str == "hi" }},
		{`"a\nb\0"`, func(v *ast.Value) bool { return ast.IsStr(v) && v.Str == "a\nb\x00" }},
	}
	for _, tt := range tests {
		v, err := ParseString(tt.input)
		if err != nil {
			t.Errorf("ParseString(%q) error: %v", tt.input, err)
			continue
		}
		if !tt.check(v) {
			t.Errorf("ParseString(%q) = %s", tt.input, v)
		}
	}
}

func TestParseList(t *testing.T) {
	v, err := ParseString("(let ((x (bytes \"ab\"))) (len x))")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !ast.IsCell(v) || !ast.SymIs(v.Car, "let") {
		t.Fatalf("expected (let ...), got %s", v)
	}
	if ast.ListLen(v) != 3 {
		t.Errorf("expected 3 elements, got %d", ast.ListLen(v))
	}
}

func TestParseAllSkipsComments(t *testing.T) {
	src := `
; leading comment
(defn main () 1) ; trailing
(defn helper () 2)
`
	forms, err := ParseAllString(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(forms))
	}
}

func TestPositions(t *testing.T) {
	forms, err := ParseAllString("(a)\n  (b)")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if forms[0].Pos.Line != 1 || forms[0].Pos.Col != 1 {
		t.Errorf("first form at %s, want 1:1", forms[0].Pos)
	}
	if forms[1].Pos.Line != 2 || forms[1].Pos.Col != 3 {
		t.Errorf("second form at %s, want 2:3", forms[1].Pos)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{"(a", `"unterminated`, ")"}
	for _, src := range bad {
		if _, err := ParseAllString(src); err == nil {
			t.Errorf("ParseAllString(%q): expected error", src)
		}
	}
}
