package checker

import (
	"strings"
	"testing"

	"cedarc/pkg/ir/build"
	"cedarc/pkg/parser"
)

func check(t *testing.T, src string) Diagnostics {
	t.Helper()
	forms, err := parser.ParseAllString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := build.Program(forms)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return Check(prog)
}

func TestCleanPrograms(t *testing.T) {
	clean := []struct {
		name string
		src  string
	}{
		{"trivial", `(defn main () 0)`},
		{"alloc and scope drop", `
(defn main ()
  (let ((x (bytes "hello"))) (len x)))`},
		{"explicit drop then scope end", `
(defn main ()
  (let ((x (bytes "a"))) (drop! x) 0))`},
		{"move then scope end", `
(defn main ()
  (let ((x (bytes "a")) (y (move x))) (len y)))`},
		{"redefine after move", `
(defn main ()
  (let ((x (bytes "a")))
    (drop! x)
    (set! x (bytes "b"))
    (len x)))`},
		{"shared borrows may alias", `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((a (borrow x)) (b (borrow x)))
      (+ (get a 0) (get b 1)))))`},
		{"mut borrow after shared released", `
(defn main ()
  (let ((x (bytes "abcd")))
    (let ((a (borrow x))) (get a 0))
    (let ((m (borrow-mut x))) (put! m 0 65) 0)))`},
		{"both branches consume", `
(defn main ()
  (let ((x (bytes "a")))
    (if 1 (do (drop! x) 0) (do (drop! x) 0))
    0))`},
		{"branch reconciles by redefining", `
(defn main ()
  (let ((x (bytes "a")))
    (if 1 (do (drop! x) (set! x (bytes "b")) 0) 0)
    (len x)))`},
		{"ownership transfer through call", `
(defn sink ((own b)) (len b))
(defn main ()
  (let ((x (bytes "hi"))) (sink (move x))))`},
		{"owned return", `
(defn make () :owned (bytes "v"))
(defn main () (let ((x (make))) (len x)))`},
		{"loop with vec", `
(defn main ()
  (let ((v (vec 0)) (i 0))
    (while (< i 10)
      (push! v i)
      (set! i (+ i 1)))
    (len v)))`},
	}
	for _, tc := range clean {
		t.Run(tc.name, func(t *testing.T) {
			if ds := check(t, tc.src); ds != nil {
				t.Errorf("unexpected diagnostics:\n%s", ds.Error())
			}
		})
	}
}

func TestViolations(t *testing.T) {
	bad := []struct {
		name string
		src  string
		want string
	}{
		{"use after move", `
(defn main ()
  (let ((x (bytes "a")) (y (move x)))
    (+ (len x) (len y))))`,
			"use of moved value"},
		{"double explicit drop", `
(defn main ()
  (let ((x (bytes "a"))) (drop! x) (drop! x) 0))`,
			"drop of moved value"},
		{"move of moved", `
(defn main ()
  (let ((x (bytes "a")) (y (move x)) (z (move x)))
    (+ (len y) (len z))))`,
			"move of moved value"},
		{"conditional move used after merge", `
(defn sink ((own b)) (len b))
(defn main ()
  (let ((x (bytes "a")))
    (if 1 (sink (move x)) 0)
    (len x)))`,
			"use of conditionally moved value"},
		{"conditional move reaches scope end", `
(defn sink ((own b)) (len b))
(defn main ()
  (let ((x (bytes "a")))
    (if 1 (sink (move x)) 0)
    0))`,
			"conditionally moved binding reaches scope end"},
		{"mutable while shared", `
(defn main ()
  (let ((x (bytes "ab")))
    (let ((a (borrow x)) (m (borrow-mut x))) 0)))`,
			"conflicting borrow: mutable while shared"},
		{"shared while mutable", `
(defn main ()
  (let ((x (bytes "ab")))
    (let ((m (borrow-mut x)) (a (borrow x))) 0)))`,
			"conflicting borrow: shared while mutably borrowed"},
		{"move while borrowed", `
(defn main ()
  (let ((x (bytes "ab")))
    (let ((w (borrow x)))
      (len (move x)))))`,
			"move while borrowed by"},
		{"assign while borrowed", `
(defn main ()
  (let ((x (bytes "ab")))
    (let ((w (borrow x)))
      (set! x (bytes "c"))
      0)))`,
			"dropped while borrowed by"},
		{"grow while borrowed", `
(defn main ()
  (let ((v (vec 1)))
    (let ((w (borrow v)))
      (push! v 1)
      0)))`,
			"set while borrowed by"},
		{"reserve on moved vec", `
(defn main ()
  (let ((v (vec 1)) (u (move v)))
    (reserve! v 8)
    (drop! u)
    0))`,
			"reserve of moved value"},
		{"write through shared borrow", `
(defn main ()
  (let ((x (bytes "ab")))
    (let ((w (borrow x)))
      (put! w 0 1)
      0)))`,
			"write through shared borrow"},
		{"view crosses call", `
(defn f (n) n)
(defn main ()
  (let ((x (bytes "ab")))
    (let ((w (borrow x)))
      (f w))))`,
			"borrowed view cannot cross a call boundary"},
		{"return of borrowed view", `
(defn f ()
  (let ((x (bytes "a")))
    (let ((w (borrow x)))
      (return w))))
(defn main () (f))`,
			"cannot return borrowed view"},
		{"integer for owned parameter", `
(defn sink ((own b)) (len b))
(defn main () (sink 3))`,
			"integer passed for owned parameter"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			ds := check(t, tc.src)
			if ds == nil {
				t.Fatalf("expected %q, got no diagnostics", tc.want)
			}
			if !strings.Contains(ds.Error(), tc.want) {
				t.Errorf("expected %q in:\n%s", tc.want, ds.Error())
			}
		})
	}
}

// Diagnostics come out as one batch in stable source order, and the same
// program always produces the same batch.
func TestBatchOrderingStable(t *testing.T) {
	src := `
(defn main ()
  (let ((x (bytes "a")) (y (move x)))
    (drop! y)
    (drop! y)
    (len x)))`
	first := check(t, src)
	if len(first) < 2 {
		t.Fatalf("expected at least 2 diagnostics, got %d:\n%s", len(first), first.Error())
	}
	for i := 1; i < len(first); i++ {
		if first[i].Pos.Before(first[i-1].Pos) {
			t.Errorf("diagnostics out of source order:\n%s", first.Error())
		}
	}
	for i := 0; i < 3; i++ {
		if again := check(t, src); again.Error() != first.Error() {
			t.Fatalf("diagnostics not deterministic:\n%s\nvs\n%s", first.Error(), again.Error())
		}
	}
}
