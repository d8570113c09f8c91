package checker

import (
	"fmt"
	"sort"
	"strings"

	"cedarc/pkg/ast"
)

// Diagnostic is one compile-time ownership violation. Messages are
// fixed-format: no addresses, no timestamps, nothing run-dependent.
type Diagnostic struct {
	Pos     ast.Pos
	Fn      string
	Binding string
	Msg     string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s: %s", d.Pos, d.Fn, d.Binding, d.Msg)
}

// Diagnostics is the collected batch for one compilation. All violations
// are reported, not just the first, in stable source order.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// Sort orders diagnostics by source position, then binding, then message,
// so repeated compilations of the same program report identically.
func (ds Diagnostics) Sort() {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Pos != ds[j].Pos {
			return ds[i].Pos.Before(ds[j].Pos)
		}
		if ds[i].Binding != ds[j].Binding {
			return ds[i].Binding < ds[j].Binding
		}
		return ds[i].Msg < ds[j].Msg
	})
}
