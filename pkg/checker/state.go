package checker

import (
	"sort"

	"cedarc/pkg/ir"
)

// ownState is the lattice of ownership facts for one owning binding at one
// program point.
type ownState uint8

const (
	stNone     ownState = iota // not yet defined on this path
	stOwned                    // live, responsible for its allocation
	stMoved                    // consumed: moved, dropped, or handed off
	stConflict                 // owned on one incoming path, moved on another
)

func (s ownState) String() string {
	switch s {
	case stOwned:
		return "owned"
	case stMoved:
		return "moved"
	case stConflict:
		return "conditionally moved"
	default:
		return "undefined"
	}
}

// joinOwn merges two ownership facts at a control-flow merge point.
// Disagreement between owned and moved is the precise per-branch model:
// it becomes a conflict that only errors if the binding is used again.
func joinOwn(a, b ownState) ownState {
	if a == b {
		return a
	}
	if a == stNone {
		return b
	}
	if b == stNone {
		return a
	}
	return stConflict
}

// viewInfo records one live borrow: which owner it views and how.
type viewInfo struct {
	owner string
	kind  ir.BorrowKind
}

// state maps bindings to ownership facts and live views at one program
// point. States are small; copying per block edge keeps the transfer
// functions simple.
type state struct {
	own   map[string]ownState
	views map[string]viewInfo
}

func newState() *state {
	return &state{
		own:   make(map[string]ownState),
		views: make(map[string]viewInfo),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.own {
		out.own[k] = v
	}
	for k, v := range s.views {
		out.views[k] = v
	}
	return out
}

// join merges another state into s, returning true if s changed.
func (s *state) join(o *state) bool {
	changed := false
	for k, v := range o.own {
		nv := joinOwn(s.own[k], v)
		if s.own[k] != nv {
			s.own[k] = nv
			changed = true
		}
	}
	for k, v := range o.views {
		if _, ok := s.views[k]; !ok {
			s.views[k] = v
			changed = true
		}
	}
	return changed
}

// borrowsOf returns the live views of owner, sorted for deterministic
// diagnostics.
func (s *state) borrowsOf(owner string) []string {
	var out []string
	for name, v := range s.views {
		if v.owner == owner {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// mutBorrowOf reports whether owner has a live exclusive borrow.
func (s *state) mutBorrowOf(owner string) bool {
	for _, v := range s.views {
		if v.owner == owner && v.kind == ir.BorrowMut {
			return true
		}
	}
	return false
}

// sharedBorrowsOf counts the live shared borrows of owner.
func (s *state) sharedBorrowsOf(owner string) int {
	n := 0
	for _, v := range s.views {
		if v.owner == owner && v.kind == ir.BorrowShared {
			n++
		}
	}
	return n
}
