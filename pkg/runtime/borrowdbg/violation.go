package borrowdbg

// Violation is a fatal dynamic borrow-check failure. The eval layer
// recovers it into an invocation trap; standalone binaries let it abort.
type Violation struct {
	Msg string
}

func (v Violation) Error() string {
	return "borrow violation: " + v.Msg
}
