package engine

import "fmt"

// StackError is raised when a VM operation addresses a slot outside
// [0, stackSize) — spec.md §7's InvalidStackAccess kind, fatal to the
// function currently being decompiled. Grounded on nilan/vm's RuntimeError
// (interfaces.go) and nilan/interpreter's RuntimeError: a small struct
// carrying just enough context, with an emoji-prefixed Error() string
// matching the house style.
type StackError struct {
	Index     int
	StackSize int
	Op        string
}

func (e StackError) Error() string {
	return fmt.Sprintf("💥 StackError: slot %d out of range [0,%d) during %s", e.Index, e.StackSize, e.Op)
}

// Warning records a recovered, non-fatal defect encountered while
// decompiling a function: an unknown opcode or an unrecognized jump
// pattern (spec.md §7, UnknownOpcode / UnrecognizedControlFlow). The
// engine keeps going and leaves a comment naming the instruction in the
// output; Warning is returned alongside the partial AST so a caller can
// still report what went wrong.
type Warning struct {
	IP      int
	Message string
}

func (w Warning) Error() string {
	return fmt.Sprintf("🤖 decompile warning at ip %d: %s", w.IP, w.Message)
}
