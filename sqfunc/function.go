// Package sqfunc holds the per-function metadata the loader produces and
// the engine consumes. A Function is immutable once built — every field is
// populated up front by the loader and never mutated afterwards, matching
// spec.md §3 ("Function — immutable after loading").
package sqfunc

import (
	"nutdump/bytecode"
	"nutdump/value"
)

// LocalVar is one entry of a function's local-variable table: a declared
// name bound to a stack slot for a known instruction range.
type LocalVar struct {
	Name          string
	StackPos      int
	ScopeStartIP  int // first instruction address where the local is live
	ScopeEndIP    int // one-past-last instruction address
	IsForeachIter bool
}

// InScope reports whether ip falls within the local's declared lifetime.
func (l LocalVar) InScope(ip int) bool {
	return ip >= l.ScopeStartIP && ip < l.ScopeEndIP
}

// OuterKind discriminates how a captured outer value is sourced.
type OuterKind byte

const (
	OuterLocal OuterKind = iota // captured from the enclosing function's stack
	OuterOuter                  // captured from the enclosing function's own outer-value list
)

// OuterValue is one upvalue a closure captures from its lexical parent.
type OuterValue struct {
	Kind Kind
	Name string
	// Src is the enclosing function's descriptor for where the value
	// comes from: a stack slot index when Kind == OuterLocal, or an
	// index into the enclosing function's own Outers when
	// Kind == OuterOuter.
	Src int
}

// Kind is an alias kept for readability at call sites (sqfunc.OuterLocal
// reads better than a bare OuterKind value with no package-qualified
// meaning of its own).
type Kind = OuterKind

// DefaultParam records one entry of a function's default-parameter list:
// not a parameter index, but a stack slot of the *enclosing* function,
// read at the CLOSURE site that creates this function to produce the
// default-value expression for one of this function's trailing
// parameters (matched by position, not by slot — see
// engine.decodeClosure and emit.renderParams).
type DefaultParam struct {
	EnclosingSlot int
}

// LineInfo maps an instruction address to a source line, preserved so
// debug-mode emission (spec.md §4.2, "Line marker") can reproduce
// `// line N` comments.
type LineInfo struct {
	IP   int
	Line int
}

// Function is one compiled function or method, with its nested closures
// attached directly (spec.md §2: "the external loader yields a root
// function with nested functions").
type Function struct {
	SourceName   string
	Name         string // declared name; empty for anonymous function literals
	Params       []string
	Outers       []OuterValue
	Literals     []value.Value
	Locals       []LocalVar
	Lines        []LineInfo
	DefaultArgs  []DefaultParam
	Instructions []bytecode.Instruction
	Nested       []*Function
	StackSize    int
	IsGenerator  bool
	IsVarArgs    bool
}

// LiteralAt returns the index'th entry of the function's constant pool.
// Out-of-range access returns value.Null(), mirroring the engine's
// "synthetic variable" fallback discipline: a malformed-but-parseable
// module should degrade to a commented fragment, never a crash
// (spec.md §1, Non-goals: "must not crash on malformed sequences").
func (f *Function) LiteralAt(idx uint32) value.Value {
	if int(idx) < 0 || int(idx) >= len(f.Literals) {
		return value.Null()
	}
	return f.Literals[idx]
}

// LocalAt returns the local-variable record whose stack position is pos
// and whose scope starts exactly at ip, and whether one was found. A
// record flagged IsForeachIter matches anywhere inside its scope, but only
// when foreachIter is true; otherwise such records are skipped — they are
// only matched by the FOREACH decoder path (spec.md §4.1, init-slot).
func (f *Function) LocalAt(pos, ip int, foreachIter bool) (LocalVar, bool) {
	for _, l := range f.Locals {
		if l.StackPos != pos {
			continue
		}
		if l.IsForeachIter && !foreachIter {
			continue
		}
		if l.ScopeStartIP == ip || (l.IsForeachIter && l.InScope(ip)) {
			return l, true
		}
	}
	return LocalVar{}, false
}

// LocalStartingAt returns the first local-variable record whose declared
// scope begins exactly at ip, regardless of stack position — used to
// name an exception-handler's bound variable, whose slot isn't known
// ahead of time (spec.md §4.2, "Exceptions").
func (f *Function) LocalStartingAt(ip int) (LocalVar, bool) {
	for _, l := range f.Locals {
		if l.ScopeStartIP == ip {
			return l, true
		}
	}
	return LocalVar{}, false
}

// LineAt returns the source line recorded for ip, or 0 if none is known.
func (f *Function) LineAt(ip int) int {
	line := 0
	for _, li := range f.Lines {
		if li.IP > ip {
			break
		}
		line = li.Line
	}
	return line
}
