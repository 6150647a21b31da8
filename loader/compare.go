package loader

import (
	"fmt"

	"nutdump/bytecode"
	"nutdump/sqfunc"
	"nutdump/value"
)

// Compare performs the structural comparison the CLI's -cmp flag exposes:
// two loaded function trees are walked in lockstep, comparing instruction
// streams (and, recursively, nested closures), and the first divergence
// found is reported as a human-readable path plus instruction index. It
// reports equal, "" when the two trees match exactly.
func Compare(a, b *sqfunc.Function) (equal bool, mismatch string) {
	if ok, msg := compareFunc(a, b, a.Name); !ok {
		return false, msg
	}
	return true, ""
}

func compareFunc(a, b *sqfunc.Function, path string) (bool, string) {
	if len(a.Instructions) != len(b.Instructions) {
		return false, fmt.Sprintf("%s: instruction count %d != %d", path, len(a.Instructions), len(b.Instructions))
	}
	for i := range a.Instructions {
		if !sameInstruction(a.Instructions[i], b.Instructions[i]) {
			return false, fmt.Sprintf("%s: instruction %d differs (%+v != %+v)", path, i, a.Instructions[i], b.Instructions[i])
		}
	}
	if len(a.Literals) != len(b.Literals) {
		return false, fmt.Sprintf("%s: literal count %d != %d", path, len(a.Literals), len(b.Literals))
	}
	for i := range a.Literals {
		if !sameLiteral(a.Literals[i], b.Literals[i]) {
			return false, fmt.Sprintf("%s: literal %d differs", path, i)
		}
	}
	if len(a.Nested) != len(b.Nested) {
		return false, fmt.Sprintf("%s: nested function count %d != %d", path, len(a.Nested), len(b.Nested))
	}
	for i := range a.Nested {
		sub := fmt.Sprintf("%s/%s", path, nestedName(a.Nested[i], i))
		if ok, msg := compareFunc(a.Nested[i], b.Nested[i], sub); !ok {
			return false, msg
		}
	}
	return true, ""
}

func nestedName(fn *sqfunc.Function, i int) string {
	if fn.Name != "" {
		return fn.Name
	}
	return fmt.Sprintf("<anonymous#%d>", i)
}

func sameInstruction(x, y bytecode.Instruction) bool {
	return x.Op == y.Op && x.Arg0 == y.Arg0 && x.Arg1 == y.Arg1 && x.Arg2 == y.Arg2 && x.Arg3 == y.Arg3
}

func sameLiteral(x, y value.Value) bool {
	return value.Equal(x, y)
}
