package engine

import (
	"nutdump/ast"
	"nutdump/sqfunc"
)

// Decompile runs the symbolic VM over fn's instruction vector and returns
// the reconstructed top-level statement block, plus any recovered
// warnings encountered along the way (spec.md §7: unknown opcodes and
// unrecognized jumps degrade to a comment rather than aborting).
//
// Nested functions are not recursed into here — they surface as
// ast.FunctionLiteral expressions wherever a CLOSURE write places them,
// and are only walked when the emitter actually reaches that node
// (spec.md §2, "Data flow").
func Decompile(fn *sqfunc.Function, opts Options) (*ast.Block, []error) {
	vm := New(fn, opts)
	vm.DoWhiles = doWhilePrepass(fn.Instructions)

	if err := vm.runBlock(len(fn.Instructions)); err != nil {
		vm.Warnings = append(vm.Warnings, err)
	}

	root := vm.Block()
	promoteWhileToFor(root)
	elideEmpty(root)
	return root, vm.Warnings
}
