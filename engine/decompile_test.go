package engine

import (
	"testing"

	"nutdump/ast"
	"nutdump/bytecode"
	"nutdump/sqfunc"
)

// TestDecompileArithmeticInlinesPendingIntoReturn covers spec.md §8's
// simplest shape: two literal loads feeding an ARITH whose result is read
// exactly once, by a RETURN — the ARITH's pending expression statement
// must be withdrawn and folded directly into the return value.
func TestDecompileArithmeticInlinesPendingIntoReturn(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 3,
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadInt, Arg0: 0, Arg1: 5},
			{Op: bytecode.OpLoadInt, Arg0: 1, Arg1: 3},
			{Op: bytecode.OpArith, Arg0: 2, Arg1: 1, Arg2: 0, Arg3: 0}, // slot2 = slot0 + slot1
			{Op: bytecode.OpReturn, Arg0: 0, Arg1: 2},
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(block.Statements) != 1 {
		t.Fatalf("Statements = %d, want 1: %#v", len(block.Statements), block.Statements)
	}
	ret, ok := block.Statements[0].(ast.Return)
	if !ok {
		t.Fatalf("Statements[0] = %#v, want Return", block.Statements[0])
	}
	bin, ok := ret.Value.(ast.Binary)
	if !ok || bin.Op != ast.BinAdd {
		t.Fatalf("Return.Value = %#v, want Binary{Add}", ret.Value)
	}
	left, ok := bin.Left.(ast.Constant)
	if !ok || left.Text != "5" {
		t.Errorf("Binary.Left = %#v, want Constant{5}", bin.Left)
	}
	right, ok := bin.Right.(ast.Constant)
	if !ok || right.Text != "3" {
		t.Errorf("Binary.Right = %#v, want Constant{3}", bin.Right)
	}
}

// TestDecompileIfElseDeclaresSameLocalInBothBranches covers spec.md §8
// scenario 1: a LOADBOOL-gated JZ/JMP pair whose then/else arms each
// initialize the same declared local, followed by a return of it.
func TestDecompileIfElseDeclaresSameLocalInBothBranches(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 2,
		Locals: []sqfunc.LocalVar{
			{Name: "x", StackPos: 1, ScopeStartIP: 3, ScopeEndIP: 3},
			{Name: "x", StackPos: 1, ScopeStartIP: 5, ScopeEndIP: 5},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadBool, Arg0: 0, Arg1: 1}, // 0: slot0 = true
			{Op: bytecode.OpJz, Arg0: 0, Arg1: 3},       // 1: if !slot0, goto 4
			{Op: bytecode.OpLoadInt, Arg0: 1, Arg1: 1},  // 2: then: local x = 1
			{Op: bytecode.OpJmp, Arg1: 2},               // 3: goto 5
			{Op: bytecode.OpLoadInt, Arg0: 1, Arg1: 2},  // 4: else: local x = 2
			{Op: bytecode.OpReturn, Arg0: 0, Arg1: 1},   // 5: return x
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(block.Statements) != 2 {
		t.Fatalf("Statements = %d, want 2: %#v", len(block.Statements), block.Statements)
	}

	ifStmt, ok := block.Statements[0].(ast.If)
	if !ok {
		t.Fatalf("Statements[0] = %#v, want If", block.Statements[0])
	}
	if cond, ok := ifStmt.Cond.(ast.Constant); !ok || cond.Text != "true" {
		t.Errorf("If.Cond = %#v, want Constant{true}", ifStmt.Cond)
	}
	if ifStmt.Else == nil {
		t.Fatal("If.Else = nil, want an else block")
	}

	thenInit, ok := singleStmt[ast.LocalInit](t, ifStmt.Then)
	if ok {
		if thenInit.Name != "x" {
			t.Errorf("then-branch local name = %q, want x", thenInit.Name)
		}
		if c, ok := thenInit.Initializer.(ast.Constant); !ok || c.Text != "1" {
			t.Errorf("then-branch initializer = %#v, want Constant{1}", thenInit.Initializer)
		}
	}

	elseInit, ok := singleStmt[ast.LocalInit](t, ifStmt.Else)
	if ok {
		if elseInit.Name != "x" {
			t.Errorf("else-branch local name = %q, want x", elseInit.Name)
		}
		if c, ok := elseInit.Initializer.(ast.Constant); !ok || c.Text != "2" {
			t.Errorf("else-branch initializer = %#v, want Constant{2}", elseInit.Initializer)
		}
	}

	ret, ok := block.Statements[1].(ast.Return)
	if !ok {
		t.Fatalf("Statements[1] = %#v, want Return", block.Statements[1])
	}
	lv, ok := ret.Value.(ast.LocalVariable)
	if !ok || lv.Name != "x" {
		t.Errorf("Return.Value = %#v, want LocalVariable{x}", ret.Value)
	}
}

// singleStmt asserts b holds exactly one statement of type T and returns it.
func singleStmt[T ast.Stmt](t *testing.T, b *ast.Block) (T, bool) {
	t.Helper()
	var zero T
	if len(b.Statements) != 1 {
		t.Errorf("block has %d statements, want 1: %#v", len(b.Statements), b.Statements)
		return zero, false
	}
	v, ok := b.Statements[0].(T)
	if !ok {
		t.Errorf("statement = %#v, want %T", b.Statements[0], zero)
		return zero, false
	}
	return v, true
}

// TestDecompileIfElseFusesTernaryWhenNoLocalInvolved covers merge-slot's
// ternary-fusion path (spec.md §4.1): both branches write a plain
// intermediate slot to different constants, with no declared local
// backing it, so the two values must fuse into a ternary at the read site.
func TestDecompileIfElseFusesTernaryWhenNoLocalInvolved(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 2,
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadBool, Arg0: 0, Arg1: 1}, // 0: slot0 = true
			{Op: bytecode.OpJz, Arg0: 0, Arg1: 3},       // 1: if !slot0, goto 4
			{Op: bytecode.OpLoadInt, Arg0: 1, Arg1: 1},  // 2: then: slot1 = 1
			{Op: bytecode.OpJmp, Arg1: 2},               // 3: goto 5
			{Op: bytecode.OpLoadInt, Arg0: 1, Arg1: 2},  // 4: else: slot1 = 2
			{Op: bytecode.OpReturn, Arg0: 0, Arg1: 1},   // 5: return slot1
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	var ifStmt ast.If
	foundIf := false
	for _, s := range block.Statements {
		if i, ok := s.(ast.If); ok {
			ifStmt, foundIf = i, true
		}
	}
	if !foundIf {
		t.Fatalf("no If statement found in %#v", block.Statements)
	}
	if len(ifStmt.Then.Statements) != 0 || (ifStmt.Else != nil && len(ifStmt.Else.Statements) != 0) {
		t.Errorf("branch bodies should be empty once their loads are inlined into the ternary: then=%#v else=%#v", ifStmt.Then, ifStmt.Else)
	}

	last := block.Statements[len(block.Statements)-1]
	ret, ok := last.(ast.Return)
	if !ok {
		t.Fatalf("last statement = %#v, want Return", last)
	}
	tern, ok := ret.Value.(ast.Ternary)
	if !ok {
		t.Fatalf("Return.Value = %#v, want Ternary", ret.Value)
	}
	then, ok := tern.Then.(ast.Constant)
	if !ok || then.Text != "1" {
		t.Errorf("Ternary.Then = %#v, want Constant{1} (then branch's value)", tern.Then)
	}
	els, ok := tern.Else.(ast.Constant)
	if !ok || els.Text != "2" {
		t.Errorf("Ternary.Else = %#v, want Constant{2} (else branch's value)", tern.Else)
	}
}

// TestDecompileAndAssemblesLeftFromArg2 covers spec.md §8 scenario 4:
// short-circuit AND, whose left operand must come from Arg2 (the same
// operand convention ARITH/BITW/CMP use), not Arg1 (the branch-length
// offset).
func TestDecompileAndAssemblesLeftFromArg2(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 3,
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadBool, Arg0: 0, Arg1: 1},           // 0: slot0 = true (left)
			{Op: bytecode.OpAnd, Arg0: 2, Arg1: 3, Arg2: 0},       // 1: slot2 = slot0 && ..., end = 1+3-1 = 3
			{Op: bytecode.OpLoadBool, Arg0: 1, Arg1: 0},           // 2: slot1 = false (right, pre-move)
			{Op: bytecode.OpMove, Arg0: 2, Arg1: 1},               // 3: slot2 = slot1
			{Op: bytecode.OpReturn, Arg0: 0, Arg1: 2},             // 4: return slot2
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(block.Statements) != 1 {
		t.Fatalf("Statements = %d, want 1: %#v", len(block.Statements), block.Statements)
	}
	ret, ok := block.Statements[0].(ast.Return)
	if !ok {
		t.Fatalf("Statements[0] = %#v, want Return", block.Statements[0])
	}
	bin, ok := ret.Value.(ast.Binary)
	if !ok || bin.Op != ast.BinAnd {
		t.Fatalf("Return.Value = %#v, want Binary{And}", ret.Value)
	}
	left, ok := bin.Left.(ast.Constant)
	if !ok || left.Text != "true" {
		t.Errorf("Binary.Left = %#v, want Constant{true} (read from Arg2, the left-operand slot)", bin.Left)
	}
	right, ok := bin.Right.(ast.Constant)
	if !ok || right.Text != "false" {
		t.Errorf("Binary.Right = %#v, want Constant{false}", bin.Right)
	}
}

// TestDecompileClosureCapturesDefaultFromEnclosingStack covers spec.md §2
// "Data flow" and SPEC_FULL.md §5 item 2: a CLOSURE instruction must wrap
// the nested function in an ast.FunctionLiteral, and capture the default
// parameter value off the *enclosing* function's stack at that point —
// the nested function's own bytecode never computes it.
func TestDecompileClosureCapturesDefaultFromEnclosingStack(t *testing.T) {
	nested := &sqfunc.Function{
		Params:      []string{"this", "x"},
		DefaultArgs: []sqfunc.DefaultParam{{EnclosingSlot: 0}},
	}
	fn := &sqfunc.Function{
		StackSize: 2,
		Nested:    []*sqfunc.Function{nested},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadInt, Arg0: 0, Arg1: 7}, // 0: slot0 = 7 (default value)
			{Op: bytecode.OpClosure, Arg0: 1, Arg1: 0}, // 1: slot1 = closure(nested[0])
			{Op: bytecode.OpReturn, Arg0: 0, Arg1: 1},  // 2: return slot1
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(block.Statements) != 1 {
		t.Fatalf("Statements = %d, want 1: %#v", len(block.Statements), block.Statements)
	}
	ret, ok := block.Statements[0].(ast.Return)
	if !ok {
		t.Fatalf("Statements[0] = %#v, want Return", block.Statements[0])
	}
	lit, ok := ret.Value.(ast.FunctionLiteral)
	if !ok {
		t.Fatalf("Return.Value = %#v, want FunctionLiteral", ret.Value)
	}
	if lit.Fn != nested {
		t.Errorf("FunctionLiteral.Fn = %p, want the nested function %p", lit.Fn, nested)
	}
	if len(lit.Defaults) != 1 {
		t.Fatalf("Defaults = %d, want 1: %#v", len(lit.Defaults), lit.Defaults)
	}
	def, ok := lit.Defaults[0].(ast.Constant)
	if !ok || def.Text != "7" {
		t.Errorf("Defaults[0] = %#v, want Constant{7} (captured from enclosing slot0)", lit.Defaults[0])
	}
}

// TestDecompileForeachOmitsSyntheticIndexKeyAndRecognizesBreak covers
// spec.md §8 scenario 6: a FOREACH with no declared key local (the
// synthetic @INDEX@ case), a named value local, and a forward break out
// of the loop body.
func TestDecompileForeachOmitsSyntheticIndexKeyAndRecognizesBreak(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 4,
		Outers:    []sqfunc.OuterValue{{Name: "arr"}},
		Locals: []sqfunc.LocalVar{
			{Name: "v", StackPos: 3, ScopeStartIP: 2, ScopeEndIP: 5, IsForeachIter: true},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadFreeVar, Arg0: 0, Arg1: 0},            // 0: slot0 = arr
			{Op: bytecode.OpForeach, Arg0: 0, Arg1: 3, Arg2: 2},       // 1: foreach, end=4
			{Op: bytecode.OpJmp, Arg1: 2},                             // 2: break (dest == loop end)
			{Op: bytecode.OpJmp, Arg1: -2},                            // 3: back-edge (trimmed, never stepped)
			{Op: bytecode.OpPostForeach},                              // 4
			{Op: bytecode.OpReturn, Arg0: 0xff},                       // 5: bare return
		},
	}
	block, warnings := Decompile(fn, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(block.Statements) != 2 {
		t.Fatalf("Statements = %d, want 2: %#v", len(block.Statements), block.Statements)
	}
	fe, ok := block.Statements[0].(ast.Foreach)
	if !ok {
		t.Fatalf("Statements[0] = %#v, want Foreach", block.Statements[0])
	}
	if fe.Key != "" {
		t.Errorf("Foreach.Key = %q, want empty (synthetic @INDEX@)", fe.Key)
	}
	if fe.Value != "v" {
		t.Errorf("Foreach.Value = %q, want v", fe.Value)
	}
	if iter, ok := fe.Iterable.(ast.Variable); !ok || iter.Name != "arr" {
		t.Errorf("Foreach.Iterable = %#v, want Variable{arr}", fe.Iterable)
	}
	if len(fe.Body.Statements) != 1 {
		t.Fatalf("Foreach.Body = %d statements, want 1: %#v", len(fe.Body.Statements), fe.Body.Statements)
	}
	if _, ok := fe.Body.Statements[0].(ast.Break); !ok {
		t.Errorf("Foreach.Body.Statements[0] = %#v, want Break", fe.Body.Statements[0])
	}
	ret, ok := block.Statements[1].(ast.Return)
	if !ok || ret.Value != nil {
		t.Errorf("Statements[1] = %#v, want bare Return", block.Statements[1])
	}
}
