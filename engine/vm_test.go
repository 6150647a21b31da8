package engine

import (
	"testing"

	"nutdump/ast"
	"nutdump/bytecode"
	"nutdump/sqfunc"
)

func newTestVM(stackSize int) *VM {
	return New(&sqfunc.Function{StackSize: stackSize}, Options{})
}

func TestCheckRangeBounds(t *testing.T) {
	vm := newTestVM(2)
	if err := vm.checkRange(-1, "get-slot"); err == nil {
		t.Error("expected error for negative index")
	}
	if err := vm.checkRange(2, "get-slot"); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if err := vm.checkRange(0, "get-slot"); err != nil {
		t.Errorf("unexpected error for in-range index: %v", err)
	}
}

func TestStackErrorMessage(t *testing.T) {
	err := StackError{Index: 5, StackSize: 3, Op: "get-slot"}
	want := "💥 StackError: slot 5 out of range [0,3) during get-slot"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestGetSlotEmptyReturnsSyntheticVariable(t *testing.T) {
	vm := newTestVM(1)
	expr, err := vm.GetSlot(0)
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	v, ok := expr.(ast.Variable)
	if !ok || v.Name != "$[0]" {
		t.Errorf("GetSlot(0) = %#v, want Variable{$[0]}", expr)
	}
}

func TestSetSlotInitSlotDeclaresLocal(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 1,
		Locals:    []sqfunc.LocalVar{{Name: "n", StackPos: 0, ScopeStartIP: 0, ScopeEndIP: 5}},
	}
	vm := New(fn, Options{})
	vm.IP = 0
	if err := vm.SetSlot(0, ast.Constant{Text: "1", Literal: true}, false); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if len(vm.Block().Statements) != 1 {
		t.Fatalf("Statements = %d, want 1", len(vm.Block().Statements))
	}
	li, ok := vm.Block().Statements[0].(ast.LocalInit)
	if !ok || li.Name != "n" {
		t.Fatalf("Statements[0] = %#v, want LocalInit{n}", vm.Block().Statements[0])
	}
	lv, ok := vm.Stack[0].Expr.(ast.LocalVariable)
	if !ok || lv.Name != "n" {
		t.Errorf("Stack[0].Expr = %#v, want LocalVariable{n}", vm.Stack[0].Expr)
	}
}

func TestSetSlotAssignsToExistingLocal(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 1,
		Locals:    []sqfunc.LocalVar{{Name: "n", StackPos: 0, ScopeStartIP: 0, ScopeEndIP: 5}},
	}
	vm := New(fn, Options{})
	vm.IP = 0
	if err := vm.SetSlot(0, ast.Constant{Text: "1", Literal: true}, false); err != nil {
		t.Fatalf("first SetSlot failed: %v", err)
	}
	vm.IP = 1 // no local starts here, so the second write must be an assignment
	if err := vm.SetSlot(0, ast.Constant{Text: "2", Literal: true}, false); err != nil {
		t.Fatalf("second SetSlot failed: %v", err)
	}
	if len(vm.Block().Statements) != 2 {
		t.Fatalf("Statements = %d, want 2", len(vm.Block().Statements))
	}
	es, ok := vm.Block().Statements[1].(ast.ExprStmt)
	if !ok {
		t.Fatalf("Statements[1] = %#v, want ExprStmt", vm.Block().Statements[1])
	}
	bin, ok := es.Expression.(ast.Binary)
	if !ok || bin.Op != ast.BinAssign {
		t.Fatalf("Statements[1].Expression = %#v, want BinAssign", es.Expression)
	}
	if lv, ok := bin.Left.(ast.LocalVariable); !ok || lv.Name != "n" {
		t.Errorf("assign target = %#v, want LocalVariable{n}", bin.Left)
	}
}

func TestSetSlotPendingStatementWithdrawnOnRead(t *testing.T) {
	vm := newTestVM(1)
	expr := ast.Binary{Op: ast.BinAdd, Left: ast.Constant{Text: "1"}, Right: ast.Constant{Text: "2"}}
	if err := vm.SetSlot(0, expr, false); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if len(vm.Block().Statements) != 1 {
		t.Fatalf("Statements = %d, want 1 before read", len(vm.Block().Statements))
	}
	if _, err := vm.GetSlot(0); err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if _, ok := vm.Block().Statements[0].(ast.Empty); !ok {
		t.Errorf("Statements[0] = %#v, want Empty after withdrawal", vm.Block().Statements[0])
	}
}

func TestMergeSlotSameLocalSkipsFusion(t *testing.T) {
	vm := newTestVM(1)
	vm.Stack[0].Expr = ast.LocalVariable{Name: "x"}
	other := []Slot{{Expr: ast.LocalVariable{Name: "x"}}}
	if err := vm.MergeSlot(ast.Constant{Text: "true"}, 0, other, false); err != nil {
		t.Fatalf("MergeSlot failed: %v", err)
	}
	lv, ok := vm.Stack[0].Expr.(ast.LocalVariable)
	if !ok || lv.Name != "x" {
		t.Errorf("Stack[0].Expr = %#v, want unchanged LocalVariable{x}", vm.Stack[0].Expr)
	}
}

func TestMergeSlotFusesDifferingValues(t *testing.T) {
	vm := newTestVM(1)
	vm.Stack[0].Expr = ast.Constant{Text: "1"}
	other := []Slot{{Expr: ast.Constant{Text: "2"}}}
	cond := ast.Variable{Name: "cond"}
	if err := vm.MergeSlot(cond, 0, other, false); err != nil {
		t.Fatalf("MergeSlot failed: %v", err)
	}
	tern, ok := vm.Stack[0].Expr.(ast.Ternary)
	if !ok {
		t.Fatalf("Stack[0].Expr = %#v, want Ternary", vm.Stack[0].Expr)
	}
	if tern.Cond != ast.Expression(cond) {
		t.Errorf("Ternary.Cond = %#v, want %#v", tern.Cond, cond)
	}
	if then, ok := tern.Then.(ast.Constant); !ok || then.Text != "2" {
		t.Errorf("Ternary.Then = %#v, want Constant{2} (the other branch's value)", tern.Then)
	}
	if els, ok := tern.Else.(ast.Constant); !ok || els.Text != "1" {
		t.Errorf("Ternary.Else = %#v, want Constant{1} (this branch's value)", tern.Else)
	}
}

func TestCloneStackIsIndependent(t *testing.T) {
	vm := newTestVM(1)
	vm.Stack[0].Expr = ast.Constant{Text: "1"}
	clone := vm.CloneStack()
	clone[0].Expr = ast.Constant{Text: "2"}
	if c, ok := vm.Stack[0].Expr.(ast.Constant); !ok || c.Text != "1" {
		t.Errorf("original Stack[0].Expr mutated to %#v", vm.Stack[0].Expr)
	}
}

func TestSwapStackReturnsPrevious(t *testing.T) {
	vm := newTestVM(1)
	vm.Stack[0].Expr = ast.Constant{Text: "1"}
	snapshot := []Slot{{Expr: ast.Constant{Text: "2"}}}
	old := vm.SwapStack(snapshot)
	if c, ok := old[0].Expr.(ast.Constant); !ok || c.Text != "1" {
		t.Errorf("SwapStack returned %#v, want the pre-swap stack", old)
	}
	if c, ok := vm.Stack[0].Expr.(ast.Constant); !ok || c.Text != "2" {
		t.Errorf("vm.Stack after swap = %#v, want the snapshot", vm.Stack)
	}
}

func TestExpireLocalsEndingAtClearsSlot(t *testing.T) {
	fn := &sqfunc.Function{
		StackSize: 1,
		Locals:    []sqfunc.LocalVar{{Name: "n", StackPos: 0, ScopeStartIP: 0, ScopeEndIP: 3}},
	}
	vm := New(fn, Options{})
	vm.Stack[0].Expr = ast.LocalVariable{Name: "n"}
	vm.ExpireLocalsEndingAt(3)
	if vm.Stack[0].Expr != nil {
		t.Errorf("Stack[0].Expr = %#v, want nil after scope expiry", vm.Stack[0].Expr)
	}
}

func TestNearestLoopAndNearestPlainBlock(t *testing.T) {
	vm := newTestVM(0)
	loopBS := vm.PushBlock(loopWhile, false, 0, 10)
	vm.PushBlock(loopNone, true, 1, 5) // a switch case body inside the loop
	plain := vm.PushBlock(loopNone, false, 2, 4)

	if got := vm.Current.nearestLoop(); got != loopBS {
		t.Errorf("nearestLoop() = %p, want the while blockState %p", got, loopBS)
	}
	if got := vm.Current.nearestPlainBlock(); got != plain {
		t.Errorf("nearestPlainBlock() = %p, want the innermost plain block %p", got, plain)
	}
}

func TestSameSlotExpr(t *testing.T) {
	cases := []struct {
		name string
		a, b ast.Expression
		want bool
	}{
		{"same variable", ast.Variable{Name: "a"}, ast.Variable{Name: "a"}, true},
		{"different variable", ast.Variable{Name: "a"}, ast.Variable{Name: "b"}, false},
		{"same constant", ast.Constant{Text: "1"}, ast.Constant{Text: "1"}, true},
		{"different constant", ast.Constant{Text: "1"}, ast.Constant{Text: "2"}, false},
		{"mismatched kinds", ast.Variable{Name: "a"}, ast.Constant{Text: "a"}, false},
		{"unsupported kind", ast.Binary{}, ast.Binary{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := sameSlotExpr(c.a, c.b); got != c.want {
				t.Errorf("sameSlotExpr(%#v, %#v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestIncOpSelectsPrefixAndSign(t *testing.T) {
	cases := []struct {
		name string
		in   bytecode.Instruction
		want ast.UnaryOp
	}{
		{"prefix increment", bytecode.Instruction{Op: bytecode.OpPIncL, Arg3: 1}, ast.UnaryPreInc},
		{"prefix decrement", bytecode.Instruction{Op: bytecode.OpPIncL, Arg3: 0xff}, ast.UnaryPreDec},
		{"postfix increment", bytecode.Instruction{Op: bytecode.OpIncL, Arg3: 1}, ast.UnaryPostInc},
		{"postfix decrement", bytecode.Instruction{Op: bytecode.OpIncL, Arg3: 0xff}, ast.UnaryPostDec},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := incOp(c.in); got != c.want {
				t.Errorf("incOp(%#v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestIsInitLikeAndIsStepLike(t *testing.T) {
	if !isInitLike(ast.LocalInit{Name: "i"}) {
		t.Error("isInitLike(LocalInit) = false, want true")
	}
	if !isInitLike(ast.ExprStmt{Expression: ast.Binary{Op: ast.BinAssign}}) {
		t.Error("isInitLike(ExprStmt) = false, want true")
	}
	if isInitLike(ast.Return{}) {
		t.Error("isInitLike(Return) = true, want false")
	}

	if !isStepLike(ast.ExprStmt{Expression: ast.Unary{Op: ast.UnaryPostInc}}) {
		t.Error("isStepLike(postinc) = false, want true")
	}
	if !isStepLike(ast.ExprStmt{Expression: ast.Binary{Op: ast.BinAssign}}) {
		t.Error("isStepLike(assign) = false, want true")
	}
	if isStepLike(ast.ExprStmt{Expression: ast.Constant{Text: "1"}}) {
		t.Error("isStepLike(constant) = true, want false")
	}
	if isStepLike(ast.Return{}) {
		t.Error("isStepLike(Return) = true, want false")
	}
}

func TestDoWhilePrepassDetectsCandidate(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLine},           // 0: loop body
		{Op: bytecode.OpJz, Arg1: 1},    // 1: tail test
		{Op: bytecode.OpJmp, Arg1: -2},  // 2: backward jump to 0
	}
	candidates := doWhilePrepass(instrs)
	c, ok := candidates[0]
	if !ok {
		t.Fatalf("candidates = %v, want an entry beginning at 0", candidates)
	}
	if c.Begin != 0 || c.End != 3 {
		t.Errorf("candidate = %+v, want {Begin:0 End:3}", c)
	}
}

func TestDoWhilePrepassDiscardsEscapingJump(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpJz, Arg1: 5},   // 0: a jump nested in the body escaping past the candidate's end
		{Op: bytecode.OpLine},          // 1: body filler
		{Op: bytecode.OpJz, Arg1: 1},   // 2: tail test
		{Op: bytecode.OpJmp, Arg1: -3}, // 3: backward jump to 0
	}
	candidates := doWhilePrepass(instrs)
	if _, ok := candidates[0]; ok {
		t.Errorf("candidate at 0 survived despite an escaping jump: %v", candidates)
	}
}
