// Package engine implements the decompilation engine: the symbolic VM and
// expression builder (this file), the instruction decoder (decode.go), the
// control-flow reconstructor (controlflow.go), and the top-level entry
// point (decompile.go) that ties the three together.
//
// The shape is the mirror image of nilan/compiler's ASTCompiler
// (compiler/ast_compiler.go): where that compiler walks an AST and emits
// bytecode plus jump placeholders it backpatches, the VM here walks
// bytecode and reconstructs the AST, with its own slot-tracking state
// standing in for the compiler's locals/scope bookkeeping.
package engine

import (
	"fmt"

	"nutdump/ast"
	"nutdump/sqfunc"
)

// Options controls decompilation, threaded explicitly rather than kept as
// package-level state (spec.md §9, "Global state").
type Options struct {
	// Debug, when true, makes LINE instructions emit `// line N` comments.
	Debug bool
}

// Slot is one cell of the symbolic VM's stack: a symbolic expression plus
// the set of already-emitted statements that may still be withdrawn in
// favor of an inlined use (spec.md §3, "VM stack slot").
type Slot struct {
	Expr    ast.Expression
	Pending []pendingRef
}

// pendingRef names one pending statement: the block it was appended to
// and its handle within that block (ast.Block.Clear nulls it out).
type pendingRef struct {
	Block  *ast.Block
	Handle int
}

func (s *Slot) addPending(b *ast.Block, handle int) {
	s.Pending = append(s.Pending, pendingRef{Block: b, Handle: handle})
}

// clearPending nulls every statement this slot still owns, because its
// value was just read and the effect is now attributed to the read site
// (spec.md §4.3, pending-statement discipline).
func (s *Slot) clearPending() {
	for _, p := range s.Pending {
		p.Block.Clear(p.Handle)
	}
	s.Pending = nil
}

// LoopKind discriminates the loop form a blockState is reconstructing, or
// loopNone for a non-loop lexical block (function body, if/else arm, try
// block, switch case body).
type LoopKind int

const (
	loopNone LoopKind = iota
	loopWhile
	loopDoWhile
	loopForeach
	loopCmpFor
)

// blockState is the transient lexical descriptor spec.md §3 calls "Block
// state": the bytecode extent currently being reconstructed, with a
// parent pointer chaining outward so break/continue classification
// (controlflow.go) can walk past intervening if/switch blocks to find the
// nearest enclosing loop.
type blockState struct {
	Kind     LoopKind
	InSwitch bool
	Start    int
	End      int
	Flags    ast.LoopFlags
	Parent   *blockState
	AST      *ast.Block
}

// nearestLoop walks outward to the nearest ancestor (including bs itself)
// that is reconstructing a loop.
func (bs *blockState) nearestLoop() *blockState {
	for b := bs; b != nil; b = b.Parent {
		if b.Kind != loopNone {
			return b
		}
	}
	return nil
}

// nearestPlainBlock walks outward to the nearest ancestor that is neither
// a loop nor a switch body — the scope init-slot checks a local's scope
// against (spec.md §4.1, init-slot).
func (bs *blockState) nearestPlainBlock() *blockState {
	for b := bs; b != nil; b = b.Parent {
		if b.Kind == loopNone && !b.InSwitch {
			return b
		}
	}
	return nil
}

// doWhileCandidate is one entry the do-while prepass (controlflow.go)
// records: a JZ-then-negative-JMP tail whose begin/end delimit a
// candidate do-while loop, surviving until proven otherwise by a jump
// that escapes it.
type doWhileCandidate struct {
	Begin int
	End   int
}

// VM is the per-function symbolic interpreter state spec.md §4.1
// describes: instruction pointer, stack of slots, current statement
// block, block-state stack, the do-while prepass's surviving candidates,
// and the enclosing function. Modeled directly on nilan/vm.VM
// (vm/vm.go) — a small struct holding a stack and an ip — generalized
// from byte-stream execution to instruction-slice reconstruction.
type VM struct {
	Fn      *sqfunc.Function
	Options Options

	IP    int
	Stack []Slot

	Current *blockState

	// DoWhiles maps a candidate loop's begin IP to its prepass record.
	// The reconstructor consults and deletes from this map as it reaches
	// each begin IP (spec.md §4.4).
	DoWhiles map[int]*doWhileCandidate

	Warnings []error
}

// New builds a VM ready to decompile fn from instruction 0, with a single
// top-level block spanning the whole instruction vector.
func New(fn *sqfunc.Function, opts Options) *VM {
	vm := &VM{
		Fn:      fn,
		Options: opts,
		Stack:   make([]Slot, fn.StackSize),
	}
	vm.Current = &blockState{
		Kind: loopNone,
		Start: 0,
		End:   len(fn.Instructions),
		AST:   ast.NewBlock(),
	}
	return vm
}

// Block returns the statement block currently being accumulated.
func (vm *VM) Block() *ast.Block { return vm.Current.AST }

// PushBlock opens a nested lexical block and makes it current.
func (vm *VM) PushBlock(kind LoopKind, inSwitch bool, start, end int) *blockState {
	bs := &blockState{
		Kind:     kind,
		InSwitch: inSwitch,
		Start:    start,
		End:      end,
		Parent:   vm.Current,
		AST:      ast.NewBlock(),
	}
	vm.Current = bs
	return bs
}

// PopBlock closes the current lexical block, restoring its parent as
// current, and returns the closed block's accumulated statements.
func (vm *VM) PopBlock() *ast.Block {
	bs := vm.Current
	vm.Current = bs.Parent
	return bs.AST
}

func (vm *VM) checkRange(i int, op string) error {
	if i < 0 || i >= len(vm.Stack) {
		return StackError{Index: i, StackSize: len(vm.Stack), Op: op}
	}
	return nil
}

// GetSlot reads slot i's expression (spec.md §4.1, get-slot). An empty
// slot reads as a synthetic debug variable, never promoted to real
// output on its own; reading any slot withdraws its pending statements,
// since the effect now appears inline at this read.
func (vm *VM) GetSlot(i int) (ast.Expression, error) {
	if err := vm.checkRange(i, "get-slot"); err != nil {
		return nil, err
	}
	s := &vm.Stack[i]
	s.clearPending()
	if s.Expr == nil {
		return ast.Variable{Name: fmt.Sprintf("$[%d]", i)}, nil
	}
	return s.Expr, nil
}

// isOperatorExpr reports whether expr is one of the expression kinds
// whose evaluation has a visible side effect worth considering as its own
// statement (spec.md §4.1, set-slot: "expr is an operator expression").
func isOperatorExpr(expr ast.Expression) bool {
	switch expr.(type) {
	case ast.Unary, ast.Binary, ast.Ternary, ast.Delegate, ast.Call:
		return true
	default:
		return false
	}
}

// downgradeLocal turns a LocalVariable rvalue into a plain Variable
// carrying the same name, so a later read of the slot that copied it
// doesn't re-attribute the copy's effect to the original local (spec.md
// §4.1, set-slot: "downgrades a local-variable rvalue to a plain
// variable").
func downgradeLocal(expr ast.Expression) ast.Expression {
	if lv, ok := expr.(ast.LocalVariable); ok {
		return ast.Variable{Name: lv.Name}
	}
	return expr
}

// SetSlot writes expr to slot i (spec.md §4.1, set-slot). It first tries
// init-slot; if the slot isn't a fresh local declaration, it either
// emits an assignment to an already-declared local, or becomes a plain
// intermediate — possibly pending its own expression-statement when expr
// looks statement-worthy.
func (vm *VM) SetSlot(i int, expr ast.Expression, statementLike bool) error {
	if err := vm.checkRange(i, "set-slot"); err != nil {
		return err
	}
	did, err := vm.InitSlot(i, expr, false)
	if err != nil {
		return err
	}
	if did {
		return nil
	}

	s := &vm.Stack[i]
	if lv, ok := s.Expr.(ast.LocalVariable); ok {
		vm.Block().Append(ast.ExprStmt{Expression: ast.Binary{
			Op:    ast.BinAssign,
			Left:  lv,
			Right: expr,
		}})
		return nil
	}

	s.clearPending()
	s.Expr = downgradeLocal(expr)
	if statementLike || isOperatorExpr(expr) {
		handle := vm.Block().Append(ast.ExprStmt{Expression: expr})
		s.addPending(vm.Block(), handle)
	}
	return nil
}

// InitSlot attempts to bind slot i to a declared local whose scope starts
// at the current instruction (spec.md §4.1, init-slot). foreachIter
// widens the match to foreach-iterator-state locals, which may be
// (re)initialized anywhere within their scope rather than only at its
// start.
func (vm *VM) InitSlot(i int, expr ast.Expression, foreachIter bool) (bool, error) {
	if err := vm.checkRange(i, "init-slot"); err != nil {
		return false, err
	}
	local, ok := vm.Fn.LocalAt(i, vm.IP, foreachIter)
	if !ok {
		return false, nil
	}
	plain := vm.Current.nearestPlainBlock()
	if plain != nil && plain.End != 0 && local.ScopeEndIP > plain.End {
		// The local's declared lifetime escapes the nearest non-loop,
		// non-switch block: not safe to declare it here.
		return false, nil
	}

	vm.Block().Append(ast.LocalInit{Name: local.Name, Initializer: expr})
	vm.Stack[i].clearPending()
	vm.Stack[i].Expr = ast.LocalVariable{Name: local.Name}
	return true, nil
}

// CloneStack snapshots the entire slot vector, used before re-interpreting
// an alternate if/else branch (spec.md §4.1, clone-stack).
func (vm *VM) CloneStack() []Slot {
	clone := make([]Slot, len(vm.Stack))
	for i, s := range vm.Stack {
		clone[i] = Slot{Expr: s.Expr, Pending: append([]pendingRef(nil), s.Pending...)}
	}
	return clone
}

// SwapStack replaces the live slot vector with snapshot, returning the
// vector it replaced (spec.md §4.1, swap-stack).
func (vm *VM) SwapStack(snapshot []Slot) []Slot {
	old := vm.Stack
	vm.Stack = snapshot
	return old
}

// MergeSlot fuses two branches' divergent values for slot i into a
// ternary, or — when both sides agree the slot is the same declared
// local — simply withdraws both branches' pending statements against the
// fused value while leaving the local's identity alone (spec.md §4.1,
// merge-slot).
func (vm *VM) MergeSlot(cond ast.Expression, i int, other []Slot, attachStmt bool) error {
	if err := vm.checkRange(i, "merge-slot"); err != nil {
		return err
	}
	cur := &vm.Stack[i]
	alt := other[i]

	if curLocal, ok := cur.Expr.(ast.LocalVariable); ok {
		if altLocal, ok2 := alt.Expr.(ast.LocalVariable); ok2 && altLocal.Name == curLocal.Name {
			fused := ast.Ternary{Cond: cond, Then: alt.Expr, Else: cur.Expr}
			cur.clearPending()
			for _, p := range alt.Pending {
				p.Block.Clear(p.Handle)
			}
			_ = fused // the local keeps its declared name; fused value is not stored
			return nil
		}
	}

	fused := ast.Ternary{Cond: cond, Then: alt.Expr, Else: cur.Expr}
	cur.Expr = fused
	cur.Pending = append(cur.Pending, alt.Pending...)
	if attachStmt {
		handle := vm.Block().Append(ast.ExprStmt{Expression: fused})
		cur.addPending(vm.Block(), handle)
	}
	return nil
}

// ExpireLocalsEndingAt clears every slot whose declared local scope ended
// at the completion of the previous instruction, i.e. whose ScopeEndIP
// equals ip — honoring local-variable scope boundaries strictly (spec.md
// §4.3: "at the previous instruction's completion, every slot whose
// local-variable scope just ended is cleared before the next instruction
// runs").
func (vm *VM) ExpireLocalsEndingAt(ip int) {
	for idx := range vm.Stack {
		s := &vm.Stack[idx]
		lv, ok := s.Expr.(ast.LocalVariable)
		if !ok {
			continue
		}
		for _, local := range vm.Fn.Locals {
			if local.StackPos == idx && local.Name == lv.Name && local.ScopeEndIP == ip && local.InScope(ip-1) {
				s.Expr = nil
				s.Pending = nil
				break
			}
		}
	}
}
