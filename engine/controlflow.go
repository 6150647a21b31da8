// controlflow.go reconstructs structured control flow — if/else, while,
// do-while, for, foreach, switch, try/catch, break/continue — from the
// raw forward/backward jump offsets the decoder (decode.go) hands off
// when it meets a branch instruction. Grounded on nilan/compiler's
// ASTCompiler placeholder-jump/patchJump pair (compiler/ast_compiler.go):
// that compiler emits a jump then backpatches its offset once the target
// is known; this reconstructor runs the inverse problem, reading an
// already-fixed offset and classifying what source-level construct it
// must have come from.
package engine

import (
	"fmt"

	"nutdump/ast"
	"nutdump/bytecode"
)

func (bs *blockState) nearestSwitch() *blockState {
	for b := bs; b != nil; b = b.Parent {
		if b.InSwitch {
			return b
		}
	}
	return nil
}

// doWhilePrepass implements spec.md §4.4's "Do-while discovery": every
// JZ/JCMP with offset +1 immediately followed by a negative-offset JMP is
// a do-while tail; a candidate is later discarded if some compare-jump or
// FOREACH nested inside it targets an address outside its range (the
// candidate was actually a while/for, not a do-while).
func doWhilePrepass(instrs []bytecode.Instruction) map[int]*doWhileCandidate {
	candidates := map[int]*doWhileCandidate{}
	for i := 0; i+1 < len(instrs); i++ {
		in := instrs[i]
		if (in.Op != bytecode.OpJz && in.Op != bytecode.OpJCmp) || in.Arg1 != 1 {
			continue
		}
		next := instrs[i+1]
		if next.Op != bytecode.OpJmp || next.Arg1 >= 0 {
			continue
		}
		begin := (i + 1) + int(next.Arg1)
		end := i + 2
		if begin < 0 || begin >= end {
			continue
		}
		candidates[begin] = &doWhileCandidate{Begin: begin, End: end}
	}

	for i, in := range instrs {
		if in.Op != bytecode.OpJz && in.Op != bytecode.OpJCmp && in.Op != bytecode.OpForeach {
			continue
		}
		if in.Arg1 <= 0 {
			continue
		}
		dest := i + int(in.Arg1)
		if c := innermostCandidate(candidates, i); c != nil && dest > c.End {
			delete(candidates, c.Begin)
		}
	}
	return candidates
}

func innermostCandidate(m map[int]*doWhileCandidate, ip int) *doWhileCandidate {
	var best *doWhileCandidate
	for _, c := range m {
		if ip >= c.Begin && ip < c.End && (best == nil || c.Begin > best.Begin) {
			best = c
		}
	}
	return best
}

// runBlock steps the VM forward until it reaches end, recognizing a
// surviving do-while candidate whenever the IP lands on one of its
// registered begin addresses.
func (vm *VM) runBlock(end int) error {
	for vm.IP < end && vm.IP < len(vm.Fn.Instructions) {
		if cand, ok := vm.DoWhiles[vm.IP]; ok && cand.End <= end {
			if err := vm.parseDoWhile(cand); err != nil {
				return err
			}
			continue
		}
		if err := vm.step(); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) parseDoWhile(cand *doWhileCandidate) error {
	delete(vm.DoWhiles, cand.Begin)
	bs := vm.PushBlock(loopDoWhile, false, cand.Begin, cand.End)
	tailTest := cand.End - 2
	if err := vm.runBlock(tailTest); err != nil {
		return err
	}
	var cond ast.Expression
	if vm.IP == tailTest && vm.IP < len(vm.Fn.Instructions) {
		jz := vm.Fn.Instructions[vm.IP]
		var err error
		cond, err = vm.GetSlot(int(jz.Arg0))
		if err != nil {
			return err
		}
	}
	body := vm.PopBlock()
	vm.IP = cand.End
	vm.Current.AST.Append(ast.DoWhile{Body: body, Cond: cond, Start: cand.Begin, End: cand.End, Flags: bs.Flags})
	return nil
}

// decodeJmp classifies an unclassified JMP by the precedence order
// spec.md §4.4 lists: break, backward continue to loop start, do-while
// forward continue, backward continue crossing the block start, switch
// break (widening the switch's end), while forward continue, and finally
// a commented fallback.
func (vm *VM) decodeJmp(in bytecode.Instruction) error {
	ip := vm.IP
	offset := int(in.Arg1)
	dest := ip + offset
	loop := vm.Current.nearestLoop()
	sw := vm.Current.nearestSwitch()

	switch {
	case loop != nil && offset > 0 && dest == loop.End:
		vm.IP++
		vm.Block().Append(ast.Break{})
		return nil

	case loop != nil && offset < 0 && dest == loop.Start:
		vm.IP++
		vm.Block().Append(ast.Continue{})
		loop.Flags |= ast.LoopUsedBackwardContinue
		return nil

	case loop != nil && loop.Kind == loopDoWhile && offset > 0 && dest > vm.Current.End:
		vm.IP++
		vm.Block().Append(ast.Continue{})
		loop.Flags |= ast.LoopUsedForwardContinue
		return nil

	case offset < 0 && dest < vm.Current.Start:
		vm.IP++
		vm.Block().Append(ast.Continue{})
		if loop != nil {
			loop.Flags |= ast.LoopUsedBackwardContinue
		}
		return nil

	case sw != nil && offset > 0 && dest > sw.End:
		sw.End = dest
		vm.IP++
		vm.Block().Append(ast.Break{})
		return nil

	case loop != nil && loop.Kind == loopWhile && offset > 0:
		vm.IP++
		vm.Block().Append(ast.Continue{})
		loop.Flags |= ast.LoopUsedForwardContinue
		return nil

	default:
		vm.fallback(ip, in)
		vm.IP++
		return nil
	}
}

func (vm *VM) decodeJz(in bytecode.Instruction) error {
	ip := vm.IP
	cond, err := vm.GetSlot(int(in.Arg0))
	if err != nil {
		return err
	}
	return vm.reconstructConditional(ip, cond, int(in.Arg1))
}

// decodeJCmp handles the unified-arith dialect's combined compare-and-
// branch: Arg0/Arg2 name the operands, Arg3 selects the comparator, and
// Arg1 is the branch offset (spec.md §6 lists JCMP as JNZ/JZ's
// replacement in that dialect).
func (vm *VM) decodeJCmp(in bytecode.Instruction) error {
	ip := vm.IP
	left, err := vm.GetSlot(int(in.Arg0))
	if err != nil {
		return err
	}
	right, err := vm.GetSlot(int(in.Arg2))
	if err != nil {
		return err
	}
	op, ok := cmpSelector[in.Arg3]
	if !ok {
		op = ast.BinLt
	}
	cond := ast.Binary{Op: op, Left: left, Right: right}
	return vm.reconstructConditional(ip, cond, int(in.Arg1))
}

// reconstructConditional implements spec.md §4.4's while/if/continue/
// switch disambiguation for a compare-jump whose condition is already
// decoded and whose offset is known.
func (vm *VM) reconstructConditional(ip int, cond ast.Expression, offset int) error {
	instrs := vm.Fn.Instructions
	dest := ip + offset

	if offset > 0 {
		if ok, err := vm.tryReconstructSwitch(ip, cond, dest); ok || err != nil {
			return err
		}
	}

	loop := vm.Current.nearestLoop()

	// While-loop shape: dest's predecessor is an unconditional backward
	// jump landing near the current block's start.
	if offset > 0 && dest-1 >= 0 && dest-1 < len(instrs) {
		back := instrs[dest-1]
		if back.Op == bytecode.OpJmp && back.Arg1 < 0 {
			target := (dest - 1) + int(back.Arg1)
			if target <= vm.Current.End && target >= vm.Current.Start {
				vm.IP = ip + 1
				bs := vm.PushBlock(loopWhile, false, target, dest)
				if err := vm.runBlock(dest - 1); err != nil {
					return err
				}
				body := vm.PopBlock()
				vm.IP = dest
				vm.Current.AST.Append(ast.While{Cond: cond, Body: body, Start: target, End: dest, Flags: bs.Flags})
				return nil
			}
		}
	}

	// Conditional continue straight to the loop's begin.
	if loop != nil && dest == loop.Start {
		vm.IP = ip + 1
		thenBlock := ast.NewBlock()
		thenBlock.Append(ast.Continue{})
		loop.Flags |= ast.LoopUsedBackwardContinue
		vm.Block().Append(ast.If{Cond: cond, Then: thenBlock})
		return nil
	}

	return vm.reconstructIf(ip, cond, dest)
}

// reconstructIf implements spec.md §4.4's "If-reconstruction".
func (vm *VM) reconstructIf(ip int, cond ast.Expression, dest int) error {
	instrs := vm.Fn.Instructions
	snapshot := vm.CloneStack()

	thenLimit := dest
	hasElse := false
	elseEnd := dest
	if dest-1 >= 0 && dest-1 < len(instrs) {
		jmp := instrs[dest-1]
		if jmp.Op == bytecode.OpJmp && jmp.Arg1 > 0 {
			target := (dest - 1) + int(jmp.Arg1)
			loop := vm.Current.nearestLoop()
			if loop == nil || target <= loop.End {
				hasElse = true
				thenLimit = dest - 1
				elseEnd = target
			}
		}
	}

	vm.IP = ip + 1
	vm.PushBlock(loopNone, false, ip+1, thenLimit)
	if err := vm.runBlock(thenLimit); err != nil {
		return err
	}
	thenBlock := vm.PopBlock()
	thenFinal := vm.Stack

	var elseBlock *ast.Block
	if hasElse {
		vm.IP = thenLimit + 1
		vm.SwapStack(snapshot)
		vm.PushBlock(loopNone, false, thenLimit+1, elseEnd)
		if err := vm.runBlock(elseEnd); err != nil {
			return err
		}
		elseBlock = vm.PopBlock()
		vm.IP = elseEnd
		// Fuse slots both branches wrote differently into a ternary, when
		// the destination wasn't already bound to a declared local.
		for i := range vm.Stack {
			if i >= len(thenFinal) {
				break
			}
			if thenFinal[i].Expr == nil || vm.Stack[i].Expr == nil {
				continue
			}
			if _, isLocal := vm.Stack[i].Expr.(ast.LocalVariable); isLocal {
				continue
			}
			if sameSlotExpr(thenFinal[i].Expr, vm.Stack[i].Expr) {
				continue
			}
			_ = vm.MergeSlot(cond, i, thenFinal, false)
		}
	} else {
		vm.IP = dest
	}

	vm.Current.AST.Append(ast.If{Cond: cond, Then: thenBlock, Else: elseBlock})
	return nil
}

// sameSlotExpr is a conservative, panic-free comparison used only to
// decide whether two branch-final slot expressions are "the same" and so
// don't need fusing: plain variable/local-variable names compare by
// name, constants by text, everything else is treated as different
// (a false negative here only costs an extra, harmless ternary fusion).
func sameSlotExpr(a, b ast.Expression) bool {
	switch av := a.(type) {
	case ast.Variable:
		bv, ok := b.(ast.Variable)
		return ok && av.Name == bv.Name
	case ast.LocalVariable:
		bv, ok := b.(ast.LocalVariable)
		return ok && av.Name == bv.Name
	case ast.Constant:
		bv, ok := b.(ast.Constant)
		return ok && av.Text == bv.Text
	default:
		return false
	}
}

type switchHead struct {
	Value      ast.Expression
	BodyStart  int
	BodyEnd    int
}

// tryReconstructSwitch recognizes the chain pattern spec.md §4.4
// describes: consecutive `EQ ; JZ ; body ; JMP` groups comparing the same
// subject slot against successive literal case values, terminated by a
// default region and (optionally) a trailing `JMP +0`. ip is the first
// JZ; cond is its already-decoded condition, dest its destination.
func (vm *VM) tryReconstructSwitch(ip int, cond ast.Expression, dest int) (bool, error) {
	condBin, ok := cond.(ast.Binary)
	if !ok || condBin.Op != ast.BinEq {
		return false, nil
	}
	eqIP := ip - 1
	if eqIP < 0 {
		return false, nil
	}
	firstEq := vm.Fn.Instructions[eqIP]
	if firstEq.Arg3 == 0 {
		return false, nil
	}
	subjectSlot := firstEq.Arg2
	subject := condBin.Left

	instrs := vm.Fn.Instructions
	var heads []switchHead
	switchEnd := -1
	cur := ip

	for {
		eIP := cur - 1
		if eIP < 0 || eIP >= len(instrs) {
			break
		}
		eq := instrs[eIP]
		if eq.Op != bytecode.OpEq || eq.Arg3 == 0 || eq.Arg2 != subjectSlot {
			break
		}
		if cur >= len(instrs) {
			break
		}
		jz := instrs[cur]
		if jz.Op != bytecode.OpJz && jz.Op != bytecode.OpJCmp {
			break
		}
		d := cur + int(jz.Arg1)
		if d-1 < 0 || d-1 >= len(instrs) {
			break
		}
		jmp := instrs[d-1]
		if jmp.Op != bytecode.OpJmp || jmp.Arg1 < 0 {
			break
		}
		target := (d - 1) + int(jmp.Arg1)
		heads = append(heads, switchHead{
			Value:     vm.constantExpr(eq.Arg1Unsigned()),
			BodyStart: cur + 1,
			BodyEnd:   d - 1,
		})
		switchEnd = target
		cur = d
	}

	if len(heads) < 2 {
		return false, nil
	}

	vm.IP = heads[0].BodyStart
	bs := vm.PushBlock(loopNone, true, ip, switchEnd)
	var cases []ast.Case
	for _, h := range heads {
		vm.IP = h.BodyStart
		vm.PushBlock(loopNone, true, h.BodyStart, h.BodyEnd)
		if err := vm.runBlock(h.BodyEnd); err != nil {
			return true, err
		}
		body := vm.PopBlock()
		cases = append(cases, ast.Case{Value: h.Value, Body: body})
	}

	var defaultBlock *ast.Block
	if cur < switchEnd {
		vm.IP = cur
		vm.PushBlock(loopNone, true, cur, switchEnd)
		if err := vm.runBlock(switchEnd); err != nil {
			return true, err
		}
		defaultBlock = vm.PopBlock()
	}
	vm.Current = bs.Parent

	vm.IP = switchEnd
	if vm.IP < len(instrs) && instrs[vm.IP].Op == bytecode.OpJmp && instrs[vm.IP].Arg1 == 0 {
		vm.IP++
	}

	vm.Current.AST.Append(ast.Switch{Subject: subject, Cases: cases, Default: defaultBlock, Start: ip, End: vm.IP})
	return true, nil
}

// decodeForeach parses a foreach loop (spec.md §4.2, "Loops"). Arg0 names
// the collection, Arg2 the base of the three hidden foreach-state slots
// (key, value, iterator — "Foreach state" in the glossary), and Arg1 the
// offset to just past the loop's trailing back-jump.
func (vm *VM) decodeForeach(in bytecode.Instruction) error {
	ip := vm.IP
	collection, err := vm.GetSlot(int(in.Arg0))
	if err != nil {
		return err
	}
	base := int(in.Arg2)
	end := ip + int(in.Arg1)

	keyName := ""
	if kl, ok := vm.Fn.LocalAt(base, ip+1, true); ok && kl.Name != "@INDEX@" {
		keyName = kl.Name
	}
	valName := "value"
	if vl, ok := vm.Fn.LocalAt(base+1, ip+1, true); ok {
		valName = vl.Name
	}

	vm.IP = ip + 1
	bodyEnd := end
	if bodyEnd-1 >= 0 && bodyEnd-1 < len(vm.Fn.Instructions) && vm.Fn.Instructions[bodyEnd-1].Op == bytecode.OpJmp {
		bodyEnd--
	}
	bs := vm.PushBlock(loopForeach, false, ip, end)
	if err := vm.runBlock(bodyEnd); err != nil {
		return err
	}
	body := vm.PopBlock()

	vm.IP = end
	if vm.IP < len(vm.Fn.Instructions) && vm.Fn.Instructions[vm.IP].Op == bytecode.OpPostForeach {
		vm.IP++
	}
	vm.Current.AST.Append(ast.Foreach{
		Key: keyName, Value: valName, Iterable: collection, Body: body,
		Start: ip, End: vm.IP, Flags: bs.Flags,
	})
	return nil
}

// decodeTryCatch parses a try/catch per spec.md §4.2, "Exceptions".
func (vm *VM) decodeTryCatch(in bytecode.Instruction) error {
	ip := vm.IP
	instrs := vm.Fn.Instructions

	depth := 1
	j := ip + 1
	for j < len(instrs) && depth > 0 {
		switch instrs[j].Op {
		case bytecode.OpPushTrap:
			depth++
		case bytecode.OpPopTrap:
			depth--
		}
		if depth == 0 {
			break
		}
		j++
	}
	popIP := j

	vm.IP = ip + 1
	vm.PushBlock(loopNone, false, ip+1, popIP)
	if err := vm.runBlock(popIP); err != nil {
		return err
	}
	tryBlock := vm.PopBlock()
	vm.IP = popIP + 1

	var catchBlock *ast.Block
	catchVar := ""
	if vm.IP < len(instrs) && instrs[vm.IP].Op == bytecode.OpJmp && instrs[vm.IP].Arg1 > 0 {
		jmpIP := vm.IP
		catchStart := jmpIP + 1
		catchEnd := jmpIP + int(instrs[jmpIP].Arg1)

		vm.IP = catchStart
		if local, ok := vm.Fn.LocalStartingAt(catchStart); ok {
			catchVar = local.Name
			if local.StackPos >= 0 && local.StackPos < len(vm.Stack) {
				vm.Stack[local.StackPos] = Slot{Expr: ast.LocalVariable{Name: local.Name}}
			}
		} else {
			catchVar = fmt.Sprintf("e%d", catchStart)
		}

		vm.PushBlock(loopNone, false, catchStart, catchEnd)
		if err := vm.runBlock(catchEnd); err != nil {
			return err
		}
		catchBlock = vm.PopBlock()
		vm.IP = catchEnd
	}

	vm.Current.AST.Append(ast.TryCatch{Try: tryBlock, CatchVar: catchVar, Catch: catchBlock})
	return nil
}

// promoteWhileToFor implements spec.md §4.4's post-processing rule: a
// while loop with no backward-continue, preceded by an initializer or
// plain expression statement, whose last body statement is a step form,
// becomes a for loop. It runs over a whole block's statement list,
// consuming the statement before a qualifying While and the last
// statement inside its body.
func promoteWhileToFor(b *ast.Block) {
	if b == nil {
		return
	}
	for i := 0; i < len(b.Statements); i++ {
		w, ok := b.Statements[i].(ast.While)
		if !ok {
			continue
		}
		promoteWhileToFor(w.Body)
		if w.Flags.Has(ast.LoopUsedBackwardContinue) || i == 0 {
			continue
		}
		init := b.Statements[i-1]
		if !isInitLike(init) {
			continue
		}
		if len(w.Body.Statements) == 0 {
			continue
		}
		last := w.Body.Statements[len(w.Body.Statements)-1]
		if !isStepLike(last) {
			continue
		}
		body := &ast.Block{Statements: append([]ast.Stmt(nil), w.Body.Statements[:len(w.Body.Statements)-1]...)}
		forStmt := ast.For{Init: init, Cond: w.Cond, Step: last, Body: body, Start: w.Start, End: w.End, Flags: w.Flags}
		b.Statements[i-1] = forStmt
		b.Statements[i] = ast.Empty{}
	}
}

func isInitLike(s ast.Stmt) bool {
	switch s.(type) {
	case ast.LocalInit, ast.ExprStmt:
		return true
	default:
		return false
	}
}

func isStepLike(s ast.Stmt) bool {
	es, ok := s.(ast.ExprStmt)
	if !ok {
		return false
	}
	switch e := es.Expression.(type) {
	case ast.Unary:
		return e.Op == ast.UnaryPreInc || e.Op == ast.UnaryPreDec || e.Op == ast.UnaryPostInc || e.Op == ast.UnaryPostDec
	case ast.Binary:
		return e.Op == ast.BinAssign
	default:
		return false
	}
}

// elideEmpty drops Empty statements left behind by pending-statement
// withdrawal and by while→for promotion's initializer consumption
// (spec.md §2, "empty-statement elision").
func elideEmpty(b *ast.Block) {
	if b == nil {
		return
	}
	kept := b.Statements[:0]
	for _, s := range b.Statements {
		switch st := s.(type) {
		case ast.Empty:
			continue
		case *ast.Block:
			elideEmpty(st)
			kept = append(kept, st)
		case ast.If:
			elideEmpty(st.Then)
			elideEmpty(st.Else)
			kept = append(kept, st)
		case ast.While:
			elideEmpty(st.Body)
			kept = append(kept, st)
		case ast.DoWhile:
			elideEmpty(st.Body)
			kept = append(kept, st)
		case ast.For:
			elideEmpty(st.Body)
			kept = append(kept, st)
		case ast.Foreach:
			elideEmpty(st.Body)
			kept = append(kept, st)
		case ast.TryCatch:
			elideEmpty(st.Try)
			elideEmpty(st.Catch)
			kept = append(kept, st)
		case ast.Switch:
			for i := range st.Cases {
				elideEmpty(st.Cases[i].Body)
			}
			elideEmpty(st.Default)
			kept = append(kept, st)
		default:
			kept = append(kept, s)
		}
	}
	b.Statements = kept
}
