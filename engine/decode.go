package engine

import (
	"fmt"

	"nutdump/ast"
	"nutdump/bytecode"
	"nutdump/value"
)

// constantExpr renders literal table entry idx into a Constant node, with
// its label form pre-computed for dotted-index emission (spec.md §3).
func (vm *VM) constantExpr(idx uint32) ast.Constant {
	v := vm.Fn.LiteralAt(idx)
	c := ast.Constant{Text: v.Render(), Literal: true}
	if v.IsLabel() {
		s, _ := v.AsString()
		c.Label = s
	}
	return c
}

var arithSelector = map[byte]ast.BinaryOp{
	0: ast.BinAdd, 1: ast.BinSub, 2: ast.BinMul, 3: ast.BinDiv, 4: ast.BinMod,
}

var bitwSelector = map[byte]ast.BinaryOp{
	0: ast.BinBitAnd, 1: ast.BinBitOr, 2: ast.BinBitXor, 3: ast.BinShl, 4: ast.BinShr, 5: ast.BinUShr,
}

var cmpSelector = map[byte]ast.BinaryOp{
	0: ast.BinLt, 1: ast.BinLe, 2: ast.BinGt, 3: ast.BinGe,
}

// step decodes and applies the instruction at vm.IP, advancing vm.IP past
// it (or past the region a reconstructor rule consumes). It returns a
// non-nil error only for a fatal condition (StackError); recoverable
// defects (spec.md §7) are folded into a Comment statement and recorded
// as a Warning instead of returned.
func (vm *VM) step() error {
	vm.ExpireLocalsEndingAt(vm.IP)

	in := vm.Fn.Instructions[vm.IP]
	ip := vm.IP

	switch in.Op {
	case bytecode.OpLine:
		if vm.Options.Debug {
			vm.Block().Append(ast.Comment{Text: fmt.Sprintf("// line %d", in.Arg1)})
		}
		vm.IP++

	case bytecode.OpLoad:
		expr := vm.constantExpr(in.Arg1Unsigned())
		vm.IP++
		return vm.SetSlot(int(in.Arg0), expr, false)

	case bytecode.OpLoadInt:
		expr := ast.Constant{Text: value.Int(in.Arg1).Render(), Literal: true}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), expr, false)

	case bytecode.OpLoadFloat:
		expr := ast.Constant{Text: value.Float(in.Arg1Float()).Render(), Literal: true}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), expr, false)

	case bytecode.OpDLoad:
		first := vm.constantExpr(in.Arg1Unsigned())
		second := ast.Constant{Text: value.Int(int32(in.Arg3)).Render(), Literal: true}
		vm.IP++
		if err := vm.SetSlot(int(in.Arg0), first, false); err != nil {
			return err
		}
		return vm.SetSlot(int(in.Arg2), second, false)

	case bytecode.OpLoadNulls:
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Constant{Text: "null", Literal: true}, false)

	case bytecode.OpLoadRoot:
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.RootTable{}, false)

	case bytecode.OpLoadBool:
		text := "false"
		if in.Arg1 != 0 {
			text = "true"
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Constant{Text: text, Literal: true}, false)

	case bytecode.OpLoadFreeVar:
		idx := int(in.Arg1Unsigned())
		var name string
		if idx >= 0 && idx < len(vm.Fn.Outers) {
			name = vm.Fn.Outers[idx].Name
		} else {
			name = fmt.Sprintf("$outer[%d]", idx)
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Variable{Name: name}, false)

	case bytecode.OpMove:
		src, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), src, false)

	case bytecode.OpDMove:
		a, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		b, err := vm.GetSlot(int(in.Arg3))
		if err != nil {
			return err
		}
		vm.IP++
		if err := vm.SetSlot(int(in.Arg0), a, false); err != nil {
			return err
		}
		return vm.SetSlot(int(in.Arg2), b, false)

	case bytecode.OpGetK:
		receiver, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		key := vm.constantExpr(in.Arg1Unsigned())
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Index{Receiver: receiver, Key: key}, false)

	case bytecode.OpGet:
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		key, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Index{Receiver: receiver, Key: key}, false)

	case bytecode.OpSet:
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		key, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		val, err := vm.GetSlot(int(in.Arg3))
		if err != nil {
			return err
		}
		assign := ast.Binary{Op: ast.BinAssign, Left: ast.Index{Receiver: receiver, Key: key}, Right: val}
		vm.IP++
		if in.Arg0 == in.Arg3 {
			vm.Block().Append(ast.ExprStmt{Expression: assign})
			return nil
		}
		return vm.SetSlot(int(in.Arg0), assign, true)

	case bytecode.OpNewSlot, bytecode.OpNewSlotA:
		return vm.decodeNewSlot(in)

	case bytecode.OpDelete:
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		key, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		call := ast.Call{Callee: ast.Index{Receiver: receiver, Key: ast.Constant{Text: "rawdelete", Literal: false, Label: "rawdelete"}}, Args: []ast.Expression{key}}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), call, true)

	case bytecode.OpArith:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		op, ok := arithSelector[in.Arg3]
		if !ok {
			op = ast.BinAdd
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: op, Left: left, Right: right}, false)

	case bytecode.OpBitw:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		op, ok := bitwSelector[in.Arg3]
		if !ok {
			op = ast.BinBitAnd
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: op, Left: left, Right: right}, false)

	case bytecode.OpCmp:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		op, ok := cmpSelector[in.Arg3]
		if !ok {
			op = ast.BinLt
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: op, Left: left, Right: right}, false)

	case bytecode.OpEq, bytecode.OpNe:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		var right ast.Expression
		if in.Arg3 != 0 {
			right = vm.constantExpr(in.Arg1Unsigned())
		} else {
			right, err = vm.GetSlot(int(in.Arg1))
			if err != nil {
				return err
			}
		}
		op := ast.BinEq
		if in.Op == bytecode.OpNe {
			op = ast.BinNe
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: op, Left: left, Right: right}, false)

	case bytecode.OpExists:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: ast.BinIn, Left: left, Right: right}, false)

	case bytecode.OpInstanceOf:
		left, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Binary{Op: ast.BinInstanceOf, Left: left, Right: right}, false)

	case bytecode.OpAnd:
		return vm.decodeShortCircuit(in, true)
	case bytecode.OpOr:
		return vm.decodeShortCircuit(in, false)

	case bytecode.OpNeg:
		return vm.decodeUnary(in, ast.UnaryNeg)
	case bytecode.OpNot:
		return vm.decodeUnary(in, ast.UnaryNot)
	case bytecode.OpBWNot:
		return vm.decodeUnary(in, ast.UnaryBWNot)
	case bytecode.OpTypeOf:
		return vm.decodeUnary(in, ast.UnaryTypeOf)
	case bytecode.OpResume:
		return vm.decodeUnary(in, ast.UnaryResume)
	case bytecode.OpClone:
		return vm.decodeUnary(in, ast.UnaryClone)

	case bytecode.OpDelegate:
		left, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		right, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Delegate{Left: left, Right: right}, false)

	case bytecode.OpGetBase:
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Base{}, false)

	case bytecode.OpGetParent:
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		call := ast.Call{Callee: ast.Index{Receiver: receiver, Key: ast.Constant{Text: "getparent", Label: "getparent"}}}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), call, true)

	case bytecode.OpInc, bytecode.OpPInc:
		return vm.decodeMemberIncrement(in)
	case bytecode.OpIncL, bytecode.OpPIncL:
		return vm.decodeSlotIncrement(in)
	case bytecode.OpCompArith, bytecode.OpCompArithL:
		return vm.decodeCompoundArith(in)

	case bytecode.OpNewTable:
		vm.IP++
		return vm.SetSlot(int(in.Arg0), &ast.NewTable{}, false)
	case bytecode.OpNewArray:
		vm.IP++
		return vm.SetSlot(int(in.Arg0), &ast.NewArray{}, false)
	case bytecode.OpNewClass:
		var base ast.Expression
		if in.Arg1 != 0 || in.Arg2 != 0 {
			var err error
			base, err = vm.GetSlot(int(in.Arg1))
			if err != nil {
				return err
			}
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), &ast.NewClass{Base: base}, false)

	case bytecode.OpClosure:
		return vm.decodeClosure(in)

	case bytecode.OpAppendArray:
		return vm.decodeAppendArray(in)

	case bytecode.OpTailCall, bytecode.OpCall:
		callee, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		var args []ast.Expression
		for s := int(in.Arg2) + 1; s < int(in.Arg2)+int(in.Arg3); s++ {
			a, err := vm.GetSlot(s)
			if err != nil {
				return err
			}
			args = append(args, a)
		}
		vm.IP++
		return vm.SetSlot(int(in.Arg0), ast.Call{Callee: callee, Args: args}, true)

	case bytecode.OpPrepCall, bytecode.OpPrepCallK:
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		var key ast.Expression
		if in.Op == bytecode.OpPrepCallK {
			key = vm.constantExpr(in.Arg1Unsigned())
		} else {
			key, err = vm.GetSlot(int(in.Arg2))
			if err != nil {
				return err
			}
		}
		vm.IP++
		if err := vm.SetSlot(int(in.Arg0), ast.Index{Receiver: receiver, Key: key}, false); err != nil {
			return err
		}
		if err := vm.checkRange(int(in.Arg3), "prepcall-blank"); err != nil {
			return err
		}
		vm.Stack[in.Arg3] = Slot{}
		return nil

	case bytecode.OpYield:
		var val ast.Expression
		if in.Arg1 >= 0 {
			var err error
			val, err = vm.GetSlot(int(in.Arg1))
			if err != nil {
				return err
			}
		}
		vm.IP++
		vm.Block().Append(ast.YieldStmt{Value: val})
		return nil

	case bytecode.OpReturn:
		var val ast.Expression
		if in.Arg0 != 0xff {
			var err error
			val, err = vm.GetSlot(int(in.Arg1))
			if err != nil {
				return err
			}
		}
		vm.IP++
		vm.Block().Append(ast.Return{Value: val})
		return nil

	case bytecode.OpThrow:
		val, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		vm.IP++
		vm.Block().Append(ast.Throw{Value: val})
		return nil

	case bytecode.OpClose:
		vm.IP++
		return nil

	case bytecode.OpForeach:
		return vm.decodeForeach(in)
	case bytecode.OpPostForeach:
		vm.IP++
		return nil

	case bytecode.OpPushTrap:
		return vm.decodeTryCatch(in)

	case bytecode.OpJmp:
		return vm.decodeJmp(in)
	case bytecode.OpJz:
		return vm.decodeJz(in)
	case bytecode.OpJCmp:
		return vm.decodeJCmp(in)

	default:
		vm.fallback(ip, in)
		vm.IP++
		return nil
	}
	return nil
}

func (vm *VM) decodeUnary(in bytecode.Instruction, op ast.UnaryOp) error {
	operand, err := vm.GetSlot(int(in.Arg1))
	if err != nil {
		return err
	}
	vm.IP++
	return vm.SetSlot(int(in.Arg0), ast.Unary{Op: op, Operand: operand}, false)
}

func (vm *VM) decodeMemberIncrement(in bytecode.Instruction) error {
	receiver, err := vm.GetSlot(int(in.Arg1))
	if err != nil {
		return err
	}
	key, err := vm.GetSlot(int(in.Arg2))
	if err != nil {
		return err
	}
	op := incOp(in)
	vm.IP++
	return vm.SetSlot(int(in.Arg0), ast.Unary{Op: op, Operand: ast.Index{Receiver: receiver, Key: key}}, true)
}

func (vm *VM) decodeSlotIncrement(in bytecode.Instruction) error {
	operand, err := vm.GetSlot(int(in.Arg1))
	if err != nil {
		return err
	}
	op := incOp(in)
	vm.IP++
	return vm.SetSlot(int(in.Arg0), ast.Unary{Op: op, Operand: operand}, true)
}

// incOp picks postfix-vs-prefix and inc-vs-dec from the opcode identity
// and the step sign (spec.md §4.2: "sign of a3 chooses increment/decrement").
func incOp(in bytecode.Instruction) ast.UnaryOp {
	prefix := in.Op == bytecode.OpPInc || in.Op == bytecode.OpPIncL
	dec := int8(in.Arg3) < 0
	switch {
	case prefix && dec:
		return ast.UnaryPreDec
	case prefix && !dec:
		return ast.UnaryPreInc
	case !prefix && dec:
		return ast.UnaryPostDec
	default:
		return ast.UnaryPostInc
	}
}

func (vm *VM) decodeCompoundArith(in bytecode.Instruction) error {
	op, ok := arithSelector[in.Arg3]
	if !ok {
		op = ast.BinAdd
	}
	var target ast.Expression
	if in.Op == bytecode.OpCompArithL {
		var err error
		target, err = vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
	} else {
		receiver, err := vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
		key, err := vm.GetSlot(int(in.Arg2))
		if err != nil {
			return err
		}
		target = ast.Index{Receiver: receiver, Key: key}
	}
	rhs, err := vm.GetSlot(int(in.Arg2))
	if err != nil {
		return err
	}
	assign := ast.Binary{Op: ast.BinAssign, Left: target, Right: ast.Binary{Op: op, Left: target, Right: rhs}}
	vm.IP++
	return vm.SetSlot(int(in.Arg0), assign, true)
}

func (vm *VM) decodeNewSlot(in bytecode.Instruction) error {
	receiver, err := vm.GetSlot(int(in.Arg1))
	if err != nil {
		return err
	}
	key, err := vm.GetSlot(int(in.Arg2))
	if err != nil {
		return err
	}
	val, err := vm.GetSlot(int(in.Arg3))
	if err != nil {
		return err
	}
	vm.IP++

	switch r := receiver.(type) {
	case *ast.NewTable:
		r.AppendSlot(key, val)
		return nil
	case *ast.NewClass:
		static := in.Op == bytecode.OpNewSlotA && in.Arg0&1 != 0
		var attrs ast.Expression
		if in.Op == bytecode.OpNewSlotA && in.Arg0&2 != 0 {
			attrs = val
		}
		if c, ok := key.(ast.Constant); ok && c.IsLabel() {
			if nc, ok := val.(*ast.NewClass); ok {
				nc.Rename(c.Label)
			}
		}
		r.AppendMember(ast.ClassMember{Key: key, Value: val, Static: static, Attributes: attrs})
		return nil
	default:
		if c, ok := key.(ast.Constant); ok && c.IsLabel() {
			if nc, ok := val.(*ast.NewClass); ok {
				nc.Rename(c.Label)
			}
		}
		assign := ast.Binary{Op: ast.BinAssign, Left: ast.Index{Receiver: receiver, Key: key}, Right: val}
		vm.Block().Append(ast.ExprStmt{Expression: assign})
		return nil
	}
}

// decodeClosure builds a function-literal expression wrapping one of the
// enclosing function's nested closures, capturing each declared default
// parameter's value off the *enclosing* (this VM's) stack at the point of
// closure creation — the nested function's own bytecode never computes
// its own defaults (spec.md §2 "Data flow"; SPEC_FULL.md §5 item 2;
// ground truth NutDecompiler.cpp:856-865, OP_CLOSURE).
func (vm *VM) decodeClosure(in bytecode.Instruction) error {
	idx := int(in.Arg1)
	if idx < 0 || idx >= len(vm.Fn.Nested) {
		vm.fallback(vm.IP, in)
		vm.IP++
		return nil
	}
	nested := vm.Fn.Nested[idx]
	defaults := make([]ast.Expression, len(nested.DefaultArgs))
	for i, d := range nested.DefaultArgs {
		expr, err := vm.GetSlot(d.EnclosingSlot)
		if err != nil {
			return err
		}
		defaults[i] = expr
	}
	vm.IP++
	return vm.SetSlot(int(in.Arg0), ast.FunctionLiteral{Fn: nested, Defaults: defaults}, false)
}

func (vm *VM) decodeAppendArray(in bytecode.Instruction) error {
	receiver, err := vm.GetSlot(int(in.Arg0))
	if err != nil {
		return err
	}
	var elem ast.Expression
	switch in.Arg2 {
	case 0: // stack slot
		elem, err = vm.GetSlot(int(in.Arg1))
		if err != nil {
			return err
		}
	case 1: // literal
		elem = vm.constantExpr(in.Arg1Unsigned())
	case 2: // raw int
		elem = ast.Constant{Text: value.Int(in.Arg1).Render(), Literal: true}
	case 3: // raw bool
		text := "false"
		if in.Arg1 != 0 {
			text = "true"
		}
		elem = ast.Constant{Text: text, Literal: true}
	case 4: // raw float
		elem = ast.Constant{Text: value.Float(in.Arg1Float()).Render(), Literal: true}
	default: // default (null)
		elem = ast.Constant{Text: "null", Literal: true}
	}
	vm.IP++

	if arr, ok := receiver.(*ast.NewArray); ok {
		arr.Append(elem)
		return nil
	}
	call := ast.Call{Callee: ast.Index{Receiver: receiver, Key: ast.Constant{Text: "append", Label: "append"}}, Args: []ast.Expression{elem}}
	vm.Block().Append(ast.ExprStmt{Expression: call})
	return nil
}

// decodeShortCircuit assembles AND/OR from a left operand already on the
// stack and a right-hand sub-expression spanning the instructions up to
// IP+offset-1, which must end in a MOVE whose source is unboxed as the
// right operand (spec.md §4.2, "Short-circuit").
func (vm *VM) decodeShortCircuit(in bytecode.Instruction, isAnd bool) error {
	ip := vm.IP
	left, err := vm.GetSlot(int(in.Arg2))
	if err != nil {
		return err
	}
	end := ip + int(in.Arg1) - 1
	vm.IP++
	for vm.IP < end && vm.IP < len(vm.Fn.Instructions) {
		if err := vm.step(); err != nil {
			return err
		}
	}
	if vm.IP >= len(vm.Fn.Instructions) || vm.Fn.Instructions[vm.IP].Op != bytecode.OpMove {
		vm.fallback(ip, in)
		return nil
	}
	final := vm.Fn.Instructions[vm.IP]
	right, err := vm.GetSlot(int(final.Arg1))
	if err != nil {
		return err
	}
	vm.IP++
	op := ast.BinOr
	if isAnd {
		op = ast.BinAnd
	}
	return vm.SetSlot(int(in.Arg0), ast.Binary{Op: op, Left: left, Right: right}, false)
}

// fallback emits the unrecognized-opcode recovery path (spec.md §7,
// UnknownOpcode): a verbatim comment naming the raw opcode, and the
// destination slot cleared.
func (vm *VM) fallback(ip int, in bytecode.Instruction) {
	name := in.Op.String()
	if in.Op == bytecode.OpUnknown {
		name = fmt.Sprintf("byte(%d)", in.Raw)
	}
	msg := fmt.Sprintf("unrecognized instruction %s a0=%d a1=%d a2=%d a3=%d", name, in.Arg0, in.Arg1, in.Arg2, in.Arg3)
	vm.Warnings = append(vm.Warnings, Warning{IP: ip, Message: msg})
	vm.Block().Append(ast.Comment{Text: "// " + msg})
	if int(in.Arg0) < len(vm.Stack) {
		vm.Stack[in.Arg0] = Slot{}
	}
}
