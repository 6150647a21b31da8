package bytecode

import "fmt"

// Dialect names one of the two historical numeric opcode tables a loaded
// module's instructions may use (spec.md §6: "two dialects exist and must
// be selectable"). The engine never sees a Dialect; the loader consults it
// once, while decoding the instruction section, to normalize every raw
// byte into an Opcode.
type Dialect int

const (
	// DialectSplitArith numbers ADD/SUB/MUL/DIV/MOD as separate opcodes
	// and uses JNZ for the do-while tail test.
	DialectSplitArith Dialect = iota
	// DialectUnifiedArith numbers arithmetic as a single ARITH opcode
	// carrying an operator selector operand, and uses JCMP in place of
	// JNZ/JZ pairs for combined compare-and-branch.
	DialectUnifiedArith
)

// commonOps maps the raw numeric opcodes that both dialects number the
// same way to the normalized Opcode. Normalize consults it only after the
// dialect's own table, dialectOps, has no entry for the byte.
var commonOps = map[byte]Opcode{
	0:  OpLine,
	1:  OpLoad,
	2:  OpLoadInt,
	3:  OpLoadFloat,
	4:  OpDLoad,
	5:  OpTailCall,
	6:  OpCall,
	7:  OpPrepCall,
	8:  OpPrepCallK,
	9:  OpGetK,
	10: OpMove,
	11: OpNewSlot,
	12: OpDelete,
	13: OpSet,
	14: OpGet,
	15: OpEq,
	16: OpNe,
	18: OpBitw,
	19: OpReturn,
	20: OpLoadNulls,
	21: OpLoadRoot,
	22: OpLoadBool,
	23: OpDMove,
	24: OpJmp,
	27: OpNewTable,
	28: OpNewArray,
	29: OpNewClass,
	30: OpAppendArray,
	31: OpGetParent,
	32: OpCompArith,
	33: OpCompArithL,
	34: OpInc,
	35: OpIncL,
	36: OpPInc,
	37: OpPIncL,
	38: OpCmp,
	39: OpExists,
	40: OpInstanceOf,
	41: OpAnd,
	42: OpOr,
	43: OpNeg,
	44: OpNot,
	45: OpBWNot,
	46: OpClosure,
	47: OpYield,
	48: OpResume,
	49: OpForeach,
	50: OpPostForeach,
	51: OpDelegate,
	52: OpClone,
	53: OpTypeOf,
	54: OpPushTrap,
	55: OpPopTrap,
	56: OpThrow,
	57: OpNewSlotA,
	58: OpGetBase,
	59: OpClose,
}

// dialectOps holds the opcodes whose numeric value or very meaning
// (branch-test encoding, arithmetic dispatch) differs by dialect.
var dialectOps = map[Dialect]map[byte]Opcode{
	DialectSplitArith: {
		17: OpArith, // ADD in this dialect's table; normalized through Arg3 selector by the decoder
		25: OpJz,
		26: OpLoadFreeVar,
	},
	DialectUnifiedArith: {
		17: OpArith,
		25: OpJz,
		26: OpLoadFreeVar,
		60: OpJCmp,
	},
}

// Normalize maps a raw dialect-specific opcode byte to the engine's
// normalized Opcode. It returns OpUnknown for anything neither table
// recognizes; the loader keeps the raw byte in Instruction.Raw so the
// decoder's fallback path (spec.md §4.2, "Fallback") can still print it.
func Normalize(dialect Dialect, raw byte) Opcode {
	if op, ok := dialectOps[dialect][raw]; ok {
		return op
	}
	if op, ok := commonOps[raw]; ok {
		return op
	}
	return OpUnknown
}

func (d Dialect) String() string {
	switch d {
	case DialectSplitArith:
		return "split-arith"
	case DialectUnifiedArith:
		return "unified-arith"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}
