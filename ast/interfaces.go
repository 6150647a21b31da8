// interfaces.go contains the visitor interfaces that any code traversing
// expression and statement AST nodes must implement, plus the Accept
// interfaces every node implements. Adapted from nilan/ast/interfaces.go:
// same visitor-dispatch shape, generalized from a small expression-
// statement language grammar to the full target-language grammar
// spec.md §3 describes (operators, indexing, calls, table/array/class
// construction, and the larger statement set: loops, switch, try/catch,
// foreach, yield).

package ast

// ExpressionVisitor is the interface for operating on all Expression AST
// nodes. Any type that wants to perform an operation on expressions (the
// emitter, the engine's pending-statement clearing logic) implements this.
type ExpressionVisitor interface {
	VisitConstant(Constant) any
	VisitVariable(Variable) any
	VisitLocalVariable(LocalVariable) any
	VisitRootTable(RootTable) any
	VisitThis(This) any
	VisitBase(Base) any
	VisitUnary(Unary) any
	VisitBinary(Binary) any
	VisitTernary(Ternary) any
	VisitDelegate(Delegate) any
	VisitIndex(Index) any
	VisitCall(Call) any
	VisitFunctionLiteral(FunctionLiteral) any
	VisitNewArray(NewArray) any
	VisitNewTable(NewTable) any
	VisitNewClass(NewClass) any
}

// StmtVisitor is the interface for operating on all Statement AST nodes.
// Like ExpressionVisitor, it defines one Visit method per statement kind.
type StmtVisitor interface {
	VisitEmpty(Empty) any
	VisitExprStmt(ExprStmt) any
	VisitBlock(*Block) any
	VisitLocalInit(LocalInit) any
	VisitReturn(Return) any
	VisitThrow(Throw) any
	VisitYieldStmt(YieldStmt) any
	VisitBreak(Break) any
	VisitContinue(Continue) any
	VisitComment(Comment) any
	VisitCase(Case) any
	VisitIf(If) any
	VisitTryCatch(TryCatch) any
	VisitFor(For) any
	VisitWhile(While) any
	VisitDoWhile(DoWhile) any
	VisitForeach(Foreach) any
	VisitSwitch(Switch) any
}

// Expression is the core interface for all expression nodes.
type Expression interface {
	// Accept dispatches this node to the matching method on v.
	Accept(v ExpressionVisitor) any
	// Priority is the operator-priority number used at emission to decide
	// parenthesization (spec.md §3). Leaf/atomic nodes return MaxPriority.
	Priority() int
}

// Stmt is the base interface for all statement nodes.
type Stmt interface {
	// Accept dispatches this node to the matching method on v.
	Accept(v StmtVisitor) any
}

// MaxPriority is returned by expressions that never need parenthesizing
// as a child (constants, variables; calls and indexing use IndexPriority).
const MaxPriority = 1000

// UnknownPriority is used for an operator the priority table doesn't
// recognize (spec.md §3: "Unknown operator: -100").
const UnknownPriority = -100
