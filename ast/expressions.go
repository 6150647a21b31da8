// expressions.go contains all the expression AST nodes. An expression node
// always evaluates to a value. Adapted from nilan/ast/expressions.go: same
// Accept-dispatch shape, generalized to the node set spec.md §3 requires
// (constants carry pre-rendered text instead of a bare Go value; variables
// split into Variable/LocalVariable per the VM's intermediate-alias rule;
// indexing, calls, and the three constructor forms are new).

package ast

import "nutdump/sqfunc"

// Constant is a literal value, pre-rendered to source-escaped text by the
// decoder (spec.md §3: "A constant carries a pre-rendered, source-escaped
// text and a literal flag").
type Constant struct {
	Text    string
	Literal bool
	// Label holds the unescaped identifier form when the constant can
	// also serve as a dotted-index key (spec.md §3's "label" query); the
	// empty string when it cannot.
	Label string
}

func (c Constant) Accept(v ExpressionVisitor) any { return v.VisitConstant(c) }
func (c Constant) Priority() int                  { return MaxPriority }

// IsLabel reports whether c can be rendered as a bare dotted-index key.
func (c Constant) IsLabel() bool { return c.Label != "" }

// Variable is a plain, unscoped name reference — the VM's intermediate
// alias for a slot whose expression used to be a local (spec.md §3:
// "Variable and local variable — distinct ... the plain variable is an
// intermediate alias the VM emits when it must refer to a slot whose
// expression was a local").
type Variable struct {
	Name string
}

func (v Variable) Accept(vis ExpressionVisitor) any { return vis.VisitVariable(v) }
func (v Variable) Priority() int                    { return MaxPriority }

// LocalVariable is a reference merged with its source-level declared
// scope — emitted as the declared local's name.
type LocalVariable struct {
	Name string
}

func (l LocalVariable) Accept(v ExpressionVisitor) any { return v.VisitLocalVariable(l) }
func (l LocalVariable) Priority() int                  { return MaxPriority }

// RootTable is the `::` root-table reference (LOADROOT).
type RootTable struct{}

func (RootTable) Accept(v ExpressionVisitor) any { return v.VisitRootTable(RootTable{}) }
func (RootTable) Priority() int                  { return MaxPriority }

// This is the implicit receiver reference. Suppressed marks that emission
// should drop a redundant leading "this." when indexing through it
// (spec.md §3: "'this' ... suppressed when 'this.' is redundant").
type This struct {
	Suppressed bool
}

func (t This) Accept(v ExpressionVisitor) any { return v.VisitThis(t) }
func (t This) Priority() int                  { return MaxPriority }

// Base is the enclosing class's base-class reference (GETBASE;
// SPEC_FULL.md §5.4).
type Base struct{}

func (Base) Accept(v ExpressionVisitor) any { return v.VisitBase(Base{}) }
func (Base) Priority() int                  { return MaxPriority }

// Unary is a prefix or postfix unary operator expression.
type Unary struct {
	Op      UnaryOp
	Operand Expression
}

func (u Unary) Accept(v ExpressionVisitor) any { return v.VisitUnary(u) }
func (u Unary) Priority() int                  { return u.Op.Priority() }

// Binary is an infix binary operator expression, including the
// short-circuit logical operators assembled from AND/OR (spec.md §4.2).
type Binary struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
}

func (b Binary) Accept(v ExpressionVisitor) any { return v.VisitBinary(b) }
func (b Binary) Priority() int                  { return b.Op.Priority() }

// Ternary is the merged-branch conditional expression merge-slot produces
// (spec.md §4.1), and also the source-level `cond ? a : b` form.
type Ternary struct {
	Cond Expression
	Then Expression
	Else Expression
}

func (t Ternary) Accept(v ExpressionVisitor) any { return v.VisitTernary(t) }
func (t Ternary) Priority() int                  { return TernaryPriority }

// Delegate is the prototype-link binary operator (DELEGATE opcode).
type Delegate struct {
	Left  Expression
	Right Expression
}

func (d Delegate) Accept(v ExpressionVisitor) any { return v.VisitDelegate(d) }
func (d Delegate) Priority() int                  { return DelegatePriority }

// Index is a member/element access, rendered dotted (`a.b`) when Key is a
// label constant and Receiver qualifies, bracketed (`a[b]`) otherwise
// (spec.md §3, "Dotted form").
type Index struct {
	Receiver Expression
	Key      Expression
}

func (i Index) Accept(v ExpressionVisitor) any { return v.VisitIndex(i) }
func (i Index) Priority() int                  { return IndexPriority }

// Call is a function/method invocation.
type Call struct {
	Callee Expression
	Args   []Expression
}

func (c Call) Accept(v ExpressionVisitor) any { return v.VisitCall(c) }
func (c Call) Priority() int                  { return IndexPriority }

// FunctionLiteral wraps a nested function's metadata. The engine recurses
// into Fn lazily — only when the emitter actually reaches this node
// (spec.md §2, "Data flow": "nested functions are lazily wrapped in a
// function-literal expression and recursed into when emitted").
//
// Defaults holds one already-decoded expression per Fn.DefaultArgs entry,
// captured from the enclosing function's symbolic stack at the CLOSURE
// site (SPEC_FULL.md §5 item 2) — Fn.DefaultArgs itself only records
// which of the enclosing function's stack slots held each value, since a
// nested function's own bytecode never computes its defaults.
type FunctionLiteral struct {
	Fn       *sqfunc.Function
	Defaults []Expression
}

func (f FunctionLiteral) Accept(v ExpressionVisitor) any { return v.VisitFunctionLiteral(f) }
func (f FunctionLiteral) Priority() int                  { return MaxPriority }

// NewArray is an array-literal-under-construction or completed array
// expression (spec.md §3, "New-array").
type NewArray struct {
	Elements []Expression
}

func (n *NewArray) Accept(v ExpressionVisitor) any { return v.VisitNewArray(*n) }
func (n *NewArray) Priority() int                  { return MaxPriority }

// Append adds an element to a NewArray under construction. This is one of
// the small set of mutators the Ownership contract in spec.md §3 allows
// on an otherwise-published node (APPENDARRAY may run after the slot
// holding this array has already been read elsewhere).
func (n *NewArray) Append(e Expression) { n.Elements = append(n.Elements, e) }

// TableEntry is one key/value pair of a NewTable under construction.
type TableEntry struct {
	Key   Expression
	Value Expression
}

// NewTable is a table-literal-under-construction or completed table
// expression. Entries preserve NEWSLOT emission order, not key order
// (SPEC_FULL.md §5.1).
type NewTable struct {
	Entries []TableEntry
}

func (n *NewTable) Accept(v ExpressionVisitor) any { return v.VisitNewTable(*n) }
func (n *NewTable) Priority() int                  { return MaxPriority }

// AppendSlot adds a key/value pair to a NewTable under construction.
func (n *NewTable) AppendSlot(key, value Expression) {
	n.Entries = append(n.Entries, TableEntry{Key: key, Value: value})
}

// ClassMember is one member slot of a class-under-construction: a
// key/value pair plus the static flag and attribute table spec.md §3
// requires ("per-member static flag plus per-member attributes").
type ClassMember struct {
	Key        Expression
	Value      Expression
	Static     bool
	Attributes Expression // nil when the member carries no `</ ... />` block
}

// NewClass is a class-literal-under-construction or completed class
// expression.
type NewClass struct {
	Base       Expression // nil for a class with no explicit base
	Attributes Expression // nil when the class itself carries no attributes
	Name       string     // filled in when NEWSLOT gives the class a name
	Members    []ClassMember
}

func (n *NewClass) Accept(v ExpressionVisitor) any { return v.VisitNewClass(*n) }
func (n *NewClass) Priority() int                  { return MaxPriority }

// AppendMember adds a member slot to a NewClass under construction.
func (n *NewClass) AppendMember(m ClassMember) { n.Members = append(n.Members, m) }

// Rename gives a previously-anonymous class literal its
// source-level name once a NEWSLOT/NEWSLOTA reveals it (spec.md §3's
// "class/function rename" mutator).
func (n *NewClass) Rename(name string) { n.Name = name }
