// Package emit turns a reconstructed statement tree back into target-
// language source text. Grounded on nilan/parser's astPrinter
// (parser/printer.go): the same Accept-driven visitor walk, but writing
// indented source text instead of building a JSON tree, and inserting
// parentheses by operator priority (spec.md §4.5) instead of always
// wrapping every subexpression.
package emit

import (
	"fmt"
	"strings"

	"nutdump/ast"
	"nutdump/engine"
	"nutdump/sqfunc"
)

// printer implements ast.ExpressionVisitor and ast.StmtVisitor, writing
// tab-indented source to sb as it walks. One printer renders one
// function body; nested function literals get their own printer sharing
// the same Options.
type printer struct {
	sb      strings.Builder
	indent  int
	Options engine.Options
}

func indentStr(n int) string { return strings.Repeat("\t", n) }

func (p *printer) writeIndent() { p.sb.WriteString(indentStr(p.indent)) }

func (p *printer) exprString(e ast.Expression) string {
	return e.Accept(p).(string)
}

// childStr renders a child expression, parenthesizing it per spec.md §4.5
// / invariant I3 when its priority doesn't bind tightly enough under the
// parent.
func (p *printer) childStr(parentPriority int, child ast.Expression, isLeft bool) string {
	s := p.exprString(child)
	if ast.ParenthesizeChild(child.Priority(), parentPriority, isLeft) {
		return "(" + s + ")"
	}
	return s
}

// renderParams renders fn's parameter list, skipping the implicit leading
// "this" parameter every method and closure carries, and attaching each
// entry of defaults (already-decoded expressions captured at the
// enclosing CLOSURE site, see ast.FunctionLiteral) to its matching
// trailing parameter by position, the way NutDecompiler.cpp:1864-1895
// does it (defaultIndex = i - (paramCount - defaultCount)).
func (p *printer) renderParams(fn *sqfunc.Function, defaults []ast.Expression) string {
	parts := make([]string, 0, len(fn.Params))
	offset := len(fn.Params) - len(defaults)
	for i, name := range fn.Params {
		if i == 0 && name == "this" {
			continue
		}
		s := name
		if di := i - offset; di >= 0 && di < len(defaults) {
			s += " = " + p.exprString(defaults[di])
		}
		parts = append(parts, s)
	}
	if fn.IsVarArgs {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

// RenderFunction decompiles fn and emits its full source, with a name
// header for everything but anonymous top-level scripts.
func RenderFunction(fn *sqfunc.Function, opts engine.Options) (string, []error) {
	body, warnings := engine.Decompile(fn, opts)
	p := &printer{Options: opts}
	if fn.Name != "" {
		p.sb.WriteString("function " + fn.Name + "(" + p.renderParams(fn, nil) + ") {\n")
		p.indent++
		p.emitBlock(body)
		p.indent--
		p.sb.WriteString("}\n")
	} else {
		p.emitBlock(body)
	}
	return p.sb.String(), warnings
}

// --- expressions ---

func (p *printer) VisitConstant(c ast.Constant) any { return c.Text }
func (p *printer) VisitVariable(v ast.Variable) any { return v.Name }
func (p *printer) VisitLocalVariable(l ast.LocalVariable) any { return l.Name }
func (p *printer) VisitRootTable(ast.RootTable) any { return "::" }

func (p *printer) VisitThis(t ast.This) any {
	if t.Suppressed {
		return ""
	}
	return "this"
}

func (p *printer) VisitBase(ast.Base) any { return "base" }

func (p *printer) VisitUnary(u ast.Unary) any {
	operand := p.childStr(u.Priority(), u.Operand, true)
	sym := u.Op.Symbol()
	if u.Op.IsPostfix() {
		return operand + sym
	}
	return sym + operand
}

func (p *printer) VisitBinary(b ast.Binary) any {
	left := p.childStr(b.Priority(), b.Left, true)
	right := p.childStr(b.Priority(), b.Right, false)
	return left + " " + b.Op.Symbol() + " " + right
}

func (p *printer) VisitTernary(t ast.Ternary) any {
	cond := p.childStr(ast.TernaryPriority, t.Cond, true)
	return cond + " ? " + p.exprString(t.Then) + " : " + p.exprString(t.Else)
}

func (p *printer) VisitDelegate(d ast.Delegate) any {
	left := p.childStr(ast.DelegatePriority, d.Left, true)
	right := p.childStr(ast.DelegatePriority, d.Right, false)
	return left + ".setdelegate(" + right + ")"
}

func (p *printer) isDottable(r ast.Expression) bool {
	switch r.(type) {
	case ast.RootTable, ast.This, ast.Variable, ast.LocalVariable, ast.Index:
		return true
	default:
		return false
	}
}

func (p *printer) VisitIndex(i ast.Index) any {
	if key, ok := i.Key.(ast.Constant); ok && key.IsLabel() && p.isDottable(i.Receiver) {
		switch r := i.Receiver.(type) {
		case ast.RootTable:
			return "::" + key.Label
		case ast.This:
			if r.Suppressed {
				return key.Label
			}
			return "this." + key.Label
		default:
			return p.exprString(i.Receiver) + "." + key.Label
		}
	}
	recv := p.childStr(ast.IndexPriority, i.Receiver, true)
	return recv + "[" + p.exprString(i.Key) + "]"
}

func (p *printer) VisitCall(c ast.Call) any {
	callee := p.childStr(ast.IndexPriority, c.Callee, true)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = p.exprString(a)
	}
	return callee + "(" + strings.Join(args, ", ") + ")"
}

func (p *printer) VisitFunctionLiteral(f ast.FunctionLiteral) any {
	body, _ := engine.Decompile(f.Fn, p.Options)
	inner := &printer{Options: p.Options, indent: p.indent + 1}
	inner.emitBlock(body)
	var sb strings.Builder
	sb.WriteString("function (" + p.renderParams(f.Fn, f.Defaults) + ") {\n")
	sb.WriteString(inner.sb.String())
	sb.WriteString(indentStr(p.indent) + "}")
	return sb.String()
}

func (p *printer) VisitNewArray(n ast.NewArray) any {
	parts := make([]string, len(n.Elements))
	for i, e := range n.Elements {
		parts[i] = p.exprString(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (p *printer) renderSlotKey(key ast.Expression) string {
	if c, ok := key.(ast.Constant); ok && c.IsLabel() {
		return c.Label
	}
	return "[" + p.exprString(key) + "]"
}

func (p *printer) VisitNewTable(n ast.NewTable) any {
	if len(n.Entries) == 0 {
		return "{}"
	}
	inner := indentStr(p.indent + 1)
	var sb strings.Builder
	sb.WriteString("{\n")
	for _, e := range n.Entries {
		sb.WriteString(inner + p.renderSlotKey(e.Key) + " = " + p.exprString(e.Value) + "\n")
	}
	sb.WriteString(indentStr(p.indent) + "}")
	return sb.String()
}

func (p *printer) renderMember(inner *printer, m ast.ClassMember) {
	inner.writeIndent()
	if m.Static {
		inner.sb.WriteString("static ")
	}
	if fn, ok := m.Value.(ast.FunctionLiteral); ok {
		if key, ok := m.Key.(ast.Constant); ok && key.IsLabel() {
			body, _ := engine.Decompile(fn.Fn, inner.Options)
			nested := &printer{Options: inner.Options, indent: inner.indent + 1}
			nested.emitBlock(body)
			inner.sb.WriteString("function " + key.Label + "(" + inner.renderParams(fn.Fn, fn.Defaults) + ") {\n")
			inner.sb.WriteString(nested.sb.String())
			inner.sb.WriteString(indentStr(inner.indent) + "}\n")
			return
		}
	}
	inner.sb.WriteString(inner.renderSlotKey(m.Key) + " = " + inner.exprString(m.Value) + "\n")
}

func (p *printer) renderClassBody(header string, n ast.NewClass) string {
	var sb strings.Builder
	sb.WriteString(header)
	if n.Base != nil {
		sb.WriteString(" extends " + p.exprString(n.Base))
	}
	sb.WriteString(" {\n")
	inner := &printer{Options: p.Options, indent: p.indent + 1}
	for _, m := range n.Members {
		p.renderMember(inner, m)
	}
	sb.WriteString(inner.sb.String())
	sb.WriteString(indentStr(p.indent) + "}")
	return sb.String()
}

func (p *printer) VisitNewClass(n ast.NewClass) any {
	return p.renderClassBody("class", n)
}

// --- statements ---

func (p *printer) VisitEmpty(ast.Empty) any { return nil }

func (p *printer) VisitComment(c ast.Comment) any {
	p.writeIndent()
	p.sb.WriteString(c.Text)
	p.sb.WriteByte('\n')
	return nil
}

// tryNamedDecl recognizes an assignment to a simple dotted member whose
// value is a function literal or a named class, and renders it as a
// named definition instead of a slot-assign (spec.md §4.5: "Table/class
// members whose value is a function or nested class emit named
// definitions ... when the key is a simple label").
func (p *printer) tryNamedDecl(es ast.ExprStmt) (string, bool) {
	bin, ok := es.Expression.(ast.Binary)
	if !ok || bin.Op != ast.BinAssign {
		return "", false
	}
	idx, ok := bin.Left.(ast.Index)
	if !ok {
		return "", false
	}
	key, ok := idx.Key.(ast.Constant)
	if !ok || !key.IsLabel() {
		return "", false
	}
	name := strings.TrimPrefix(p.exprString(idx), "::")

	switch v := bin.Right.(type) {
	case ast.FunctionLiteral:
		body, _ := engine.Decompile(v.Fn, p.Options)
		inner := &printer{Options: p.Options, indent: p.indent + 1}
		inner.emitBlock(body)
		var sb strings.Builder
		sb.WriteString("function " + name + "(" + p.renderParams(v.Fn, v.Defaults) + ") {\n")
		sb.WriteString(inner.sb.String())
		sb.WriteString(indentStr(p.indent) + "}")
		return sb.String(), true
	case *ast.NewClass:
		if v.Name == "" {
			return "", false
		}
		return p.renderClassBody("class "+v.Name, *v), true
	default:
		return "", false
	}
}

func (p *printer) VisitExprStmt(e ast.ExprStmt) any {
	if text, ok := p.tryNamedDecl(e); ok {
		p.writeIndent()
		p.sb.WriteString(text)
		p.sb.WriteByte('\n')
		return nil
	}
	p.writeIndent()
	p.sb.WriteString(p.exprString(e.Expression))
	p.sb.WriteByte('\n')
	return nil
}

func (p *printer) VisitBlock(b *ast.Block) any {
	p.writeIndent()
	p.sb.WriteString("{\n")
	p.indent++
	p.emitBlock(b)
	p.indent--
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) VisitLocalInit(l ast.LocalInit) any {
	p.writeIndent()
	p.sb.WriteString("local " + l.Name)
	if l.Initializer != nil {
		p.sb.WriteString(" = " + p.exprString(l.Initializer))
	}
	p.sb.WriteByte('\n')
	return nil
}

func (p *printer) VisitReturn(r ast.Return) any {
	p.writeIndent()
	if r.Value != nil {
		p.sb.WriteString("return " + p.exprString(r.Value))
	} else {
		p.sb.WriteString("return")
	}
	p.sb.WriteByte('\n')
	return nil
}

func (p *printer) VisitThrow(t ast.Throw) any {
	p.writeIndent()
	p.sb.WriteString("throw " + p.exprString(t.Value))
	p.sb.WriteByte('\n')
	return nil
}

func (p *printer) VisitYieldStmt(y ast.YieldStmt) any {
	p.writeIndent()
	if y.Value != nil {
		p.sb.WriteString("yield " + p.exprString(y.Value))
	} else {
		p.sb.WriteString("yield")
	}
	p.sb.WriteByte('\n')
	return nil
}

func (p *printer) VisitBreak(ast.Break) any {
	p.writeIndent()
	p.sb.WriteString("break\n")
	return nil
}

func (p *printer) VisitContinue(ast.Continue) any {
	p.writeIndent()
	p.sb.WriteString("continue\n")
	return nil
}

func (p *printer) VisitCase(c ast.Case) any {
	p.writeIndent()
	if c.Value != nil {
		p.sb.WriteString("case " + p.exprString(c.Value) + ":\n")
	} else {
		p.sb.WriteString("default:\n")
	}
	p.indent++
	p.emitBlock(c.Body)
	p.indent--
	return nil
}

func (p *printer) VisitIf(i ast.If) any {
	p.writeIndent()
	p.sb.WriteString("if (" + p.exprString(i.Cond) + ") {\n")
	p.indent++
	p.emitBlock(i.Then)
	p.indent--
	if i.Else != nil {
		p.writeIndent()
		p.sb.WriteString("} else {\n")
		p.indent++
		p.emitBlock(i.Else)
		p.indent--
	}
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) VisitTryCatch(t ast.TryCatch) any {
	p.writeIndent()
	p.sb.WriteString("try {\n")
	p.indent++
	p.emitBlock(t.Try)
	p.indent--
	p.writeIndent()
	p.sb.WriteString("} catch (" + t.CatchVar + ") {\n")
	p.indent++
	if t.Catch != nil {
		p.emitBlock(t.Catch)
	}
	p.indent--
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) renderInline(s ast.Stmt) string {
	switch st := s.(type) {
	case ast.LocalInit:
		if st.Initializer != nil {
			return "local " + st.Name + " = " + p.exprString(st.Initializer)
		}
		return "local " + st.Name
	case ast.ExprStmt:
		return p.exprString(st.Expression)
	default:
		return ""
	}
}

func (p *printer) VisitFor(f ast.For) any {
	p.writeIndent()
	p.sb.WriteString(fmt.Sprintf("for (%s; %s; %s) {\n",
		p.renderInline(f.Init), p.exprString(f.Cond), p.renderInline(f.Step)))
	p.indent++
	p.emitBlock(f.Body)
	p.indent--
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) VisitWhile(w ast.While) any {
	p.writeIndent()
	p.sb.WriteString("while (" + p.exprString(w.Cond) + ") {\n")
	p.indent++
	p.emitBlock(w.Body)
	p.indent--
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) VisitDoWhile(d ast.DoWhile) any {
	p.writeIndent()
	p.sb.WriteString("do {\n")
	p.indent++
	p.emitBlock(d.Body)
	p.indent--
	p.writeIndent()
	var cond string
	if d.Cond != nil {
		cond = p.exprString(d.Cond)
	}
	p.sb.WriteString("} while (" + cond + ")\n")
	return nil
}

func (p *printer) VisitForeach(f ast.Foreach) any {
	p.writeIndent()
	key := ""
	if f.Key != "" {
		key = f.Key + ", "
	}
	p.sb.WriteString(fmt.Sprintf("foreach (%s%s in %s) {\n", key, f.Value, p.exprString(f.Iterable)))
	p.indent++
	p.emitBlock(f.Body)
	p.indent--
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

func (p *printer) VisitSwitch(s ast.Switch) any {
	p.writeIndent()
	p.sb.WriteString("switch (" + p.exprString(s.Subject) + ") {\n")
	for _, c := range s.Cases {
		p.VisitCase(c)
	}
	if s.Default != nil {
		p.writeIndent()
		p.sb.WriteString("default:\n")
		p.indent++
		p.emitBlock(s.Default)
		p.indent--
	}
	p.writeIndent()
	p.sb.WriteString("}\n")
	return nil
}

// lineSeparated reports whether s belongs to the category spec.md §3/§4.5
// calls "line-separated" — loops, if, try/catch, switch — which get a
// blank line before and after when adjacent to another statement.
func lineSeparated(s ast.Stmt) bool {
	switch s.(type) {
	case ast.If, ast.While, ast.DoWhile, ast.For, ast.Foreach, ast.TryCatch, ast.Switch:
		return true
	default:
		return false
	}
}

func (p *printer) emitBlock(b *ast.Block) {
	if b == nil {
		return
	}
	for i, s := range b.Statements {
		if lineSeparated(s) && i > 0 {
			p.sb.WriteByte('\n')
		}
		s.Accept(p)
		if lineSeparated(s) && i < len(b.Statements)-1 {
			p.sb.WriteByte('\n')
		}
	}
}
