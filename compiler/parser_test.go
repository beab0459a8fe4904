package compiler

import (
	"strings"
	"testing"
)

func parseOK(t *testing.T, source string) *Program {
	t.Helper()
	prog, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse(%q): %v", source, err)
	}
	return prog
}

func parseExpr(t *testing.T, source string) Expr {
	t.Helper()
	p := NewParser(source)
	expr := p.ParseExpression()
	if len(p.Errors()) > 0 {
		t.Fatalf("ParseExpression(%q): %v", source, p.Errors())
	}
	if expr == nil {
		t.Fatalf("ParseExpression(%q) returned nil", source)
	}
	return expr
}

func TestParseVarDecl(t *testing.T) {
	tests := []struct {
		source  string
		name    string
		typ     string
		hasInit bool
	}{
		{"var x", "x", "", false},
		{"var x = 1", "x", "", true},
		{"var x: float", "x", "float", false},
		{"var ok: bool = 1 < 2", "ok", "bool", true},
	}

	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			prog := parseOK(t, tc.source)
			if len(prog.Statements) != 1 {
				t.Fatalf("got %d statements, want 1", len(prog.Statements))
			}
			decl, ok := prog.Statements[0].(*VarDecl)
			if !ok {
				t.Fatalf("statement is %T, want *VarDecl", prog.Statements[0])
			}
			if decl.Name != tc.name {
				t.Errorf("Name = %q, want %q", decl.Name, tc.name)
			}
			if decl.Type != tc.typ {
				t.Errorf("Type = %q, want %q", decl.Type, tc.typ)
			}
			if (decl.Init != nil) != tc.hasInit {
				t.Errorf("Init = %v, want present=%v", decl.Init, tc.hasInit)
			}
		})
	}
}

func TestParseStatements(t *testing.T) {
	prog := parseOK(t, `
var n = 3
n = n - 1; print n
read m
read(k)
if n > 0 print "pos" else print "neg"
while n { n = n - 1 }
`)
	want := []string{"*compiler.VarDecl", "*compiler.Assign", "*compiler.Print", "*compiler.Input", "*compiler.Input", "*compiler.If", "*compiler.While"}
	if len(prog.Statements) != len(want) {
		t.Fatalf("got %d statements, want %d", len(prog.Statements), len(want))
	}
	for i, stmt := range prog.Statements {
		if got := typeName(stmt); got != want[i] {
			t.Errorf("statement %d is %s, want %s", i, got, want[i])
		}
	}

	ifStmt := prog.Statements[5].(*If)
	if ifStmt.Else == nil {
		t.Error("if statement lost its else branch")
	}
	loop := prog.Statements[6].(*While)
	if block, ok := loop.Body.(*Block); !ok || len(block.Statements) != 1 {
		t.Errorf("while body = %#v, want block with one statement", loop.Body)
	}
	if in := prog.Statements[4].(*Input); in.Name != "k" {
		t.Errorf("read(k) parsed name %q", in.Name)
	}
}

func typeName(n Node) string {
	switch n.(type) {
	case *VarDecl:
		return "*compiler.VarDecl"
	case *Assign:
		return "*compiler.Assign"
	case *Print:
		return "*compiler.Print"
	case *Input:
		return "*compiler.Input"
	case *If:
		return "*compiler.If"
	case *While:
		return "*compiler.While"
	case *Block:
		return "*compiler.Block"
	}
	return "?"
}

func TestParseElseAfterSeparator(t *testing.T) {
	prog := parseOK(t, "if true print 1; else print 2")
	if len(prog.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog.Statements))
	}
	if prog.Statements[0].(*If).Else == nil {
		t.Error("else after ; was not attached to the if")
	}
}

func TestParseDanglingElse(t *testing.T) {
	prog := parseOK(t, "if a if b print 1 else print 2")
	outer := prog.Statements[0].(*If)
	if outer.Else != nil {
		t.Error("else attached to the outer if")
	}
	inner, ok := outer.Then.(*If)
	if !ok || inner.Else == nil {
		t.Error("else not attached to the inner if")
	}
}

func TestParsePrecedence(t *testing.T) {
	// 2 + 3 * 4 is additive over multiplicative
	expr := parseExpr(t, "2 + 3 * 4")
	add, ok := expr.(*ArithExpr)
	if !ok || len(add.Ops) != 1 || add.Ops[0] != OpAdd {
		t.Fatalf("top = %#v, want additive chain", expr)
	}
	if mul, ok := add.Operands[1].(*ArithExpr); !ok || mul.Ops[0] != OpMul {
		t.Errorf("right operand = %#v, want multiplicative chain", add.Operands[1])
	}

	// a or b and c is or over and
	logical := parseExpr(t, "a or b and c").(*LogicalExpr)
	if !logical.Or || len(logical.Operands) != 2 {
		t.Fatalf("top = %#v, want or with two operands", logical)
	}
	if and, ok := logical.Operands[1].(*LogicalExpr); !ok || and.Or {
		t.Errorf("right operand = %#v, want and chain", logical.Operands[1])
	}

	// a < b == c < d is equality over relational
	eq := parseExpr(t, "a < b == c < d").(*CompareExpr)
	if eq.Op != OpEQ {
		t.Fatalf("top op = %q, want ==", eq.Op)
	}
	if lt, ok := eq.Left.(*CompareExpr); !ok || lt.Op != OpLT {
		t.Errorf("left = %#v, want <", eq.Left)
	}
}

func TestParseArithChainIsFlat(t *testing.T) {
	expr := parseExpr(t, "1 - 2 - 3 + 4").(*ArithExpr)
	if len(expr.Operands) != 4 {
		t.Fatalf("got %d operands, want 4", len(expr.Operands))
	}
	want := []string{OpSub, OpSub, OpAdd}
	for i, op := range want {
		if expr.Ops[i] != op {
			t.Errorf("Ops[%d] = %q, want %q", i, expr.Ops[i], op)
		}
	}
}

func TestParsePowerRightAssociative(t *testing.T) {
	pow := parseExpr(t, "2 ** 3 ** 2").(*PowerExpr)
	if _, ok := pow.Base.(*IntLiteral); !ok {
		t.Errorf("base = %#v, want literal", pow.Base)
	}
	if _, ok := pow.Exponent.(*PowerExpr); !ok {
		t.Errorf("exponent = %#v, want nested power", pow.Exponent)
	}
}

func TestParseUnaryBindsTighterThanPower(t *testing.T) {
	pow := parseExpr(t, "-2 ** 2").(*PowerExpr)
	unary, ok := pow.Base.(*UnaryExpr)
	if !ok || len(unary.Ops) != 1 || unary.Ops[0] != OpNeg {
		t.Errorf("base = %#v, want negation", pow.Base)
	}
}

func TestParseUnaryOrder(t *testing.T) {
	unary := parseExpr(t, "- not x").(*UnaryExpr)
	if len(unary.Ops) != 2 || unary.Ops[0] != OpNeg || unary.Ops[1] != OpNot {
		t.Errorf("Ops = %v, want [- not]", unary.Ops)
	}
}

func TestParseParentheses(t *testing.T) {
	mul := parseExpr(t, "(1 + 2) * 3").(*ArithExpr)
	if mul.Ops[0] != OpMul {
		t.Fatalf("top op = %q, want *", mul.Ops[0])
	}
	if _, ok := mul.Operands[0].(*ArithExpr); !ok {
		t.Errorf("left = %#v, want grouped sum", mul.Operands[0])
	}
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		source string
		check  func(Expr) bool
	}{
		{"42", func(e Expr) bool { n, ok := e.(*IntLiteral); return ok && n.Value == 42 }},
		{"2.5", func(e Expr) bool { n, ok := e.(*FloatLiteral); return ok && n.Value == 2.5 }},
		{`"hi"`, func(e Expr) bool { n, ok := e.(*StringLiteral); return ok && n.Value == "hi" }},
		{"true", func(e Expr) bool { n, ok := e.(*BoolLiteral); return ok && n.Value }},
		{"false", func(e Expr) bool { n, ok := e.(*BoolLiteral); return ok && !n.Value }},
		{"x", func(e Expr) bool { n, ok := e.(*Identifier); return ok && n.Name == "x" }},
	}
	for _, tc := range tests {
		if expr := parseExpr(t, tc.source); !tc.check(expr) {
			t.Errorf("ParseExpression(%q) = %#v", tc.source, expr)
		}
	}
}

func TestParseSpans(t *testing.T) {
	prog := parseOK(t, "var total = 1\ntotal = total + 2")
	assign := prog.Statements[1].(*Assign)
	if assign.NameSpan.Start.Line != 2 || assign.NameSpan.Start.Column != 1 {
		t.Errorf("name span starts at %d:%d, want 2:1", assign.NameSpan.Start.Line, assign.NameSpan.Start.Column)
	}
	sum := assign.Value.(*ArithExpr)
	if sum.SpanVal.Start.Column != 9 || sum.SpanVal.End.Column != 18 {
		t.Errorf("value span = %d..%d, want 9..18", sum.SpanVal.Start.Column, sum.SpanVal.End.Column)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"missing value", "x =", "expected expression"},
		{"double equals", "x == 1", "got == (comparison)"},
		{"chained comparison", "print 1 < 2 < 3", "do not chain"},
		{"bad type", "var x: string", "expected type"},
		{"missing var name", "var 1", "expected variable name after var"},
		{"unclosed paren", "print (1 + 2", "expected )"},
		{"unclosed block", "{ print 1", "expected }"},
		{"missing if body", "if true", "missing statement after if"},
		{"missing else body", "if true print 1 else", "missing statement after else"},
		{"stray operator", "+ 1", "at start of statement"},
		{"bad read", "read 5", "expected variable name after read"},
		{"bad character", "print 1 @ 2", "unexpected character"},
		{"integer overflow", "print 99999999999999999999", "out of range"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.source)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tc.source)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestParseErrorsReportLines(t *testing.T) {
	p := NewParser("print 1\nx = \nprint 2\ny == 3\n")
	p.ParseProgram()
	errs := p.Errors()
	if len(errs) != 2 {
		t.Fatalf("got %d errors %v, want 2", len(errs), errs)
	}
	if !strings.HasPrefix(errs[0], "line 3:") {
		t.Errorf("first error = %q, want line 3 (where the expression was expected)", errs[0])
	}
	if !strings.HasPrefix(errs[1], "line 4:") {
		t.Errorf("second error = %q, want line 4", errs[1])
	}
	diags := p.Diagnostics()
	if len(diags) != 2 || diags[0].Severity != SeverityError {
		t.Errorf("diagnostics = %v, want two errors", diags)
	}
}

func TestParseRecoversAfterError(t *testing.T) {
	p := NewParser("var = 1\nprint 2\n")
	prog := p.ParseProgram()
	if len(p.Errors()) != 1 {
		t.Fatalf("errors = %v, want 1", p.Errors())
	}
	if len(prog.Statements) != 1 {
		t.Fatalf("got %d statements after recovery, want 1", len(prog.Statements))
	}
	if _, ok := prog.Statements[0].(*Print); !ok {
		t.Errorf("recovered statement is %T, want *Print", prog.Statements[0])
	}
}

func TestParseEmpty(t *testing.T) {
	for _, source := range []string{"", "   \n", "// only a comment", ";;"} {
		prog := parseOK(t, source)
		if len(prog.Statements) != 0 {
			t.Errorf("Parse(%q) = %d statements, want 0", source, len(prog.Statements))
		}
	}
}
