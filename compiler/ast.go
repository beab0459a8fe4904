package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start to end.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start.Offset && offset < s.End.Offset
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Operator spellings recorded in expression nodes.
const (
	OpAdd = "+"
	OpSub = "-"
	OpMul = "*"
	OpDiv = "/"
	OpEQ  = "=="
	OpNE  = "!="
	OpLT  = "<"
	OpGT  = ">"
	OpLE  = "<="
	OpGE  = ">="
	OpNeg = "-"
	OpNot = "not"
)

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// Identifier represents a variable reference.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// UnaryExpr applies prefix operators to an operand. Ops is in textual
// order, so Ops[len(Ops)-1] is adjacent to the operand.
type UnaryExpr struct {
	SpanVal Span
	Ops     []string
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// PowerExpr is Base ** Exponent. Exponentiation is right-associative, so
// Exponent may itself be a PowerExpr. A nil Exponent passes Base through.
type PowerExpr struct {
	SpanVal  Span
	Base     Expr
	Exponent Expr
}

func (n *PowerExpr) Span() Span { return n.SpanVal }
func (n *PowerExpr) node()      {}
func (n *PowerExpr) expr()      {}

// ArithExpr is a left-folded chain of additive or multiplicative
// operations: Operands[0] Ops[0] Operands[1] Ops[1] ...
type ArithExpr struct {
	SpanVal  Span
	Operands []Expr
	Ops      []string
}

func (n *ArithExpr) Span() Span { return n.SpanVal }
func (n *ArithExpr) node()      {}
func (n *ArithExpr) expr()      {}

// CompareExpr is a single equality or relational comparison. A nil Right
// passes Left through.
type CompareExpr struct {
	SpanVal Span
	Left    Expr
	Op      string
	Right   Expr
}

func (n *CompareExpr) Span() Span { return n.SpanVal }
func (n *CompareExpr) node()      {}
func (n *CompareExpr) expr()      {}

// LogicalExpr is a short-circuit chain of and or or.
type LogicalExpr struct {
	SpanVal  Span
	Or       bool // false for and
	Operands []Expr
}

func (n *LogicalExpr) Span() Span { return n.SpanVal }
func (n *LogicalExpr) node()      {}
func (n *LogicalExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Block is a braced statement list.
type Block struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// VarDecl is var Name [: Type] [= Init].
type VarDecl struct {
	SpanVal  Span
	Name     string
	NameSpan Span
	Type     string // "", "int", "float" or "bool"
	Init     Expr   // may be nil
}

func (n *VarDecl) Span() Span { return n.SpanVal }
func (n *VarDecl) node()      {}
func (n *VarDecl) stmt()      {}

// Assign is Name = Value.
type Assign struct {
	SpanVal  Span
	Name     string
	NameSpan Span
	Value    Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) stmt()      {}

// Print writes the value of an expression.
type Print struct {
	SpanVal Span
	Value   Expr
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}
func (n *Print) stmt()      {}

// Input reads one value into a variable.
type Input struct {
	SpanVal  Span
	Name     string
	NameSpan Span
}

func (n *Input) Span() Span { return n.SpanVal }
func (n *Input) node()      {}
func (n *Input) stmt()      {}

// If is a conditional with an optional else branch.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    Stmt
	Else    Stmt // may be nil
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

// While is a pre-tested loop.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    Stmt
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) stmt()      {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is the root of a parsed source file.
type Program struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}

// Walk calls fn for n and every node below it, depth first, in source
// order. If fn returns false the children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Program:
		for _, s := range n.Statements {
			walkStmt(s, fn)
		}
	case *Block:
		for _, s := range n.Statements {
			walkStmt(s, fn)
		}
	case *VarDecl:
		walkExpr(n.Init, fn)
	case *Assign:
		walkExpr(n.Value, fn)
	case *Print:
		walkExpr(n.Value, fn)
	case *If:
		walkExpr(n.Cond, fn)
		walkStmt(n.Then, fn)
		walkStmt(n.Else, fn)
	case *While:
		walkExpr(n.Cond, fn)
		walkStmt(n.Body, fn)
	case *UnaryExpr:
		walkExpr(n.Operand, fn)
	case *PowerExpr:
		walkExpr(n.Base, fn)
		walkExpr(n.Exponent, fn)
	case *ArithExpr:
		for _, e := range n.Operands {
			walkExpr(e, fn)
		}
	case *CompareExpr:
		walkExpr(n.Left, fn)
		walkExpr(n.Right, fn)
	case *LogicalExpr:
		for _, e := range n.Operands {
			walkExpr(e, fn)
		}
	}
}

// walkStmt and walkExpr keep typed nil interfaces out of Walk.
func walkStmt(s Stmt, fn func(Node) bool) {
	if s != nil {
		Walk(s, fn)
	}
}

func walkExpr(e Expr, fn func(Node) bool) {
	if e != nil {
		Walk(e, fn)
	}
}
