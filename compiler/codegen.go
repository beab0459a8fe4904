package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/pcode/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pcode.compiler")

// ---------------------------------------------------------------------------
// Codegen: Compile AST to P-code
// ---------------------------------------------------------------------------

// Label prefixes. If and while labels are L<n>; the logical operators use
// the prefixed forms with the same counter.
const (
	labelPrefix    = "L"
	orTruePrefix   = "LOR_TRUE_"
	orEndPrefix    = "LOR_END_"
	andFalsePrefix = "LAND_FALSE_"
	andEndPrefix   = "LAND_END_"
)

// Generator translates one syntax tree into a Program. It owns its label
// counter and address table; separate generators share nothing and may
// run concurrently.
type Generator struct {
	builder   *vm.ProgramBuilder
	addresses map[string]int
	errors    []string
}

// NewGenerator creates a generator with an empty address table.
func NewGenerator() *Generator {
	return &Generator{
		builder:   vm.NewProgramBuilder(),
		addresses: make(map[string]int),
	}
}

// Errors returns accumulated generation errors.
func (g *Generator) Errors() []string {
	return g.errors
}

// errorf records a generation error.
func (g *Generator) errorf(format string, args ...interface{}) {
	g.errors = append(g.errors, fmt.Sprintf(format, args...))
}

// Addresses returns a copy of the address table: variable name to
// memory slot.
func (g *Generator) Addresses() map[string]int {
	out := make(map[string]int, len(g.addresses))
	for k, v := range g.addresses {
		out[k] = v
	}
	return out
}

// Variables returns variable names in address order.
func (g *Generator) Variables() []string {
	names := make([]string, 0, len(g.addresses))
	for name := range g.addresses {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return g.addresses[names[i]] < g.addresses[names[j]]
	})
	return names
}

// address returns the slot for name, allocating the next free one on
// first reference.
func (g *Generator) address(name string) int {
	if addr, ok := g.addresses[name]; ok {
		return addr
	}
	addr := len(g.addresses)
	g.addresses[name] = addr
	return addr
}

// Generate emits the whole program followed by stp. A generator is
// single-use: call Generate once.
func (g *Generator) Generate(prog *Program) (*vm.Program, error) {
	if prog == nil {
		return nil, errors.New("compile errors: nil program")
	}
	for _, stmt := range prog.Statements {
		g.genStmt(stmt)
	}
	g.builder.Emit(vm.OpHalt)

	if len(g.errors) > 0 {
		return nil, fmt.Errorf("compile errors: %s", strings.Join(g.errors, "; "))
	}
	p := g.builder.Build()
	log.Debugf("generated %d instructions, %d variables", p.Len(), len(g.addresses))
	return p, nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *Generator) genStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case nil:
		g.errorf("nil statement")
	case *Block:
		for _, inner := range s.Statements {
			g.genStmt(inner)
		}
	case *VarDecl:
		g.genVarDecl(s)
	case *Assign:
		if s.Value == nil {
			g.errorf("assignment to %s has no value", s.Name)
			return
		}
		g.genExpr(s.Value)
		g.genStore(s.Name)
	case *Print:
		if s.Value == nil {
			g.errorf("print has no value")
			return
		}
		g.genExpr(s.Value)
		g.builder.Emit(vm.OpWrite)
	case *Input:
		g.builder.Emit(vm.OpRead)
		g.genStore(s.Name)
	case *If:
		g.genIf(s)
	case *While:
		g.genWhile(s)
	default:
		g.errorf("unknown statement type: %T", stmt)
	}
}

func (g *Generator) genStore(name string) {
	if name == "" {
		g.errorf("store to unnamed variable")
		return
	}
	g.builder.EmitAddr(vm.OpLoadAddr, g.address(name))
	g.builder.Emit(vm.OpStore)
}

// genVarDecl allocates the slot before the initializer is generated, so
// the declared name gets the lower address.
func (g *Generator) genVarDecl(s *VarDecl) {
	if s.Name == "" {
		g.errorf("declaration without a name")
		return
	}
	g.address(s.Name)

	var kind vm.Kind
	if s.Type != "" {
		k, ok := vm.ParseKind(s.Type)
		if !ok {
			g.errorf("unknown type %q for %s", s.Type, s.Name)
			return
		}
		kind = k
	}

	switch {
	case s.Init != nil:
		g.genExpr(s.Init)
	case kind == vm.KindFloat:
		g.builder.EmitConst(vm.FromFloat(0))
	case kind == vm.KindBool:
		g.builder.EmitConst(vm.False)
	default:
		g.builder.EmitConst(vm.FromInt(0))
	}
	if kind != vm.KindInvalid {
		g.builder.EmitCoerce(kind)
	}
	g.genStore(s.Name)
}

func (g *Generator) genIf(s *If) {
	if s.Cond == nil || s.Then == nil {
		g.errorf("if statement missing condition or body")
		return
	}
	elseLabel := g.builder.NewLabel(labelPrefix)
	endLabel := g.builder.NewLabel(labelPrefix)

	g.genExpr(s.Cond)
	g.builder.EmitJump(vm.OpJumpFalse, elseLabel)
	g.genStmt(s.Then)
	if s.Else != nil {
		g.builder.EmitJump(vm.OpJump, endLabel)
		g.builder.Mark(elseLabel)
		g.genStmt(s.Else)
		g.builder.Mark(endLabel)
	} else {
		g.builder.Mark(elseLabel)
	}
}

func (g *Generator) genWhile(s *While) {
	if s.Cond == nil || s.Body == nil {
		g.errorf("while statement missing condition or body")
		return
	}
	startLabel := g.builder.NewLabel(labelPrefix)
	endLabel := g.builder.NewLabel(labelPrefix)

	g.builder.Mark(startLabel)
	g.genExpr(s.Cond)
	g.builder.EmitJump(vm.OpJumpFalse, endLabel)
	g.genStmt(s.Body)
	g.builder.EmitJump(vm.OpJump, startLabel)
	g.builder.Mark(endLabel)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (g *Generator) genExpr(expr Expr) {
	switch e := expr.(type) {
	case nil:
		g.errorf("nil expression")
	case *IntLiteral:
		g.builder.EmitConst(vm.FromInt(e.Value))
	case *FloatLiteral:
		g.builder.EmitConst(vm.FromFloat(e.Value))
	case *StringLiteral:
		g.builder.EmitConst(vm.FromText(e.Value))
	case *BoolLiteral:
		g.builder.EmitConst(vm.FromBool(e.Value))
	case *Identifier:
		g.builder.EmitAddr(vm.OpLoad, g.address(e.Name))
	case *UnaryExpr:
		g.genUnary(e)
	case *PowerExpr:
		g.genPower(e)
	case *ArithExpr:
		g.genArith(e)
	case *CompareExpr:
		g.genCompare(e)
	case *LogicalExpr:
		g.genLogical(e)
	default:
		g.errorf("unknown expression type: %T", expr)
	}
}

// genUnary applies prefix operators innermost first: in "- not x" the
// not is applied before the negation.
func (g *Generator) genUnary(e *UnaryExpr) {
	g.genExpr(e.Operand)
	for i := len(e.Ops) - 1; i >= 0; i-- {
		switch e.Ops[i] {
		case OpNeg:
			g.builder.Emit(vm.OpNeg)
		case OpNot:
			g.builder.Emit(vm.OpNot)
		default:
			g.errorf("unknown unary operator %q", e.Ops[i])
		}
	}
}

func (g *Generator) genPower(e *PowerExpr) {
	g.genExpr(e.Base)
	if e.Exponent == nil {
		return
	}
	g.genExpr(e.Exponent)
	g.builder.EmitCoerce(vm.KindFloat)
	g.builder.EmitCoerce(vm.KindFloat)
	g.builder.EmitCall(vm.PowIntrinsic)
}

var arithOpcodes = map[string]vm.Opcode{
	OpAdd: vm.OpAdd,
	OpSub: vm.OpSub,
	OpMul: vm.OpMul,
	OpDiv: vm.OpDiv,
}

func (g *Generator) genArith(e *ArithExpr) {
	if len(e.Operands) == 0 || len(e.Ops) != len(e.Operands)-1 {
		g.errorf("arithmetic expression with %d operands and %d operators", len(e.Operands), len(e.Ops))
		return
	}
	g.genExpr(e.Operands[0])
	for i, op := range e.Ops {
		g.genExpr(e.Operands[i+1])
		opcode, ok := arithOpcodes[op]
		if !ok {
			g.errorf("unknown arithmetic operator %q", op)
			continue
		}
		g.builder.Emit(opcode)
	}
}

var compareOpcodes = map[string]vm.Opcode{
	OpEQ: vm.OpEQ,
	OpNE: vm.OpNE,
	OpLT: vm.OpLT,
	OpGT: vm.OpGT,
	OpLE: vm.OpLE,
	OpGE: vm.OpGE,
}

func (g *Generator) genCompare(e *CompareExpr) {
	g.genExpr(e.Left)
	if e.Right == nil {
		return
	}
	g.genExpr(e.Right)
	opcode, ok := compareOpcodes[e.Op]
	if !ok {
		g.errorf("unknown comparison operator %q", e.Op)
		return
	}
	g.builder.Emit(opcode)
}

// genLogical emits a short-circuit chain. For or, each operand is
// followed by tjp to the true path, so no operand runs once one is true;
// and mirrors it with fjp to the false path.
func (g *Generator) genLogical(e *LogicalExpr) {
	if len(e.Operands) == 0 {
		g.errorf("logical expression without operands")
		return
	}
	if len(e.Operands) == 1 {
		g.genExpr(e.Operands[0])
		return
	}

	id := g.builder.NextLabelID()
	jump, shortLabel, endLabel := vm.OpJumpFalse, fmt.Sprintf("%s%d", andFalsePrefix, id), fmt.Sprintf("%s%d", andEndPrefix, id)
	fallthroughValue, shortValue := vm.True, vm.False
	if e.Or {
		jump, shortLabel, endLabel = vm.OpJumpTrue, fmt.Sprintf("%s%d", orTruePrefix, id), fmt.Sprintf("%s%d", orEndPrefix, id)
		fallthroughValue, shortValue = vm.False, vm.True
	}

	for _, operand := range e.Operands {
		g.genExpr(operand)
		g.builder.EmitJump(jump, shortLabel)
	}
	g.builder.EmitConst(fallthroughValue)
	g.builder.EmitJump(vm.OpJump, endLabel)
	g.builder.Mark(shortLabel)
	g.builder.EmitConst(shortValue)
	g.builder.Mark(endLabel)
}

// ---------------------------------------------------------------------------
// Compile helpers for external use
// ---------------------------------------------------------------------------

// Result is the output of a successful compilation.
type Result struct {
	Program   *vm.Program
	Addresses map[string]int
}

// CompileSource parses and compiles source, returning the program and
// its address table.
func CompileSource(source string) (*Result, error) {
	tree, err := Parse(source)
	if err != nil {
		return nil, err
	}
	g := NewGenerator()
	p, err := g.Generate(tree)
	if err != nil {
		return nil, err
	}
	return &Result{Program: p, Addresses: g.Addresses()}, nil
}

// Compile parses and compiles source code to a program.
func Compile(source string) (*vm.Program, error) {
	res, err := CompileSource(source)
	if err != nil {
		return nil, err
	}
	return res.Program, nil
}
