package compiler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/pcode/vm"
)

// ---------------------------------------------------------------------------
// Evaluator: direct tree-walking execution
// ---------------------------------------------------------------------------

// Evaluator runs a syntax tree directly, without generating code. It uses
// the same value operations as the machine, so a program produces the
// same output either way; the CLI's eval command and the compiler tests
// rely on that.
type Evaluator struct {
	vars map[string]vm.Value
	in   *bufio.Reader
	out  io.Writer
}

// NewEvaluator creates an evaluator reading from in and writing to out.
func NewEvaluator(in io.Reader, out io.Writer) *Evaluator {
	if in == nil {
		in = strings.NewReader("")
	}
	return &Evaluator{
		vars: make(map[string]vm.Value),
		in:   bufio.NewReader(in),
		out:  out,
	}
}

// Run executes every statement of prog.
func (e *Evaluator) Run(prog *Program) error {
	for _, stmt := range prog.Statements {
		if err := e.exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Var returns the current value of a variable.
func (e *Evaluator) Var(name string) (vm.Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func (e *Evaluator) errorAt(n Node, err error) error {
	pos := n.Span().Start
	return fmt.Errorf("line %d, column %d: %w", pos.Line, pos.Column, err)
}

func (e *Evaluator) exec(stmt Stmt) error {
	switch s := stmt.(type) {
	case *Block:
		for _, inner := range s.Statements {
			if err := e.exec(inner); err != nil {
				return err
			}
		}
	case *VarDecl:
		v, err := e.declValue(s)
		if err != nil {
			return e.errorAt(s, err)
		}
		e.vars[s.Name] = v
	case *Assign:
		v, err := e.eval(s.Value)
		if err != nil {
			return err
		}
		e.vars[s.Name] = v
	case *Print:
		v, err := e.eval(s.Value)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(e.out, v.String()); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	case *Input:
		line, err := e.in.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return e.errorAt(s, fmt.Errorf("read: %w", err))
			}
			if line == "" {
				return e.errorAt(s, vm.ErrEndOfInput)
			}
		}
		e.vars[s.Name] = vm.ParseInput(strings.TrimRight(line, "\r\n"))
	case *If:
		t, err := e.truth(s.Cond)
		if err != nil {
			return err
		}
		if t {
			return e.exec(s.Then)
		}
		if s.Else != nil {
			return e.exec(s.Else)
		}
	case *While:
		for {
			t, err := e.truth(s.Cond)
			if err != nil {
				return err
			}
			if !t {
				break
			}
			if err := e.exec(s.Body); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown statement type: %T", stmt)
	}
	return nil
}

func (e *Evaluator) declValue(s *VarDecl) (vm.Value, error) {
	kind := vm.KindInvalid
	if s.Type != "" {
		k, ok := vm.ParseKind(s.Type)
		if !ok {
			return vm.Value{}, fmt.Errorf("unknown type %q", s.Type)
		}
		kind = k
	}
	var v vm.Value
	switch {
	case s.Init != nil:
		var err error
		if v, err = e.eval(s.Init); err != nil {
			return vm.Value{}, err
		}
	case kind == vm.KindFloat:
		v = vm.FromFloat(0)
	case kind == vm.KindBool:
		v = vm.False
	default:
		v = vm.FromInt(0)
	}
	if kind != vm.KindInvalid {
		return v.Convert(kind)
	}
	return v, nil
}

func (e *Evaluator) truth(expr Expr) (bool, error) {
	v, err := e.eval(expr)
	if err != nil {
		return false, err
	}
	t, err := v.Truthy()
	if err != nil {
		return false, e.errorAt(expr, err)
	}
	return t, nil
}

func (e *Evaluator) eval(expr Expr) (vm.Value, error) {
	switch x := expr.(type) {
	case *IntLiteral:
		return vm.FromInt(x.Value), nil
	case *FloatLiteral:
		return vm.FromFloat(x.Value), nil
	case *StringLiteral:
		return vm.FromText(x.Value), nil
	case *BoolLiteral:
		return vm.FromBool(x.Value), nil

	case *Identifier:
		v, ok := e.vars[x.Name]
		if !ok {
			return vm.Value{}, e.errorAt(x, fmt.Errorf("%w: %s", vm.ErrUninitialized, x.Name))
		}
		return v, nil

	case *UnaryExpr:
		v, err := e.eval(x.Operand)
		if err != nil {
			return vm.Value{}, err
		}
		for i := len(x.Ops) - 1; i >= 0; i-- {
			switch x.Ops[i] {
			case OpNeg:
				v, err = vm.Negate(v)
			case OpNot:
				var t bool
				t, err = v.Truthy()
				v = vm.FromBool(!t)
			default:
				err = fmt.Errorf("unknown unary operator %q", x.Ops[i])
			}
			if err != nil {
				return vm.Value{}, e.errorAt(x, err)
			}
		}
		return v, nil

	case *PowerExpr:
		base, err := e.eval(x.Base)
		if err != nil || x.Exponent == nil {
			return base, err
		}
		exp, err := e.eval(x.Exponent)
		if err != nil {
			return vm.Value{}, err
		}
		v, err := vm.Pow(base, exp)
		if err != nil {
			return vm.Value{}, e.errorAt(x, err)
		}
		return v, nil

	case *ArithExpr:
		if len(x.Operands) == 0 || len(x.Ops) != len(x.Operands)-1 {
			return vm.Value{}, e.errorAt(x, errors.New("malformed arithmetic expression"))
		}
		acc, err := e.eval(x.Operands[0])
		if err != nil {
			return vm.Value{}, err
		}
		for i, op := range x.Ops {
			rhs, err := e.eval(x.Operands[i+1])
			if err != nil {
				return vm.Value{}, err
			}
			opcode, ok := arithOpcodes[op]
			if !ok {
				return vm.Value{}, e.errorAt(x, fmt.Errorf("unknown arithmetic operator %q", op))
			}
			if acc, err = vm.Apply(opcode, acc, rhs); err != nil {
				return vm.Value{}, e.errorAt(x, err)
			}
		}
		return acc, nil

	case *CompareExpr:
		lhs, err := e.eval(x.Left)
		if err != nil || x.Right == nil {
			return lhs, err
		}
		rhs, err := e.eval(x.Right)
		if err != nil {
			return vm.Value{}, err
		}
		opcode, ok := compareOpcodes[x.Op]
		if !ok {
			return vm.Value{}, e.errorAt(x, fmt.Errorf("unknown comparison operator %q", x.Op))
		}
		v, err := vm.Apply(opcode, lhs, rhs)
		if err != nil {
			return vm.Value{}, e.errorAt(x, err)
		}
		return v, nil

	case *LogicalExpr:
		if len(x.Operands) == 1 {
			return e.eval(x.Operands[0])
		}
		for _, operand := range x.Operands {
			t, err := e.truth(operand)
			if err != nil {
				return vm.Value{}, err
			}
			if t == x.Or {
				return vm.FromBool(x.Or), nil
			}
		}
		return vm.FromBool(!x.Or), nil
	}
	return vm.Value{}, fmt.Errorf("unknown expression type: %T", expr)
}

// Evaluate parses source and runs it directly.
func Evaluate(source string, in io.Reader, out io.Writer) error {
	prog, err := Parse(source)
	if err != nil {
		return err
	}
	return NewEvaluator(in, out).Run(prog)
}
