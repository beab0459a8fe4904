package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultMemoryCapacity is the number of memory cells a machine gets when
// the configuration does not say otherwise.
const DefaultMemoryCapacity = 250

// Config holds the execution parameters of a Machine.
type Config struct {
	MemoryCapacity int           // number of addressable cells
	Trace          bool          // log each instruction at debug level
	StepDelay      time.Duration // pause before each instruction; zero disables
}

// DefaultConfig returns the configuration used by the command line tool
// when neither flags nor a manifest override it.
func DefaultConfig() Config {
	return Config{MemoryCapacity: DefaultMemoryCapacity}
}

// Validate checks that the configuration can be used to build a machine.
func (c Config) Validate() error {
	if c.MemoryCapacity < 0 {
		return fmt.Errorf("invalid memory capacity %d", c.MemoryCapacity)
	}
	if c.StepDelay < 0 {
		return fmt.Errorf("invalid step delay %s", c.StepDelay)
	}
	return nil
}

// State is the lifecycle phase of a Machine.
type State int

const (
	StateLoading State = iota
	StateExecuting
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateExecuting:
		return "executing"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Machine at load time.
type Option func(*Machine)

// WithInput sets the reader consumed by the read opcode.
func WithInput(r io.Reader) Option {
	return func(m *Machine) {
		m.in = bufio.NewReader(r)
	}
}

// WithOutput sets the writer used by the write opcode.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) {
		m.out = w
	}
}

// WithLogger replaces the logger used for tracing.
func WithLogger(log commonlog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithPrompt makes the read opcode write text to w before it blocks.
func WithPrompt(w io.Writer, text string) Option {
	return func(m *Machine) {
		m.prompt = w
		m.promptText = text
	}
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine executes one linked Program. It is not safe for concurrent use,
// but any number of machines may share the same Program.
type Machine struct {
	program *Program
	targets []int // jump instruction index -> marker index, -1 elsewhere
	config  Config

	memory []Value
	stack  []Value
	pc     int
	state  State

	in         *bufio.Reader
	out        io.Writer
	prompt     io.Writer
	promptText string

	log   commonlog.Logger
	runID string
	steps int
}

// Load links p and returns a machine ready to run it. Every jump target
// must name exactly one label marker; otherwise a *LinkError is returned
// and no machine is created.
func Load(p *Program, cfg Config, opts ...Option) (*Machine, error) {
	if p == nil {
		return nil, errors.New("nil program")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	labels, err := ResolveLabels(p)
	if err != nil {
		return nil, err
	}
	targets := make([]int, len(p.Instructions))
	for i, in := range p.Instructions {
		targets[i] = -1
		if in.Op.IsJump() {
			targets[i] = labels[in.Label]
		}
	}

	m := &Machine{
		program: p,
		targets: targets,
		config:  cfg,
		memory:  make([]Value, cfg.MemoryCapacity),
		stack:   make([]Value, 0, 16),
		state:   StateLoading,
		in:      bufio.NewReader(strings.NewReader("")),
		out:     io.Discard,
		log:     log,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runID = newRunID()
	return m, nil
}

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	return m.state
}

// PC returns the index of the next instruction to execute, or of the
// faulting instruction after a fault.
func (m *Machine) PC() int {
	return m.pc
}

// Steps returns the number of non-label instructions executed so far.
func (m *Machine) Steps() int {
	return m.steps
}

// Memory returns the value stored at addr and whether the cell is set.
func (m *Machine) Memory(addr int) (Value, bool) {
	if addr < 0 || addr >= len(m.memory) {
		return Value{}, false
	}
	v := m.memory[addr]
	return v, v.IsValid()
}

// Run executes the program until it halts or faults. A fault is returned
// as a *Fault; the machine cannot be run again afterwards.
func (m *Machine) Run() error {
	if m.state != StateLoading {
		return fmt.Errorf("%w: %s", ErrNotRunnable, m.state)
	}
	m.state = StateExecuting
	m.traceStart()

	code := m.program.Instructions
	for m.pc < len(code) {
		in := code[m.pc]
		if in.IsLabel() {
			m.pc++
			continue
		}
		if m.config.StepDelay > 0 {
			time.Sleep(m.config.StepDelay)
		}
		if m.config.Trace {
			m.traceStep(in)
		}

		next, halt, err := m.execute(in)
		if err != nil {
			m.state = StateFaulted
			fault := &Fault{PC: m.pc, Instruction: in, Cause: err}
			m.traceFault(fault)
			return fault
		}
		m.steps++
		if halt {
			break
		}
		m.pc = next
	}

	m.state = StateHalted
	m.traceHalt()
	return nil
}

// execute runs a single instruction and returns the next pc.
func (m *Machine) execute(in Instruction) (int, bool, error) {
	next := m.pc + 1

	switch in.Op {
	case OpLoadConst:
		if !in.Const.IsValid() {
			return 0, false, fmt.Errorf("%w: invalid constant", ErrTypeMismatch)
		}
		m.push(in.Const)

	case OpLoadAddr:
		if err := m.checkAddr(in.Addr); err != nil {
			return 0, false, err
		}
		m.push(FromInt(int64(in.Addr)))

	case OpLoad:
		if err := m.checkAddr(in.Addr); err != nil {
			return 0, false, err
		}
		v := m.memory[in.Addr]
		if !v.IsValid() {
			return 0, false, fmt.Errorf("%w #%d", ErrUninitialized, in.Addr)
		}
		m.push(v)

	case OpStore:
		a, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		if !a.IsInt() {
			return 0, false, fmt.Errorf("%w: store address is %s", ErrTypeMismatch, a.Kind())
		}
		addr := int(a.Int())
		if err := m.checkAddr(addr); err != nil {
			return 0, false, err
		}
		m.memory[addr] = v

	case OpAdd, OpSub, OpMul, OpDiv, OpLT, OpGT, OpLE, OpGE, OpEQ, OpNE:
		b, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		a, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		v, err := Apply(in.Op, a, b)
		if err != nil {
			return 0, false, err
		}
		m.push(v)

	case OpAnd, OpOr:
		b, err := m.popTruth()
		if err != nil {
			return 0, false, err
		}
		a, err := m.popTruth()
		if err != nil {
			return 0, false, err
		}
		if in.Op == OpAnd {
			m.push(FromBool(a && b))
		} else {
			m.push(FromBool(a || b))
		}

	case OpNot:
		a, err := m.popTruth()
		if err != nil {
			return 0, false, err
		}
		m.push(FromBool(!a))

	case OpNeg:
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		neg, err := Negate(v)
		if err != nil {
			return 0, false, err
		}
		m.push(neg)

	case OpCoerce:
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		c, err := v.Convert(in.Kind)
		if err != nil {
			return 0, false, err
		}
		m.push(c)

	case OpCall:
		if in.Name != PowIntrinsic {
			return 0, false, fmt.Errorf("%w %q", ErrUnknownIntrinsic, in.Name)
		}
		exponent, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		base, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		v, err := Pow(base, exponent)
		if err != nil {
			return 0, false, err
		}
		m.push(v)

	case OpWrite:
		v, err := m.pop()
		if err != nil {
			return 0, false, err
		}
		if _, err := fmt.Fprintln(m.out, v.String()); err != nil {
			return 0, false, fmt.Errorf("write: %w", err)
		}

	case OpRead:
		v, err := m.readValue()
		if err != nil {
			return 0, false, err
		}
		m.push(v)

	case OpJump:
		next = m.targets[m.pc]

	case OpJumpFalse, OpJumpTrue:
		t, err := m.popTruth()
		if err != nil {
			return 0, false, err
		}
		if t == (in.Op == OpJumpTrue) {
			next = m.targets[m.pc]
		}

	case OpHalt:
		return next, true, nil

	default:
		return 0, false, fmt.Errorf("%w %s", ErrUnknownOpcode, in.Op)
	}

	return next, false, nil
}

// Apply evaluates a binary arithmetic, comparison or equality opcode.
// Arithmetic and ordering widen both operands to float; division by zero
// follows IEEE 754.
func Apply(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEQ:
		return FromBool(a.Equal(b)), nil
	case OpNE:
		return FromBool(!a.Equal(b)), nil
	}

	x, err := a.AsFloat()
	if err != nil {
		return Value{}, err
	}
	y, err := b.AsFloat()
	if err != nil {
		return Value{}, err
	}
	switch op {
	case OpAdd:
		return FromFloat(x + y), nil
	case OpSub:
		return FromFloat(x - y), nil
	case OpMul:
		return FromFloat(x * y), nil
	case OpDiv:
		return FromFloat(x / y), nil
	case OpLT:
		return FromBool(x < y), nil
	case OpGT:
		return FromBool(x > y), nil
	case OpLE:
		return FromBool(x <= y), nil
	case OpGE:
		return FromBool(x >= y), nil
	}
	return Value{}, fmt.Errorf("%w %s", ErrUnknownOpcode, op)
}

// Pow is the POW_FUNCTION intrinsic.
func Pow(base, exponent Value) (Value, error) {
	x, err := base.AsFloat()
	if err != nil {
		return Value{}, err
	}
	y, err := exponent.AsFloat()
	if err != nil {
		return Value{}, err
	}
	return FromFloat(math.Pow(x, y)), nil
}

// Negate flips the sign of a number, keeping its variant. The one Integer
// with no int64 negation, math.MinInt64, widens to Float.
func Negate(v Value) (Value, error) {
	switch v.Kind() {
	case KindInt:
		if v.Int() == math.MinInt64 {
			return FromFloat(-float64(v.Int())), nil
		}
		return FromInt(-v.Int()), nil
	case KindFloat:
		return FromFloat(-v.Float()), nil
	}
	return Value{}, fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, v.Kind())
}

// readValue consumes one line of input.
func (m *Machine) readValue() (Value, error) {
	if m.prompt != nil {
		if _, err := io.WriteString(m.prompt, m.promptText); err != nil {
			return Value{}, fmt.Errorf("prompt: %w", err)
		}
	}
	line, err := m.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return Value{}, ErrEndOfInput
			}
		} else {
			return Value{}, fmt.Errorf("read: %w", err)
		}
	}
	return ParseInput(strings.TrimRight(line, "\r\n")), nil
}

// ---------------------------------------------------------------------------
// Stack and memory helpers
// ---------------------------------------------------------------------------

func (m *Machine) push(v Value) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() (Value, error) {
	n := len(m.stack)
	if n == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v, nil
}

func (m *Machine) popTruth() (bool, error) {
	v, err := m.pop()
	if err != nil {
		return false, err
	}
	return v.Truthy()
}

func (m *Machine) checkAddr(addr int) error {
	if addr < 0 || addr >= len(m.memory) {
		return fmt.Errorf("%w: #%d (capacity %d)", ErrAddressRange, addr, len(m.memory))
	}
	return nil
}
