package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single P-code instruction.
type Opcode byte

// Pseudo-instructions
const (
	OpLabel Opcode = 0x00 // label marker, zero effect
)

// Loads and stores
const (
	OpLoadConst Opcode = 0x10 // push constant
	OpLoadAddr  Opcode = 0x11 // push address as an integer
	OpLoad      Opcode = 0x12 // push memory[address]
	OpStore     Opcode = 0x13 // pop value, pop address, memory[address] = value
)

// Arithmetic
const (
	OpAdd Opcode = 0x20
	OpSub Opcode = 0x21
	OpMul Opcode = 0x22
	OpDiv Opcode = 0x23
	OpNeg Opcode = 0x24
)

// Comparison and logic
const (
	OpLT  Opcode = 0x30
	OpGT  Opcode = 0x31
	OpLE  Opcode = 0x32
	OpGE  Opcode = 0x33
	OpEQ  Opcode = 0x34
	OpNE  Opcode = 0x35
	OpAnd Opcode = 0x36
	OpOr  Opcode = 0x37
	OpNot Opcode = 0x38
)

// Conversion and intrinsics
const (
	OpCoerce Opcode = 0x40 // convert top of stack to Instruction.Kind
	OpCall   Opcode = 0x41 // call intrinsic Instruction.Name
)

// I/O
const (
	OpWrite Opcode = 0x50
	OpRead  Opcode = 0x51
)

// Control flow
const (
	OpJump      Opcode = 0x60 // unconditional jump
	OpJumpFalse Opcode = 0x61 // pop, jump if false
	OpJumpTrue  Opcode = 0x62 // pop, jump if true
	OpHalt      Opcode = 0x63
)

// PowIntrinsic is the name of the only recognized intrinsic.
const PowIntrinsic = "POW_FUNCTION"

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes the operand an opcode carries.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandValue
	OperandAddr
	OperandLabel
	OperandType
	OperandName
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Mnemonic string      // text-form name
	Pops     int         // values popped from the stack
	Pushes   int         // values pushed to the stack
	Operand  OperandKind // operand carried by the instruction
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpLabel: {"", 0, 0, OperandLabel},

	OpLoadConst: {"ldc", 0, 1, OperandValue},
	OpLoadAddr:  {"lda", 0, 1, OperandAddr},
	OpLoad:      {"lod", 0, 1, OperandAddr},
	OpStore:     {"sto", 2, 0, OperandNone},

	OpAdd: {"add", 2, 1, OperandNone},
	OpSub: {"sub", 2, 1, OperandNone},
	OpMul: {"mul", 2, 1, OperandNone},
	OpDiv: {"div", 2, 1, OperandNone},
	OpNeg: {"neg", 1, 1, OperandNone},

	OpLT:  {"let", 2, 1, OperandNone},
	OpGT:  {"grt", 2, 1, OperandNone},
	OpLE:  {"lte", 2, 1, OperandNone},
	OpGE:  {"gte", 2, 1, OperandNone},
	OpEQ:  {"equ", 2, 1, OperandNone},
	OpNE:  {"neq", 2, 1, OperandNone},
	OpAnd: {"and", 2, 1, OperandNone},
	OpOr:  {"or", 2, 1, OperandNone},
	OpNot: {"not", 1, 1, OperandNone},

	OpCoerce: {"to", 1, 1, OperandType},
	OpCall:   {"call", 2, 1, OperandName},

	OpWrite: {"wri", 1, 0, OperandNone},
	OpRead:  {"rd", 0, 1, OperandNone},

	OpJump:      {"pip", 0, 0, OperandLabel},
	OpJumpFalse: {"fjp", 1, 0, OperandLabel},
	OpJumpTrue:  {"tjp", 1, 0, OperandLabel},
	OpHalt:      {"stp", 0, 0, OperandNone},
}

// mnemonicTable is the reverse of opcodeTable, built once.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		if info.Mnemonic != "" {
			m[info.Mnemonic] = op
		}
	}
	return m
}()

// Info returns the metadata for an opcode and whether it is defined.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Valid returns true if op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	if op == OpLabel {
		return "label"
	}
	if info, ok := opcodeTable[op]; ok {
		return info.Mnemonic
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(op))
}

// IsJump returns true for the three jump opcodes.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpFalse || op == OpJumpTrue
}

// LookupMnemonic returns the opcode for a text-form mnemonic.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// ---------------------------------------------------------------------------
// Instruction and Program
// ---------------------------------------------------------------------------

// Instruction is one P-code instruction. Only the operand field named by
// the opcode's OperandKind is meaningful.
type Instruction struct {
	Op    Opcode
	Const Value  // OpLoadConst
	Addr  int    // OpLoadAddr, OpLoad
	Label string // jumps and OpLabel
	Kind  Kind   // OpCoerce
	Name  string // OpCall
}

// IsLabel returns true for label markers.
func (in Instruction) IsLabel() bool {
	return in.Op == OpLabel
}

// String returns the instruction in bytecode text form.
func (in Instruction) String() string {
	info, ok := in.Op.Info()
	if !ok {
		return in.Op.String()
	}
	switch info.Operand {
	case OperandValue:
		return info.Mnemonic + " " + in.Const.Literal()
	case OperandAddr:
		return fmt.Sprintf("%s #%d", info.Mnemonic, in.Addr)
	case OperandLabel:
		if in.Op == OpLabel {
			return in.Label + ":"
		}
		return info.Mnemonic + " " + in.Label
	case OperandType:
		return info.Mnemonic + " " + in.Kind.String()
	case OperandName:
		return info.Mnemonic + " " + in.Name
	}
	return info.Mnemonic
}

// Program is an ordered instruction sequence with embedded label markers.
// A Program is not modified after it is built, so one Program may be
// loaded into any number of machines.
type Program struct {
	Instructions []Instruction
}

// Len returns the number of instructions, label markers included.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// String returns the full bytecode text form, one instruction per line.
func (p *Program) String() string {
	var b strings.Builder
	for _, in := range p.Instructions {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// MaxAddress returns the highest memory address referenced by the
// program, or -1 if it references none.
func (p *Program) MaxAddress() int {
	highest := -1
	for _, in := range p.Instructions {
		if (in.Op == OpLoadAddr || in.Op == OpLoad) && in.Addr > highest {
			highest = in.Addr
		}
	}
	return highest
}

// ResolveLabels maps every label marker to its instruction index and
// checks that each jump target has exactly one marker. It does not modify
// the program, so repeated calls return equal tables.
func ResolveLabels(p *Program) (map[string]int, error) {
	labels := make(map[string]int)
	for i, in := range p.Instructions {
		if !in.IsLabel() {
			continue
		}
		if prev, dup := labels[in.Label]; dup {
			return nil, &LinkError{Label: in.Label, PC: i, Cause: fmt.Errorf("%w (first marker at %04d)", ErrDuplicateLabel, prev)}
		}
		labels[in.Label] = i
	}
	for i, in := range p.Instructions {
		if !in.Op.IsJump() {
			continue
		}
		if _, ok := labels[in.Label]; !ok {
			return nil, &LinkError{Label: in.Label, PC: i, Cause: ErrUnresolvedLabel}
		}
	}
	return labels, nil
}

// ---------------------------------------------------------------------------
// ProgramBuilder: helper for constructing programs
// ---------------------------------------------------------------------------

// ProgramBuilder appends instructions in order and hands out unique labels.
type ProgramBuilder struct {
	code   []Instruction
	labels int
}

// NewProgramBuilder creates an empty builder.
func NewProgramBuilder() *ProgramBuilder {
	return &ProgramBuilder{
		code: make([]Instruction, 0, 64),
	}
}

// Len returns the number of instructions emitted so far.
func (b *ProgramBuilder) Len() int {
	return len(b.code)
}

// Append adds a fully formed instruction.
func (b *ProgramBuilder) Append(in Instruction) {
	b.code = append(b.code, in)
}

// Emit appends an opcode with no operand.
func (b *ProgramBuilder) Emit(op Opcode) {
	b.code = append(b.code, Instruction{Op: op})
}

// EmitConst appends a load-constant.
func (b *ProgramBuilder) EmitConst(v Value) {
	b.code = append(b.code, Instruction{Op: OpLoadConst, Const: v})
}

// EmitAddr appends an instruction with an address operand.
func (b *ProgramBuilder) EmitAddr(op Opcode, addr int) {
	b.code = append(b.code, Instruction{Op: op, Addr: addr})
}

// EmitCoerce appends a type conversion to the target kind.
func (b *ProgramBuilder) EmitCoerce(target Kind) {
	b.code = append(b.code, Instruction{Op: OpCoerce, Kind: target})
}

// EmitCall appends an intrinsic call.
func (b *ProgramBuilder) EmitCall(name string) {
	b.code = append(b.code, Instruction{Op: OpCall, Name: name})
}

// EmitJump appends a jump to a label.
func (b *ProgramBuilder) EmitJump(op Opcode, label string) {
	b.code = append(b.code, Instruction{Op: op, Label: label})
}

// Mark appends a label marker.
func (b *ProgramBuilder) Mark(label string) {
	b.code = append(b.code, Instruction{Op: OpLabel, Label: label})
}

// NextLabelID returns the next value of the builder's label counter.
// Each call returns a new number, so labels built from it never collide.
func (b *ProgramBuilder) NextLabelID() int {
	id := b.labels
	b.labels++
	return id
}

// NewLabel returns a fresh label of the form <prefix><n>.
func (b *ProgramBuilder) NewLabel(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, b.NextLabelID())
}

// Build returns the finished program. The builder must not be used after.
func (b *ProgramBuilder) Build() *Program {
	code := b.code
	b.code = nil
	return &Program{Instructions: code}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a listing with instruction positions, for humans.
// Use Program.String for the re-parseable text form.
func Disassemble(p *Program) string {
	var b strings.Builder
	for i, in := range p.Instructions {
		if in.IsLabel() {
			fmt.Fprintf(&b, "%04d %s\n", i, in)
			continue
		}
		fmt.Fprintf(&b, "%04d     %s\n", i, in)
	}
	return b.String()
}
