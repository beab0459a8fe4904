package vm

import (
	"errors"
	"fmt"
)

// Runtime fault causes. A *Fault wraps one of these; match with errors.Is.
var (
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrAddressRange     = errors.New("address out of range")
	ErrUninitialized    = errors.New("read of uninitialized address")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrUnknownIntrinsic = errors.New("unknown intrinsic")
	ErrUnknownOpcode    = errors.New("unrecognized opcode")
	ErrEndOfInput       = errors.New("end of input")
)

// Link and lifecycle errors
var (
	ErrUnresolvedLabel = errors.New("unresolved label")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrNotRunnable     = errors.New("machine is not runnable")
)

// Fault is a fatal runtime error. It records the offending instruction and
// its position; the machine is Faulted afterwards.
type Fault struct {
	PC          int
	Instruction Instruction
	Cause       error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %04d (%s): %v", f.PC, f.Instruction, f.Cause)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// LinkError reports a jump target that cannot be resolved at load time.
type LinkError struct {
	Label string
	PC    int
	Cause error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error at %04d: %v: %s", e.PC, e.Cause, e.Label)
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// SyntaxError reports a malformed line in bytecode text.
type SyntaxError struct {
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}
