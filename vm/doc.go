// Package vm implements the P-code stack machine.
//
// This package contains:
//   - the tagged Value model (Integer, Float, Boolean, Text)
//   - the instruction set, Program and ProgramBuilder
//   - the bytecode text form (Assemble, Disassemble)
//   - the Machine: load-time label linking and the execution loop
//
// A Program is immutable once built. Load links its jumps to instruction
// indices and returns a Machine that owns its own stack and memory, so one
// Program can run on many machines at once.
package vm
