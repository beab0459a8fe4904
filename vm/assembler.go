package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Assemble parses bytecode text into a Program. The text form is the one
// produced by Program.String: one instruction or NAME: label marker per
// line. Blank lines and lines starting with ';' are ignored.
//
// Labels are not checked here; that happens when the program is loaded.
func Assemble(text string) (*Program, error) {
	return ReadProgram(strings.NewReader(text))
}

// ReadProgram is like Assemble but reads from r.
func ReadProgram(r io.Reader) (*Program, error) {
	b := NewProgramBuilder()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		in, err := parseInstruction(text)
		if err != nil {
			return nil, &SyntaxError{Line: line, Text: text, Msg: err.Error()}
		}
		b.Append(in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading bytecode: %w", err)
	}
	return b.Build(), nil
}

func parseInstruction(text string) (Instruction, error) {
	// a marker is a single word, so ldc "a:" is still an instruction
	if strings.HasSuffix(text, ":") && strings.IndexFunc(text, unicode.IsSpace) < 0 {
		name := strings.TrimSuffix(text, ":")
		if !isLabelName(name) {
			return Instruction{}, fmt.Errorf("bad label name")
		}
		return Instruction{Op: OpLabel, Label: name}, nil
	}

	mnemonic, operand := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		mnemonic, operand = text[:i], strings.TrimSpace(text[i:])
	}
	op, ok := LookupMnemonic(mnemonic)
	if !ok {
		return Instruction{}, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	info, _ := op.Info()

	in := Instruction{Op: op}
	if info.Operand == OperandNone {
		if operand != "" {
			return Instruction{}, fmt.Errorf("%s takes no operand", mnemonic)
		}
		return in, nil
	}
	if operand == "" {
		return Instruction{}, fmt.Errorf("%s requires an operand", mnemonic)
	}

	switch info.Operand {
	case OperandValue:
		v, err := ParseLiteral(operand)
		if err != nil {
			return Instruction{}, err
		}
		in.Const = v
	case OperandAddr:
		n, err := strconv.Atoi(strings.TrimPrefix(operand, "#"))
		if err != nil || n < 0 {
			return Instruction{}, errors.New("bad address")
		}
		in.Addr = n
	case OperandLabel:
		if !isLabelName(operand) {
			return Instruction{}, fmt.Errorf("bad label name")
		}
		in.Label = operand
	case OperandType:
		k, ok := ParseKind(operand)
		if !ok {
			return Instruction{}, fmt.Errorf("unknown type %q", operand)
		}
		in.Kind = k
	case OperandName:
		in.Name = operand
	}
	return in, nil
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
