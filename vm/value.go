package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindInvalid is the zero Kind. It marks memory slots that were never
	// stored to and never appears on the operand stack.
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindText:    "text",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind maps a coercion target name (int, float, bool) to its Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "int":
		return KindInt, true
	case "float":
		return KindFloat, true
	case "bool":
		return KindBool, true
	}
	return KindInvalid, false
}

// ---------------------------------------------------------------------------
// Value: tagged runtime value
// ---------------------------------------------------------------------------

// Value is a tagged union of Integer, Float, Boolean and Text.
//
// Values are small and immutable; they are passed by value everywhere.
// Only the field selected by kind is meaningful.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
}

// Pre-defined boolean values
var (
	True  = Value{kind: KindBool, b: true}
	False = Value{kind: KindBool, b: false}
)

// FromInt creates an Integer value.
func FromInt(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// FromFloat creates a Float value.
func FromFloat(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// FromBool creates a Boolean value.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromText creates a Text value.
func FromText(s string) Value {
	return Value{kind: KindText, s: s}
}

// ---------------------------------------------------------------------------
// Type checking and accessors
// ---------------------------------------------------------------------------

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid returns false only for the zero Value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) IsInt() bool   { return v.kind == KindInt }
func (v Value) IsFloat() bool { return v.kind == KindFloat }
func (v Value) IsBool() bool  { return v.kind == KindBool }
func (v Value) IsText() bool  { return v.kind == KindText }

// IsNumeric returns true for Integer and Float values.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Int returns the Integer payload. Panics if v is not an Integer.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an int")
	}
	return v.i
}

// Float returns the Float payload. Panics if v is not a Float.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("Value.Float: not a float")
	}
	return v.f
}

// Bool returns the Boolean payload. Panics if v is not a Boolean.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("Value.Bool: not a bool")
	}
	return v.b
}

// Text returns the Text payload. Panics if v is not Text.
func (v Value) Text() string {
	if v.kind != KindText {
		panic("Value.Text: not text")
	}
	return v.s
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// AsFloat widens a numeric value to float64.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), nil
	case KindFloat:
		return v.f, nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %s %s", ErrTypeMismatch, v.kind, v.Literal())
	}
}

// Truthy returns the boolean reading of v used by conditional jumps and
// logical opcodes. Numbers are true when non-zero; text has no truth value.
func (v Value) Truthy() (bool, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i != 0, nil
	case KindFloat:
		return v.f != 0, nil
	default:
		return false, fmt.Errorf("%w: expected boolean, got %s %s", ErrTypeMismatch, v.kind, v.Literal())
	}
}

// Convert coerces v to the target kind. Integer and Float convert to each
// other (float to int truncates toward zero and faults when the result
// does not fit in an int64); numbers and booleans convert to bool.
// Anything else is a type mismatch.
func (v Value) Convert(target Kind) (Value, error) {
	switch target {
	case KindInt:
		switch v.kind {
		case KindInt:
			return v, nil
		case KindFloat:
			if i, ok := floatToInt(v.f); ok {
				return FromInt(i), nil
			}
		}
	case KindFloat:
		switch v.kind {
		case KindInt:
			return FromFloat(float64(v.i)), nil
		case KindFloat:
			return v, nil
		}
	case KindBool:
		switch v.kind {
		case KindBool:
			return v, nil
		case KindInt, KindFloat:
			t, _ := v.Truthy()
			return FromBool(t), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot convert %s %s to %s", ErrTypeMismatch, v.kind, v.Literal(), target)
}

// Equal reports structural equality. Integers compare exactly. An Integer
// and a Float are equal when the float holds exactly that integer, so 5 and
// 5.0 are equal but 2^53+1 and 2^53 are not.
func (v Value) Equal(other Value) bool {
	switch {
	case v.kind == KindInt && other.kind == KindInt:
		return v.i == other.i
	case v.kind == KindInt && other.kind == KindFloat:
		return intEqualsFloat(v.i, other.f)
	case v.kind == KindFloat && other.kind == KindInt:
		return intEqualsFloat(other.i, v.f)
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindText:
		return v.s == other.s
	case KindInvalid:
		return true
	}
	return false
}

// floatToInt truncates f toward zero. It reports false for NaN, the
// infinities and values outside the int64 range.
func floatToInt(f float64) (int64, bool) {
	t := math.Trunc(f)
	if math.IsNaN(t) || t < -(1<<63) || t >= 1<<63 {
		return 0, false
	}
	return int64(t), true
}

func intEqualsFloat(i int64, f float64) bool {
	if f != math.Trunc(f) {
		return false
	}
	n, ok := floatToInt(f)
	return ok && n == i
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// String returns the display form written by the write opcode.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.s
	}
	return "<invalid>"
}

// Literal returns the form used in bytecode text. It re-parses to an
// identical Value through ParseLiteral.
func (v Value) Literal() string {
	switch v.kind {
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return strconv.FormatFloat(v.f, 'g', -1, 64)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case KindText:
		return strconv.Quote(v.s)
	}
	return v.String()
}

// ParseLiteral parses a literal as written in bytecode text: a
// double-quoted string, true/false, or a number. Numbers containing a
// decimal point or exponent are Float, others Integer.
func ParseLiteral(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("empty literal")
	}
	if s[0] == '"' {
		text, err := strconv.Unquote(s)
		if err != nil {
			return Value{}, fmt.Errorf("bad string literal %s: %w", s, err)
		}
		return FromText(text), nil
	}
	switch s {
	case "true":
		return True, nil
	case "false":
		return False, nil
	case "+Inf":
		return FromFloat(math.Inf(1)), nil
	case "-Inf":
		return FromFloat(math.Inf(-1)), nil
	case "NaN":
		return FromFloat(math.NaN()), nil
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad float literal %q", s)
		}
		return FromFloat(f), nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad integer literal %q", s)
	}
	return FromInt(i), nil
}

// ParseInput parses one line of program input. It accepts everything
// ParseLiteral does and falls back to raw text for anything else.
func ParseInput(line string) Value {
	line = strings.TrimSpace(line)
	if v, err := ParseLiteral(line); err == nil {
		return v
	}
	return FromText(line)
}
