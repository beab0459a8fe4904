package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/pcode/vm"
)

// agreementPrograms run the same on the machine and the evaluator.
var agreementPrograms = []struct {
	name   string
	source string
	input  string
	want   string
}{
	{"arithmetic", "x = 2 + 3 * 4\nprint x\nprint x / 4\nprint 10 - 4 - 3", "", "14\n3.5\n3\n"},
	{"factorial", `
var n = 5
var acc = 1
while n > 1 {
  acc = acc * n
  n = n - 1
}
print acc
`, "", "120\n"},
	{"fibonacci", `
var a = 0
var b = 1
var i = 0
while i < 8 {
  print a
  var t = a + b
  a = b
  b = t
  i = i + 1
}
`, "", "0\n1\n1\n2\n3\n5\n8\n13\n"},
	{"max of inputs", `
read x
read y
if x > y print x else print y
`, "3\n9\n", "9\n"},
	{"between", `
read v
print v >= 1 and v <= 10
print not (v >= 1) or v > 10
`, "12\n", "false\ntrue\n"},
	{"even odd", `
var k = 0
while k < 4 {
  var half: int = k / 2
  if half * 2 == k print "even" else print "odd"
  k = k + 1
}
`, "", "even\nodd\neven\nodd\n"},
	{"abs", `
read v
if v < 0 v = -v
print v
`, "-7\n", "7\n"},
	{"power and unary", "print 2 ** 10\nprint - - 3\nprint not not 0\nprint -2.5", "", "1024\n3\nfalse\n-2.5\n"},
	{"typed", "var f: float\nvar b: bool = 0.5\nvar i: int = -3.9\nprint f\nprint b\nprint i", "", "0\ntrue\n-3\n"},
	{"text", `
read name
print "hello"
print name
print name == "bob"
`, "bob\n", "hello\nbob\ntrue\n"},
	{"mixed equality", "print 5 == 5.0\nprint 1 != true\nprint \"a\" == \"a\"", "", "true\ntrue\ntrue\n"},
	{"short circuit", "print false and boom\nprint true or boom", "", "false\ntrue\n"},
}

func TestEvaluatorAgreesWithMachine(t *testing.T) {
	for _, tc := range agreementPrograms {
		t.Run(tc.name, func(t *testing.T) {
			var evalOut strings.Builder
			if err := Evaluate(tc.source, strings.NewReader(tc.input), &evalOut); err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			vmOut := compileAndRun(t, tc.source, tc.input)
			if evalOut.String() != vmOut {
				t.Errorf("evaluator printed %q, machine printed %q", evalOut.String(), vmOut)
			}
			if vmOut != tc.want {
				t.Errorf("output = %q, want %q", vmOut, tc.want)
			}
		})
	}
}

func TestEvaluatorFaultsLikeMachine(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   error
	}{
		{"unset variable", "print nope", vm.ErrUninitialized},
		{"text arithmetic", `print "a" * 2`, vm.ErrTypeMismatch},
		{"text negation", `print -"a"`, vm.ErrTypeMismatch},
		{"text condition", `while "x" print 1`, vm.ErrTypeMismatch},
		{"bool to int", "var i: int = false", vm.ErrTypeMismatch},
		{"power of text", `print "a" ** 2`, vm.ErrTypeMismatch},
		{"end of input", "read x", vm.ErrEndOfInput},
		{"no short circuit", "print true and nope", vm.ErrUninitialized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Evaluate(tc.source, strings.NewReader(""), &strings.Builder{})
			if !errors.Is(err, tc.want) {
				t.Errorf("Evaluate error = %v, want %v", err, tc.want)
			}

			p, err := Compile(tc.source)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if _, err := runCompiled(t, p, ""); !errors.Is(err, tc.want) {
				t.Errorf("Run error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEvaluatorErrorPosition(t *testing.T) {
	err := Evaluate("var x = 1\nprint x + nope", nil, &strings.Builder{})
	if err == nil || !strings.HasPrefix(err.Error(), "line 2, column 11:") {
		t.Errorf("error = %v, want position line 2, column 11", err)
	}
}

func TestEvaluatorOutputBeforeFault(t *testing.T) {
	var out strings.Builder
	err := Evaluate("print 1\nprint 2\nprint nope\nprint 3", nil, &out)
	if err == nil {
		t.Fatal("Evaluate succeeded, want error")
	}
	if out.String() != "1\n2\n" {
		t.Errorf("output = %q, want the lines before the fault", out.String())
	}
}

func TestEvaluatorVar(t *testing.T) {
	prog := parseOK(t, "var x: float = 2\ny = x * 3")
	e := NewEvaluator(nil, &strings.Builder{})
	if err := e.Run(prog); err != nil {
		t.Fatalf("Run: %v", err)
	}
	y, ok := e.Var("y")
	if !ok || y.Kind() != vm.KindFloat || y.Float() != 6 {
		t.Errorf("y = %v (%v), want float 6", y, ok)
	}
	if _, ok := e.Var("z"); ok {
		t.Error("Var(z) reported a value for an unknown variable")
	}
}

func TestEvaluateParseError(t *testing.T) {
	err := Evaluate("print (", nil, &strings.Builder{})
	if err == nil || !strings.HasPrefix(err.Error(), "parse errors:") {
		t.Errorf("error = %v, want parse errors", err)
	}
}
