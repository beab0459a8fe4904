package vm

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestOpcodeTableComplete(t *testing.T) {
	for op, info := range opcodeTable {
		if op == OpLabel {
			continue
		}
		if info.Mnemonic == "" {
			t.Errorf("opcode 0x%02X has no mnemonic", byte(op))
		}
		back, ok := LookupMnemonic(info.Mnemonic)
		if !ok || back != op {
			t.Errorf("LookupMnemonic(%q) = %v, %v; want %v", info.Mnemonic, back, ok, op)
		}
	}
	if Opcode(0xFF).Valid() {
		t.Error("0xFF should not be a valid opcode")
	}
	if got := Opcode(0xFF).String(); got != "UNKNOWN_FF" {
		t.Errorf("Opcode(0xFF).String() = %q", got)
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		in   Instruction
		want string
	}{
		{Instruction{Op: OpLoadConst, Const: FromInt(3)}, "ldc 3"},
		{Instruction{Op: OpLoadConst, Const: FromText("a b")}, `ldc "a b"`},
		{Instruction{Op: OpLoadAddr, Addr: 2}, "lda #2"},
		{Instruction{Op: OpLoad, Addr: 0}, "lod #0"},
		{Instruction{Op: OpStore}, "sto"},
		{Instruction{Op: OpCoerce, Kind: KindFloat}, "to float"},
		{Instruction{Op: OpCall, Name: PowIntrinsic}, "call POW_FUNCTION"},
		{Instruction{Op: OpJumpFalse, Label: "L0"}, "fjp L0"},
		{Instruction{Op: OpLabel, Label: "L0"}, "L0:"},
		{Instruction{Op: OpHalt}, "stp"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestProgramBuilderLabels(t *testing.T) {
	b := NewProgramBuilder()
	l0 := b.NewLabel("L")
	l1 := b.NewLabel("LOR_TRUE_")
	if l0 != "L0" || l1 != "LOR_TRUE_1" {
		t.Fatalf("labels = %q, %q; want L0, LOR_TRUE_1", l0, l1)
	}
	b.EmitJump(OpJump, l0)
	b.Mark(l0)
	b.Emit(OpHalt)
	p := b.Build()
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
}

func TestResolveLabels(t *testing.T) {
	p := mustAssemble(t, `
pip END
ldc 1
wri
END:
stp
`)
	labels, err := ResolveLabels(p)
	if err != nil {
		t.Fatalf("ResolveLabels: %v", err)
	}
	if labels["END"] != 3 {
		t.Errorf("END resolved to %d, want 3", labels["END"])
	}

	again, err := ResolveLabels(p)
	if err != nil {
		t.Fatalf("second ResolveLabels: %v", err)
	}
	if !reflect.DeepEqual(labels, again) {
		t.Errorf("label resolution not idempotent: %v vs %v", labels, again)
	}
}

func TestResolveLabelsErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"unresolved", "pip NOWHERE\nstp\n", ErrUnresolvedLabel},
		{"duplicate", "A:\nA:\nstp\n", ErrDuplicateLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveLabels(mustAssemble(t, tt.src))
			var linkErr *LinkError
			if !errors.As(err, &linkErr) {
				t.Fatalf("error = %v, want *LinkError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMaxAddress(t *testing.T) {
	p := mustAssemble(t, "lda #4\nlod #7\nstp\n")
	if got := p.MaxAddress(); got != 7 {
		t.Errorf("MaxAddress() = %d, want 7", got)
	}
	empty := mustAssemble(t, "stp\n")
	if got := empty.MaxAddress(); got != -1 {
		t.Errorf("MaxAddress() = %d, want -1", got)
	}
}

func TestDisassemble(t *testing.T) {
	p := mustAssemble(t, "L0:\nldc 1\nstp\n")
	out := Disassemble(p)
	for _, want := range []string{"0000 L0:", "0001     ldc 1", "0002     stp"} {
		if !strings.Contains(out, want) {
			t.Errorf("Disassemble output missing %q:\n%s", want, out)
		}
	}
}
