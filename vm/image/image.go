// Package image implements the binary program image: a compiled Program
// plus the hash of the source it was compiled from, encoded as canonical
// CBOR so equal programs always produce equal bytes.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/pcode/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies a program image.
const Magic = "PCBC"

// Version is the current image format version.
const Version uint8 = 1

var (
	ErrBadMagic   = errors.New("not a program image")
	ErrBadVersion = errors.New("unsupported image version")
)

// SourceHash is the SHA-256 of the source text an image was built from.
type SourceHash [32]byte

// HashSource returns the SourceHash of source.
func HashSource(source []byte) SourceHash {
	return sha256.Sum256(source)
}

func (h SourceHash) String() string {
	return hex.EncodeToString(h[:])
}

// Image is the on-disk form of a Program.
type Image struct {
	Magic        string        `cbor:"1,keyasint"`
	Version      uint8         `cbor:"2,keyasint"`
	Source       SourceHash    `cbor:"3,keyasint"`
	Instructions []Instruction `cbor:"4,keyasint"`
}

// Instruction is the wire form of vm.Instruction. Only the operand used
// by Op is set.
type Instruction struct {
	Op    uint8  `cbor:"1,keyasint"`
	Const *Value `cbor:"2,keyasint,omitempty"`
	Addr  int    `cbor:"3,keyasint,omitempty"`
	Label string `cbor:"4,keyasint,omitempty"`
	Kind  uint8  `cbor:"5,keyasint,omitempty"`
	Name  string `cbor:"6,keyasint,omitempty"`
}

// Value is the wire form of vm.Value.
type Value struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint"`
	Bool  bool    `cbor:"4,keyasint,omitempty"`
	Text  string  `cbor:"5,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal encodes p as an image tagged with the given source hash.
func Marshal(p *vm.Program, source SourceHash) ([]byte, error) {
	img := &Image{
		Magic:        Magic,
		Version:      Version,
		Source:       source,
		Instructions: make([]Instruction, len(p.Instructions)),
	}
	for i, in := range p.Instructions {
		w, err := fromInstruction(in)
		if err != nil {
			return nil, fmt.Errorf("image: instruction %04d: %w", i, err)
		}
		img.Instructions[i] = w
	}
	return encMode.Marshal(img)
}

// Unmarshal decodes an image and returns its program and source hash.
func Unmarshal(data []byte) (*vm.Program, SourceHash, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, SourceHash{}, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, SourceHash{}, ErrBadMagic
	}
	if img.Version != Version {
		return nil, SourceHash{}, fmt.Errorf("%w: %d", ErrBadVersion, img.Version)
	}

	b := vm.NewProgramBuilder()
	for i, w := range img.Instructions {
		in, err := w.toInstruction()
		if err != nil {
			return nil, SourceHash{}, fmt.Errorf("image: instruction %04d: %w", i, err)
		}
		b.Append(in)
	}
	return b.Build(), img.Source, nil
}

// Write encodes p to w.
func Write(w io.Writer, p *vm.Program, source SourceHash) error {
	data, err := Marshal(p, source)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Read decodes a whole image from r.
func Read(r io.Reader) (*vm.Program, SourceHash, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, SourceHash{}, fmt.Errorf("image: read: %w", err)
	}
	return Unmarshal(data)
}

// IsImage reports whether data starts like an encoded image. It is a cheap
// sniff used to tell images from bytecode text.
func IsImage(data []byte) bool {
	// Canonical encoding of a map with four small int keys.
	return len(data) > 2 && data[0] == 0xa4 && data[1] == 0x01
}

func fromInstruction(in vm.Instruction) (Instruction, error) {
	info, ok := in.Op.Info()
	if !ok {
		return Instruction{}, fmt.Errorf("unknown opcode %s", in.Op)
	}
	w := Instruction{Op: uint8(in.Op)}
	switch info.Operand {
	case vm.OperandValue:
		v, err := fromValue(in.Const)
		if err != nil {
			return Instruction{}, err
		}
		w.Const = &v
	case vm.OperandAddr:
		w.Addr = in.Addr
	case vm.OperandLabel:
		w.Label = in.Label
	case vm.OperandType:
		w.Kind = uint8(in.Kind)
	case vm.OperandName:
		w.Name = in.Name
	}
	return w, nil
}

func (w Instruction) toInstruction() (vm.Instruction, error) {
	op := vm.Opcode(w.Op)
	info, ok := op.Info()
	if !ok {
		return vm.Instruction{}, fmt.Errorf("unknown opcode 0x%02X", w.Op)
	}
	in := vm.Instruction{Op: op}
	switch info.Operand {
	case vm.OperandValue:
		if w.Const == nil {
			return vm.Instruction{}, fmt.Errorf("%s without constant", op)
		}
		v, err := w.Const.toValue()
		if err != nil {
			return vm.Instruction{}, err
		}
		in.Const = v
	case vm.OperandAddr:
		if w.Addr < 0 {
			return vm.Instruction{}, fmt.Errorf("negative address %d", w.Addr)
		}
		in.Addr = w.Addr
	case vm.OperandLabel:
		if w.Label == "" {
			return vm.Instruction{}, fmt.Errorf("%s without label", op)
		}
		in.Label = w.Label
	case vm.OperandType:
		in.Kind = vm.Kind(w.Kind)
		if _, ok := vm.ParseKind(in.Kind.String()); !ok {
			return vm.Instruction{}, fmt.Errorf("bad coercion target %d", w.Kind)
		}
	case vm.OperandName:
		in.Name = w.Name
	}
	return in, nil
}

func fromValue(v vm.Value) (Value, error) {
	w := Value{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindInt:
		w.Int = v.Int()
	case vm.KindFloat:
		w.Float = v.Float()
	case vm.KindBool:
		w.Bool = v.Bool()
	case vm.KindText:
		w.Text = v.Text()
	default:
		return Value{}, errors.New("invalid constant")
	}
	return w, nil
}

func (w Value) toValue() (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindInt:
		return vm.FromInt(w.Int), nil
	case vm.KindFloat:
		return vm.FromFloat(w.Float), nil
	case vm.KindBool:
		return vm.FromBool(w.Bool), nil
	case vm.KindText:
		return vm.FromText(w.Text), nil
	}
	return vm.Value{}, fmt.Errorf("bad constant kind %d", w.Kind)
}
