package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Binary bytecode format. A stream is a fixed header followed by one
// pre-order encoded cell tree (the program's instruction list):
//
//	[magic:4 "SECD"] [version:2]
//	cell := [tag:1] payload
//	  nil    -> no payload
//	  uint   -> [value:8]
//	  int    -> [value:8]
//	  float  -> [ieee754 bits:8]
//	  char   -> [code point:4]
//	  pair   -> cell (head) cell (tail)
//	  instr  -> [opcode:1] [operand count:1] cell*
//
// All integers are big-endian. Decoding validates every tag and length
// against the remaining input and reports failures as a DecodeError
// carrying the byte offset; it never misreads silently.

// FormatVersion is the current bytecode format version. Streams with a
// different version are rejected rather than guessed at.
const FormatVersion uint16 = 1

// formatMagic identifies a bytecode stream.
var formatMagic = []byte{'S', 'E', 'C', 'D'}

// Cell type tags.
const (
	tagNil   byte = 0x00
	tagPair  byte = 0x01
	tagUInt  byte = 0x02
	tagSInt  byte = 0x03
	tagFloat byte = 0x04
	tagChar  byte = 0x05
	tagInstr byte = 0x06
)

// DecodeError reports a malformed bytecode stream. Offset is the byte
// position at which decoding failed.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode decode error at offset %d: %s", e.Offset, e.Msg)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeProgram serializes a program (an instruction list) to bytes.
// Placeholder frames and dump records are runtime-only and cannot be
// encoded.
func EncodeProgram(program Cell) ([]byte, error) {
	if !IsList(program) {
		return nil, fmt.Errorf("encode: program must be a list, got %s", program)
	}
	buf := make([]byte, 0, 6+64)
	buf = append(buf, formatMagic...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	return encodeCell(buf, program)
}

func encodeCell(buf []byte, c Cell) ([]byte, error) {
	switch v := c.(type) {
	case nilCell:
		return append(buf, tagNil), nil

	case Atom:
		return encodeAtom(buf, v)

	case *Pair:
		// The head recurses; the spine is encoded iteratively so long
		// lists do not consume host stack.
		var err error
		cur := Cell(v)
		for {
			p, ok := cur.(*Pair)
			if !ok {
				return encodeCell(buf, cur)
			}
			buf = append(buf, tagPair)
			buf, err = encodeCell(buf, p.Head)
			if err != nil {
				return nil, err
			}
			cur = p.Tail
		}

	case *Instr:
		if !v.Op.Valid() {
			return nil, fmt.Errorf("encode: unknown opcode 0x%02X", byte(v.Op))
		}
		if len(v.Operands) > math.MaxUint8 {
			return nil, fmt.Errorf("encode: %s has %d operands", v.Op, len(v.Operands))
		}
		buf = append(buf, tagInstr, byte(v.Op), byte(len(v.Operands)))
		var err error
		for _, operand := range v.Operands {
			buf, err = encodeCell(buf, operand)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("encode: %s is not serializable", c)
	}
}

func encodeAtom(buf []byte, a Atom) ([]byte, error) {
	switch a.Kind {
	case UIntAtom:
		buf = append(buf, tagUInt)
		return binary.BigEndian.AppendUint64(buf, a.u), nil
	case SIntAtom:
		buf = append(buf, tagSInt)
		return binary.BigEndian.AppendUint64(buf, uint64(a.i)), nil
	case FloatAtom:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(a.f)), nil
	case CharAtom:
		buf = append(buf, tagChar)
		return binary.BigEndian.AppendUint32(buf, uint32(a.r)), nil
	default:
		return nil, fmt.Errorf("encode: invalid atom kind %s", a.Kind)
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeProgram deserializes a bytecode stream produced by
// EncodeProgram. The round trip is structurally exact.
func DecodeProgram(data []byte) (Cell, error) {
	d := &decoder{data: data}
	if err := d.header(); err != nil {
		return nil, err
	}
	program, err := d.cell()
	if err != nil {
		return nil, err
	}
	if !IsList(program) {
		return nil, &DecodeError{Offset: 6, Msg: "program root is not a list"}
	}
	if d.pos != len(d.data) {
		return nil, &DecodeError{
			Offset: d.pos,
			Msg:    fmt.Sprintf("%d trailing bytes after program", len(d.data)-d.pos),
		}
	}
	return program, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) fail(format string, args ...any) error {
	return &DecodeError{Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) header() error {
	if len(d.data) < len(formatMagic)+2 {
		return d.fail("stream shorter than header (%d bytes)", len(d.data))
	}
	if string(d.data[:4]) != string(formatMagic) {
		return d.fail("bad magic %q, want %q", d.data[:4], formatMagic)
	}
	d.pos = 4
	version := binary.BigEndian.Uint16(d.data[4:6])
	if version != FormatVersion {
		return d.fail("unsupported format version %d (supported: %d)", version, FormatVersion)
	}
	d.pos = 6
	return nil
}

func (d *decoder) byte(what string) (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.fail("truncated reading %s", what)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uint64(what string) (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, d.fail("truncated reading %s", what)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) uint32(what string) (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.fail("truncated reading %s", what)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) cell() (Cell, error) {
	tag, err := d.byte("cell tag")
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
		return Nil, nil

	case tagUInt:
		v, err := d.uint64("uint atom")
		if err != nil {
			return nil, err
		}
		return NewUInt(v), nil

	case tagSInt:
		v, err := d.uint64("int atom")
		if err != nil {
			return nil, err
		}
		return NewSInt(int64(v)), nil

	case tagFloat:
		v, err := d.uint64("float atom")
		if err != nil {
			return nil, err
		}
		return NewFloat(math.Float64frombits(v)), nil

	case tagChar:
		v, err := d.uint32("char atom")
		if err != nil {
			return nil, err
		}
		return NewChar(rune(v)), nil

	case tagPair:
		return d.pairSpine()

	case tagInstr:
		return d.instr()

	default:
		d.pos-- // point at the offending tag
		return nil, d.fail("unknown cell tag 0x%02X", tag)
	}
}

// pairSpine decodes a chain of pairs iteratively, mirroring the
// iterative encoder.
func (d *decoder) pairSpine() (Cell, error) {
	var heads []Cell
	for {
		head, err := d.cell()
		if err != nil {
			return nil, err
		}
		heads = append(heads, head)

		tag, err := d.byte("pair tail")
		if err != nil {
			return nil, err
		}
		if tag == tagPair {
			continue
		}
		d.pos-- // re-read the tag as a full cell
		tail, err := d.cell()
		if err != nil {
			return nil, err
		}
		for i := len(heads) - 1; i >= 0; i-- {
			tail = Cons(heads[i], tail)
		}
		return tail, nil
	}
}

func (d *decoder) instr() (Cell, error) {
	opByte, err := d.byte("opcode")
	if err != nil {
		return nil, err
	}
	op := Opcode(opByte)
	if !op.Valid() {
		d.pos--
		return nil, d.fail("unknown opcode 0x%02X", opByte)
	}
	count, err := d.byte("operand count")
	if err != nil {
		return nil, err
	}
	if int(count) != op.OperandCount() {
		d.pos--
		return nil, d.fail("%s carries %d operands, want %d", op, count, op.OperandCount())
	}
	operands := make([]Cell, 0, count)
	for i := 0; i < int(count); i++ {
		operand, err := d.cell()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	return NewInstr(op, operands...), nil
}

// ---------------------------------------------------------------------------
// Stream and file convenience
// ---------------------------------------------------------------------------

// WriteProgram encodes a program to w.
func WriteProgram(w io.Writer, program Cell) error {
	data, err := EncodeProgram(program)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadProgram decodes a program from r, consuming it fully.
func ReadProgram(r io.Reader) (Cell, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeProgram(data)
}

// WriteFile encodes a program to a bytecode file.
func WriteFile(path string, program Cell) error {
	data, err := EncodeProgram(program)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile decodes a program from a bytecode file.
func ReadFile(path string) (Cell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeProgram(data)
}
