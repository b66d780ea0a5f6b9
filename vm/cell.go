package vm

import (
	"fmt"
	"strings"
)

// Cell is the single value type the machine manipulates. The set of
// implementations is closed: Atom, *Pair, *Instr, *Frame, and the Nil
// sentinel. Lists are built from pairs and are never mutated in place;
// *Frame is the one sanctioned mutable cell, used only for recursive
// environment binding (DUM/RAP).
type Cell interface {
	fmt.Stringer

	// secd marks the closed set of cell implementations.
	secd()
}

// ---------------------------------------------------------------------------
// Nil
// ---------------------------------------------------------------------------

// nilCell is the empty list sentinel. It doubles as boolean false.
type nilCell struct{}

// Nil is the empty list. All list-shaped values terminate in Nil.
var Nil Cell = nilCell{}

func (nilCell) secd()          {}
func (nilCell) String() string { return "nil" }

// IsNil reports whether c is the empty list.
func IsNil(c Cell) bool {
	_, ok := c.(nilCell)
	return ok
}

// Truthy reports the machine's boolean reading of a cell:
// Nil is false, everything else is true.
func Truthy(c Cell) bool {
	return !IsNil(c)
}

// True and False are the canonical boolean results pushed by the
// predicate instructions. Any non-nil cell reads as true; these are
// just what the machine itself produces.
var (
	True  Cell = NewUInt(1)
	False Cell = Nil
)

// Bool returns the canonical cell for a Go boolean.
func Bool(b bool) Cell {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Pair
// ---------------------------------------------------------------------------

// Pair is a cons cell. Pairs are immutable after construction; list
// operations allocate fresh pairs and share structure freely.
type Pair struct {
	Head Cell
	Tail Cell
}

func (*Pair) secd() {}

// Cons allocates a fresh pair.
func Cons(head, tail Cell) *Pair {
	return &Pair{Head: head, Tail: tail}
}

// String renders the pair in list notation: "(1 2 3)" for proper lists,
// "(1 . 2)" when the spine ends in a non-list cell.
func (p *Pair) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(p.Head.String())
	cur := p.Tail
	for {
		switch t := cur.(type) {
		case nilCell:
			sb.WriteByte(')')
			return sb.String()
		case *Pair:
			sb.WriteByte(' ')
			sb.WriteString(t.Head.String())
			cur = t.Tail
		default:
			sb.WriteString(" . ")
			sb.WriteString(cur.String())
			sb.WriteByte(')')
			return sb.String()
		}
	}
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instr is a machine instruction: an opcode plus its immediate operands.
// Operands are themselves cells: a constant atom for LDC, a coordinate
// pair for LD, nested instruction lists for LDF and SEL.
type Instr struct {
	Op       Opcode
	Operands []Cell
}

func (*Instr) secd() {}

// NewInstr builds an instruction cell.
func NewInstr(op Opcode, operands ...Cell) *Instr {
	return &Instr{Op: op, Operands: operands}
}

func (i *Instr) String() string {
	if len(i.Operands) == 0 {
		return i.Op.String()
	}
	parts := make([]string, 0, len(i.Operands)+1)
	parts = append(parts, i.Op.String())
	for _, o := range i.Operands {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the placeholder environment frame pushed by DUM and filled
// in place by RAP. It is distinct from ordinary immutable frames (which
// are plain lists) so that the single mutation point in the data model
// stays contained in one type. A frame can be filled exactly once.
type Frame struct {
	values Cell
	filled bool
}

func (*Frame) secd() {}

// NewFrame creates an empty, unfilled placeholder frame.
func NewFrame() *Frame {
	return &Frame{values: Nil}
}

// Fill installs the frame's value list. Filling twice is a programming
// error in the bytecode (RAP without a fresh DUM) and is rejected.
func (f *Frame) Fill(values Cell) error {
	if f.filled {
		return fmt.Errorf("environment frame already filled")
	}
	if !IsList(values) {
		return fmt.Errorf("environment frame requires a list, got %s", values)
	}
	f.values = values
	f.filled = true
	return nil
}

// Filled reports whether RAP has populated the frame.
func (f *Frame) Filled() bool { return f.filled }

// Values returns the frame's bound value list; Nil until filled.
func (f *Frame) Values() Cell { return f.values }

func (f *Frame) String() string {
	if !f.filled {
		return "#frame()"
	}
	return "#frame" + frameBody(f.values)
}

func frameBody(values Cell) string {
	if IsNil(values) {
		return "()"
	}
	return values.String()
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// AsAtom returns c as an atom, or a TypeMismatch condition.
func AsAtom(c Cell) (Atom, error) {
	a, ok := c.(Atom)
	if !ok {
		return Atom{}, typeMismatch("atom", c)
	}
	return a, nil
}

// AsPair returns c as a pair, or a TypeMismatch condition.
func AsPair(c Cell) (*Pair, error) {
	p, ok := c.(*Pair)
	if !ok {
		return nil, typeMismatch("pair", c)
	}
	return p, nil
}

// AsInstr returns c as an instruction, or a TypeMismatch condition.
func AsInstr(c Cell) (*Instr, error) {
	i, ok := c.(*Instr)
	if !ok {
		return nil, typeMismatch("instruction", c)
	}
	return i, nil
}

// AsList returns c unchanged when it is list-shaped at the top level
// (Nil or a pair), or a TypeMismatch condition.
func AsList(c Cell) (Cell, error) {
	switch c.(type) {
	case nilCell, *Pair:
		return c, nil
	}
	return nil, typeMismatch("list", c)
}

// ---------------------------------------------------------------------------
// Structural equality
// ---------------------------------------------------------------------------

// Equal reports structural equality: pairs are equal iff heads and
// tails are recursively equal, atoms compare by value with numeric
// promotion, instructions by opcode and operands. Placeholder frames
// compare by identity, since each DUM produces a distinct binding site.
func Equal(a, b Cell) bool {
	for {
		switch x := a.(type) {
		case nilCell:
			return IsNil(b)
		case Atom:
			y, ok := b.(Atom)
			return ok && x.Eq(y)
		case *Pair:
			y, ok := b.(*Pair)
			if !ok || !Equal(x.Head, y.Head) {
				return false
			}
			// Iterate on the spine so long lists do not recurse.
			a, b = x.Tail, y.Tail
		case *Instr:
			y, ok := b.(*Instr)
			if !ok || x.Op != y.Op || len(x.Operands) != len(y.Operands) {
				return false
			}
			for i := range x.Operands {
				if !Equal(x.Operands[i], y.Operands[i]) {
					return false
				}
			}
			return true
		case *Frame:
			y, ok := b.(*Frame)
			return ok && x == y
		default:
			return false
		}
	}
}
