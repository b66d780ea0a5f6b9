package vm

import (
	"fmt"
	"math"
	"strconv"
)

// AtomKind identifies the primitive carried by an Atom.
type AtomKind uint8

const (
	// UIntAtom is an unsigned 64-bit integer.
	UIntAtom AtomKind = iota + 1
	// SIntAtom is a signed 64-bit integer.
	SIntAtom
	// FloatAtom is a 64-bit IEEE 754 float.
	FloatAtom
	// CharAtom is a Unicode code point.
	CharAtom
)

// String returns a human-readable name for the kind.
func (k AtomKind) String() string {
	switch k {
	case UIntAtom:
		return "uint"
	case SIntAtom:
		return "int"
	case FloatAtom:
		return "float"
	case CharAtom:
		return "char"
	default:
		return fmt.Sprintf("AtomKind(%d)", uint8(k))
	}
}

// Atom is a primitive machine value: unsigned int, signed int, float,
// or character. Atoms are immutable values and compare numerically,
// with mixed int/float operands promoting to float and mixed uint/int
// operands promoting to signed int.
type Atom struct {
	Kind AtomKind

	u uint64
	i int64
	f float64
	r rune
}

func (Atom) secd() {}

// NewUInt creates an unsigned integer atom.
func NewUInt(v uint64) Atom { return Atom{Kind: UIntAtom, u: v} }

// NewSInt creates a signed integer atom.
func NewSInt(v int64) Atom { return Atom{Kind: SIntAtom, i: v} }

// NewFloat creates a float atom.
func NewFloat(v float64) Atom { return Atom{Kind: FloatAtom, f: v} }

// NewChar creates a character atom.
func NewChar(v rune) Atom { return Atom{Kind: CharAtom, r: v} }

// UInt returns the unsigned integer value, or a TypeMismatch condition.
func (a Atom) UInt() (uint64, error) {
	if a.Kind != UIntAtom {
		return 0, typeMismatch("uint atom", a)
	}
	return a.u, nil
}

// SInt returns the signed integer value, or a TypeMismatch condition.
func (a Atom) SInt() (int64, error) {
	if a.Kind != SIntAtom {
		return 0, typeMismatch("int atom", a)
	}
	return a.i, nil
}

// Float returns the float value, or a TypeMismatch condition.
func (a Atom) Float() (float64, error) {
	if a.Kind != FloatAtom {
		return 0, typeMismatch("float atom", a)
	}
	return a.f, nil
}

// Char returns the character value, or a TypeMismatch condition.
func (a Atom) Char() (rune, error) {
	if a.Kind != CharAtom {
		return 0, typeMismatch("char atom", a)
	}
	return a.r, nil
}

// IsNumeric reports whether the atom participates in arithmetic as a
// number. Characters arithmetic runs over code points and counts too.
func (a Atom) IsNumeric() bool {
	switch a.Kind {
	case UIntAtom, SIntAtom, FloatAtom, CharAtom:
		return true
	}
	return false
}

// Index returns the atom as a non-negative Go int, used for
// environment coordinates. Floats and characters are rejected.
func (a Atom) Index() (int, error) {
	switch a.Kind {
	case UIntAtom:
		if a.u > math.MaxInt64 {
			return 0, typeMismatch("coordinate", a)
		}
		return int(a.u), nil
	case SIntAtom:
		if a.i < 0 {
			return 0, typeMismatch("non-negative coordinate", a)
		}
		return int(a.i), nil
	}
	return 0, typeMismatch("integer coordinate", a)
}

func (a Atom) String() string {
	switch a.Kind {
	case UIntAtom:
		return strconv.FormatUint(a.u, 10) + "u"
	case SIntAtom:
		return strconv.FormatInt(a.i, 10)
	case FloatAtom:
		s := strconv.FormatFloat(a.f, 'g', -1, 64)
		// Keep floats visually distinct from ints in listings.
		if !containsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case CharAtom:
		return "'" + string(a.r) + "'"
	default:
		return fmt.Sprintf("Atom(%d)", a.Kind)
	}
}

func containsAny(s, chars string) bool {
	for _, c := range s {
		for _, m := range chars {
			if c == m {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Promotion
// ---------------------------------------------------------------------------

// promote coerces a pair of atoms to a common kind:
//   - same kind: unchanged
//   - float with any int: both float
//   - uint with sint: both sint
//   - char with anything: both char (arithmetic over code points)
func promote(a, b Atom) (Atom, Atom) {
	if a.Kind == b.Kind {
		return a, b
	}
	if a.Kind == CharAtom || b.Kind == CharAtom {
		return a.toChar(), b.toChar()
	}
	if a.Kind == FloatAtom || b.Kind == FloatAtom {
		return a.toFloat(), b.toFloat()
	}
	// uint + sint
	return a.toSInt(), b.toSInt()
}

func (a Atom) toFloat() Atom {
	switch a.Kind {
	case UIntAtom:
		return NewFloat(float64(a.u))
	case SIntAtom:
		return NewFloat(float64(a.i))
	case CharAtom:
		return NewFloat(float64(a.r))
	}
	return a
}

func (a Atom) toSInt() Atom {
	switch a.Kind {
	case UIntAtom:
		return NewSInt(int64(a.u))
	case FloatAtom:
		return NewSInt(int64(a.f))
	case CharAtom:
		return NewSInt(int64(a.r))
	}
	return a
}

func (a Atom) toChar() Atom {
	switch a.Kind {
	case UIntAtom:
		return NewChar(rune(a.u))
	case SIntAtom:
		return NewChar(rune(a.i))
	case FloatAtom:
		return NewChar(rune(int64(a.f)))
	}
	return a
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Add returns a + b under the promotion rules.
func (a Atom) Add(b Atom) (Atom, error) {
	x, y := promote(a, b)
	switch x.Kind {
	case UIntAtom:
		return NewUInt(x.u + y.u), nil
	case SIntAtom:
		return NewSInt(x.i + y.i), nil
	case FloatAtom:
		return NewFloat(x.f + y.f), nil
	case CharAtom:
		return NewChar(x.r + y.r), nil
	}
	return Atom{}, typeMismatch("numeric atom", a)
}

// Sub returns a - b under the promotion rules.
func (a Atom) Sub(b Atom) (Atom, error) {
	x, y := promote(a, b)
	switch x.Kind {
	case UIntAtom:
		return NewUInt(x.u - y.u), nil
	case SIntAtom:
		return NewSInt(x.i - y.i), nil
	case FloatAtom:
		return NewFloat(x.f - y.f), nil
	case CharAtom:
		return NewChar(x.r - y.r), nil
	}
	return Atom{}, typeMismatch("numeric atom", a)
}

// Mul returns a * b under the promotion rules.
func (a Atom) Mul(b Atom) (Atom, error) {
	x, y := promote(a, b)
	switch x.Kind {
	case UIntAtom:
		return NewUInt(x.u * y.u), nil
	case SIntAtom:
		return NewSInt(x.i * y.i), nil
	case FloatAtom:
		return NewFloat(x.f * y.f), nil
	case CharAtom:
		return NewChar(x.r * y.r), nil
	}
	return Atom{}, typeMismatch("numeric atom", a)
}

// Div returns a / b under the promotion rules. Integer kinds divide as
// integers; division by zero of any kind is a DivisionByZero condition.
func (a Atom) Div(b Atom) (Atom, error) {
	x, y := promote(a, b)
	if y.isZero() {
		return Atom{}, divisionByZero(a, b)
	}
	switch x.Kind {
	case UIntAtom:
		return NewUInt(x.u / y.u), nil
	case SIntAtom:
		return NewSInt(x.i / y.i), nil
	case FloatAtom:
		return NewFloat(x.f / y.f), nil
	case CharAtom:
		return NewChar(x.r / y.r), nil
	}
	return Atom{}, typeMismatch("numeric atom", a)
}

// FDiv returns a / b as a float regardless of operand kinds.
// Division by zero is a DivisionByZero condition.
func (a Atom) FDiv(b Atom) (Atom, error) {
	x, y := a.toFloat(), b.toFloat()
	if y.f == 0 {
		return Atom{}, divisionByZero(a, b)
	}
	return NewFloat(x.f / y.f), nil
}

// Mod returns the remainder of a / b under the promotion rules.
// Division by zero is a DivisionByZero condition.
func (a Atom) Mod(b Atom) (Atom, error) {
	x, y := promote(a, b)
	if y.isZero() {
		return Atom{}, divisionByZero(a, b)
	}
	switch x.Kind {
	case UIntAtom:
		return NewUInt(x.u % y.u), nil
	case SIntAtom:
		return NewSInt(x.i % y.i), nil
	case FloatAtom:
		return NewFloat(math.Mod(x.f, y.f)), nil
	case CharAtom:
		return NewChar(x.r % y.r), nil
	}
	return Atom{}, typeMismatch("numeric atom", a)
}

func (a Atom) isZero() bool {
	switch a.Kind {
	case UIntAtom:
		return a.u == 0
	case SIntAtom:
		return a.i == 0
	case FloatAtom:
		return a.f == 0
	case CharAtom:
		return a.r == 0
	}
	return false
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Eq reports value equality under the promotion rules.
func (a Atom) Eq(b Atom) bool {
	x, y := promote(a, b)
	switch x.Kind {
	case UIntAtom:
		return x.u == y.u
	case SIntAtom:
		return x.i == y.i
	case FloatAtom:
		return x.f == y.f
	case CharAtom:
		return x.r == y.r
	}
	return false
}

// Less reports a < b under the promotion rules.
func (a Atom) Less(b Atom) bool {
	x, y := promote(a, b)
	switch x.Kind {
	case UIntAtom:
		return x.u < y.u
	case SIntAtom:
		return x.i < y.i
	case FloatAtom:
		return x.f < y.f
	case CharAtom:
		return x.r < y.r
	}
	return false
}

// Greater reports a > b under the promotion rules.
func (a Atom) Greater(b Atom) bool { return b.Less(a) }

// LessEq reports a <= b under the promotion rules.
func (a Atom) LessEq(b Atom) bool { return !b.Less(a) }

// GreaterEq reports a >= b under the promotion rules.
func (a Atom) GreaterEq(b Atom) bool { return !a.Less(b) }
