package vm

import (
	"strings"
	"testing"
)

func TestAssembleSimple(t *testing.T) {
	program, err := Assemble("NIL LDC 5 CONS HALT")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	want := List(
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(5)),
		NewInstr(OpCONS),
		NewInstr(OpHALT),
	)
	if !Equal(program, want) {
		t.Errorf("program = %s, want %s", program, want)
	}
}

func TestAssembleAtomLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want Cell
	}{
		{"LDC 42", NewSInt(42)},
		{"LDC -7", NewSInt(-7)},
		{"LDC 42u", NewUInt(42)},
		{"LDC 1.5", NewFloat(1.5)},
		{"LDC .5", NewFloat(0.5)},
		{"LDC 2e3", NewFloat(2000)},
		{"LDC 'a'", NewChar('a')},
		{"LDC '\\n'", NewChar('\n')},
		{"LDC '\\''", NewChar('\'')},
		{"LDC '\\\\'", NewChar('\\')},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			program, err := Assemble(tt.src)
			if err != nil {
				t.Fatalf("Assemble error: %v", err)
			}
			instr, err := AsInstr(mustHead(t, program))
			if err != nil {
				t.Fatalf("not an instruction: %v", err)
			}
			got := instr.Operands[0]
			a, err := AsAtom(got)
			if err != nil {
				t.Fatalf("operand not an atom: %s", got)
			}
			w := tt.want.(Atom)
			if a.Kind != w.Kind || !a.Eq(w) {
				t.Errorf("operand = %s (%s), want %s (%s)", a, a.Kind, w, w.Kind)
			}
		})
	}
}

func mustHead(t *testing.T, list Cell) Cell {
	t.Helper()
	head, _, ok := uncons(list)
	if !ok {
		t.Fatalf("empty program")
	}
	return head
}

func TestAssembleCoordinate(t *testing.T) {
	program, err := Assemble("LD (1 . 2)")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	want := List(NewInstr(OpLD, Cons(NewSInt(1), NewSInt(2))))
	if !Equal(program, want) {
		t.Errorf("program = %s, want %s", program, want)
	}
}

func TestAssembleNested(t *testing.T) {
	src := `
LDF (
  LD (0 . 0)
  RTN
)
NIL
LDC 3
CONS
AP
`
	program, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	want := List(
		NewInstr(OpLDF, List(
			NewInstr(OpLD, Cons(NewSInt(0), NewSInt(0))),
			NewInstr(OpRTN),
		)),
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(3)),
		NewInstr(OpCONS),
		NewInstr(OpAP),
	)
	if !Equal(program, want) {
		t.Errorf("program = %s, want %s", program, want)
	}
}

func TestAssembleSEL(t *testing.T) {
	program, err := Assemble("LDC 1 SEL ( LDC 10 JOIN ) ( LDC 20 JOIN )")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	want := List(
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpSEL,
			List(NewInstr(OpLDC, NewSInt(10)), NewInstr(OpJOIN)),
			List(NewInstr(OpLDC, NewSInt(20)), NewInstr(OpJOIN)),
		),
	)
	if !Equal(program, want) {
		t.Errorf("program = %s, want %s", program, want)
	}
}

func TestAssembleComments(t *testing.T) {
	program, err := Assemble("NIL ; push empty list\n; whole-line comment\nHALT")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	want := List(NewInstr(OpNIL), NewInstr(OpHALT))
	if !Equal(program, want) {
		t.Errorf("program = %s, want %s", program, want)
	}
}

func TestAssembleLowercaseMnemonics(t *testing.T) {
	program, err := Assemble("nil ldc 1 add")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if ListLen(program) != 3 {
		t.Errorf("program length = %d, want 3", ListLen(program))
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown mnemonic", "FROB"},
		{"missing LDC operand", "LDC"},
		{"bad atom literal", "LDC abc"},
		{"bad unsigned literal", "LDC xu"},
		{"negative coordinate", "LD (-1 . 0)"},
		{"float coordinate", "LD (1.5 . 0)"},
		{"coordinate missing dot", "LD (1 0)"},
		{"unterminated char", "LDC 'a"},
		{"bad escape", `LDC '\q'`},
		{"missing closing paren", "LDF ( NIL"},
		{"unmatched closing paren", "NIL )"},
		{"SEL missing else", "LDC 1 SEL ( JOIN )"},
		{"trailing garbage", "NIL %"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Assemble(tt.src); err == nil {
				t.Errorf("Assemble(%q) succeeded, want error", tt.src)
			}
		})
	}
}

func TestAssembleErrorReportsLine(t *testing.T) {
	_, err := Assemble("NIL\nNIL\nFROB")
	if err == nil {
		t.Fatal("Assemble succeeded, want error")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("error = %v, want line 3 mentioned", err)
	}
}

func TestAssembleEmpty(t *testing.T) {
	program, err := Assemble("")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if !IsNil(program) {
		t.Errorf("program = %s, want nil", program)
	}
}
