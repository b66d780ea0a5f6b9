package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func coord(depth, offset int64) Cell {
	return Cons(NewSInt(depth), NewSInt(offset))
}

func run(t *testing.T, opts Options, instrs ...Cell) (Cell, error) {
	t.Helper()
	return New(List(instrs...), opts).Run(context.Background())
}

func mustRun(t *testing.T, opts Options, instrs ...Cell) Cell {
	t.Helper()
	result, err := run(t, opts, instrs...)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	return result
}

func wantCondition(t *testing.T, err error, c Condition) {
	t.Helper()
	if !IsCondition(err, c) {
		t.Fatalf("error = %v, want %s", err, c)
	}
}

// ============================================================================
// Loads
// ============================================================================

func TestNIL(t *testing.T) {
	result := mustRun(t, Options{}, NewInstr(OpNIL))
	if !IsNil(result) {
		t.Errorf("result = %s, want nil", result)
	}
}

func TestLDC(t *testing.T) {
	result := mustRun(t, Options{}, NewInstr(OpLDC, NewSInt(42)))
	if !Equal(result, NewSInt(42)) {
		t.Errorf("result = %s, want 42", result)
	}
}

func TestLD(t *testing.T) {
	opts := Options{GlobalFrame: List(NewSInt(10), NewSInt(20))}

	result := mustRun(t, opts, NewInstr(OpLD, coord(0, 0)))
	if !Equal(result, NewSInt(10)) {
		t.Errorf("LD (0 . 0) = %s, want 10", result)
	}

	result = mustRun(t, opts, NewInstr(OpLD, coord(0, 1)))
	if !Equal(result, NewSInt(20)) {
		t.Errorf("LD (0 . 1) = %s, want 20", result)
	}
}

func TestLDAcrossFrames(t *testing.T) {
	// Global frame (99), inner frame (10 20) bound by AP. Inside the
	// callee, depth 0 is the argument frame and depth 1 the global.
	opts := Options{GlobalFrame: List(NewSInt(99))}
	callee := func(c Cell) []Cell {
		return []Cell{
			NewInstr(OpLDF, List(NewInstr(OpLD, c), NewInstr(OpRTN))),
			NewInstr(OpNIL),
			NewInstr(OpLDC, NewSInt(20)),
			NewInstr(OpCONS),
			NewInstr(OpLDC, NewSInt(10)),
			NewInstr(OpCONS),
			NewInstr(OpAP),
		}
	}

	tests := []struct {
		name  string
		coord Cell
		want  Cell
	}{
		{"innermost first", coord(0, 0), NewSInt(10)},
		{"innermost second", coord(0, 1), NewSInt(20)},
		{"outer frame", coord(1, 0), NewSInt(99)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustRun(t, opts, callee(tt.coord)...)
			if !Equal(result, tt.want) {
				t.Errorf("LD %s = %s, want %s", tt.coord, result, tt.want)
			}
		})
	}
}

func TestLDOutOfRange(t *testing.T) {
	opts := Options{GlobalFrame: List(NewSInt(10))}

	_, err := run(t, opts, NewInstr(OpLD, coord(0, 5)))
	wantCondition(t, err, EnvironmentOutOfRange)

	_, err = run(t, opts, NewInstr(OpLD, coord(3, 0)))
	wantCondition(t, err, EnvironmentOutOfRange)

	_, err = run(t, Options{}, NewInstr(OpLD, coord(0, 0)))
	wantCondition(t, err, EnvironmentOutOfRange)
}

func TestLDBadCoordinate(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpLD, NewSInt(0)))
	wantCondition(t, err, TypeMismatch)

	_, err = run(t, Options{}, NewInstr(OpLD, Cons(NewFloat(0), NewSInt(0))))
	wantCondition(t, err, TypeMismatch)

	_, err = run(t, Options{}, NewInstr(OpLD, Cons(NewSInt(-1), NewSInt(0))))
	wantCondition(t, err, TypeMismatch)
}

func TestLDF(t *testing.T) {
	body := List(NewInstr(OpLDC, NewSInt(1)), NewInstr(OpRTN))
	result := mustRun(t, Options{}, NewInstr(OpLDF, body))

	closure, err := AsPair(result)
	if err != nil {
		t.Fatalf("LDF result is not a pair: %s", result)
	}
	if !Equal(closure.Head, body) {
		t.Errorf("closure code = %s, want %s", closure.Head, body)
	}
	if !IsNil(closure.Tail) {
		t.Errorf("closure env = %s, want nil (empty E)", closure.Tail)
	}
}

// ============================================================================
// List operations
// ============================================================================

func TestCONS(t *testing.T) {
	// CONS pops the head first; building a list pushes the tail before
	// the head.
	result := mustRun(t, Options{},
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(2)),
		NewInstr(OpCONS),
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpCONS),
	)
	if !Equal(result, List(NewSInt(1), NewSInt(2))) {
		t.Errorf("result = %s, want (1 2)", result)
	}
}

func TestCARCDR(t *testing.T) {
	build := []Cell{
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(2)),
		NewInstr(OpCONS),
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpCONS),
	}

	result := mustRun(t, Options{}, append(build, NewInstr(OpCAR))...)
	if !Equal(result, NewSInt(1)) {
		t.Errorf("CAR = %s, want 1", result)
	}

	result = mustRun(t, Options{}, append(build, NewInstr(OpCDR))...)
	if !Equal(result, List(NewSInt(2))) {
		t.Errorf("CDR = %s, want (2)", result)
	}
}

func TestCARTypeMismatch(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpLDC, NewSInt(1)), NewInstr(OpCAR))
	wantCondition(t, err, TypeMismatch)

	_, err = run(t, Options{}, NewInstr(OpNIL), NewInstr(OpCDR))
	wantCondition(t, err, TypeMismatch)
}

func TestATOM(t *testing.T) {
	result := mustRun(t, Options{}, NewInstr(OpLDC, NewSInt(1)), NewInstr(OpATOM))
	if !Truthy(result) {
		t.Error("ATOM on atom = false")
	}

	result = mustRun(t, Options{}, NewInstr(OpNIL), NewInstr(OpATOM))
	if Truthy(result) {
		t.Error("ATOM on nil = true")
	}
}

func TestNULL(t *testing.T) {
	result := mustRun(t, Options{}, NewInstr(OpNIL), NewInstr(OpNULL))
	if !Truthy(result) {
		t.Error("NULL on nil = false")
	}

	result = mustRun(t, Options{}, NewInstr(OpLDC, NewSInt(0)), NewInstr(OpNULL))
	if Truthy(result) {
		t.Error("NULL on 0 = true")
	}
}

// ============================================================================
// Arithmetic and comparison
// ============================================================================

func TestArithmeticOperandOrder(t *testing.T) {
	// The top of the stack is the left operand: pushing 1 then 5 leaves
	// 5 on top, so SUB computes 5 - 1.
	result := mustRun(t, Options{},
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpLDC, NewSInt(5)),
		NewInstr(OpSUB),
	)
	if !Equal(result, NewSInt(4)) {
		t.Errorf("5 - 1 = %s, want 4", result)
	}
}

func TestArithmeticOpcodes(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b Cell // b pushed first, a on top
		want Cell
	}{
		{"add", OpADD, NewSInt(2), NewSInt(3), NewSInt(5)},
		{"sub", OpSUB, NewSInt(7), NewSInt(2), NewSInt(5)},
		{"mul", OpMUL, NewSInt(4), NewSInt(5), NewSInt(20)},
		{"div", OpDIV, NewSInt(7), NewSInt(2), NewSInt(3)},
		{"fdiv", OpFDIV, NewSInt(7), NewSInt(2), NewFloat(3.5)},
		{"mod", OpMOD, NewSInt(7), NewSInt(4), NewSInt(3)},
		{"add mixed float", OpADD, NewSInt(2), NewFloat(1.5), NewFloat(3.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustRun(t, Options{},
				NewInstr(OpLDC, tt.b),
				NewInstr(OpLDC, tt.a),
				NewInstr(tt.op),
			)
			if !Equal(result, tt.want) {
				t.Errorf("result = %s, want %s", result, tt.want)
			}
		})
	}
}

func TestDivisionByZeroCondition(t *testing.T) {
	_, err := run(t, Options{},
		NewInstr(OpLDC, NewSInt(0)),
		NewInstr(OpLDC, NewSInt(10)),
		NewInstr(OpDIV),
	)
	wantCondition(t, err, DivisionByZero)
}

func TestComparisonOpcodes(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b Cell // a on top, left operand
		want bool
	}{
		{"eq true", OpEQ, NewSInt(3), NewSInt(3), true},
		{"eq false", OpEQ, NewSInt(3), NewSInt(4), false},
		{"lt true", OpLT, NewSInt(2), NewSInt(3), true},
		{"lt false", OpLT, NewSInt(3), NewSInt(2), false},
		{"gt true", OpGT, NewSInt(3), NewSInt(2), true},
		{"gt false", OpGT, NewSInt(2), NewSInt(3), false},
		{"lte equal", OpLTE, NewSInt(3), NewSInt(3), true},
		{"gte equal", OpGTE, NewSInt(3), NewSInt(3), true},
		{"gte false", OpGTE, NewSInt(2), NewSInt(3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustRun(t, Options{},
				NewInstr(OpLDC, tt.b),
				NewInstr(OpLDC, tt.a),
				NewInstr(tt.op),
			)
			if Truthy(result) != tt.want {
				t.Errorf("result = %s, want truthy=%v", result, tt.want)
			}
		})
	}
}

func TestArithmeticTypeMismatch(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpNIL), NewInstr(OpNIL), NewInstr(OpADD))
	wantCondition(t, err, TypeMismatch)
}

// ============================================================================
// Branching
// ============================================================================

func TestSELJOIN(t *testing.T) {
	branch := func(v int64) Cell {
		return List(NewInstr(OpLDC, NewSInt(v)), NewInstr(OpJOIN))
	}
	sel := NewInstr(OpSEL, branch(1), branch(2))

	// Any non-nil test takes the then branch.
	result := mustRun(t, Options{}, NewInstr(OpLDC, NewSInt(0)), sel)
	if !Equal(result, NewSInt(1)) {
		t.Errorf("then branch result = %s, want 1", result)
	}

	result = mustRun(t, Options{}, NewInstr(OpNIL), sel)
	if !Equal(result, NewSInt(2)) {
		t.Errorf("else branch result = %s, want 2", result)
	}
}

func TestSELResumesAfterJoin(t *testing.T) {
	// Code after SEL runs once the taken branch joins.
	result := mustRun(t, Options{},
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpSEL,
			List(NewInstr(OpLDC, NewSInt(10)), NewInstr(OpJOIN)),
			List(NewInstr(OpLDC, NewSInt(20)), NewInstr(OpJOIN)),
		),
		NewInstr(OpLDC, NewSInt(5)),
		NewInstr(OpADD),
	)
	if !Equal(result, NewSInt(15)) {
		t.Errorf("result = %s, want 15", result)
	}
}

func TestJOINWithoutSEL(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpJOIN))
	wantCondition(t, err, DumpUnderflow)
}

// ============================================================================
// Call / return
// ============================================================================

func TestAPRTN(t *testing.T) {
	// (fn (x y) (+ x y)) applied to (3 4).
	body := List(
		NewInstr(OpLD, coord(0, 0)),
		NewInstr(OpLD, coord(0, 1)),
		NewInstr(OpADD),
		NewInstr(OpRTN),
	)
	result := mustRun(t, Options{},
		NewInstr(OpLDF, body),
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(4)),
		NewInstr(OpCONS),
		NewInstr(OpLDC, NewSInt(3)),
		NewInstr(OpCONS),
		NewInstr(OpAP),
		NewInstr(OpLDC, NewSInt(10)),
		NewInstr(OpADD),
	)
	if !Equal(result, NewSInt(17)) {
		t.Errorf("result = %s, want 17", result)
	}
}

func TestAPRestoresCallerStack(t *testing.T) {
	// A value pushed before the call must still be there after RTN.
	body := List(NewInstr(OpLDC, NewSInt(2)), NewInstr(OpRTN))
	result := mustRun(t, Options{},
		NewInstr(OpLDC, NewSInt(100)),
		NewInstr(OpLDF, body),
		NewInstr(OpNIL),
		NewInstr(OpAP),
		NewInstr(OpADD),
	)
	if !Equal(result, NewSInt(102)) {
		t.Errorf("result = %s, want 102", result)
	}
}

func TestAPPopOrder(t *testing.T) {
	// The argument list is on top with the closure beneath. With the
	// operands swapped the pop for the closure pair fails.
	body := List(NewInstr(OpRTN))
	_, err := run(t, Options{},
		NewInstr(OpNIL),
		NewInstr(OpLDF, body),
		NewInstr(OpAP),
	)
	wantCondition(t, err, TypeMismatch)
}

func TestRTNWithoutCall(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpLDC, NewSInt(1)), NewInstr(OpRTN))
	wantCondition(t, err, DumpUnderflow)
}

func TestRTNAfterSELIsRejected(t *testing.T) {
	// Inside a SEL branch the dump holds a join target; RTN must not
	// treat it as a call record.
	_, err := run(t, Options{},
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpSEL,
			List(NewInstr(OpLDC, NewSInt(1)), NewInstr(OpRTN)),
			List(NewInstr(OpJOIN)),
		),
	)
	wantCondition(t, err, TypeMismatch)
}

func TestCallReturnSymmetry(t *testing.T) {
	// After a balanced call the dump is empty again.
	body := List(NewInstr(OpLDC, NewSInt(1)), NewInstr(OpRTN))
	m := New(List(
		NewInstr(OpLDF, body),
		NewInstr(OpNIL),
		NewInstr(OpAP),
	), Options{})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	_, _, _, d := m.Registers()
	if !IsNil(d) {
		t.Errorf("dump after balanced call = %s, want nil", d)
	}
}

// ============================================================================
// DUM / RAP
// ============================================================================

func TestRAPRequiresPlaceholder(t *testing.T) {
	// RAP without DUM: the closure env head is not a placeholder frame.
	body := List(NewInstr(OpLDC, NewSInt(1)), NewInstr(OpRTN))
	_, err := run(t, Options{},
		NewInstr(OpLDF, body),
		NewInstr(OpNIL),
		NewInstr(OpRAP),
	)
	wantCondition(t, err, TypeMismatch)
}

func TestDUMPushesPlaceholder(t *testing.T) {
	m := New(List(NewInstr(OpDUM)), Options{})
	if err := m.step(); err != nil {
		t.Fatalf("step error: %v", err)
	}
	_, e, _, _ := m.Registers()
	f, ok := envHead(e)
	if !ok {
		t.Fatalf("E head after DUM = %s, want placeholder frame", e)
	}
	if f.Filled() {
		t.Error("placeholder frame already filled")
	}
}

// ============================================================================
// Machine control
// ============================================================================

func TestHALTStopsExecution(t *testing.T) {
	result := mustRun(t, Options{},
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpHALT),
		NewInstr(OpLDC, NewSInt(2)),
	)
	if !Equal(result, NewSInt(1)) {
		t.Errorf("result = %s, want 1 (instructions after HALT ran)", result)
	}
}

func TestNoResult(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpHALT))
	wantCondition(t, err, NoResult)

	_, err = New(Nil, Options{}).Run(context.Background())
	wantCondition(t, err, NoResult)
}

func TestUnknownOpcode(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(Opcode(0xFF)))
	wantCondition(t, err, UnknownOpcode)
}

func TestOperandCountMismatch(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpLDC))
	wantCondition(t, err, TypeMismatch)

	_, err = run(t, Options{}, NewInstr(OpNIL, NewSInt(1)))
	wantCondition(t, err, TypeMismatch)
}

func TestStackUnderflow(t *testing.T) {
	_, err := run(t, Options{}, NewInstr(OpADD))
	wantCondition(t, err, StackUnderflow)

	_, err = run(t, Options{}, NewInstr(OpLDC, NewSInt(1)), NewInstr(OpCONS))
	wantCondition(t, err, StackUnderflow)
}

func TestStepLimit(t *testing.T) {
	instrs := make([]Cell, 200)
	for i := range instrs {
		instrs[i] = NewInstr(OpNIL)
	}
	_, err := run(t, Options{StepLimit: 100}, instrs...)
	wantCondition(t, err, ExecutionAborted)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(List(NewInstr(OpNIL)), Options{}).Run(ctx)
	wantCondition(t, err, ExecutionAborted)
}

func TestStepsCounter(t *testing.T) {
	m := New(List(NewInstr(OpNIL), NewInstr(OpNIL), NewInstr(OpNIL)), Options{})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if m.Steps() != 3 {
		t.Errorf("Steps() = %d, want 3", m.Steps())
	}
}

func TestNonInstructionInControl(t *testing.T) {
	_, err := New(List(NewSInt(1)), Options{}).Run(context.Background())
	wantCondition(t, err, TypeMismatch)
}

// ============================================================================
// Tail calls
// ============================================================================

func TestTailCallReusesDumpEntry(t *testing.T) {
	// AP with a lone RTN remaining does not grow the dump.
	code := List(NewInstr(OpLDC, NewSInt(42)), NewInstr(OpRTN))
	closure := Cons(code, Nil)

	m := New(List(NewInstr(OpAP), NewInstr(OpRTN)), Options{})
	m.s = Cons(Nil, Cons(closure, Nil)) // args on top, closure beneath
	if err := m.step(); err != nil {
		t.Fatalf("step error: %v", err)
	}
	_, _, c, d := m.Registers()
	if !IsNil(d) {
		t.Errorf("dump after tail AP = %s, want nil", d)
	}
	if !Equal(c, code) {
		t.Errorf("control after tail AP = %s, want callee code", c)
	}
}

func TestTailCallDisabled(t *testing.T) {
	code := List(NewInstr(OpLDC, NewSInt(42)), NewInstr(OpRTN))
	closure := Cons(code, Nil)

	m := New(List(NewInstr(OpAP), NewInstr(OpRTN)), Options{DisableTailCalls: true})
	m.s = Cons(Nil, Cons(closure, Nil))
	if err := m.step(); err != nil {
		t.Fatalf("step error: %v", err)
	}
	_, _, _, d := m.Registers()
	if ListLen(d) != 1 {
		t.Errorf("dump length after non-tail AP = %d, want 1", ListLen(d))
	}
}

func TestTailCallBoundedDump(t *testing.T) {
	// f(n) = f(n + 1), forever. With the tail form (AP directly before
	// RTN) the dump must not grow; the step limit stops the loop.
	body := List(
		NewInstr(OpLD, coord(1, 0)), // f itself
		NewInstr(OpNIL),
		NewInstr(OpLDC, NewSInt(1)),
		NewInstr(OpLD, coord(0, 0)),
		NewInstr(OpADD),
		NewInstr(OpCONS),
		NewInstr(OpAP),
		NewInstr(OpRTN),
	)
	program := List(
		NewInstr(OpDUM),
		NewInstr(OpLDF, List(
			NewInstr(OpLD, coord(0, 0)),
			NewInstr(OpNIL),
			NewInstr(OpLDC, NewSInt(0)),
			NewInstr(OpCONS),
			NewInstr(OpAP),
			NewInstr(OpRTN),
		)),
		NewInstr(OpNIL),
		NewInstr(OpLDF, body),
		NewInstr(OpCONS),
		NewInstr(OpRAP),
	)

	m := New(program, Options{StepLimit: 10000})
	_, err := m.Run(context.Background())
	wantCondition(t, err, ExecutionAborted)

	_, _, _, d := m.Registers()
	if n := ListLen(d); n > 2 {
		t.Errorf("dump grew to %d entries under tail calls", n)
	}
}

// ============================================================================
// I/O
// ============================================================================

func TestREADCPushesChar(t *testing.T) {
	opts := Options{In: strings.NewReader("A"), Out: &bytes.Buffer{}}
	result := mustRun(t, opts, NewInstr(OpREADC))
	if !Equal(result, NewChar('A')) {
		t.Errorf("READC result = %s, want 'A'", result)
	}
}

func TestREADCAtEOF(t *testing.T) {
	opts := Options{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	_, err := run(t, opts, NewInstr(OpREADC))
	if err == nil {
		t.Error("READC at EOF succeeded, want error")
	}
}

func TestWRITEC(t *testing.T) {
	var out bytes.Buffer
	opts := Options{In: strings.NewReader(""), Out: &out}
	result := mustRun(t, opts,
		NewInstr(OpLDC, NewSInt(0)),
		NewInstr(OpLDC, NewChar('h')),
		NewInstr(OpWRITEC),
		NewInstr(OpLDC, NewChar('i')),
		NewInstr(OpWRITEC),
	)
	if out.String() != "hi" {
		t.Errorf("output = %q, want %q", out.String(), "hi")
	}
	if !Equal(result, NewSInt(0)) {
		t.Errorf("result = %s, want 0", result)
	}
}

func TestWRITECRequiresChar(t *testing.T) {
	opts := Options{Out: &bytes.Buffer{}}
	_, err := run(t, opts, NewInstr(OpLDC, NewSInt(65)), NewInstr(OpWRITEC))
	wantCondition(t, err, TypeMismatch)
}
