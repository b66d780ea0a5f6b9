package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("secd.vm")

// ---------------------------------------------------------------------------
// Dump entries
// ---------------------------------------------------------------------------

// dumpFrame is a saved (S, E, C) triple pushed onto the dump by AP,
// one per pending call. SEL pushes a bare control list instead; RTN and
// JOIN each require their own entry shape.
type dumpFrame struct {
	s, e, c Cell
}

func (*dumpFrame) secd() {}

func (d *dumpFrame) String() string {
	return fmt.Sprintf("#dump(s=%s e=%s c=%s)", d.s, d.e, d.c)
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Options configures a machine instance.
type Options struct {
	// StepLimit aborts execution after this many instructions.
	// Zero means no limit.
	StepLimit uint64

	// DisableTailCalls turns off the dump-entry reuse for calls in tail
	// position. Baseline SECD semantics do not require the optimization;
	// it is on by default so deep guest loops run in constant dump space.
	DisableTailCalls bool

	// GlobalFrame, when non-nil, pre-seeds the environment with one
	// outermost frame of builtin values (a proper list).
	GlobalFrame Cell

	// In and Out are the machine's character streams for READC and
	// WRITEC. They default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer
}

// Machine holds the four SECD registers and runs programs. A machine
// executes one program; registers are left at their final state after
// Run returns, which is what the trace facility snapshots.
type Machine struct {
	s Cell // stack: operands and results
	e Cell // environment: list of frames, innermost first
	c Cell // control: remaining instructions
	d Cell // dump: saved call triples and join targets

	in     *bufio.Reader
	out    io.Writer
	opts   Options
	steps  uint64
	halted bool
}

// New creates a machine with the given program as the initial control
// register. S and D start empty; E starts empty unless a global frame
// is configured.
func New(program Cell, opts Options) *Machine {
	env := Nil
	if opts.GlobalFrame != nil && IsList(opts.GlobalFrame) && !IsNil(opts.GlobalFrame) {
		env = Cons(opts.GlobalFrame, Nil)
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Machine{
		s:    Nil,
		e:    env,
		c:    program,
		d:    Nil,
		in:   bufio.NewReader(in),
		out:  out,
		opts: opts,
	}
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 { return m.steps }

// Registers returns the current register values in S, E, C, D order.
func (m *Machine) Registers() (s, e, c, d Cell) {
	return m.s, m.e, m.c, m.d
}

// Run executes the program until the control register is exhausted, a
// HALT executes, or a fatal condition occurs. The result is the top of
// the stack at halt. The loop is iterative: guest-level recursion
// consumes dump entries, never the host call stack.
//
// Cancellation is checked between instructions only; a cancelled
// context surfaces as an ExecutionAborted condition.
func (m *Machine) Run(ctx context.Context) (Cell, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Debugf("run: %d instructions, step limit %d", ListLen(m.c), m.opts.StepLimit)
	for {
		if err := ctx.Err(); err != nil {
			return nil, &ConditionError{Cond: ExecutionAborted, Detail: err.Error()}
		}
		if m.opts.StepLimit > 0 && m.steps >= m.opts.StepLimit {
			return nil, &ConditionError{
				Cond:   ExecutionAborted,
				Detail: fmt.Sprintf("step limit %d exceeded", m.opts.StepLimit),
			}
		}
		if IsNil(m.c) || m.halted {
			return m.result()
		}
		if err := m.step(); err != nil {
			log.Debugf("fatal after %d steps: %s", m.steps, err)
			return nil, err
		}
	}
}

// result returns the top of the stack at halt, or a NoResult condition
// when the program left nothing behind.
func (m *Machine) result() (Cell, error) {
	top, _, ok := uncons(m.s)
	if !ok {
		return nil, &ConditionError{Cond: NoResult, Detail: "halted with empty stack"}
	}
	log.Debugf("halt after %d steps: %s", m.steps, top)
	return top, nil
}

// step fetches the head of C and dispatches on its opcode.
func (m *Machine) step() error {
	head, tail, ok := uncons(m.c)
	if !ok {
		return typeMismatch("instruction list in control", m.c)
	}
	instr, ok := head.(*Instr)
	if !ok {
		return typeMismatch("instruction in control", head)
	}
	m.c = tail
	m.steps++

	op := instr.Op
	if !op.Valid() {
		return &ConditionError{
			Cond:   UnknownOpcode,
			Detail: fmt.Sprintf("opcode 0x%02X", byte(op)),
		}
	}
	if len(instr.Operands) != op.OperandCount() {
		return &ConditionError{
			Cond: TypeMismatch,
			Op:   op,
			Detail: fmt.Sprintf("%d operands, want %d",
				len(instr.Operands), op.OperandCount()),
		}
	}

	switch op {
	case OpNIL:
		m.push(Nil)
		return nil

	case OpLDC:
		m.push(instr.Operands[0])
		return nil

	case OpLD:
		return m.load(instr.Operands[0])

	case OpLDF:
		code, err := AsList(instr.Operands[0])
		if err != nil {
			return withOp(err, op)
		}
		m.push(Cons(code, m.e))
		return nil

	case OpAP:
		return m.apply(false)

	case OpRAP:
		return m.apply(true)

	case OpRTN:
		return m.ret()

	case OpDUM:
		m.e = Cons(NewFrame(), m.e)
		return nil

	case OpSEL:
		return m.sel(instr)

	case OpJOIN:
		return m.join()

	case OpCAR:
		p, err := m.popPair(op)
		if err != nil {
			return err
		}
		m.push(p.Head)
		return nil

	case OpCDR:
		p, err := m.popPair(op)
		if err != nil {
			return err
		}
		m.push(p.Tail)
		return nil

	case OpCONS:
		head, err := m.pop(op)
		if err != nil {
			return err
		}
		tail, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(Cons(head, tail))
		return nil

	case OpATOM:
		c, err := m.pop(op)
		if err != nil {
			return err
		}
		_, isAtom := c.(Atom)
		m.push(Bool(isAtom))
		return nil

	case OpNULL:
		c, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(Bool(IsNil(c)))
		return nil

	case OpADD:
		return m.arith(op, Atom.Add)
	case OpSUB:
		return m.arith(op, Atom.Sub)
	case OpMUL:
		return m.arith(op, Atom.Mul)
	case OpDIV:
		return m.arith(op, Atom.Div)
	case OpFDIV:
		return m.arith(op, Atom.FDiv)
	case OpMOD:
		return m.arith(op, Atom.Mod)

	case OpEQ:
		return m.compare(op, Atom.Eq)
	case OpLT:
		return m.compare(op, Atom.Less)
	case OpGT:
		return m.compare(op, Atom.Greater)
	case OpLTE:
		return m.compare(op, Atom.LessEq)
	case OpGTE:
		return m.compare(op, Atom.GreaterEq)

	case OpREADC:
		return m.readc()
	case OpWRITEC:
		return m.writec()

	case OpHALT:
		m.halted = true
		return nil
	}

	// Valid() above makes this unreachable; kept so a new opcode cannot
	// fall through silently.
	return &ConditionError{Cond: UnknownOpcode, Op: op}
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (m *Machine) push(c Cell) {
	m.s = Cons(c, m.s)
}

func (m *Machine) pop(op Opcode) (Cell, error) {
	head, tail, ok := uncons(m.s)
	if !ok {
		return nil, &ConditionError{Cond: StackUnderflow, Op: op}
	}
	m.s = tail
	return head, nil
}

func (m *Machine) popAtom(op Opcode) (Atom, error) {
	c, err := m.pop(op)
	if err != nil {
		return Atom{}, err
	}
	a, err := AsAtom(c)
	return a, withOp(err, op)
}

func (m *Machine) popPair(op Opcode) (*Pair, error) {
	c, err := m.pop(op)
	if err != nil {
		return nil, err
	}
	p, err := AsPair(c)
	return p, withOp(err, op)
}

func (m *Machine) popList(op Opcode) (Cell, error) {
	c, err := m.pop(op)
	if err != nil {
		return nil, err
	}
	l, err := AsList(c)
	return l, withOp(err, op)
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison dispatch
// ---------------------------------------------------------------------------

// arith pops the left operand first (it sits on top), then the right.
func (m *Machine) arith(op Opcode, f func(a, b Atom) (Atom, error)) error {
	a, err := m.popAtom(op)
	if err != nil {
		return err
	}
	b, err := m.popAtom(op)
	if err != nil {
		return err
	}
	r, err := f(a, b)
	if err != nil {
		return withOp(err, op)
	}
	m.push(r)
	return nil
}

func (m *Machine) compare(op Opcode, f func(a, b Atom) bool) error {
	a, err := m.popAtom(op)
	if err != nil {
		return err
	}
	b, err := m.popAtom(op)
	if err != nil {
		return err
	}
	m.push(Bool(f(a, b)))
	return nil
}

// ---------------------------------------------------------------------------
// Call / return protocol
// ---------------------------------------------------------------------------

// apply implements AP and RAP. The argument list is on top of the
// stack with the closure beneath it. For AP the argument list becomes a
// fresh innermost frame linked to the closure's captured environment.
// For RAP the closure's environment must start with the unfilled
// placeholder frame pushed by a prior DUM; the frame is filled in place
// so self-references inside the closure resolve through it.
func (m *Machine) apply(recursive bool) error {
	op := OpAP
	if recursive {
		op = OpRAP
	}

	args, err := m.popList(op)
	if err != nil {
		return err
	}
	closure, err := m.popPair(op)
	if err != nil {
		return err
	}
	code, err := AsList(closure.Head)
	if err != nil {
		return withOp(typeMismatch("closure code list", closure.Head), op)
	}
	cenv, err := AsList(closure.Tail)
	if err != nil {
		return withOp(typeMismatch("closure environment", closure.Tail), op)
	}

	var newEnv Cell
	savedEnv := m.e
	if recursive {
		frame, ok := envHead(cenv)
		if !ok || frame.Filled() {
			return &ConditionError{
				Cond:   TypeMismatch,
				Op:     op,
				Detail: "closure environment does not start with an unfilled placeholder frame",
			}
		}
		if err := frame.Fill(args); err != nil {
			return &ConditionError{Cond: TypeMismatch, Op: op, Detail: err.Error()}
		}
		// The dump restores the caller's environment without the
		// placeholder it pushed.
		if p, ok := m.e.(*Pair); ok {
			if f, ok := p.Head.(*Frame); ok && f == frame {
				savedEnv = p.Tail
			}
		}
		newEnv = cenv
	} else {
		newEnv = Cons(args, cenv)
	}

	if !m.tailPosition() {
		m.d = Cons(&dumpFrame{s: m.s, e: savedEnv, c: m.c}, m.d)
	}
	m.s = Nil
	m.e = newEnv
	m.c = code
	return nil
}

// envHead returns the placeholder frame at the head of an environment
// list, when there is one.
func envHead(env Cell) (*Frame, bool) {
	p, ok := env.(*Pair)
	if !ok {
		return nil, false
	}
	f, ok := p.Head.(*Frame)
	return f, ok
}

// tailPosition reports whether the remaining control is a lone RTN, in
// which case the pending dump entry can serve the callee directly.
func (m *Machine) tailPosition() bool {
	if m.opts.DisableTailCalls {
		return false
	}
	p, ok := m.c.(*Pair)
	if !ok || !IsNil(p.Tail) {
		return false
	}
	i, ok := p.Head.(*Instr)
	return ok && i.Op == OpRTN
}

// ret implements RTN: pop the result, restore the caller's registers
// from the dump, and push the result onto the restored stack.
func (m *Machine) ret() error {
	result, err := m.pop(OpRTN)
	if err != nil {
		return err
	}
	head, tail, ok := uncons(m.d)
	if !ok {
		return &ConditionError{Cond: DumpUnderflow, Op: OpRTN}
	}
	df, ok := head.(*dumpFrame)
	if !ok {
		return &ConditionError{
			Cond:   TypeMismatch,
			Op:     OpRTN,
			Detail: fmt.Sprintf("dump holds a join target, not a call record: %s", head),
		}
	}
	m.d = tail
	m.s = Cons(result, df.s)
	m.e = df.e
	m.c = df.c
	return nil
}

// ---------------------------------------------------------------------------
// Branching
// ---------------------------------------------------------------------------

// sel pops the test value, saves the remaining control on the dump as
// the join target, and installs the taken branch as the new control.
func (m *Machine) sel(instr *Instr) error {
	thenBranch, err := AsList(instr.Operands[0])
	if err != nil {
		return withOp(err, OpSEL)
	}
	elseBranch, err := AsList(instr.Operands[1])
	if err != nil {
		return withOp(err, OpSEL)
	}
	test, err := m.pop(OpSEL)
	if err != nil {
		return err
	}
	m.d = Cons(m.c, m.d)
	if Truthy(test) {
		m.c = thenBranch
	} else {
		m.c = elseBranch
	}
	return nil
}

// join pops the saved control from the dump and resumes it.
func (m *Machine) join() error {
	head, tail, ok := uncons(m.d)
	if !ok {
		return &ConditionError{Cond: DumpUnderflow, Op: OpJOIN}
	}
	if _, isCall := head.(*dumpFrame); isCall {
		return &ConditionError{
			Cond:   TypeMismatch,
			Op:     OpJOIN,
			Detail: "dump holds a call record, not a join target",
		}
	}
	saved, err := AsList(head)
	if err != nil {
		return withOp(err, OpJOIN)
	}
	m.d = tail
	m.c = saved
	return nil
}

// ---------------------------------------------------------------------------
// I/O
// ---------------------------------------------------------------------------

func (m *Machine) readc() error {
	r, _, err := m.in.ReadRune()
	if err != nil {
		return fmt.Errorf("READC: %w", err)
	}
	m.push(NewChar(r))
	return nil
}

func (m *Machine) writec() error {
	a, err := m.popAtom(OpWRITEC)
	if err != nil {
		return err
	}
	r, err := a.Char()
	if err != nil {
		return withOp(err, OpWRITEC)
	}
	if _, err := io.WriteString(m.out, string(r)); err != nil {
		return fmt.Errorf("WRITEC: %w", err)
	}
	return nil
}
