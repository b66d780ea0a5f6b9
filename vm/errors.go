package vm

import (
	"errors"
	"fmt"
)

// Condition classifies the fatal conditions the machine can raise.
// Every condition ends the current execution; none are retried.
type Condition int

const (
	// StackUnderflow: an instruction popped more values than S held.
	StackUnderflow Condition = iota + 1
	// DumpUnderflow: RTN or JOIN with an exhausted dump.
	DumpUnderflow
	// TypeMismatch: a cell was not the variant an operation required.
	TypeMismatch
	// EnvironmentOutOfRange: an LD coordinate pointed outside E. Always
	// indicates a compiler/bytecode mismatch, never a runtime data error.
	EnvironmentOutOfRange
	// UnknownOpcode: an opcode value outside the known set.
	UnknownOpcode
	// DivisionByZero: DIV, FDIV or MOD with a zero divisor.
	DivisionByZero
	// NoResult: execution halted with an empty stack.
	NoResult
	// ExecutionAborted: the watchdog (step limit or context) stopped the
	// machine between instructions.
	ExecutionAborted
)

// String returns the condition name.
func (c Condition) String() string {
	switch c {
	case StackUnderflow:
		return "StackUnderflow"
	case DumpUnderflow:
		return "DumpUnderflow"
	case TypeMismatch:
		return "TypeMismatch"
	case EnvironmentOutOfRange:
		return "EnvironmentOutOfRange"
	case UnknownOpcode:
		return "UnknownOpcode"
	case DivisionByZero:
		return "DivisionByZero"
	case NoResult:
		return "NoResult"
	case ExecutionAborted:
		return "ExecutionAborted"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

// ConditionError is a fatal machine condition. Op is the instruction
// that raised it, when one was executing.
type ConditionError struct {
	Cond   Condition
	Op     Opcode
	Detail string
}

func (e *ConditionError) Error() string {
	msg := e.Cond.String()
	if e.Op.Valid() {
		msg += " in " + e.Op.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any ConditionError with the same condition, so callers can
// test conditions with errors.Is against a bare condition error.
func (e *ConditionError) Is(target error) bool {
	t, ok := target.(*ConditionError)
	return ok && t.Cond == e.Cond
}

// Err returns a bare error for the condition, usable as an errors.Is
// target.
func (c Condition) Err() error {
	return &ConditionError{Cond: c}
}

// IsCondition reports whether err carries the given condition.
func IsCondition(err error, c Condition) bool {
	var ce *ConditionError
	return errors.As(err, &ce) && ce.Cond == c
}

// ConditionOf extracts the condition from err, if it carries one.
func ConditionOf(err error) (Condition, bool) {
	var ce *ConditionError
	if errors.As(err, &ce) {
		return ce.Cond, true
	}
	return 0, false
}

func typeMismatch(want string, got Cell) error {
	return &ConditionError{
		Cond:   TypeMismatch,
		Detail: fmt.Sprintf("expected %s, found %s", want, got),
	}
}

func divisionByZero(a, b Atom) error {
	return &ConditionError{
		Cond:   DivisionByZero,
		Detail: fmt.Sprintf("%s / %s", a, b),
	}
}

// withOp attaches the current opcode to condition errors raised by
// helpers that do not know which instruction is executing.
func withOp(err error, op Opcode) error {
	var ce *ConditionError
	if errors.As(err, &ce) && !ce.Op.Valid() {
		ce.Op = op
	}
	return err
}
