package vm

import (
	"fmt"
	"strings"
)

// Snapshot is a structured capture of the four registers, taken for
// diagnosis when a fatal condition stops the machine. It is purely
// observational: rendering a register never changes it. Each register
// is captured element by element in its display form, so a snapshot
// stays meaningful after the machine itself is gone.
type Snapshot struct {
	Stack   []string `cbor:"stack" json:"stack"`
	Env     []string `cbor:"env" json:"env"`
	Control []string `cbor:"control" json:"control"`
	Dump    []string `cbor:"dump" json:"dump"`
	Steps   uint64   `cbor:"steps" json:"steps"`
	Err     string   `cbor:"err,omitempty" json:"err,omitempty"`
}

// Snapshot captures the machine's current register state. err, when
// non-nil, records the condition that stopped execution.
func (m *Machine) Snapshot(err error) *Snapshot {
	snap := &Snapshot{
		Stack:   renderRegister(m.s),
		Env:     renderRegister(m.e),
		Control: renderRegister(m.c),
		Dump:    renderRegister(m.d),
		Steps:   m.steps,
	}
	if err != nil {
		snap.Err = err.Error()
	}
	return snap
}

// renderRegister renders each element of a register list. A register
// that is not list-shaped (which the machine never produces) is
// rendered as a single element rather than dropped.
func renderRegister(reg Cell) []string {
	if IsNil(reg) {
		return nil
	}
	if !IsList(reg) {
		return []string{reg.String()}
	}
	elems := ListSlice(reg)
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = e.String()
	}
	return out
}

// Render formats the snapshot for human reading, one register per
// section with the innermost element first.
func (s *Snapshot) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "machine state after %d steps", s.Steps)
	if s.Err != "" {
		fmt.Fprintf(&sb, " (%s)", s.Err)
	}
	sb.WriteByte('\n')
	renderSection(&sb, "S (stack)", s.Stack)
	renderSection(&sb, "E (environment)", s.Env)
	renderSection(&sb, "C (control)", s.Control)
	renderSection(&sb, "D (dump)", s.Dump)
	return sb.String()
}

func renderSection(sb *strings.Builder, name string, elems []string) {
	fmt.Fprintf(sb, "  %s:\n", name)
	if len(elems) == 0 {
		sb.WriteString("    <empty>\n")
		return
	}
	for i, e := range elems {
		fmt.Fprintf(sb, "    [%d] %s\n", i, e)
	}
}
