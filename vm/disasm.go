package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a readable listing for an instruction list, one
// instruction per line. Nested code operands (LDF bodies, SEL branches)
// are parenthesized and indented. The output is accepted verbatim by
// Assemble.
func Disassemble(program Cell) (string, error) {
	var sb strings.Builder
	if err := disasmList(&sb, program, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func disasmList(sb *strings.Builder, program Cell, depth int) error {
	if _, err := AsList(program); err != nil {
		return fmt.Errorf("disassemble: not an instruction list: %s", program)
	}
	indent := strings.Repeat("  ", depth)
	for cur := program; !IsNil(cur); {
		p, ok := cur.(*Pair)
		if !ok {
			return fmt.Errorf("disassemble: improper instruction list tail: %s", cur)
		}
		instr, ok := p.Head.(*Instr)
		if !ok {
			return fmt.Errorf("disassemble: non-instruction in code: %s", p.Head)
		}
		if err := disasmInstr(sb, instr, indent, depth); err != nil {
			return err
		}
		cur = p.Tail
	}
	return nil
}

func disasmInstr(sb *strings.Builder, instr *Instr, indent string, depth int) error {
	if !instr.Op.Valid() {
		return fmt.Errorf("disassemble: unknown opcode 0x%02X", byte(instr.Op))
	}
	if len(instr.Operands) != instr.Op.OperandCount() {
		return fmt.Errorf("disassemble: %s has %d operands, want %d",
			instr.Op, len(instr.Operands), instr.Op.OperandCount())
	}

	switch instr.Op {
	case OpLDC:
		a, err := AsAtom(instr.Operands[0])
		if err != nil {
			return fmt.Errorf("disassemble: LDC operand must be an atom, got %s", instr.Operands[0])
		}
		fmt.Fprintf(sb, "%sLDC %s\n", indent, a)

	case OpLD:
		coord, err := AsPair(instr.Operands[0])
		if err != nil {
			return fmt.Errorf("disassemble: LD operand must be a coordinate pair, got %s",
				instr.Operands[0])
		}
		depth, offset, err := coordIndices(coord)
		if err != nil {
			return fmt.Errorf("disassemble: bad LD coordinate %s", coord)
		}
		fmt.Fprintf(sb, "%sLD (%d . %d)\n", indent, depth, offset)

	case OpLDF:
		fmt.Fprintf(sb, "%sLDF (\n", indent)
		if err := disasmList(sb, instr.Operands[0], depth+1); err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s)\n", indent)

	case OpSEL:
		fmt.Fprintf(sb, "%sSEL (\n", indent)
		if err := disasmList(sb, instr.Operands[0], depth+1); err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s) (\n", indent)
		if err := disasmList(sb, instr.Operands[1], depth+1); err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s)\n", indent)

	default:
		fmt.Fprintf(sb, "%s%s\n", indent, instr.Op)
	}
	return nil
}
