package vm

import "fmt"

// Opcode identifies a machine instruction.
// Opcodes are organized into ranges by category.
type Opcode byte

const (
	// ========================================================================
	// Loads (0x01-0x0F; 0x00 is reserved so the zero Opcode is invalid)
	// ========================================================================

	OpNIL Opcode = 0x01 // Push nil onto S
	OpLDC Opcode = 0x02 // Push constant operand onto S: LDC <atom>
	OpLD  Opcode = 0x03 // Push environment value onto S: LD <(depth . offset)>
	OpLDF Opcode = 0x04 // Push closure over current E: LDF <code>

	// ========================================================================
	// Call / return (0x10-0x1F)
	// ========================================================================

	OpAP  Opcode = 0x10 // Apply: pop args then closure, save (S,E,C) on D
	OpRTN Opcode = 0x11 // Return: pop result, restore (S,E,C) from D
	OpDUM Opcode = 0x12 // Push placeholder frame onto E
	OpRAP Opcode = 0x13 // Recursive apply: fill the placeholder frame in place

	// ========================================================================
	// Branching (0x20-0x2F)
	// ========================================================================

	OpSEL  Opcode = 0x20 // Pop test, branch: SEL <then> <else>; save C on D
	OpJOIN Opcode = 0x21 // Pop saved C from D, resume

	// ========================================================================
	// List operations (0x30-0x3F)
	// ========================================================================

	OpCAR  Opcode = 0x30 // Replace pair on S with its head
	OpCDR  Opcode = 0x31 // Replace pair on S with its tail
	OpCONS Opcode = 0x32 // Pop head then tail, push fresh pair
	OpATOM Opcode = 0x33 // Pop cell, push true iff it was an atom
	OpNULL Opcode = 0x34 // Pop cell, push true iff it was nil

	// ========================================================================
	// Arithmetic (0x40-0x4F)
	// ========================================================================

	OpADD  Opcode = 0x40 // Pop two atoms, push sum
	OpSUB  Opcode = 0x41 // Pop a then b, push a - b
	OpMUL  Opcode = 0x42 // Pop two atoms, push product
	OpDIV  Opcode = 0x43 // Pop a then b, push a / b (integer for int kinds)
	OpFDIV Opcode = 0x44 // Pop a then b, push a / b as float
	OpMOD  Opcode = 0x45 // Pop a then b, push a mod b

	// ========================================================================
	// Comparison (0x50-0x5F)
	// ========================================================================

	OpEQ  Opcode = 0x50 // Pop two atoms, push true iff equal
	OpLT  Opcode = 0x51 // Pop a then b, push true iff a < b
	OpGT  Opcode = 0x52 // Pop a then b, push true iff a > b
	OpLTE Opcode = 0x53 // Pop a then b, push true iff a <= b
	OpGTE Opcode = 0x54 // Pop a then b, push true iff a >= b

	// ========================================================================
	// I/O (0x60-0x6F)
	// ========================================================================

	OpREADC  Opcode = 0x60 // Read one character from input, push it
	OpWRITEC Opcode = 0x61 // Pop character, write it to output

	// ========================================================================
	// Machine control (0x70-0x7F)
	// ========================================================================

	OpHALT Opcode = 0x70 // Stop execution; result is top of S
)

// opcodeInfo carries the mnemonic and immediate operand count.
type opcodeInfo struct {
	name     string
	operands int
}

var opcodes = map[Opcode]opcodeInfo{
	OpNIL:    {"NIL", 0},
	OpLDC:    {"LDC", 1},
	OpLD:     {"LD", 1},
	OpLDF:    {"LDF", 1},
	OpAP:     {"AP", 0},
	OpRTN:    {"RTN", 0},
	OpDUM:    {"DUM", 0},
	OpRAP:    {"RAP", 0},
	OpSEL:    {"SEL", 2},
	OpJOIN:   {"JOIN", 0},
	OpCAR:    {"CAR", 0},
	OpCDR:    {"CDR", 0},
	OpCONS:   {"CONS", 0},
	OpATOM:   {"ATOM", 0},
	OpNULL:   {"NULL", 0},
	OpADD:    {"ADD", 0},
	OpSUB:    {"SUB", 0},
	OpMUL:    {"MUL", 0},
	OpDIV:    {"DIV", 0},
	OpFDIV:   {"FDIV", 0},
	OpMOD:    {"MOD", 0},
	OpEQ:     {"EQ", 0},
	OpLT:     {"LT", 0},
	OpGT:     {"GT", 0},
	OpLTE:    {"LTE", 0},
	OpGTE:    {"GTE", 0},
	OpREADC:  {"READC", 0},
	OpWRITEC: {"WRITEC", 0},
	OpHALT:   {"HALT", 0},
}

// opcodesByName is the reverse mapping used by the assembler.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodes))
	for op, info := range opcodes {
		m[info.name] = op
	}
	return m
}()

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodes[op]; ok {
		return info.name
	}
	return fmt.Sprintf("Opcode(0x%02X)", byte(op))
}

// Valid reports whether op is in the known instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodes[op]
	return ok
}

// OperandCount returns the number of immediate operands op carries.
// Unknown opcodes report zero.
func (op Opcode) OperandCount() int {
	return opcodes[op].operands
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}
