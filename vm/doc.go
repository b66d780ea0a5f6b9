// Package vm implements an SECD virtual machine.
//
// This package contains:
//   - Tagged cell representation (atoms, pairs, instructions, nil)
//   - Stack/Environment/Control/Dump interpreter loop
//   - Versioned binary bytecode codec
//   - Assembler and disassembler for the textual notation
//   - Register snapshots for post-mortem inspection
package vm
