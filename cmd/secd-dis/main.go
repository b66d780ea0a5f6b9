// secd-dis prints a bytecode file as assembler notation, or renders a
// CBOR crash dump written by secd -crash-dump.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/secd/vm"
	"github.com/chazu/secd/vm/wire"
)

func main() {
	snapshot := flag.Bool("snapshot", false, "Treat the input as a CBOR register snapshot")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: secd-dis [options] <file>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	if *snapshot {
		if err := renderSnapshot(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	program, err := vm.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	listing, err := vm.Disassemble(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(listing)
}

func renderSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := wire.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	fmt.Print(snap.Render())
	return nil
}
