// secd runs SECD bytecode programs and hosts an assembler REPL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/secd/manifest"
	"github.com/chazu/secd/vm"
	"github.com/chazu/secd/vm/wire"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("secd.cli")

func main() {
	var verbose, debug bool
	flag.BoolVar(&verbose, "v", false, "Verbose diagnostic logging")
	flag.BoolVar(&verbose, "verbose", false, "Verbose diagnostic logging")
	flag.BoolVar(&debug, "d", false, "Dump machine registers on fatal errors")
	flag.BoolVar(&debug, "debug", false, "Dump machine registers on fatal errors")
	limit := flag.Uint64("limit", 0, "Abort after this many instructions (0 = no limit)")
	crashDump := flag.String("crash-dump", "", "Write a CBOR register snapshot to this file on fatal errors")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: secd [options] <file>\n")
		fmt.Fprintf(os.Stderr, "       secd [options] repl\n")
		fmt.Fprintf(os.Stderr, "       secd [options] run\n\n")
		fmt.Fprintf(os.Stderr, "Runs a bytecode file (.secd) or assembler source (.sasm).\n")
		fmt.Fprintf(os.Stderr, "'run' executes the program named by the nearest secd.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	verbosity := 0
	if verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	opts, mf := options(*limit)
	if mf != nil && mf.Run.Debug {
		debug = true
	}

	args := flag.Args()
	switch {
	case len(args) == 0 || (len(args) == 1 && args[0] == "repl"):
		runREPL(opts, debug)
	case len(args) == 1 && args[0] == "run":
		if mf == nil {
			fmt.Fprintln(os.Stderr, "Error: no secd.toml found")
			os.Exit(1)
		}
		runFile(mf.BytecodePath(), opts, debug, *crashDump)
	case len(args) == 1:
		runFile(args[0], opts, debug, *crashDump)
	default:
		flag.Usage()
		os.Exit(1)
	}
}

// options builds machine options from the nearest manifest, if any,
// with command-line overrides on top. A missing manifest is not an
// error; a malformed one is.
func options(limit uint64) (vm.Options, *manifest.Manifest) {
	var opts vm.Options

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	mf, err := manifest.FindAndLoad(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if mf == nil {
		return vm.Options{StepLimit: limit}, nil
	}

	opts, err = mf.MachineOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Infof("loaded manifest from %s", mf.Dir)

	if limit != 0 {
		opts.StepLimit = limit
	}
	return opts, mf
}

// runFile loads, executes, and prints the result of a single program.
func runFile(path string, opts vm.Options, debug bool, crashDump string) {
	program, err := loadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := vm.New(program, opts)
	result, err := m.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		snap := m.Snapshot(err)
		if debug {
			fmt.Fprint(os.Stderr, snap.Render())
		}
		if crashDump != "" {
			if werr := writeCrashDump(crashDump, snap); werr != nil {
				fmt.Fprintf(os.Stderr, "Error writing crash dump: %v\n", werr)
			}
		}
		os.Exit(1)
	}
	log.Infof("halted after %d steps", m.Steps())
	fmt.Printf("===> %s\n", result)
}

// loadProgram reads a program from disk. Files ending in .sasm are
// assembled from text; anything else is decoded as bytecode.
func loadProgram(path string) (vm.Cell, error) {
	if filepath.Ext(path) == ".sasm" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return vm.Assemble(string(src))
	}
	return vm.ReadFile(path)
}

func writeCrashDump(path string, snap *vm.Snapshot) error {
	data, err := wire.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runREPL reads assembler notation from stdin, one program per entry.
// A blank line executes the accumulated input; each entry runs on a
// fresh machine so a fatal condition only ends that entry.
func runREPL(opts vm.Options, debug bool) {
	fmt.Println("SECD REPL (type 'exit' to quit)")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Print(">> ")
		} else {
			fmt.Print(".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		// Keep reading while parens are open; a blank line or a
		// balanced entry executes.
		input := lineBuffer.String()
		if strings.TrimSpace(line) != "" && openParens(input) > 0 {
			continue
		}
		lineBuffer.Reset()

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		evalAndPrint(input, opts, debug)
	}

	fmt.Println()
}

// openParens counts unclosed parens, ignoring comments and char
// literals so '(' does not hold the REPL open.
func openParens(src string) int {
	depth := 0
	inComment := false
	inChar := false
	escaped := false
	for _, r := range src {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
			}
		case inChar:
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '\'' {
				inChar = false
			}
		case r == ';':
			inComment = true
		case r == '\'':
			inChar = true
		case r == '(':
			depth++
		case r == ')':
			depth--
		}
	}
	return depth
}

func evalAndPrint(input string, opts vm.Options, debug bool) {
	program, err := vm.Assemble(input)
	if err != nil {
		fmt.Printf("Assembly error: %v\n", err)
		return
	}

	m := vm.New(program, opts)
	result, err := m.Run(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		if debug {
			fmt.Print(m.Snapshot(err).Render())
		}
		return
	}
	fmt.Printf("===> %s\n", result)
}
