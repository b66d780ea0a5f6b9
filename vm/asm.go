package vm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Assemble parses the disassembler's textual notation into an
// instruction list. The notation is a debugging surface for the REPL
// and tests, not a source language: mnemonics with immediate operands,
// `(depth . offset)` coordinates after LD, parenthesized nested code
// after LDF and SEL, and atom literals (`42` signed, `42u` unsigned,
// `1.5` float, `'a'` character).
func Assemble(src string) (Cell, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &asmParser{toks: toks}
	program, err := p.program(false)
	if err != nil {
		return nil, err
	}
	if !p.done() {
		t := p.peek()
		return nil, fmt.Errorf("asm: line %d: unexpected %q after program", t.line, t.text)
	}
	return program, nil
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type asmToken struct {
	text string
	line int
}

func lex(src string) ([]asmToken, error) {
	var toks []asmToken
	line := 1
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\n':
			line++
			i++
		case unicode.IsSpace(r):
			i++
		case r == ';':
			// Comment to end of line.
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '(' || r == ')' || r == '.':
			// A dot starting a float literal belongs to the number;
			// a bare dot is the coordinate separator.
			if r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				start := i
				i++
				for i < len(runes) && isWordRune(runes[i]) {
					i++
				}
				toks = append(toks, asmToken{text: string(runes[start:i]), line: line})
				continue
			}
			toks = append(toks, asmToken{text: string(r), line: line})
			i++
		case r == '\'':
			text, next, err := lexChar(runes, i, line)
			if err != nil {
				return nil, err
			}
			toks = append(toks, asmToken{text: text, line: line})
			i = next
		default:
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("asm: line %d: unexpected character %q", line, r)
			}
			toks = append(toks, asmToken{text: string(runes[start:i]), line: line})
		}
	}
	return toks, nil
}

func isWordRune(r rune) bool {
	return !unicode.IsSpace(r) && r != '(' && r != ')' && r != '\'' && r != ';'
}

// lexChar scans a character literal starting at the opening quote and
// returns its token text (quotes included) and the index past it.
func lexChar(runes []rune, i, line int) (string, int, error) {
	start := i
	i++ // opening quote
	if i < len(runes) && runes[i] == '\\' {
		i += 2
	} else {
		i++
	}
	if i >= len(runes) || runes[i] != '\'' {
		return "", 0, fmt.Errorf("asm: line %d: unterminated character literal", line)
	}
	i++ // closing quote
	return string(runes[start:i]), i, nil
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type asmParser struct {
	toks []asmToken
	pos  int
}

func (p *asmParser) done() bool { return p.pos >= len(p.toks) }

func (p *asmParser) peek() asmToken {
	if p.done() {
		return asmToken{text: "end of input", line: p.lastLine()}
	}
	return p.toks[p.pos]
}

func (p *asmParser) next() (asmToken, error) {
	if p.done() {
		return asmToken{}, fmt.Errorf("asm: line %d: unexpected end of input", p.lastLine())
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *asmParser) expect(text string) (asmToken, error) {
	t, err := p.next()
	if err != nil {
		return t, err
	}
	if t.text != text {
		return t, fmt.Errorf("asm: line %d: expected %q, got %q", t.line, text, t.text)
	}
	return t, nil
}

func (p *asmParser) lastLine() int {
	if len(p.toks) == 0 {
		return 1
	}
	return p.toks[len(p.toks)-1].line
}

// program parses instructions until end of input, or until a closing
// paren when nested is true (the paren is consumed).
func (p *asmParser) program(nested bool) (Cell, error) {
	var instrs []Cell
	for {
		if p.done() {
			if nested {
				return nil, fmt.Errorf("asm: line %d: missing closing paren", p.lastLine())
			}
			return List(instrs...), nil
		}
		if p.peek().text == ")" {
			if !nested {
				t := p.peek()
				return nil, fmt.Errorf("asm: line %d: unmatched closing paren", t.line)
			}
			p.pos++
			return List(instrs...), nil
		}
		instr, err := p.instruction()
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
}

func (p *asmParser) instruction() (Cell, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	op, ok := OpcodeByName(strings.ToUpper(t.text))
	if !ok {
		return nil, fmt.Errorf("asm: line %d: unknown mnemonic %q", t.line, t.text)
	}

	switch op {
	case OpLDC:
		atom, err := p.atomLiteral()
		if err != nil {
			return nil, err
		}
		return NewInstr(op, atom), nil

	case OpLD:
		coord, err := p.coordinate()
		if err != nil {
			return nil, err
		}
		return NewInstr(op, coord), nil

	case OpLDF:
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		code, err := p.program(true)
		if err != nil {
			return nil, err
		}
		return NewInstr(op, code), nil

	case OpSEL:
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		thenBranch, err := p.program(true)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		elseBranch, err := p.program(true)
		if err != nil {
			return nil, err
		}
		return NewInstr(op, thenBranch, elseBranch), nil

	default:
		return NewInstr(op), nil
	}
}

// coordinate parses `( depth . offset )`.
func (p *asmParser) coordinate() (Cell, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	depth, err := p.intLiteral()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("."); err != nil {
		return nil, err
	}
	offset, err := p.intLiteral()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return Cons(depth, offset), nil
}

func (p *asmParser) intLiteral() (Cell, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	v, perr := strconv.ParseInt(t.text, 10, 64)
	if perr != nil || v < 0 {
		return nil, fmt.Errorf("asm: line %d: expected coordinate index, got %q", t.line, t.text)
	}
	return NewSInt(v), nil
}

func (p *asmParser) atomLiteral() (Cell, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	return parseAtom(t)
}

func parseAtom(t asmToken) (Cell, error) {
	text := t.text

	// Character literal.
	if strings.HasPrefix(text, "'") {
		return parseCharLiteral(t)
	}

	// Unsigned suffix.
	if strings.HasSuffix(text, "u") {
		v, err := strconv.ParseUint(strings.TrimSuffix(text, "u"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("asm: line %d: bad unsigned literal %q", t.line, text)
		}
		return NewUInt(v), nil
	}

	// Float when the literal carries a dot or exponent.
	if strings.ContainsAny(text, ".eE") {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("asm: line %d: bad float literal %q", t.line, text)
		}
		return NewFloat(v), nil
	}

	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("asm: line %d: bad atom literal %q", t.line, text)
	}
	return NewSInt(v), nil
}

func parseCharLiteral(t asmToken) (Cell, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(t.text, "'"), "'")
	if strings.HasPrefix(body, "\\") {
		switch body {
		case "\\n":
			return NewChar('\n'), nil
		case "\\t":
			return NewChar('\t'), nil
		case "\\'":
			return NewChar('\''), nil
		case "\\\\":
			return NewChar('\\'), nil
		}
		return nil, fmt.Errorf("asm: line %d: bad escape in character literal %s", t.line, t.text)
	}
	runes := []rune(body)
	if len(runes) != 1 {
		return nil, fmt.Errorf("asm: line %d: bad character literal %s", t.line, t.text)
	}
	return NewChar(runes[0]), nil
}
