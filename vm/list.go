package vm

// List helpers. The machine's lists are immutable cons chains; these
// helpers only ever walk spines or allocate fresh pairs.

// List builds a proper list from the given cells.
func List(items ...Cell) Cell {
	out := Nil
	for i := len(items) - 1; i >= 0; i-- {
		out = Cons(items[i], out)
	}
	return out
}

// IsList reports whether c is list-shaped at the top level.
func IsList(c Cell) bool {
	switch c.(type) {
	case nilCell, *Pair:
		return true
	}
	return false
}

// ListLen returns the number of elements in a proper list. An improper
// spine (tail that is neither Nil nor a pair) counts up to the point it
// stops being a list.
func ListLen(c Cell) int {
	n := 0
	for {
		p, ok := c.(*Pair)
		if !ok {
			return n
		}
		n++
		c = p.Tail
	}
}

// ListIndex returns the i-th element (0-based) of a proper list, and
// whether the list was long enough.
func ListIndex(c Cell, i int) (Cell, bool) {
	for {
		p, ok := c.(*Pair)
		if !ok {
			return nil, false
		}
		if i == 0 {
			return p.Head, true
		}
		i--
		c = p.Tail
	}
}

// ListSlice collects the elements of a proper list into a Go slice.
func ListSlice(c Cell) []Cell {
	var out []Cell
	for {
		p, ok := c.(*Pair)
		if !ok {
			return out
		}
		out = append(out, p.Head)
		c = p.Tail
	}
}

// uncons splits a non-empty list into head and tail.
func uncons(c Cell) (Cell, Cell, bool) {
	p, ok := c.(*Pair)
	if !ok {
		return nil, nil, false
	}
	return p.Head, p.Tail, true
}
