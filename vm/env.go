package vm

import "fmt"

// Environment addressing. An LD operand is a (depth . offset) pair of
// integer atoms computed by the compiler: depth selects a frame
// counting from the innermost (0), offset selects a value within that
// frame (0 = first bound value). Both out-of-range cases are fatal
// EnvironmentOutOfRange conditions, since they can only come from a
// compiler/bytecode mismatch.

// load resolves an LD coordinate against E and pushes the value.
func (m *Machine) load(operand Cell) error {
	coord, err := AsPair(operand)
	if err != nil {
		return withOp(typeMismatch("(depth . offset) coordinate", operand), OpLD)
	}
	depth, offset, err := coordIndices(coord)
	if err != nil {
		return err
	}
	value, err := resolve(m.e, depth, offset)
	if err != nil {
		return err
	}
	m.push(value)
	return nil
}

// coordIndices extracts the depth and offset from a coordinate pair.
func coordIndices(coord *Pair) (int, int, error) {
	depth, err := coordIndex(coord.Head)
	if err != nil {
		return 0, 0, err
	}
	offset, err := coordIndex(coord.Tail)
	if err != nil {
		return 0, 0, err
	}
	return depth, offset, nil
}

func coordIndex(c Cell) (int, error) {
	a, err := AsAtom(c)
	if err != nil {
		return 0, withOp(typeMismatch("integer coordinate", c), OpLD)
	}
	i, err := a.Index()
	return i, withOp(err, OpLD)
}

// resolve walks depth frames into the environment, then indexes offset
// into the selected frame's value list. Placeholder frames resolve
// through their current contents, so coordinates inside a letrec body
// see the bindings RAP installed.
func resolve(env Cell, depth, offset int) (Cell, error) {
	cur := env
	for i := 0; i < depth; i++ {
		p, ok := cur.(*Pair)
		if !ok {
			return nil, envOutOfRange(depth, offset, fmt.Sprintf("only %d frames", i))
		}
		cur = p.Tail
	}
	p, ok := cur.(*Pair)
	if !ok {
		return nil, envOutOfRange(depth, offset, fmt.Sprintf("only %d frames", ListLen(env)))
	}

	frame := p.Head
	if f, ok := frame.(*Frame); ok {
		frame = f.Values()
	}
	values, err := AsList(frame)
	if err != nil {
		return nil, withOp(typeMismatch("environment frame", p.Head), OpLD)
	}
	value, ok := ListIndex(values, offset)
	if !ok {
		return nil, envOutOfRange(depth, offset,
			fmt.Sprintf("frame has %d values", ListLen(values)))
	}
	return value, nil
}

func envOutOfRange(depth, offset int, detail string) error {
	return &ConditionError{
		Cond:   EnvironmentOutOfRange,
		Op:     OpLD,
		Detail: fmt.Sprintf("(%d . %d): %s", depth, offset, detail),
	}
}
