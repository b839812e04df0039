package protocol

// AggregateIterator walks the children of one aggregate, forward only and once.
type AggregateIterator struct {
	r         Reader
	remaining int
	streaming bool
	done      bool
	value     Reader
}

// AggregateChildren returns an iterator over the children of the current aggregate. The reader
// itself does not move; use MovePast to continue after the aggregate.
func (r *Reader) AggregateChildren() (AggregateIterator, error) {
	if err := r.DemandAggregate(); err != nil {
		return AggregateIterator{}, err
	}

	return AggregateIterator{
		r:         *r,
		remaining: r.length,
		streaming: r.IsStreaming(),
		done:      r.IsNull(),
	}, nil
}

// Next moves onto the next child. The reader returned by Value is positioned in front of the
// child, including any attributes that precede it, and clipped to the end of its sub-tree.
func (it *AggregateIterator) Next() (bool, error) {
	if it.done {
		return false, nil
	}

	if !it.streaming && it.remaining <= 0 {
		it.done = true
		return false, nil
	}

	start := it.r
	if start.trailing > 0 && !start.skip(int64(start.trailing)) {
		return false, ErrIncomplete
	}
	start.clearElement()

	child := start
	if err := child.decodeNextContentNode(); err != nil {
		return false, err
	}

	if child.prefix == PrefixStreamTerminator {
		if !it.streaming {
			return false, protocolErrorf("stream terminator inside a sized aggregate")
		}

		it.r = child
		it.done = true
		return false, nil
	}

	if err := child.skipChildren(); err != nil {
		return false, err
	}

	start.clip(child.BytesConsumed() - start.position())

	it.value = start
	it.r = child
	it.remaining--

	return true, nil
}

// Value returns a cursor over the child found by the last call to Next. Call ReadNext on it to
// move onto the child itself.
func (it *AggregateIterator) Value() Reader {
	return it.value
}

// MovePast drains the remaining children and positions r immediately after the aggregate.
func (it *AggregateIterator) MovePast(r *Reader) error {
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}

		if !ok {
			break
		}
	}

	*r = it.r
	return nil
}

// FillAll projects up to len(dst) children of the aggregate into dst and returns how many were
// filled. The project function receives each child with the cursor already on it.
func FillAll[T any](it *AggregateIterator, dst []T, project func(*Reader) (T, error)) (int, error) {
	for i := range dst {
		ok, err := it.Next()
		if err != nil {
			return i, err
		}

		if !ok {
			return i, nil
		}

		child := it.Value()
		if err := child.ReadNext(); err != nil {
			return i, err
		}

		if dst[i], err = project(&child); err != nil {
			return i, err
		}
	}

	return len(dst), nil
}

// ReadAggregate projects every child of the current aggregate and moves r past it. A null
// aggregate yields a nil slice.
func ReadAggregate[T any](r *Reader, project func(*Reader) (T, error)) ([]T, error) {
	it, err := r.AggregateChildren()
	if err != nil {
		return nil, err
	}

	var out []T
	if r.IsNull() {
		return out, nil
	}

	if !r.IsStreaming() {
		out = make([]T, r.length)
		n, err := FillAll(&it, out, project)
		if err != nil {
			return nil, err
		}
		out = out[:n]
	} else {
		var one [1]T
		for {
			n, err := FillAll(&it, one[:], project)
			if err != nil {
				return nil, err
			}

			if n == 0 {
				break
			}
			out = append(out, one[0])
		}
	}

	if err := it.MovePast(r); err != nil {
		return nil, err
	}

	return out, nil
}
