package protocol

// AttributeFunc is called by a Reader with a cursor positioned on each attribute element it
// steps over. The cursor is a copy; the Reader skips the attribute's sub-tree afterwards
// whatever the function consumed.
type AttributeFunc func(attr *Reader) error

// AttributeReader consumes the key/value pairs of attribute elements into a caller supplied
// state value.
type AttributeReader[T any] struct {
	// Visit is called once per pair with the raw key and a cursor on the value. It reports
	// whether it acted on the pair; values it ignores are skipped.
	Visit func(state T, key []byte, value *Reader) (bool, error)
}

// Read consumes the attribute the reader is positioned on and returns how many pairs Visit acted
// on. The reader is left after the attribute.
func (a AttributeReader[T]) Read(state T, attr *Reader) (int, error) {
	if !attr.IsAttribute() {
		return 0, unexpectedf("expected an attribute, got %s", attr.prefix)
	}

	it, err := attr.AggregateChildren()
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		ok, err := it.Next()
		if err != nil {
			return count, err
		}

		if !ok {
			break
		}

		key := it.Value()
		if err := key.ReadNextScalar(); err != nil {
			return count, err
		}

		if ok, err = it.Next(); err != nil {
			return count, err
		} else if !ok {
			return count, protocolErrorf("attribute key without a value")
		}

		value := it.Value()
		if err := value.ReadNextRaw(); err != nil {
			return count, err
		}

		var acted bool
		err = key.withScalar(func(k []byte) (err error) {
			acted, err = a.Visit(state, k, &value)
			return err
		})
		if err != nil {
			return count, err
		}

		if acted {
			count++
		}
	}

	return count, it.MovePast(attr)
}

// Bind returns an AttributeFunc feeding every attribute into state.
func (a AttributeReader[T]) Bind(state T) AttributeFunc {
	return func(attr *Reader) error {
		_, err := a.Read(state, attr)
		return err
	}
}
