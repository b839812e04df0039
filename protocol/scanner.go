package protocol

// ScanState detects the end of one top-level RESP message across any number of partial reads,
// without materializing values.
//
// It keeps a running delta of how many more nodes the message owes: a scalar pays one node, a
// sized aggregate pays one and owes its children, and the message is complete when the delta
// reaches -1. Streaming aggregates have no child count, so while one is open the delta is
// frozen and only the matching terminator settles it. Attributes are metadata and are skipped
// whole.
//
// The zero value is ready to use for one message.
type ScanState struct {
	delta    int64
	depth    int
	inScalar bool
	prefix   Prefix
	total    int64
}

// IsComplete reports whether a whole message has been consumed.
func (s *ScanState) IsComplete() bool {
	return s.delta == -1
}

// TotalBytes returns how many bytes of the message have been consumed by all calls so far.
func (s *ScanState) TotalBytes() int64 {
	return s.total
}

// Prefix returns the prefix of the top-level element once it has been seen.
func (s *ScanState) Prefix() Prefix {
	return s.prefix
}

// Reset prepares the state for the next message.
func (s *ScanState) Reset() {
	*s = ScanState{}
}

// TryRead consumes whole nodes from r until the message is complete or r runs out of bytes.
// The reader must start where the previous call stopped, i.e. TotalBytes into the message. It
// returns true once the message is complete; r is then positioned at its last node and any
// following bytes belong to the next message.
func (s *ScanState) TryRead(r *Reader) (bool, error) {
	for s.delta >= 0 {
		tmp := *r

		ok, err := tryResult(tmp.decodeNext())
		if err != nil || !ok {
			return false, err
		}

		if tmp.IsAttribute() {
			ok, err := tryResult(tmp.skipChildren())
			if err != nil || !ok {
				return false, err
			}
		} else if err := s.apply(&tmp); err != nil {
			return false, err
		}

		s.total += tmp.BytesConsumed() - r.BytesConsumed()
		*r = tmp
	}

	return true, nil
}

// TryReadBytes is TryRead over the bytes of the message that follow TotalBytes.
func (s *ScanState) TryReadBytes(b []byte) (bool, error) {
	r := NewReader(b)
	return s.TryRead(&r)
}

func (s *ScanState) apply(r *Reader) error {
	if s.prefix == PrefixNone {
		s.prefix = r.prefix
	}

	switch {
	case r.prefix == PrefixStreamContinuation:
		if !s.inScalar {
			return protocolErrorf("stream continuation outside a streaming scalar")
		}

		// the zero length continuation settles a streaming scalar
		if r.length > 0 {
			break
		}

		s.inScalar = false
		if s.depth == 0 {
			s.delta--
		}

	case s.inScalar:
		return protocolErrorf("expected stream continuation, got %s", r.prefix)

	case r.prefix == PrefixStreamTerminator:
		if s.depth == 0 {
			return protocolErrorf("stream terminator without a streaming aggregate")
		}

		s.depth--
		if s.depth == 0 {
			s.delta--
		}

	case r.IsAggregate() && r.IsStreaming():
		s.depth++

	case r.IsScalar() && r.IsStreaming():
		s.inScalar = true

	case s.depth > 0:
		// frozen until the open streaming aggregate terminates

	case r.IsAggregate() && !r.IsNull():
		s.delta += int64(r.length) - 1

	default:
		s.delta--
	}

	return nil
}
