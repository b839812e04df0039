package protocol

import (
	"bytes"
	"io"
	"math"
	"math/big"
	"strconv"

	"github.com/luma/respwire/internal/bytesutil"
)

// scratchSize is the largest payload materialized on the stack.
const scratchSize = 128

// TryGetSpan returns the payload of the current inline scalar when it sits in one contiguous
// window, which is the common case. It returns false when the payload is split across segments
// or the element is null, streaming or not a scalar.
func (r *Reader) TryGetSpan() ([]byte, bool) {
	if !r.flags.has(flagInline) {
		return nil, false
	}

	if r.length > len(r.window)-r.index {
		return nil, false
	}

	return r.window[r.index : r.index+r.length], true
}

// ChunkIterator walks the payload of one scalar, a contiguous span at a time.
type ChunkIterator struct {
	owner     *Reader
	cur       Reader
	left      int
	streaming bool
	done      bool
}

// ScalarChunks returns an iterator over the payload of the current scalar. For inline scalars
// the spans come from successive windows and the reader does not move. For streaming scalars
// the iterator advances the reader across the continuation chunks, leaving it on the final
// zero length chunk once drained.
func (r *Reader) ScalarChunks() (ChunkIterator, error) {
	if err := r.DemandScalar(); err != nil {
		return ChunkIterator{}, err
	}

	it := ChunkIterator{owner: r}

	switch {
	case r.IsNull():
		it.done = true
	case r.IsStreaming() && r.prefix != PrefixStreamContinuation:
		it.streaming = true
	case r.flags.has(flagInline):
		it.cur = *r
		it.left = r.length
	default:
		it.done = true
	}

	return it, nil
}

// Next returns the next span of payload. The span aliases the underlying bytes.
func (it *ChunkIterator) Next() ([]byte, bool, error) {
	for {
		if it.left > 0 {
			if it.cur.index == len(it.cur.window) {
				it.cur.nextWindow()
			}

			n := len(it.cur.window) - it.cur.index
			if n > it.left {
				n = it.left
			}

			span := it.cur.window[it.cur.index : it.cur.index+n]
			it.cur.index += n
			it.left -= n

			return span, true, nil
		}

		if !it.streaming || it.done {
			it.done = true
			return nil, false, nil
		}

		if err := it.owner.readNextRaw(); err != nil {
			return nil, false, err
		}

		if it.owner.prefix != PrefixStreamContinuation {
			return nil, false, protocolErrorf("expected stream continuation, got %s", it.owner.prefix)
		}

		if it.owner.length == 0 {
			it.done = true
			return nil, false, nil
		}

		it.cur = *it.owner
		it.left = it.owner.length
	}
}

// AppendScalar appends the payload of the current scalar to dst.
func (r *Reader) AppendScalar(dst []byte) ([]byte, error) {
	if span, ok := r.TryGetSpan(); ok {
		return append(dst, span...), nil
	}

	it, err := r.ScalarChunks()
	if err != nil {
		return dst, err
	}

	for {
		span, ok, err := it.Next()
		if err != nil {
			return dst, err
		}

		if !ok {
			return dst, nil
		}

		dst = append(dst, span...)
	}
}

// CopyTo copies the payload of the current inline scalar into dst, failing with
// io.ErrShortBuffer when dst is too small.
func (r *Reader) CopyTo(dst []byte) (int, error) {
	if err := r.DemandScalar(); err != nil {
		return 0, err
	}

	if r.IsStreaming() {
		return 0, unexpectedf("cannot copy a streaming %s into a fixed buffer", r.prefix)
	}

	if r.IsNull() {
		return 0, nil
	}

	if len(dst) < r.length {
		return 0, io.ErrShortBuffer
	}

	it, err := r.ScalarChunks()
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		span, ok, err := it.Next()
		if err != nil || !ok {
			return n, err
		}

		n += copy(dst[n:], span)
	}
}

// withScalar calls fn with the payload of the current scalar as one contiguous slice. The slice
// is only valid during the call. A split payload is gathered into a stack buffer, or into a
// pooled one when it does not fit.
func (r *Reader) withScalar(fn func([]byte) error) error {
	if span, ok := r.TryGetSpan(); ok {
		return fn(span)
	}

	if r.IsInlineScalar() && r.length <= scratchSize {
		var scratch [scratchSize]byte

		n, err := r.CopyTo(scratch[:])
		if err != nil {
			return err
		}

		return fn(scratch[:n])
	}

	buf := bytesutil.GetBytes()
	defer bytesutil.PutBytes(buf)

	var err error
	if *buf, err = r.AppendScalar(*buf); err != nil {
		return err
	}

	return fn(*buf)
}

// ScalarBytes returns a copy of the payload of the current scalar, nil for null.
func (r *Reader) ScalarBytes() ([]byte, error) {
	if err := r.DemandScalar(); err != nil {
		return nil, err
	}

	if r.IsNull() {
		return nil, nil
	}

	dst := make([]byte, 0, maxInt(r.length, 0))
	return r.AppendScalar(dst)
}

// ScalarString returns the payload of the current scalar as a string, "" for null.
func (r *Reader) ScalarString() (string, error) {
	if err := r.DemandScalar(); err != nil {
		return "", err
	}

	var s string
	err := r.withScalar(func(b []byte) error {
		s = string(b)
		return nil
	})

	return s, err
}

// ScalarEquals reports whether the payload of the current scalar equals b.
func (r *Reader) ScalarEquals(b []byte) bool {
	if !r.IsScalar() || r.IsNull() {
		return false
	}

	if r.IsInlineScalar() && r.length != len(b) {
		return false
	}

	var eq bool
	c := *r
	err := c.withScalar(func(payload []byte) error {
		eq = bytes.Equal(payload, b)
		return nil
	})

	return err == nil && eq
}

// ScalarInt64 parses the payload of the current scalar as a base-10 integer.
func (r *Reader) ScalarInt64() (int64, error) {
	if err := r.DemandScalar(); err != nil {
		return 0, err
	}

	if err := r.DemandNotNull(); err != nil {
		return 0, err
	}

	var v int64
	err := r.withScalar(func(b []byte) (err error) {
		if v, err = bytesutil.ParseInt(b); err != nil {
			return unexpectedf("%s payload %q is not an integer", r.prefix, b)
		}
		return nil
	})

	return v, err
}

// ScalarFloat64 parses the payload of the current scalar as a double, accepting the RESP3
// spellings of infinity and NaN.
func (r *Reader) ScalarFloat64() (float64, error) {
	if err := r.DemandScalar(); err != nil {
		return 0, err
	}

	if err := r.DemandNotNull(); err != nil {
		return 0, err
	}

	var f float64
	err := r.withScalar(func(b []byte) (err error) {
		switch string(b) {
		case "inf", "+inf":
			f = math.Inf(1)
		case "-inf":
			f = math.Inf(-1)
		case "nan", "-nan":
			f = math.NaN()
		default:
			if f, err = strconv.ParseFloat(string(b), 64); err != nil {
				return unexpectedf("%s payload %q is not a double", r.prefix, b)
			}
		}
		return nil
	})

	return f, err
}

// ScalarBool parses a RESP3 boolean, or a RESP2 integer reply of 0 or 1.
func (r *Reader) ScalarBool() (bool, error) {
	if err := r.DemandScalar(); err != nil {
		return false, err
	}

	if err := r.DemandNotNull(); err != nil {
		return false, err
	}

	var v bool
	err := r.withScalar(func(b []byte) error {
		if len(b) == 1 {
			switch b[0] {
			case 't', '1':
				v = true
				return nil
			case 'f', '0':
				return nil
			}
		}
		return unexpectedf("%s payload %q is not a boolean", r.prefix, b)
	})

	return v, err
}

// ScalarBigInt parses the payload of the current scalar as an arbitrary precision integer.
func (r *Reader) ScalarBigInt() (*big.Int, error) {
	if err := r.DemandScalar(); err != nil {
		return nil, err
	}

	if err := r.DemandNotNull(); err != nil {
		return nil, err
	}

	var v *big.Int
	err := r.withScalar(func(b []byte) error {
		var ok bool
		if v, ok = new(big.Int).SetString(string(b), 10); !ok {
			return unexpectedf("%s payload %q is not an integer", r.prefix, b)
		}
		return nil
	})

	return v, err
}

// ScalarVerbatim splits a verbatim string into its three byte format and its text.
func (r *Reader) ScalarVerbatim() (format, text string, err error) {
	if err = r.DemandPrefix(PrefixVerbatimString); err != nil {
		return "", "", err
	}

	s, err := r.ScalarString()
	if err != nil {
		return "", "", err
	}

	if len(s) < 4 || s[3] != ':' {
		return "", "", protocolErrorf("verbatim string without a format")
	}

	return s[:3], s[4:], nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
