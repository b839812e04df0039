package protocol

import (
	"bytes"
	"errors"
	"math"
)

const (
	// maxLengthDigits bounds the decimal length token of bulk and aggregate headers.
	maxLengthDigits = 19

	// maxLineLength bounds the payload of CRLF terminated scalars such as simple strings.
	maxLineLength = 64 * 1024

	// maxLength is the largest payload length or child count accepted in a header.
	maxLength = math.MaxInt32
)

// Reader is a cursor over RESP encoded bytes. It never owns or copies the bytes it views and
// must not outlive them.
//
// At most one element is current at a time. Moving to the next element first steps over
// whatever is left of the current one (its inline payload and CRLF); the children of an
// aggregate are not skipped, the cursor simply moves onto the first child. Use SkipChildren or
// AggregateChildren to step over whole sub-trees.
//
// A Reader is a plain value. Copying it is cheap and yields an independent cursor over the same
// bytes, which is how every decode is made speculative: work happens on a copy that is only
// assigned back once the whole element is available.
type Reader struct {
	window   []byte   // current contiguous window
	index    int      // read offset into window
	passed   int64    // bytes of windows already left behind
	segments [][]byte // segments after window
	segLen   int64    // bytes of segments that still belong to this reader

	prefix   Prefix
	flags    flags
	length   int
	trailing int // bytes of the current element still ahead of the cursor

	attributes AttributeFunc
}

// NewReader returns a Reader over a single contiguous window.
func NewReader(b []byte) Reader {
	return Reader{window: b}
}

// NewSequenceReader returns a Reader over a chain of windows that are read as one stream.
func NewSequenceReader(segments [][]byte) Reader {
	if len(segments) == 0 {
		return Reader{}
	}

	var total int64
	for _, seg := range segments[1:] {
		total += int64(len(seg))
	}

	return Reader{
		window:   segments[0],
		segments: segments[1:],
		segLen:   total,
	}
}

// SetAttributeHandler installs fn to be called with every attribute element that the content
// reading methods step over. Without a handler attributes are discarded.
func (r *Reader) SetAttributeHandler(fn AttributeFunc) {
	r.attributes = fn
}

// Prefix returns the wire tag of the current element, or PrefixNone before the first read.
func (r *Reader) Prefix() Prefix { return r.prefix }

// Len returns the payload length of a scalar or the child count of an aggregate. Map and
// attribute elements report two children per pair. Null and streaming elements report -1.
func (r *Reader) Len() int { return r.length }

func (r *Reader) IsScalar() bool    { return r.flags.has(flagScalar) }
func (r *Reader) IsAggregate() bool { return r.flags.has(flagAggregate) }
func (r *Reader) IsNull() bool      { return r.flags.has(flagNull) }
func (r *Reader) IsAttribute() bool { return r.flags.has(flagAttribute) }
func (r *Reader) IsStreaming() bool { return r.flags.has(flagStreaming) }
func (r *Reader) IsError() bool     { return r.flags.has(flagError) }

// IsInlineScalar reports whether the current element is a non-null, non-streaming scalar whose
// payload directly follows its header.
func (r *Reader) IsInlineScalar() bool {
	return r.flags.has(flagInline) && !r.flags.has(flagStreaming)
}

// BytesConsumed returns the offset, from the start of the underlying source, just past the
// current element's own node. For aggregates this is where the first child starts.
func (r *Reader) BytesConsumed() int64 {
	return r.position() + int64(r.trailing)
}

// Remaining returns how many bytes follow the current element's own node.
func (r *Reader) Remaining() int64 {
	return r.available() - int64(r.trailing)
}

func (r *Reader) position() int64 {
	return r.passed + int64(r.index)
}

func (r *Reader) available() int64 {
	return int64(len(r.window)-r.index) + r.segLen
}

// nextWindow drops the exhausted window and moves onto the next non-empty segment.
func (r *Reader) nextWindow() bool {
	for r.index >= len(r.window) {
		if r.segLen <= 0 || len(r.segments) == 0 {
			return false
		}

		seg := r.segments[0]
		if int64(len(seg)) > r.segLen {
			seg = seg[:r.segLen]
		}

		r.passed += int64(len(r.window))
		r.segments = r.segments[1:]
		r.segLen -= int64(len(seg))
		r.window = seg
		r.index = 0
	}

	if r.segLen == 0 {
		r.segments = nil
	}

	return true
}

// skip moves forward n bytes. It does nothing and returns false if fewer are available.
func (r *Reader) skip(n int64) bool {
	if n > r.available() {
		return false
	}

	for n > 0 {
		if r.index == len(r.window) {
			r.nextWindow()
		}

		step := len(r.window) - r.index
		if int64(step) > n {
			step = int(n)
		}

		r.index += step
		n -= int64(step)
	}

	return true
}

// peek copies up to len(dst) bytes from the cursor position without moving it.
func (r *Reader) peek(dst []byte) int {
	n := copy(dst, r.window[r.index:])
	left := r.segLen

	for _, seg := range r.segments {
		if n == len(dst) || left <= 0 {
			break
		}

		if int64(len(seg)) > left {
			seg = seg[:left]
		}

		n += copy(dst[n:], seg)
		left -= int64(len(seg))
	}

	return n
}

// clip restricts the reader to the next n bytes.
func (r *Reader) clip(n int64) {
	inWindow := int64(len(r.window) - r.index)
	if n <= inWindow {
		r.window = r.window[:r.index+int(n)]
		r.segments = nil
		r.segLen = 0
		return
	}

	if rest := n - inWindow; rest < r.segLen {
		r.segLen = rest
	}
}

func (r *Reader) clearElement() {
	r.prefix = PrefixNone
	r.flags = 0
	r.length = 0
	r.trailing = 0
}

// TryReadNextRaw moves onto the next element exactly as it appears on the wire: attributes are
// returned as elements and error elements are not turned into errors. It returns false, leaving
// the reader untouched, when the next element is not completely available yet.
func (r *Reader) TryReadNextRaw() (bool, error) {
	return tryResult(r.readNextRaw())
}

// ReadNextRaw is TryReadNextRaw returning ErrIncomplete instead of false.
func (r *Reader) ReadNextRaw() error {
	return r.readNextRaw()
}

// TryReadNext moves onto the next content element. Attributes in front of it are handed to the
// attribute handler, if any, and otherwise discarded. An error element is consumed and returned
// as a *ServerError. It returns false, leaving the reader untouched, when the next element is
// not completely available yet.
func (r *Reader) TryReadNext() (bool, error) {
	return tryResult(r.readNext())
}

// ReadNext is TryReadNext returning ErrIncomplete instead of false.
func (r *Reader) ReadNext() error {
	return r.readNext()
}

// ReadNextScalar reads the next content element and fails unless it is a scalar.
func (r *Reader) ReadNextScalar() error {
	return r.readNextDemanding((*Reader).DemandScalar)
}

// ReadNextAggregate reads the next content element and fails unless it is an aggregate.
func (r *Reader) ReadNextAggregate() error {
	return r.readNextDemanding((*Reader).DemandAggregate)
}

// ReadNextPrefix reads the next content element and fails unless it has the prefix p.
func (r *Reader) ReadNextPrefix(p Prefix) error {
	return r.readNextDemanding(func(r *Reader) error { return r.DemandPrefix(p) })
}

func (r *Reader) readNextDemanding(demand func(*Reader) error) error {
	tmp := *r
	if err := tmp.readNext(); err != nil {
		return err
	}

	if err := demand(&tmp); err != nil {
		return err
	}

	*r = tmp
	return nil
}

func tryResult(err error) (bool, error) {
	if errors.Is(err, ErrIncomplete) {
		return false, nil
	}

	return err == nil, err
}

func (r *Reader) readNextRaw() error {
	tmp := *r
	if err := tmp.decodeNext(); err != nil {
		return err
	}

	*r = tmp
	return nil
}

func (r *Reader) readNext() error {
	tmp := *r

	var (
		attrStart Reader
		attrCount int
	)

	for {
		before := tmp
		if err := tmp.decodeNext(); err != nil {
			return err
		}

		if !tmp.IsAttribute() {
			break
		}

		if attrCount == 0 {
			attrStart = before
		}
		attrCount++

		if err := tmp.skipChildren(); err != nil {
			return err
		}
	}

	// A streamed error is gathered on the copy, so its chunks are all present before anything
	// is committed.
	var serverErr *ServerError
	if tmp.IsError() {
		p := tmp.prefix

		msg, err := tmp.ScalarString()
		if err != nil {
			return err
		}

		serverErr = &ServerError{Prefix: p, Message: msg}
	}

	// Handlers only run once the element after the attributes is known to be complete, so a
	// retry after ErrIncomplete never calls them twice.
	if attrCount > 0 && tmp.attributes != nil {
		if err := attrStart.forwardAttributes(attrCount); err != nil {
			return err
		}
	}

	*r = tmp

	if serverErr != nil {
		return serverErr
	}

	return nil
}

func (r *Reader) forwardAttributes(count int) error {
	for i := 0; i < count; i++ {
		if err := r.decodeNext(); err != nil {
			return err
		}

		attr := *r
		if err := r.attributes(&attr); err != nil {
			return err
		}

		if err := r.skipChildren(); err != nil {
			return err
		}
	}

	return nil
}

// decodeNext decodes the next node in place. Callers run it against a copy.
func (r *Reader) decodeNext() error {
	if r.trailing > 0 {
		if !r.skip(int64(r.trailing)) {
			return ErrIncomplete
		}
	}

	r.clearElement()

	if r.tryFastPath() {
		return nil
	}

	if r.index == len(r.window) && !r.nextWindow() {
		return ErrIncomplete
	}

	p := Prefix(r.window[r.index])

	switch p {
	case PrefixSimpleString, PrefixSimpleError, PrefixInteger,
		PrefixBoolean, PrefixDouble, PrefixBigInteger:
		r.index++

		n, err := r.lineLength()
		if err != nil {
			return err
		}

		r.setInline(p, n)

	case PrefixBulkString, PrefixBulkError, PrefixVerbatimString:
		r.index++

		n, kind, err := r.readLengthToken()
		if err != nil {
			return err
		}

		switch kind {
		case tokenNull:
			r.prefix, r.flags, r.length = p, flagScalar|flagNull, -1
		case tokenStreaming:
			r.prefix, r.flags, r.length = p, flagScalar|flagStreaming, -1
			if p == PrefixBulkError {
				r.flags |= flagError
			}
		default:
			if err := r.requirePayload(n); err != nil {
				return err
			}

			r.setInline(p, n)
		}

	case PrefixArray, PrefixSet, PrefixPush, PrefixMap, PrefixAttribute:
		r.index++

		n, kind, err := r.readLengthToken()
		if err != nil {
			return err
		}

		r.prefix, r.flags = p, flagAggregate
		if p == PrefixAttribute {
			r.flags |= flagAttribute
		}

		switch kind {
		case tokenNull:
			r.flags |= flagNull
			r.length = -1
		case tokenStreaming:
			r.flags |= flagStreaming
			r.length = -1
		default:
			if p == PrefixMap || p == PrefixAttribute {
				n *= 2
			}
			r.length = n
		}

	case PrefixStreamContinuation:
		r.index++

		n, kind, err := r.readLengthToken()
		if err != nil {
			return err
		}

		if kind != tokenLength {
			return protocolErrorf("stream continuation without a length")
		}

		if n == 0 {
			r.prefix, r.flags, r.length = p, flagScalar, 0
			break
		}

		if err := r.requirePayload(n); err != nil {
			return err
		}

		r.setInline(p, n)
		r.flags |= flagStreaming

	case PrefixNull, PrefixStreamTerminator:
		var sentinel [3]byte
		if n := r.peek(sentinel[:]); n < 3 {
			return ErrIncomplete
		}

		if sentinel[1] != '\r' || sentinel[2] != '\n' {
			return protocolErrorf("malformed %s element", p)
		}

		r.skip(3)
		r.prefix = p

		if p == PrefixNull {
			r.flags, r.length = flagScalar|flagNull, -1
		}

	default:
		return protocolErrorf("unknown prefix %q", byte(p))
	}

	if r.trailing > 0 && r.index == len(r.window) {
		r.nextWindow()
	}

	return nil
}

func (r *Reader) setInline(p Prefix, n int) {
	r.prefix = p
	r.flags = flagScalar | flagInline
	r.length = n
	r.trailing = n + 2

	if p == PrefixSimpleError || p == PrefixBulkError {
		r.flags |= flagError
	}
}

// requirePayload checks that n payload bytes and their CRLF are available.
func (r *Reader) requirePayload(n int) error {
	if r.available() < int64(n)+2 {
		return ErrIncomplete
	}

	var crlf [2]byte
	end := *r
	end.skip(int64(n))
	end.peek(crlf[:])

	if crlf[0] != '\r' || crlf[1] != '\n' {
		return protocolErrorf("payload of %d bytes not followed by CRLF", n)
	}

	return nil
}

// lineLength returns the distance from the cursor to the next CRLF.
func (r *Reader) lineLength() (int, error) {
	c := *r
	n := 0

	for {
		if c.index == len(c.window) && !c.nextWindow() {
			return 0, ErrIncomplete
		}

		w := c.window[c.index:]
		i := bytes.IndexByte(w, '\r')
		if i < 0 {
			n += len(w)
			c.index = len(c.window)

			if n > maxLineLength {
				return 0, protocolErrorf("line exceeds %d bytes", maxLineLength)
			}

			continue
		}

		n += i
		if n > maxLineLength {
			return 0, protocolErrorf("line exceeds %d bytes", maxLineLength)
		}

		c.index += i + 1
		if c.index == len(c.window) && !c.nextWindow() {
			return 0, ErrIncomplete
		}

		if c.window[c.index] != '\n' {
			return 0, protocolErrorf("CR not followed by LF")
		}

		return n, nil
	}
}

type tokenKind uint8

const (
	tokenLength tokenKind = iota
	tokenNull
	tokenStreaming
)

// readLengthToken parses the decimal length, "-1" or "?" that follows a bulk or aggregate
// prefix, including its CRLF.
func (r *Reader) readLengthToken() (int, tokenKind, error) {
	var buf [maxLengthDigits + 3]byte

	n := r.peek(buf[:])
	if n == 0 {
		return 0, tokenLength, ErrIncomplete
	}

	switch buf[0] {
	case '?':
		if n < 3 {
			return 0, tokenStreaming, ErrIncomplete
		}

		if buf[1] != '\r' || buf[2] != '\n' {
			return 0, tokenStreaming, protocolErrorf("malformed streaming length")
		}

		r.skip(3)
		return -1, tokenStreaming, nil

	case '-':
		if n >= 2 && buf[1] != '1' {
			return 0, tokenNull, protocolErrorf("negative length")
		}

		if n < 4 {
			return 0, tokenNull, ErrIncomplete
		}

		if buf[2] != '\r' || buf[3] != '\n' {
			return 0, tokenNull, protocolErrorf("negative length")
		}

		r.skip(4)
		return -1, tokenNull, nil
	}

	var (
		v uint64
		i int
	)

	for ; i < n && buf[i] >= '0' && buf[i] <= '9'; i++ {
		if i == maxLengthDigits {
			return 0, tokenLength, protocolErrorf("length exceeds %d digits", maxLengthDigits)
		}

		v = v*10 + uint64(buf[i]-'0')
	}

	switch {
	case i == 0:
		return 0, tokenLength, protocolErrorf("invalid length %q", buf[0])
	case i < n && buf[i] != '\r', i+1 < n && buf[i+1] != '\n':
		return 0, tokenLength, protocolErrorf("length not terminated by CRLF")
	case i+2 > n:
		return 0, tokenLength, ErrIncomplete
	case v > maxLength:
		return 0, tokenLength, protocolErrorf("length %d out of range", v)
	}

	r.skip(int64(i + 2))
	return int(v), tokenLength, nil
}

// SkipChildren steps over the whole sub-tree of the current element, leaving the reader on its
// last node. It does nothing for scalars other than streaming scalar headers, whose
// continuation chunks it consumes.
func (r *Reader) SkipChildren() error {
	tmp := *r
	if err := tmp.skipChildren(); err != nil {
		return err
	}

	*r = tmp
	return nil
}

// TrySkipChildren is SkipChildren returning false instead of ErrIncomplete.
func (r *Reader) TrySkipChildren() (bool, error) {
	return tryResult(r.SkipChildren())
}

func (r *Reader) skipChildren() error {
	switch {
	case r.IsNull():
		return nil

	case r.IsAggregate() && r.IsStreaming():
		for {
			if err := r.decodeNextContentNode(); err != nil {
				return err
			}

			if r.prefix == PrefixStreamTerminator {
				return nil
			}

			if err := r.skipChildren(); err != nil {
				return err
			}
		}

	case r.IsAggregate():
		for i := r.length; i > 0; i-- {
			if err := r.decodeNextContentNode(); err != nil {
				return err
			}

			if r.prefix == PrefixStreamTerminator {
				return protocolErrorf("stream terminator inside a sized aggregate")
			}

			if err := r.skipChildren(); err != nil {
				return err
			}
		}

	case r.IsScalar() && r.IsStreaming() && r.prefix != PrefixStreamContinuation:
		for {
			if err := r.decodeNext(); err != nil {
				return err
			}

			if r.prefix != PrefixStreamContinuation {
				return protocolErrorf("expected stream continuation, got %s", r.prefix)
			}

			if r.length == 0 {
				return nil
			}
		}
	}

	return nil
}

// decodeNextContentNode decodes the next node, stepping over attributes and their sub-trees.
func (r *Reader) decodeNextContentNode() error {
	for {
		if err := r.decodeNext(); err != nil {
			return err
		}

		if r.prefix == PrefixStreamContinuation {
			return protocolErrorf("stream continuation outside a streaming scalar")
		}

		if !r.IsAttribute() {
			return nil
		}

		if err := r.skipChildren(); err != nil {
			return err
		}
	}
}

// DemandScalar fails unless the current element is a scalar.
func (r *Reader) DemandScalar() error {
	if !r.IsScalar() {
		return unexpectedf("expected a scalar, got %s", r.prefix)
	}

	return nil
}

// DemandAggregate fails unless the current element is an aggregate.
func (r *Reader) DemandAggregate() error {
	if !r.IsAggregate() {
		return unexpectedf("expected an aggregate, got %s", r.prefix)
	}

	return nil
}

// DemandPrefix fails unless the current element has the prefix p.
func (r *Reader) DemandPrefix(p Prefix) error {
	if r.prefix != p {
		return unexpectedf("expected %s, got %s", p, r.prefix)
	}

	return nil
}

// DemandNotNull fails if the current element is null.
func (r *Reader) DemandNotNull() error {
	if r.IsNull() {
		return unexpectedf("unexpected null %s", r.prefix)
	}

	return nil
}

// DemandEnd fails if any bytes follow the current element's own node.
func (r *Reader) DemandEnd() error {
	if n := r.Remaining(); n > 0 {
		return unexpectedf("%d bytes remain after %s", n, r.prefix)
	}

	return nil
}
