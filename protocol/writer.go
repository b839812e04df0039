package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

// maxHeaderSize fits a prefix, a signed 64 bit decimal and a CRLF.
const maxHeaderSize = 1 + 20 + 2

// ErrInvalidLength is returned when writing a header with a length below -1.
var ErrInvalidLength = fmt.Errorf("%w: length must be >= -1", ErrUnexpectedElement)

// Writer encodes RESP elements into a window obtained from a Sink. When the window fills up it
// is committed to the sink and writing continues in the next one. A Writer over a fixed window
// has no sink and fails with ErrCapacity instead.
//
// A Writer must not be used concurrently.
type Writer struct {
	window    []byte
	pos       int
	sink      Sink
	commands  CommandMap
	committed int64
}

// NewWriter returns a Writer that writes to w through a window of the default size. Bytes only
// reach w on Flush or when the window fills up.
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, defaultWindowSize)
}

// NewWriterSize is NewWriter with a window of size bytes.
func NewWriterSize(w io.Writer, size int) *Writer {
	if size < maxHeaderSize {
		size = maxHeaderSize
	}

	buf := make([]byte, size)
	return &Writer{window: buf, sink: &ioSink{w: w, buf: buf}}
}

// NewSinkWriter returns a Writer over the windows of sink.
func NewSinkWriter(sink Sink) (*Writer, error) {
	window, err := sink.Commit(nil, maxHeaderSize)
	if err != nil {
		return nil, err
	}

	return &Writer{window: window, sink: sink}, nil
}

// NewFixedWriter returns a Writer that fills window and nothing more.
func NewFixedWriter(window []byte) *Writer {
	return &Writer{window: window}
}

// SetCommandMap installs the map consulted by WriteCommand.
func (w *Writer) SetCommandMap(m CommandMap) {
	w.commands = m
}

// Buffered returns the bytes written to the current window and not yet committed.
func (w *Writer) Buffered() []byte {
	return w.window[:w.pos]
}

// Written returns the total number of bytes written, committed or not.
func (w *Writer) Written() int64 {
	return w.committed + int64(w.pos)
}

// Flush commits the current window to the sink. It is a no-op for fixed windows.
func (w *Writer) Flush() error {
	if w.sink == nil || w.pos == 0 {
		return nil
	}

	return w.commit(0)
}

func (w *Writer) commit(min int) error {
	window, err := w.sink.Commit(w.window[:w.pos], min)
	if err != nil {
		return err
	}

	w.committed += int64(w.pos)
	w.window = window
	w.pos = 0

	return nil
}

func (w *Writer) room() int {
	return len(w.window) - w.pos
}

// ensure makes room for n contiguous bytes.
func (w *Writer) ensure(n int) error {
	if w.room() >= n {
		return nil
	}

	if w.sink == nil {
		return ErrCapacity
	}

	return w.commit(n)
}

// writeBytes copies b, spreading it over as many windows as needed.
func (w *Writer) writeBytes(b []byte) error {
	for {
		n := copy(w.window[w.pos:], b)
		w.pos += n
		b = b[n:]

		if len(b) == 0 {
			return nil
		}

		if err := w.ensure(1); err != nil {
			return err
		}
	}
}

func (w *Writer) writeString(s string) error {
	for {
		n := copy(w.window[w.pos:], s)
		w.pos += n
		s = s[n:]

		if len(s) == 0 {
			return nil
		}

		if err := w.ensure(1); err != nil {
			return err
		}
	}
}

func (w *Writer) writeCRLF() error {
	if err := w.ensure(2); err != nil {
		return err
	}

	w.window[w.pos] = '\r'
	w.window[w.pos+1] = '\n'
	w.pos += 2

	return nil
}

// pattern is a short, precomputed encoding stored with a single word write.
type pattern struct {
	word uint64
	b    [8]byte
	n    int
}

func newPattern(s string) pattern {
	p := pattern{n: len(s)}
	copy(p.b[:], s)
	p.word = binary.LittleEndian.Uint64(p.b[:])
	return p
}

func (w *Writer) writePattern(p *pattern) error {
	if w.room() >= 8 {
		binary.LittleEndian.PutUint64(w.window[w.pos:], p.word)
		w.pos += p.n
		return nil
	}

	if err := w.ensure(p.n); err != nil {
		return err
	}

	w.pos += copy(w.window[w.pos:], p.b[:p.n])
	return nil
}

var (
	// "*-1\r\n" and "*0\r\n" through "*10\r\n"
	arrayNullHeader = newPattern("*-1\r\n")
	arrayHeaders    [11]pattern

	// "$-1\r\n"
	bulkNullHeader = newPattern("$-1\r\n")

	nullElement     = newPattern("_\r\n")
	trueElement     = newPattern("#t\r\n")
	falseElement    = newPattern("#f\r\n")
	terminatorChunk = newPattern(";0\r\n")
	terminator      = newPattern(".\r\n")
)

func init() {
	for i := range arrayHeaders {
		arrayHeaders[i] = newPattern("*" + strconv.Itoa(i) + "\r\n")
	}
}

// fits fails a fixed window up front when an element of n bytes does not fit, so that nothing
// of the element is written.
func (w *Writer) fits(n int) error {
	if w.sink == nil && w.room() < n {
		return ErrCapacity
	}

	return nil
}

// headerSize returns the encoded size of <prefix><n>\r\n.
func headerSize(n int64) int {
	return 1 + decimalLen(n) + 2
}

// writeHeader writes <prefix><n>\r\n.
func (w *Writer) writeHeader(p Prefix, n int64) error {
	need := maxHeaderSize
	if w.room() < need {
		need = headerSize(n)
	}

	if err := w.ensure(need); err != nil {
		return err
	}

	buf := w.window[w.pos:]
	buf[0] = byte(p)

	switch {
	case n >= 0 && n < 10:
		buf[1] = byte('0' + n)
		buf[2], buf[3] = '\r', '\n'
		w.pos += 4
	case n >= 10 && n < 100:
		buf[1] = byte('0' + n/10)
		buf[2] = byte('0' + n%10)
		buf[3], buf[4] = '\r', '\n'
		w.pos += 5
	default:
		digits := strconv.AppendInt(buf[1:1], n, 10)
		end := 1 + len(digits)
		buf[end], buf[end+1] = '\r', '\n'
		w.pos += end + 2
	}

	return nil
}

func (w *Writer) writeAggregateHeader(p Prefix, n int) error {
	switch {
	case n < -1:
		return ErrInvalidLength
	case n == -1 && p == PrefixArray:
		return w.writePattern(&arrayNullHeader)
	case n >= 0 && n <= 10 && p == PrefixArray:
		return w.writePattern(&arrayHeaders[n])
	}

	return w.writeHeader(p, int64(n))
}

// WriteCommand writes the header of a command array with argCount arguments after the name,
// followed by the name itself as mapped by the command map. Nothing is written when the map
// disables the command.
func (w *Writer) WriteCommand(name []byte, argCount int) error {
	if w.commands != nil {
		mapped := w.commands.MapCommand(name)
		if len(mapped) == 0 {
			return fmt.Errorf("%w: %s", ErrCommandUnavailable, name)
		}
		name = mapped
	}

	if argCount < 0 {
		return ErrInvalidLength
	}

	if err := w.writeAggregateHeader(PrefixArray, argCount+1); err != nil {
		return err
	}

	return w.WriteBulk(name)
}

// WriteCommandString is WriteCommand for a string name.
func (w *Writer) WriteCommandString(name string, argCount int) error {
	return w.WriteCommand([]byte(name), argCount)
}

// WriteArrayHeader writes an array header; -1 writes a null array.
func (w *Writer) WriteArrayHeader(n int) error {
	return w.writeAggregateHeader(PrefixArray, n)
}

// WriteSetHeader writes a set header.
func (w *Writer) WriteSetHeader(n int) error {
	return w.writeAggregateHeader(PrefixSet, n)
}

// WritePushHeader writes a push header.
func (w *Writer) WritePushHeader(n int) error {
	return w.writeAggregateHeader(PrefixPush, n)
}

// WriteMapHeader writes a map header for the given number of key/value pairs.
func (w *Writer) WriteMapHeader(pairs int) error {
	return w.writeAggregateHeader(PrefixMap, pairs)
}

// WriteAttributeHeader writes an attribute header for the given number of key/value pairs.
func (w *Writer) WriteAttributeHeader(pairs int) error {
	return w.writeAggregateHeader(PrefixAttribute, pairs)
}

// WriteStreamingHeader writes the header of a streaming bulk string or aggregate.
func (w *Writer) WriteStreamingHeader(p Prefix) error {
	switch p {
	case PrefixBulkString, PrefixArray, PrefixSet, PrefixMap, PrefixPush:
	default:
		return fmt.Errorf("%w: %s cannot stream", ErrUnexpectedElement, p)
	}

	if err := w.ensure(4); err != nil {
		return err
	}

	w.pos += copy(w.window[w.pos:], []byte{byte(p), '?', '\r', '\n'})
	return nil
}

// WriteStreamChunk writes one non-empty chunk of a streaming bulk string. Empty chunks are
// skipped since a zero length chunk ends the string.
func (w *Writer) WriteStreamChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	if err := w.fits(headerSize(int64(len(b))) + len(b) + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixStreamContinuation, int64(len(b))); err != nil {
		return err
	}

	if err := w.writeBytes(b); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteStreamChunkEnd ends a streaming bulk string.
func (w *Writer) WriteStreamChunkEnd() error {
	return w.writePattern(&terminatorChunk)
}

// WriteStreamTerminator ends a streaming aggregate.
func (w *Writer) WriteStreamTerminator() error {
	return w.writePattern(&terminator)
}

// WriteNull writes the RESP3 null.
func (w *Writer) WriteNull() error {
	return w.writePattern(&nullElement)
}

// WriteBoolean writes a RESP3 boolean.
func (w *Writer) WriteBoolean(v bool) error {
	if v {
		return w.writePattern(&trueElement)
	}
	return w.writePattern(&falseElement)
}

// WriteInteger writes an integer element.
func (w *Writer) WriteInteger(v int64) error {
	return w.writeHeader(PrefixInteger, v)
}

// WriteSimpleString writes a simple string. CR and LF are replaced by spaces.
func (w *Writer) WriteSimpleString(s string) error {
	return w.writeLine(PrefixSimpleString, s)
}

// WriteSimpleError writes a simple error. CR and LF are replaced by spaces.
func (w *Writer) WriteSimpleError(msg string) error {
	return w.writeLine(PrefixSimpleError, msg)
}

func (w *Writer) writeLine(p Prefix, s string) error {
	if err := w.fits(1 + len(s) + 2); err != nil {
		return err
	}

	if err := w.ensure(1); err != nil {
		return err
	}

	w.window[w.pos] = byte(p)
	w.pos++

	for len(s) > 0 {
		if err := w.ensure(1); err != nil {
			return err
		}

		n := copy(w.window[w.pos:], s)
		for i, c := range w.window[w.pos : w.pos+n] {
			if c == '\r' || c == '\n' {
				w.window[w.pos+i] = ' '
			}
		}

		w.pos += n
		s = s[n:]
	}

	return w.writeCRLF()
}

// WriteDouble writes a RESP3 double.
func (w *Writer) WriteDouble(f float64) error {
	var buf [32]byte
	return w.writeLineBytes(PrefixDouble, appendFloat(buf[:0], f))
}

// WriteBigInteger writes a RESP3 big number.
func (w *Writer) WriteBigInteger(v *big.Int) error {
	var buf [64]byte
	return w.writeLineBytes(PrefixBigInteger, v.Append(buf[:0], 10))
}

func (w *Writer) writeLineBytes(p Prefix, b []byte) error {
	if err := w.fits(1 + len(b) + 2); err != nil {
		return err
	}

	if err := w.ensure(1); err != nil {
		return err
	}

	w.window[w.pos] = byte(p)
	w.pos++

	if err := w.writeBytes(b); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteBulkError writes a RESP3 bulk error.
func (w *Writer) WriteBulkError(msg string) error {
	if err := w.fits(headerSize(int64(len(msg))) + len(msg) + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixBulkError, int64(len(msg))); err != nil {
		return err
	}

	if err := w.writeString(msg); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteVerbatim writes a verbatim string with a three byte format such as "txt" or "mkd".
func (w *Writer) WriteVerbatim(format, text string) error {
	if len(format) != 3 {
		return fmt.Errorf("%w: verbatim format %q must be 3 bytes", ErrUnexpectedElement, format)
	}

	n := 4 + len(text)
	if err := w.fits(headerSize(int64(n)) + n + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixVerbatimString, int64(n)); err != nil {
		return err
	}

	if err := w.writeString(format); err != nil {
		return err
	}

	if err := w.writeString(":"); err != nil {
		return err
	}

	if err := w.writeString(text); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteRaw writes b unchanged.
func (w *Writer) WriteRaw(b []byte) error {
	return w.writeBytes(b)
}
