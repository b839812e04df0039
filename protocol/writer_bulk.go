package protocol

import (
	"math"
	"strconv"
)

var (
	// "$0\r\n\r\n", "$2\r\n-1\r\n" and "$1\r\n0\r\n" through "$2\r\n10\r\n"
	bulkEmpty    = newPattern("$0\r\n\r\n")
	bulkMinusOne = newPattern("$2\r\n-1\r\n")
	bulkSmall    [11]pattern
)

func init() {
	for i := range bulkSmall {
		s := strconv.Itoa(i)
		bulkSmall[i] = newPattern("$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n")
	}
}

// WriteNullBulk writes the RESP2 null bulk string.
func (w *Writer) WriteNullBulk() error {
	return w.writePattern(&bulkNullHeader)
}

// WriteBulk writes b as a bulk string. A nil slice is written as an empty string; use
// WriteNullBulk for null.
func (w *Writer) WriteBulk(b []byte) error {
	if len(b) == 0 {
		return w.writePattern(&bulkEmpty)
	}

	if err := w.fits(headerSize(int64(len(b))) + len(b) + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixBulkString, int64(len(b))); err != nil {
		return err
	}

	// fast path: payload and CRLF fit the current window
	if w.room() >= len(b)+2 {
		w.pos += copy(w.window[w.pos:], b)
		w.window[w.pos] = '\r'
		w.window[w.pos+1] = '\n'
		w.pos += 2
		return nil
	}

	if err := w.writeBytes(b); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteBulkString writes s as a bulk string.
func (w *Writer) WriteBulkString(s string) error {
	if len(s) == 0 {
		return w.writePattern(&bulkEmpty)
	}

	if err := w.fits(headerSize(int64(len(s))) + len(s) + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixBulkString, int64(len(s))); err != nil {
		return err
	}

	if err := w.writeString(s); err != nil {
		return err
	}

	return w.writeCRLF()
}

// WriteBulkSequence writes the concatenation of segments as one bulk string.
func (w *Writer) WriteBulkSequence(segments [][]byte) error {
	var n int64
	for _, seg := range segments {
		n += int64(len(seg))
	}

	if n == 0 {
		return w.writePattern(&bulkEmpty)
	}

	if err := w.fits(headerSize(n) + int(n) + 2); err != nil {
		return err
	}

	if err := w.writeHeader(PrefixBulkString, n); err != nil {
		return err
	}

	for _, seg := range segments {
		if err := w.writeBytes(seg); err != nil {
			return err
		}
	}

	return w.writeCRLF()
}

// WriteBulkInt64 writes the decimal form of v as a bulk string.
func (w *Writer) WriteBulkInt64(v int64) error {
	switch {
	case v == -1:
		return w.writePattern(&bulkMinusOne)
	case v >= 0 && v <= 10:
		return w.writePattern(&bulkSmall[v])
	}

	digits := decimalLen(v)
	if err := w.ensure(1 + 2 + 2 + digits + 2); err != nil {
		return err
	}

	buf := w.window[w.pos:]
	buf[0] = '$'

	// digits is at most 20, so the length prefix has one or two digits
	i := 1
	if digits >= 10 {
		buf[i] = byte('0' + digits/10)
		i++
	}
	buf[i] = byte('0' + digits%10)
	buf[i+1], buf[i+2] = '\r', '\n'
	i += 3

	i += len(strconv.AppendInt(buf[i:i], v, 10))
	buf[i], buf[i+1] = '\r', '\n'
	w.pos += i + 2

	return nil
}

// WriteBulkUint64 writes the decimal form of v as a bulk string.
func (w *Writer) WriteBulkUint64(v uint64) error {
	if v <= math.MaxInt64 {
		return w.WriteBulkInt64(int64(v))
	}

	var buf [20]byte
	return w.WriteBulk(strconv.AppendUint(buf[:0], v, 10))
}

// WriteBulkFloat64 writes f as a bulk string, in a form that parses back to the same value.
func (w *Writer) WriteBulkFloat64(f float64) error {
	var buf [32]byte
	return w.WriteBulk(appendFloat(buf[:0], f))
}

// WriteBulkFloat64Exclusive writes f prefixed with "(", the exclusive bound of range commands.
func (w *Writer) WriteBulkFloat64Exclusive(f float64) error {
	var buf [33]byte
	return w.WriteBulk(appendFloat(append(buf[:0], '('), f))
}

func appendFloat(dst []byte, f float64) []byte {
	switch {
	case f == 0:
		return append(dst, '0')
	case math.IsNaN(f):
		return append(dst, "nan"...)
	case math.IsInf(f, 1):
		return append(dst, "+inf"...)
	case math.IsInf(f, -1):
		return append(dst, "-inf"...)
	}

	return strconv.AppendFloat(dst, f, 'g', 17, 64)
}

// decimalLen returns the number of bytes in the decimal form of v, sign included.
func decimalLen(v int64) int {
	n := 1
	u := uint64(v)
	if v < 0 {
		n++
		u = uint64(-v)
	}

	for u >= 10 {
		u /= 10
		n++
	}

	return n
}
