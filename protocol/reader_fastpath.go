package protocol

import "encoding/binary"

// Little endian words of the replies recognised without running the general decoder.
var (
	wordOK   = le32("+OK\r")
	wordPONG = le64("+PONG\r\n\x00")
	wordTrue = le32("#t\r\n")
	wordFals = le32("#f\r\n")
	wordNull = le32("_\r\n\x00")

	// ":" <digit> "\r\n" and ":" <digit> <digit> "\r" with the digit bytes masked out.
	wordInt1 = le32(":\x00\r\n")
	wordInt2 = le32(":\x00\x00\r")
)

const (
	mask24 = 0x00ffffff
	mask56 = 0x00ffffffffffffff

	maskInt1 = 0xffff00ff
	maskInt2 = 0xff0000ff
)

func le32(s string) uint32 {
	return binary.LittleEndian.Uint32([]byte(s))
}

func le64(s string) uint64 {
	return binary.LittleEndian.Uint64([]byte(s))
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// tryFastPath recognises a handful of very common short replies with word compares against the
// current window. It only ever reports elements the general decoder would produce identically;
// anything else falls through.
func (r *Reader) tryFastPath() bool {
	w := r.window[r.index:]
	if len(w) < 4 {
		return false
	}

	head := binary.LittleEndian.Uint32(w)

	switch {
	case head&mask24 == wordNull:
		r.prefix, r.flags, r.length = PrefixNull, flagScalar|flagNull, -1
		r.index += 3
		return true

	case head == wordTrue, head == wordFals:
		r.index++
		r.setInline(PrefixBoolean, 1)
		return true

	case head&maskInt1 == wordInt1 && isDigit(w[1]):
		r.index++
		r.setInline(PrefixInteger, 1)
		return true
	}

	if len(w) < 5 {
		return false
	}

	switch {
	case head == wordOK && w[4] == '\n':
		r.index++
		r.setInline(PrefixSimpleString, 2)
		return true

	case head&maskInt2 == wordInt2 && isDigit(w[1]) && isDigit(w[2]) && w[4] == '\n':
		r.index++
		r.setInline(PrefixInteger, 2)
		return true
	}

	if len(w) >= 8 && binary.LittleEndian.Uint64(w)&mask56 == wordPONG {
		r.index++
		r.setInline(PrefixSimpleString, 4)
		return true
	}

	return false
}
