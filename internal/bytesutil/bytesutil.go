// Package bytesutil provides pooled scratch buffers and allocation free number parsing for
// working with RESP payloads.
package bytesutil

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	errEmpty    = errors.New("empty number")
	errOverflow = errors.New("number out of range")
)

var bytePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 64)
		return &b
	},
}

// GetBytes returns a non-nil pointer to an empty byte slice from a pool of byte slices.
//
// The returned byte slice should be put back into the pool using PutBytes after usage.
func GetBytes() *[]byte {
	return bytePool.Get().(*[]byte)
}

// PutBytes puts the given byte slice pointer back into the pool used by GetBytes.
//
// After calling PutBytes the given pointer and byte slice must not be accessed anymore.
func PutBytes(b *[]byte) {
	*b = (*b)[:0]
	bytePool.Put(b)
}

// ParseInt is a specialized version of strconv.ParseInt that parses a base-10 encoded signed
// integer from a []byte without allocating a string.
func ParseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errEmpty
	}

	var neg bool
	if b[0] == '-' || b[0] == '+' {
		neg = b[0] == '-'
		b = b[1:]
	}

	n, err := ParseUint(b)
	if err != nil {
		return 0, err
	}

	if neg {
		if n > math.MaxInt64+1 {
			return 0, errOverflow
		}
		return -int64(n), nil
	}

	if n > math.MaxInt64 {
		return 0, errOverflow
	}

	return int64(n), nil
}

// ParseUint is a specialized version of strconv.ParseUint that parses a base-10 encoded
// unsigned integer from a []byte without allocating a string.
func ParseUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, errEmpty
	}

	var n uint64

	for i, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character %q at position %d", c, i)
		}

		if n > (math.MaxUint64-uint64(c-'0'))/10 {
			return 0, errOverflow
		}

		n = n*10 + uint64(c-'0')
	}

	return n, nil
}

// Expand expands the given byte slice to exactly n bytes, keeping its contents. It will not
// return nil.
//
// If cap(b) < n then a new slice will be allocated.
func Expand(b []byte, n int) []byte {
	if b == nil && n == 0 {
		return []byte{}
	}

	if cap(b) < n {
		nb := make([]byte, n)
		copy(nb, b)
		return nb
	}

	return b[:n]
}
