package protocol

import "io"

// Sink receives the bytes a Writer has finished with and hands out the next window to write
// into.
type Sink interface {
	// Commit takes ownership of written and returns a window with room for at least min bytes.
	// written is always a prefix of the window returned by the previous call.
	Commit(written []byte, min int) ([]byte, error)
}

const defaultWindowSize = 4096

// ioSink writes every committed window to an io.Writer and reuses the window.
type ioSink struct {
	w   io.Writer
	buf []byte
}

func (s *ioSink) Commit(written []byte, min int) ([]byte, error) {
	if len(written) > 0 {
		if _, err := s.w.Write(written); err != nil {
			return nil, err
		}
	}

	if len(s.buf) < min {
		s.buf = make([]byte, min)
	}

	return s.buf, nil
}

// BufferSink accumulates everything written into one growable slice. Windows are the spare
// capacity of that slice, so committing does not copy.
type BufferSink struct {
	buf []byte
}

// NewBufferSink returns a BufferSink that appends to buf.
func NewBufferSink(buf []byte) *BufferSink {
	return &BufferSink{buf: buf}
}

func (s *BufferSink) Commit(written []byte, min int) ([]byte, error) {
	if n := len(written); n > 0 {
		spare := s.buf[len(s.buf):cap(s.buf)]
		if len(spare) >= n && &spare[0] == &written[0] {
			s.buf = s.buf[:len(s.buf)+n]
		} else {
			s.buf = append(s.buf, written...)
		}
	}

	if cap(s.buf)-len(s.buf) < min || cap(s.buf) == len(s.buf) {
		size := 2 * cap(s.buf)
		if size < len(s.buf)+min {
			size = len(s.buf) + min
		}
		if size < 256 {
			size = 256
		}

		grown := make([]byte, len(s.buf), size)
		copy(grown, s.buf)
		s.buf = grown
	}

	return s.buf[len(s.buf):cap(s.buf)], nil
}

// Bytes returns everything committed so far.
func (s *BufferSink) Bytes() []byte {
	return s.buf
}

// Reset drops the committed bytes, keeping the storage.
func (s *BufferSink) Reset() {
	s.buf = s.buf[:0]
}
