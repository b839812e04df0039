package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/respwire/internal/bytesutil"
	"github.com/luma/respwire/protocol"
	"github.com/luma/respwire/storage"
)

const (
	readBufferSize  = 4096
	writeWindowSize = 4096
	writeQueueSize  = 127
)

var errConnClosed = errors.New("transport: connection closed")

type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn   net.Conn
	server *TCP

	writeQueue chan []byte
	readDone   chan struct{}

	// writeMu guards writer, which is shared by replies and pushes
	writeMu sync.Mutex
	writer  *protocol.Writer

	// proto is the RESP version negotiated with HELLO
	proto int32

	log *zap.Logger
}

func NewTCPConn(parentCtx context.Context, conn net.Conn, server *TCP, log *zap.Logger) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	t := &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		server:     server,
		writeQueue: make(chan []byte, writeQueueSize),
		readDone:   make(chan struct{}),
		proto:      2,
		log:        log.With(zap.Stringer("remote", conn.RemoteAddr())),
	}

	// A queueSink never fails to hand out its first window.
	t.writer, _ = protocol.NewSinkWriter(&queueSink{conn: t})

	return t
}

// Close stops the connection. It does not wait for the read and write loops to exit.
func (t *TCPConn) Close() error {
	if !t.isRunning() {
		// already stopped
		return nil
	}

	t.cancel()

	// unblock a read loop waiting on the socket
	if err := t.conn.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

// Start runs the read and write loops and returns once both have exited and the socket is
// closed.
func (t *TCPConn) Start() {
	defer t.cancel()

	go func() {
		<-t.ctx.Done()
		_ = t.conn.SetReadDeadline(time.Now())
	}()

	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		defer close(t.readDone)
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()

	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.log.Warn("Failed to close connection cleanly", zap.Error(err))
	}
}

// ReadLoop frames requests out of the socket and serves them in order until the client quits,
// sends something invalid or goes away.
func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	var (
		buf   = make([]byte, 0, readBufferSize)
		frame protocol.ScanState
	)

	for {
		// serve every complete frame already buffered
		for len(buf) > 0 {
			ok, err := frame.TryReadBytes(buf[frame.TotalBytes():])
			if err != nil {
				t.protocolError(log, err)
				return
			}

			if !ok {
				break
			}

			n := int(frame.TotalBytes())
			frame.Reset()

			quit, err := t.serve(buf[:n])
			if err != nil {
				t.protocolError(log, err)
				return
			}

			if quit {
				log.Debug("Client QUIT, exiting...")
				return
			}

			// retain the unconsumed tail
			buf = buf[:copy(buf, buf[n:])]
		}

		if int(frame.TotalBytes()) > t.server.maxFrame || len(buf) > t.server.maxFrame {
			t.protocolError(log, fmt.Errorf("%w: frame exceeds %d bytes", protocol.ErrProtocol, t.server.maxFrame))
			return
		}

		if len(buf) == cap(buf) {
			buf = bytesutil.Expand(buf, 2*cap(buf))[:len(buf)]
		}

		n, err := t.conn.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		t.server.metrics.BytesRead.Add(float64(n))

		if err != nil {
			switch {
			case !t.isRunning():
				log.Debug("Context cancelled, exiting...")
			case errors.Is(err, io.EOF):
				log.Debug("Client disconnected")
			default:
				log.Warn("Failed to read from client", zap.Error(err))
			}

			return
		}
	}
}

func (t *TCPConn) protocolError(log *zap.Logger, err error) {
	t.server.metrics.ProtocolErrors.Inc()
	log.Warn("Closing connection after a protocol error", zap.Error(err))

	if werr := t.reply(func(w *protocol.Writer) error {
		return w.WriteSimpleError("ERR Protocol error: " + err.Error())
	}); werr != nil {
		log.Debug("Failed to report protocol error", zap.Error(werr))
	}
}

// WriteLoop writes queued replies and pushes to the socket. It drains the queue and exits once
// the read loop has finished.
func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			return

		case <-t.readDone:
			for {
				select {
				case data := <-t.writeQueue:
					if !t.write(log, data) {
						return
					}
				default:
					return
				}
			}

		case data := <-t.writeQueue:
			if !t.write(log, data) {
				return
			}
		}
	}
}

func (t *TCPConn) write(log *zap.Logger, data []byte) bool {
	if _, err := t.conn.Write(data); err != nil {
		log.Warn("Failed to write to client", zap.Int("bytes", len(data)), zap.Error(err))
		t.cancel()
		return false
	}

	return true
}

// enqueue hands data over to the write loop.
func (t *TCPConn) enqueue(data []byte) error {
	select {
	case t.writeQueue <- data:
		return nil
	case <-t.ctx.Done():
		return errConnClosed
	}
}

// reply encodes one reply with fn and queues it.
func (t *TCPConn) reply(fn func(w *protocol.Writer) error) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := fn(t.writer); err != nil {
		return err
	}

	return t.writer.Flush()
}

// WriteUpdate pushes an invalidation message for the updated key. Only RESP3 connections
// receive pushes.
func (t *TCPConn) WriteUpdate(update *storage.Update) error {
	if atomic.LoadInt32(&t.proto) < 3 || !t.isRunning() {
		return nil
	}

	return t.reply(func(w *protocol.Writer) error {
		if err := w.WritePushHeader(2); err != nil {
			return err
		}

		if err := w.WriteBulkString("invalidate"); err != nil {
			return err
		}

		if err := w.WriteArrayHeader(1); err != nil {
			return err
		}

		return w.WriteBulk(update.Key)
	})
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}

// queueSink hands every committed window to the write loop and starts a fresh one.
type queueSink struct {
	conn *TCPConn
}

func (s *queueSink) Commit(written []byte, min int) ([]byte, error) {
	if len(written) > 0 {
		if err := s.conn.enqueue(written); err != nil {
			return nil, err
		}
	}

	size := writeWindowSize
	if min > size {
		size = min
	}

	return make([]byte, size), nil
}
