package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/respwire/internal/bytesutil"
	"github.com/luma/respwire/protocol"
)

const (
	readBufferSize   = 4096
	writeWindowSize  = 4096
	updateBufferSize = 255
)

var (
	// ErrNil is returned by typed commands when the server replied with null.
	ErrNil = errors.New("client: nil reply")

	// ErrClosed is returned for commands sent or pending when the connection goes away.
	ErrClosed = errors.New("client: connection closed")

	// ErrUnexpectedReply is returned when a reply has a shape the command does not produce.
	ErrUnexpectedReply = errors.New("client: unexpected reply")
)

// Update is a message the server pushed without being asked, e.g. an invalidation.
type Update struct {
	Kind string
	Keys [][]byte
}

// Reply is one complete reply frame.
type Reply []byte

// Reader returns a reader positioned before the reply.
func (r Reply) Reader() protocol.Reader {
	return protocol.NewReader(r)
}

type result struct {
	reply Reply
	err   error
}

// Conn is a RESP client connection. Replies are matched to commands in the order the commands
// were sent; pushes are delivered on UpdateChan.
type Conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn net.Conn

	writeMu  sync.Mutex
	writer   *protocol.Writer
	commands protocol.CommandMap

	pendingMu sync.Mutex
	pending   []chan result
	err       error

	updateChan chan *Update
	readDone   chan struct{}

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		log:        log,
		updateChan: make(chan *Update, updateBufferSize),
		readDone:   make(chan struct{}),
	}
}

// SetCommandMap installs the renames applied to every command sent after the call.
func (c *Conn) SetCommandMap(m protocol.CommandMap) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.commands = m
	if c.writer != nil {
		c.writer.SetCommandMap(m)
	}
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c.attach(conn, writeWindowSize)
	go c.readLoop()

	return nil
}

func (c *Conn) attach(conn net.Conn, windowSize int) {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn

	c.writeMu.Lock()
	c.writer = protocol.NewWriterSize(conn, windowSize)
	if c.commands != nil {
		c.writer.SetCommandMap(c.commands)
	}
	c.writeMu.Unlock()
}

// Disconnect closes the connection and fails every command still waiting for a reply.
func (c *Conn) Disconnect() error {
	if c.conn == nil {
		return nil
	}

	c.cancel()

	err := c.conn.Close()
	<-c.readDone

	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (c *Conn) UpdateChan() <-chan *Update {
	return c.updateChan
}

// Do sends one command and waits for its reply. A reply that is an error element is returned
// along with a *protocol.ServerError.
func (c *Conn) Do(ctx context.Context, name string, args ...[]byte) (Reply, error) {
	resultChan := make(chan result, 1)

	if err := c.send(resultChan, []byte(name), args); err != nil {
		return nil, err
	}

	select {
	case res := <-resultChan:
		return res.reply, res.err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) send(resultChan chan result, name []byte, args [][]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writer == nil {
		return ErrClosed
	}

	c.pendingMu.Lock()
	err := c.err
	c.pendingMu.Unlock()

	if err != nil {
		return err
	}

	// a disabled command fails here, before anything is written
	if err := c.writer.WriteCommand(name, len(args)); err != nil {
		if errors.Is(err, protocol.ErrCommandUnavailable) {
			return err
		}
		return c.abort(err)
	}

	for _, arg := range args {
		if err := c.writer.WriteBulk(arg); err != nil {
			return c.abort(err)
		}
	}

	// The last bytes of the command only leave on Flush, so the waiter is queued before any
	// reply can arrive.
	c.pendingMu.Lock()
	c.pending = append(c.pending, resultChan)
	c.pendingMu.Unlock()

	if err := c.writer.Flush(); err != nil {
		c.unqueue(resultChan)
		return c.abort(err)
	}

	return nil
}

// abort gives up on a connection whose command stream may hold a partial command. The read
// loop then fails everything still waiting. Must be called with writeMu held.
func (c *Conn) abort(err error) error {
	c.log.Warn("Failed to send command, closing connection", zap.Error(err))

	c.writer = nil
	c.cancel()

	if closeErr := c.conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		c.log.Debug("Failed to close connection", zap.Error(closeErr))
	}

	return err
}

func (c *Conn) unqueue(resultChan chan result) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i] == resultChan {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	defer close(c.readDone)

	var (
		buf   = make([]byte, 0, readBufferSize)
		frame protocol.ScanState
		err   error
	)

	for err == nil {
		for len(buf) > 0 {
			var ok bool
			if ok, err = frame.TryReadBytes(buf[frame.TotalBytes():]); err != nil || !ok {
				break
			}

			n := int(frame.TotalBytes())
			frame.Reset()

			if err = c.dispatch(buf[:n]); err != nil {
				break
			}

			buf = buf[:copy(buf, buf[n:])]
		}

		if err != nil {
			break
		}

		if len(buf) == cap(buf) {
			buf = bytesutil.Expand(buf, 2*cap(buf))[:len(buf)]
		}

		var n int
		n, err = c.conn.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
	}

	switch {
	case c.ctx.Err() != nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Debug("Connection closed", zap.Error(err))
		err = ErrClosed
	default:
		log.Warn("Failed to read server reply", zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}

	c.pendingMu.Lock()
	c.err = err
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, resultChan := range pending {
		resultChan <- result{err: err}
	}

	close(c.updateChan)
}

// dispatch routes one reply frame to its waiter, or to UpdateChan if it is a push.
func (c *Conn) dispatch(frame []byte) error {
	r := protocol.NewReader(frame)

	err := r.ReadNext()

	var serverErr *protocol.ServerError
	if err != nil && !errors.As(err, &serverErr) {
		return err
	}

	if r.Prefix() == protocol.PrefixPush {
		return c.dispatchPush(&r)
	}

	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		return fmt.Errorf("%w: reply without a command", ErrUnexpectedReply)
	}

	resultChan := c.pending[0]
	c.pending = c.pending[1:]
	c.pendingMu.Unlock()

	res := result{reply: append(Reply(nil), frame...)}
	if serverErr != nil {
		res.err = serverErr
	}

	resultChan <- res

	return nil
}

func (c *Conn) dispatchPush(r *protocol.Reader) error {
	it, err := r.AggregateChildren()
	if err != nil {
		return err
	}

	var update Update

	if ok, err := it.Next(); err != nil || !ok {
		return fmt.Errorf("%w: empty push", ErrUnexpectedReply)
	}

	kind := it.Value()
	if err := kind.ReadNextScalar(); err != nil {
		return err
	}

	if update.Kind, err = kind.ScalarString(); err != nil {
		return err
	}

	if ok, err := it.Next(); err != nil {
		return err
	} else if ok {
		keys := it.Value()
		if err := keys.ReadNext(); err != nil {
			return err
		}

		if keys.IsAggregate() {
			if update.Keys, err = protocol.ReadAggregate(&keys, (*protocol.Reader).ScalarBytes); err != nil {
				return err
			}
		}
	}

	select {
	case c.updateChan <- &update:
	default:
		c.log.Warn("Dropping push, update channel is full", zap.String("kind", update.Kind))
	}

	return it.MovePast(r)
}

func (c *Conn) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}

	return expectSimple(reply, "PONG")
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := c.Do(ctx, "GET", []byte(key))
	if err != nil {
		return nil, err
	}

	r := reply.Reader()
	if err := r.ReadNextScalar(); err != nil {
		return nil, err
	}

	if r.IsNull() {
		return nil, ErrNil
	}

	return r.ScalarBytes()
}

func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	reply, err := c.Do(ctx, "SET", []byte(key), value)
	if err != nil {
		return err
	}

	return expectSimple(reply, "OK")
}

// Del deletes keys and returns how many existed.
func (c *Conn) Del(ctx context.Context, keys ...string) (int64, error) {
	args := make([][]byte, len(keys))
	for i, key := range keys {
		args[i] = []byte(key)
	}

	reply, err := c.Do(ctx, "DEL", args...)
	if err != nil {
		return 0, err
	}

	r := reply.Reader()
	if err := r.ReadNextPrefix(protocol.PrefixInteger); err != nil {
		return 0, err
	}

	return r.ScalarInt64()
}

// Hello negotiates the protocol version and returns the server properties. Properties that are
// not scalars are reported as empty strings.
func (c *Conn) Hello(ctx context.Context, proto int) (map[string]string, error) {
	reply, err := c.Do(ctx, "HELLO", []byte(strconv.Itoa(proto)))
	if err != nil {
		return nil, err
	}

	r := reply.Reader()
	if err := r.ReadNextAggregate(); err != nil {
		return nil, err
	}

	it, err := r.AggregateChildren()
	if err != nil {
		return nil, err
	}

	props := make(map[string]string)
	for {
		ok, err := it.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			return props, nil
		}

		key := it.Value()
		if err := key.ReadNextScalar(); err != nil {
			return nil, err
		}

		name, err := key.ScalarString()
		if err != nil {
			return nil, err
		}

		if ok, err = it.Next(); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: property %q without a value", ErrUnexpectedReply, name)
		}

		value := it.Value()
		if err := value.ReadNext(); err != nil {
			return nil, err
		}

		if value.IsScalar() {
			if props[name], err = value.ScalarString(); err != nil {
				return nil, err
			}
		} else {
			props[name] = ""
		}
	}
}

// Quit asks the server to close the connection and waits for it to do so.
func (c *Conn) Quit(ctx context.Context) error {
	reply, err := c.Do(ctx, "QUIT")
	if err != nil {
		return err
	}

	if err := expectSimple(reply, "OK"); err != nil {
		return err
	}

	select {
	case <-c.readDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.Disconnect()
}

func expectSimple(reply Reply, want string) error {
	r := reply.Reader()
	if err := r.ReadNextPrefix(protocol.PrefixSimpleString); err != nil {
		return err
	}

	if !r.ScalarEquals([]byte(want)) {
		s, _ := r.ScalarString()
		return fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedReply, want, s)
	}

	return nil
}
