package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/respwire/internal/bytesutil"
	"github.com/luma/respwire/internal/meta"
	"github.com/luma/respwire/protocol"
	"github.com/luma/respwire/storage"
)

const storeTimeout = 3 * time.Second

// replyFunc encodes one reply.
type replyFunc func(w *protocol.Writer) error

// commandHandler runs a command and returns how to reply to it. Replies are encoded after the
// command ran, so handlers never hold the connection writer while they wait on the store.
type commandHandler struct {
	// arity counts the command name. A negative arity is a minimum.
	arity int
	serve func(t *TCPConn, args [][]byte) replyFunc
}

func simpleString(s string) replyFunc {
	return func(w *protocol.Writer) error { return w.WriteSimpleString(s) }
}

func simpleError(msg string) replyFunc {
	return func(w *protocol.Writer) error { return w.WriteSimpleError(msg) }
}

func bulk(b []byte) replyFunc {
	return func(w *protocol.Writer) error { return w.WriteBulk(b) }
}

var handlers map[string]commandHandler

func init() {
	handlers = map[string]commandHandler{
		"PING":  {arity: -1, serve: servePing},
		"ECHO":  {arity: 2, serve: serveEcho},
		"HELLO": {arity: -1, serve: serveHello},
		"GET":   {arity: 2, serve: serveGet},
		"SET":   {arity: 3, serve: serveSet},
		"DEL":   {arity: -2, serve: serveDel},
		"QUIT":  {arity: -1, serve: serveQuit},
	}
}

// IncomingCommandMap turns a rename table, as given to clients, into the map a server applies
// to the commands it receives: a renamed command is served under its new name only and a
// command renamed to "" is not served at all.
func IncomingCommandMap(renames map[string]string) protocol.CommandMap {
	incoming := make(map[string]string, 2*len(renames))
	for from := range renames {
		incoming[from] = ""
	}

	for from, to := range renames {
		if to != "" {
			incoming[to] = from
		}
	}

	return protocol.NewCommandMap(incoming)
}

// serve runs the command in one request frame. It returns true once the client has quit; an
// error means the frame was not a valid request and the connection must be dropped.
func (t *TCPConn) serve(frame []byte) (quit bool, err error) {
	t.server.metrics.FramesRead.Inc()

	if t.server.trace {
		t.log.Debug("Read frame", zap.ByteString("frame", frame))
	}

	if err := protocol.ValidateRequest(frame); err != nil {
		return false, err
	}

	args, err := parseArgs(frame)
	if err != nil {
		return false, err
	}

	name := args[0]
	if t.server.commands != nil {
		name = t.server.commands.MapCommand(name)
	}

	canonical := strings.ToUpper(string(name))
	handler, ok := handlers[canonical]
	if len(name) == 0 || !ok {
		t.server.metrics.Commands.WithLabelValues("unknown").Inc()

		return false, t.reply(simpleError(fmt.Sprintf("ERR unknown command '%s'", args[0])))
	}

	t.server.metrics.Commands.WithLabelValues(strings.ToLower(canonical)).Inc()

	if (handler.arity > 0 && len(args) != handler.arity) || len(args) < -handler.arity {
		return false, t.reply(simpleError(fmt.Sprintf("ERR wrong number of arguments for '%s' command",
			strings.ToLower(canonical))))
	}

	return canonical == "QUIT", t.reply(handler.serve(t, args))
}

// parseArgs returns the arguments of a validated request. They alias frame.
func parseArgs(frame []byte) ([][]byte, error) {
	r := protocol.NewReader(frame)
	if err := r.ReadNextAggregate(); err != nil {
		return nil, err
	}

	args := make([][]byte, 0, r.Len())
	for i, n := 0, r.Len(); i < n; i++ {
		if err := r.ReadNextScalar(); err != nil {
			return nil, err
		}

		arg, ok := r.TryGetSpan()
		if !ok {
			return nil, fmt.Errorf("%w: argument %d is not contiguous", protocol.ErrProtocol, i)
		}

		args = append(args, arg)
	}

	return args, nil
}

func (t *TCPConn) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, storeTimeout)
}

func (t *TCPConn) resp3() bool {
	return atomic.LoadInt32(&t.proto) == 3
}

func servePing(t *TCPConn, args [][]byte) replyFunc {
	switch len(args) {
	case 1:
		return simpleString("PONG")
	case 2:
		return bulk(args[1])
	default:
		return simpleError("ERR wrong number of arguments for 'ping' command")
	}
}

func serveEcho(t *TCPConn, args [][]byte) replyFunc {
	return bulk(args[1])
}

func serveQuit(t *TCPConn, args [][]byte) replyFunc {
	return simpleString("OK")
}

func serveHello(t *TCPConn, args [][]byte) replyFunc {
	proto := atomic.LoadInt32(&t.proto)

	switch {
	case len(args) > 2:
		return simpleError("ERR Syntax error in HELLO option")

	case len(args) == 2:
		v, err := bytesutil.ParseInt(args[1])
		if err != nil || (v != 2 && v != 3) {
			return simpleError("NOPROTO unsupported protocol version")
		}

		proto = int32(v)
		atomic.StoreInt32(&t.proto, proto)
	}

	version := meta.Version
	if version == "" {
		version = "dev"
	}

	fields := []struct {
		key   string
		value interface{}
	}{
		{"server", "respwire"},
		{"version", version},
		{"proto", int64(proto)},
		{"mode", "standalone"},
		{"role", "master"},
	}

	return func(w *protocol.Writer) error {
		var err error
		if proto == 3 {
			err = w.WriteMapHeader(len(fields))
		} else {
			err = w.WriteArrayHeader(2 * len(fields))
		}
		if err != nil {
			return err
		}

		for _, field := range fields {
			if err := w.WriteBulkString(field.key); err != nil {
				return err
			}

			switch v := field.value.(type) {
			case int64:
				err = w.WriteInteger(v)
			case string:
				err = w.WriteBulkString(v)
			}
			if err != nil {
				return err
			}
		}

		return nil
	}
}

func serveGet(t *TCPConn, args [][]byte) replyFunc {
	ctx, cancel := t.storeContext()
	defer cancel()

	value, err := t.server.store.Get(ctx, args[1])
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if t.resp3() {
			return func(w *protocol.Writer) error { return w.WriteNull() }
		}
		return func(w *protocol.Writer) error { return w.WriteNullBulk() }

	case err != nil:
		t.log.Warn("Failed to get", zap.ByteString("key", args[1]), zap.Error(err))
		return simpleError("ERR " + err.Error())
	}

	return bulk(value)
}

func serveSet(t *TCPConn, args [][]byte) replyFunc {
	ctx, cancel := t.storeContext()
	defer cancel()

	if err := t.server.store.Set(ctx, args[1], args[2]); err != nil {
		t.log.Warn("Failed to set", zap.ByteString("key", args[1]), zap.Error(err))
		return simpleError("ERR " + err.Error())
	}

	return simpleString("OK")
}

func serveDel(t *TCPConn, args [][]byte) replyFunc {
	ctx, cancel := t.storeContext()
	defer cancel()

	n, err := t.server.store.Del(ctx, args[1:]...)
	if err != nil {
		t.log.Warn("Failed to delete", zap.Int("keys", len(args)-1), zap.Error(err))
		return simpleError("ERR " + err.Error())
	}

	return func(w *protocol.Writer) error { return w.WriteInteger(int64(n)) }
}
