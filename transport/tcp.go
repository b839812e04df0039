package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/respwire/protocol"
	"github.com/luma/respwire/storage"
)

// DefaultMaxFrameSize bounds request frames when Options.MaxFrameSize is not set.
const DefaultMaxFrameSize = 64 * 1024 * 1024

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	store    storage.Store
	commands protocol.CommandMap
	metrics  *Metrics
	maxFrame int

	log   *zap.Logger
	trace bool
}

func NewTCP(options Options) (*TCP, error) {
	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	// without SO_REUSEPORT only one listener can own the port
	if !options.Reuseport {
		numListeners = 1
	}

	maxFrame := options.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}

	reg := options.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	store := options.Store
	if store == nil {
		store = storage.NewInmemoryStore()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		trace:        options.Trace,
		store:        store,
		metrics:      metrics,
		maxFrame:     maxFrame,
		log:          log,
	}, nil
}

// Start binds every listener and serves them in the background. The server is accepting
// connections once Start returns.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		if err := t.startListener(ctx, t.addr); err != nil {
			cancel()
			t.stopWaiter.Wait()
			return err
		}

		// listeners after the first share the port the first one got
		t.addr = t.listeners[0].Addr().String()
	}

	return nil
}

func (t *TCP) Store() storage.Store {
	return t.store
}

func (t *TCP) Metrics() *Metrics {
	return t.metrics
}

// Addr returns the address the server listens on.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

func (t *TCP) startListener(ctx context.Context, addr string) error {
	listener := NewTCPListener(
		ctx,
		t,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	if err := listener.Bind(addr, t.reuseport); err != nil {
		return err
	}

	t.listeners = append(t.listeners, listener)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			// TODO(rolly) as any of the listeners can fail, but we don't treat this as fatal,
			//             you can end up with less than the required amount of listeners running
			t.log.Error("Listener failed", zap.Error(err))
		}
	}()

	return nil
}

// Close immediately closes all listeners and active connections and waits for them to stop.
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP server")
	if t.cancel != nil {
		t.cancel()
	}

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

// SetCommandMap installs the table of renamed and disabled commands. It must be called before
// Start.
func (t *TCP) SetCommandMap(m protocol.CommandMap) {
	t.commands = m
}

type TCPListener struct {
	ctx    context.Context
	server *TCP

	listener net.Listener
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
}

func NewTCPListener(ctx context.Context, server *TCP, log *zap.Logger) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Bind(addr string, useReuseport bool) (err error) {
	if useReuseport {
		t.listener, err = reuseport.Listen("tcp", addr)
	} else {
		t.listener, err = net.Listen("tcp", addr)
	}

	return err
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close closes every connection accepted by this listener.
func (t *TCPListener) Close() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) Serve() error {
	var loopWaiter sync.WaitGroup

	go func() {
		<-t.ctx.Done()

		t.log.Info("Closing listener")
		if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	// Listen for storage updates
	go func() {
		for update := range t.server.store.ListenToUpdates() {
			if err := t.WriteUpdate(update); err != nil {
				t.log.Debug("Failed to push update", zap.ByteString("key", update.Key), zap.Error(err))
			}
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.log.Info("Waiting for Read/Write loops to stop")
			loopWaiter.Wait()

			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new connections,
				// that's fine.
				t.log.Info("Listener stopped")
				return nil
			}

			// TODO(rolly) can we recover from some classes of err?
			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.server, t.log.Named("conn"))
		t.addConn(tcpConn)

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

// WriteUpdate pushes an invalidation for update to every connection that asked for pushes.
func (t *TCPListener) WriteUpdate(update *storage.Update) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		if uerr := conn.WriteUpdate(update); uerr != nil {
			err = multierr.Append(err, uerr)
		}
	}

	return err
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
	t.server.metrics.ActiveConnections.Inc()
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.activeConns[conn]; ok {
		delete(t.activeConns, conn)
		t.server.metrics.ActiveConnections.Dec()
	}
}
