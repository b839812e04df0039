package client

import (
	"bytes"
	"context"
	"errors"
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var errBrokenPipe = errors.New("broken pipe")

// brokenConn reads from a pipe but fails every write.
type brokenConn struct {
	net.Conn
}

func (brokenConn) Write([]byte) (int, error) {
	return 0, errBrokenPipe
}

var _ = Describe("Conn write failures", func() {
	var (
		conn   *Conn
		remote net.Conn
		ctx    = context.Background()
	)

	BeforeEach(func() {
		var local net.Conn
		local, remote = net.Pipe()

		conn = New(zap.NewNop())
		conn.attach(brokenConn{Conn: local}, 64)
		go conn.readLoop()
	})

	AfterEach(func() {
		Expect(conn.Disconnect()).To(Succeed())
		Expect(remote.Close()).To(Succeed())
	})

	pending := func() int {
		conn.pendingMu.Lock()
		defer conn.pendingMu.Unlock()
		return len(conn.pending)
	}

	It("drops the waiter of a command whose flush failed", func() {
		_, err := conn.Do(ctx, "PING")
		Expect(err).To(MatchError(errBrokenPipe))
		Expect(pending()).To(Equal(0))

		_, err = conn.Do(ctx, "PING")
		Expect(err).To(MatchError(ErrClosed))
		Eventually(conn.UpdateChan()).Should(BeClosed())
	})

	It("never queues a command that could not be written whole", func() {
		_, err := conn.Do(ctx, "SET", []byte("key"), bytes.Repeat([]byte("v"), 1000))
		Expect(err).To(MatchError(errBrokenPipe))
		Expect(pending()).To(Equal(0))

		_, err = conn.Do(ctx, "GET", []byte("key"))
		Expect(err).To(MatchError(ErrClosed))
	})
})
