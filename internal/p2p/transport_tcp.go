package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/chainrelay/chainrelay/internal/libs/frameio"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// TCPTransport accepts and dials stream connections carrying varint-delimited
// CBOR frames.
type TCPTransport struct {
	logger       log.Logger
	maxFrameSize int

	mtx      sync.Mutex
	listener net.Listener
}

// NewTCPTransport creates a transport. maxFrameSize bounds inbound frames.
func NewTCPTransport(logger log.Logger, maxFrameSize int) *TCPTransport {
	return &TCPTransport{
		logger:       logger,
		maxFrameSize: maxFrameSize,
	}
}

// Listen starts listening on addr. At most maxConns inbound connections are
// open at once; zero means unlimited.
func (t *TCPTransport) Listen(addr string, maxConns int) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.listener != nil {
		return errors.New("transport is already listening")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}
	t.listener = listener
	t.logger.Info("listening for peers", "addr", listener.Addr().String(), "max_conns", maxConns)
	return nil
}

// Endpoint returns the address the transport listens on, or "" if it does not
// listen.
func (t *TCPTransport) Endpoint() string {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Accept waits for the next inbound connection. It returns an error once the
// transport is closed.
func (t *TCPTransport) Accept() (Connection, error) {
	t.mtx.Lock()
	listener := t.listener
	t.mtx.Unlock()
	if listener == nil {
		return nil, errors.New("transport is not listening")
	}

	conn, err := listener.Accept()
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, t.maxFrameSize), nil
}

// Dial connects to a peer at addr.
func (t *TCPTransport) Dial(ctx context.Context, addr string) (Connection, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, t.maxFrameSize), nil
}

// Close stops listening.
func (t *TCPTransport) Close() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

func (t *TCPTransport) String() string { return "tcp" }

type streamConn struct {
	conn   net.Conn
	writer frameio.WriteCloser
	reader frameio.ReadCloser

	closeOnce sync.Once
	closeCh   chan struct{}
}

var _ Connection = (*streamConn)(nil)

func newStreamConn(conn net.Conn, maxFrameSize int) *streamConn {
	return &streamConn{
		conn:    conn,
		writer:  frameio.NewDelimitedWriter(conn),
		reader:  frameio.NewDelimitedReader(conn, maxFrameSize),
		closeCh: make(chan struct{}),
	}
}

func (c *streamConn) SendMessage(ctx context.Context, msg *types.Message) error {
	select {
	case <-c.closeCh:
		return types.ErrConnection
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return connectionError(err)
	}
	if _, err := c.writer.WriteMsg(msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return connectionError(err)
	}
	return nil
}

func (c *streamConn) ReceiveMessage(ctx context.Context) (*types.Message, error) {
	select {
	case <-c.closeCh:
		return nil, types.ErrConnection
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// unblock the read if the context ends first
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	msg := &types.Message{}
	if _, err := c.reader.ReadMsg(msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, connectionError(err)
	}
	return msg, nil
}

func (c *streamConn) LocalEndpoint() string  { return c.conn.LocalAddr().String() }
func (c *streamConn) RemoteEndpoint() string { return c.conn.RemoteAddr().String() }

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *streamConn) String() string {
	return fmt.Sprintf("tcp{%s->%s}", c.LocalEndpoint(), c.RemoteEndpoint())
}
