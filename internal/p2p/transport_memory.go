package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainrelay/chainrelay/types"
)

// NewMemoryConnPair returns two in-process connections wired to each other.
// Closing either end closes both. bufferSize is the number of frames each
// direction buffers before SendMessage blocks.
func NewMemoryConnPair(a, b string, bufferSize int) (Connection, Connection) {
	ab := make(chan *types.Message, bufferSize)
	ba := make(chan *types.Message, bufferSize)
	closer := &memoryCloser{ch: make(chan struct{})}

	return &memoryConn{local: a, remote: b, sendCh: ab, recvCh: ba, closer: closer},
		&memoryConn{local: b, remote: a, sendCh: ba, recvCh: ab, closer: closer}
}

type memoryCloser struct {
	once sync.Once
	ch   chan struct{}
}

func (c *memoryCloser) close() { c.once.Do(func() { close(c.ch) }) }

type memoryConn struct {
	local  string
	remote string
	sendCh chan<- *types.Message
	recvCh <-chan *types.Message
	closer *memoryCloser
}

var _ Connection = (*memoryConn)(nil)

func (c *memoryConn) SendMessage(ctx context.Context, msg *types.Message) error {
	select {
	case <-c.closer.ch:
		return types.ErrConnection
	default:
	}

	select {
	case <-c.closer.ch:
		return types.ErrConnection
	case <-ctx.Done():
		return ctx.Err()
	case c.sendCh <- msg:
		return nil
	}
}

func (c *memoryConn) ReceiveMessage(ctx context.Context) (*types.Message, error) {
	select {
	case <-c.closer.ch:
		return nil, types.ErrConnection
	default:
	}

	select {
	case <-c.closer.ch:
		return nil, types.ErrConnection
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.recvCh:
		return msg, nil
	}
}

func (c *memoryConn) LocalEndpoint() string  { return "memory:" + c.local }
func (c *memoryConn) RemoteEndpoint() string { return "memory:" + c.remote }

func (c *memoryConn) Close() error {
	c.closer.close()
	return nil
}

func (c *memoryConn) String() string {
	return fmt.Sprintf("memory{%s->%s}", c.local, c.remote)
}
