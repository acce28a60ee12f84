package eventhub

import (
	"context"
	"sync"

	"github.com/chainrelay/chainrelay/types"
)

// Stream is a bidirectional, ordered channel of events between a consumer and
// the hub. Send may be called concurrently with Recv and with itself. Once the
// stream is closed every call returns an error wrapping types.ErrConnection.
type Stream interface {
	Send(ctx context.Context, ev *types.Event) error
	Recv(ctx context.Context) (*types.Event, error)
	Close() error
}

// NewMemoryStreamPair returns two in-process streams connected to each other.
// Closing either end closes both.
func NewMemoryStreamPair(bufferSize int) (Stream, Stream) {
	ab := make(chan *types.Event, bufferSize)
	ba := make(chan *types.Event, bufferSize)
	closer := &memoryCloser{ch: make(chan struct{})}
	return &memoryStream{sendCh: ab, recvCh: ba, closer: closer},
		&memoryStream{sendCh: ba, recvCh: ab, closer: closer}
}

type memoryCloser struct {
	once sync.Once
	ch   chan struct{}
}

type memoryStream struct {
	sendCh chan<- *types.Event
	recvCh <-chan *types.Event
	closer *memoryCloser
}

func (s *memoryStream) Send(ctx context.Context, ev *types.Event) error {
	select {
	case <-s.closer.ch:
		return types.ErrConnection
	default:
	}

	select {
	case <-s.closer.ch:
		return types.ErrConnection
	case <-ctx.Done():
		return ctx.Err()
	case s.sendCh <- ev:
		return nil
	}
}

func (s *memoryStream) Recv(ctx context.Context) (*types.Event, error) {
	select {
	case <-s.closer.ch:
		return nil, types.ErrConnection
	default:
	}

	select {
	case <-s.closer.ch:
		return nil, types.ErrConnection
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-s.recvCh:
		return ev, nil
	}
}

func (s *memoryStream) Close() error {
	s.closer.once.Do(func() { close(s.closer.ch) })
	return nil
}
