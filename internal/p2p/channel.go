package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

const defaultQueueSize = 64

// ChannelOptions tunes a Channel.
type ChannelOptions struct {
	// SendQueueSize is the number of outbound frames buffered before Send
	// blocks.
	SendQueueSize int
	// RecvBufferSize is the number of inbound frames buffered before the
	// receive routine stops reading from the connection.
	RecvBufferSize int

	Logger  log.Logger
	Metrics *Metrics
}

// Channel is a bidirectional, ordered stream of sync surface frames bound to
// one remote peer. A Channel is safe for concurrent use by multiple goroutines.
// Once the underlying connection fails the Channel is closed for good: Send and
// Receive report an error wrapping types.ErrConnection.
type Channel struct {
	id     string
	conn   Connection
	remote *types.PeerEndpoint

	logger  log.Logger
	metrics *Metrics

	// outCh is drained in order by sendRoutine.
	outCh chan *types.Message
	// inCh is filled in order by recvRoutine.
	inCh chan *types.Message

	startOnce sync.Once
	closeOnce sync.Once
	doneCh    chan struct{}

	mtx sync.Mutex
	err error
}

// NewChannel wraps a handshaken connection. Start must be called before frames
// flow.
func NewChannel(conn Connection, remote *types.PeerEndpoint, opts ChannelOptions) *Channel {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultQueueSize
	}
	if opts.RecvBufferSize <= 0 {
		opts.RecvBufferSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}

	id := uuid.NewString()
	return &Channel{
		id:      id,
		conn:    conn,
		remote:  remote,
		logger:  opts.Logger.With("channel", id, "peer", remote.String()),
		metrics: opts.Metrics,
		outCh:   make(chan *types.Message, opts.SendQueueSize),
		inCh:    make(chan *types.Message, opts.RecvBufferSize),
		doneCh:  make(chan struct{}),
	}
}

// ID returns the unique identity of the channel.
func (c *Channel) ID() string { return c.id }

// Remote returns the endpoint of the peer at the other end.
func (c *Channel) Remote() *types.PeerEndpoint { return c.remote }

// Start spawns the send and receive routines. The channel closes when ctx is
// canceled.
func (c *Channel) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.sendRoutine(ctx)
		go c.recvRoutine(ctx)
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-c.doneCh:
			}
		}()
	})
}

// Send queues msg for delivery. Messages sent from one goroutine arrive in
// the order they were sent.
func (c *Channel) Send(ctx context.Context, msg *types.Message) error {
	select {
	case <-c.doneCh:
		return c.Err()
	default:
	}

	select {
	case <-c.doneCh:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	case c.outCh <- msg:
		return nil
	}
}

// SendBody encodes body as a frame of type t and sends it.
func (c *Channel) SendBody(ctx context.Context, t types.MessageType, body interface{}) error {
	msg, err := types.NewMessage(t, body)
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

// Receive returns an iterator over inbound frames.
func (c *Channel) Receive() *MessageIterator {
	return &MessageIterator{ch: c}
}

// Done returns a channel that is closed when the Channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.doneCh }

// Err returns why the channel closed, or nil while it is open.
func (c *Channel) Err() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.err
}

// Close closes the channel and its connection.
func (c *Channel) Close() {
	c.closeWithError(types.ErrConnection)
}

func (c *Channel) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.mtx.Lock()
		c.err = err
		c.mtx.Unlock()

		close(c.doneCh)
		if cerr := c.conn.Close(); cerr != nil {
			c.logger.Debug("error closing connection", "err", cerr)
		}
		c.logger.Debug("channel closed", "reason", err)
	})
}

func (c *Channel) sendRoutine(ctx context.Context) {
	for {
		select {
		case <-c.doneCh:
			return
		case msg := <-c.outCh:
			if err := c.conn.SendMessage(ctx, msg); err != nil {
				c.closeWithError(asConnectionError(err))
				return
			}
			c.metrics.MessagesSent.With("message_type", msg.Type.String()).Add(1)
		}
	}
}

func (c *Channel) recvRoutine(ctx context.Context) {
	for {
		msg, err := c.conn.ReceiveMessage(ctx)
		if err != nil {
			c.closeWithError(asConnectionError(err))
			return
		}
		c.metrics.MessagesReceived.With("message_type", msg.Type.String()).Add(1)

		select {
		case <-c.doneCh:
			return
		case c.inCh <- msg:
		}
	}
}

func asConnectionError(err error) error {
	if errors.Is(err, types.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrConnection, err)
}

// MessageIterator iterates over the inbound frames of a Channel.
type MessageIterator struct {
	ch      *Channel
	current *types.Message
}

// Next blocks until a frame is available, returning false once the channel
// is closed or ctx is done.
func (iter *MessageIterator) Next(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		iter.current = nil
		return false
	case <-iter.ch.doneCh:
		iter.current = nil
		return false
	case msg := <-iter.ch.inCh:
		iter.current = msg
		return true
	}
}

// Message returns the frame made current by the last successful Next.
func (iter *MessageIterator) Message() *types.Message { return iter.current }
