// Package dispatcher matches asynchronous responses arriving on a channel to
// the requests that caused them.
//
// Every request is assigned a correlation id that is never reused for the life
// of the Dispatcher. A response carrying an id that is not outstanding, either
// because it was never issued or because its call already resolved or timed
// out, is reported as types.ErrUnknownResponse and otherwise ignored.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

var errCallClosed = errors.New("call closed")

// A Dispatcher tracks the outstanding requests of one channel. There is no
// limit on the number of concurrent calls.
type Dispatcher struct {
	logger  log.Logger
	metrics *Metrics

	mtx    sync.Mutex
	nextID uint64
	calls  map[uint64]*Call
	err    error
}

// New returns a Dispatcher. A nil metrics value disables instrumentation.
func New(logger log.Logger, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Dispatcher{
		logger:  logger,
		metrics: metrics,
		calls:   make(map[uint64]*Call),
	}
}

// Dispatch registers a call that resolves with the first response to it. The
// send function is handed the fresh correlation id and must put the request on
// the wire. If no response arrives within timeout the call resolves with
// types.ErrTimeout; zero disables the timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, timeout time.Duration, send func(id uint64) error) (*Call, error) {
	return d.dispatch(ctx, timeout, false, send)
}

// DispatchStream registers a call that accepts any number of responses until
// the caller closes it. The timeout bounds the whole transfer, not the gap
// between responses.
func (d *Dispatcher) DispatchStream(ctx context.Context, timeout time.Duration, send func(id uint64) error) (*Call, error) {
	return d.dispatch(ctx, timeout, true, send)
}

func (d *Dispatcher) dispatch(
	ctx context.Context,
	timeout time.Duration,
	stream bool,
	send func(id uint64) error,
) (*Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mtx.Lock()
	if d.err != nil {
		err := d.err
		d.mtx.Unlock()
		return nil, err
	}
	d.nextID++
	call := &Call{
		id:       d.nextID,
		d:        d,
		stream:   stream,
		notifyCh: make(chan struct{}, 1),
	}
	d.calls[call.id] = call
	d.metrics.Pending.Set(float64(len(d.calls)))
	d.mtx.Unlock()

	if timeout > 0 {
		call.mtx.Lock()
		call.timer = time.AfterFunc(timeout, func() { d.expire(call.id) })
		call.mtx.Unlock()
	}

	if err := send(call.id); err != nil {
		d.remove(call.id)
		call.fail(err)
		return nil, err
	}
	return call, nil
}

// Respond hands msg to the call registered under id. A plain call resolves on
// its first response and is forgotten; later responses for the same id are
// unknown.
func (d *Dispatcher) Respond(id uint64, msg *types.Message) error {
	d.mtx.Lock()
	call, ok := d.calls[id]
	if ok && !call.stream {
		delete(d.calls, id)
		d.metrics.Pending.Set(float64(len(d.calls)))
	}
	d.mtx.Unlock()

	if !ok {
		d.metrics.UnknownResponses.Add(1)
		d.logger.Debug("dropping response for unknown correlation id", "id", id, "type", msg.Type)
		return types.ErrUnknownResponse{CorrelationID: id}
	}

	call.push(msg)
	return nil
}

// Pending returns the number of outstanding calls.
func (d *Dispatcher) Pending() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.calls)
}

// Close fails every outstanding call with err and refuses new ones. Calling
// Close again has no effect.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = types.ErrConnection
	}

	d.mtx.Lock()
	if d.err != nil {
		d.mtx.Unlock()
		return
	}
	d.err = err
	calls := d.calls
	d.calls = make(map[uint64]*Call)
	d.metrics.Pending.Set(0)
	d.mtx.Unlock()

	for _, call := range calls {
		call.fail(err)
	}
}

func (d *Dispatcher) expire(id uint64) {
	if call := d.remove(id); call != nil {
		d.metrics.Timeouts.Add(1)
		d.logger.Debug("request timed out", "id", id)
		call.fail(types.ErrTimeout)
	}
}

func (d *Dispatcher) remove(id uint64) *Call {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	call, ok := d.calls[id]
	if !ok {
		return nil
	}
	delete(d.calls, id)
	d.metrics.Pending.Set(float64(len(d.calls)))
	return call
}

// Call is an outstanding request.
type Call struct {
	id     uint64
	d      *Dispatcher
	stream bool

	notifyCh chan struct{}

	mtx      sync.Mutex
	timer    *time.Timer
	queue    []*types.Message
	err      error
	resolved bool
}

// ID returns the correlation id of the call.
func (c *Call) ID() uint64 { return c.id }

// Wait blocks until the call resolves and returns its response.
func (c *Call) Wait(ctx context.Context) (*types.Message, error) {
	return c.Next(ctx)
}

// Next returns the next queued response. Responses that arrived before the
// call failed are still returned before the failure.
func (c *Call) Next(ctx context.Context) (*types.Message, error) {
	for {
		c.mtx.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mtx.Unlock()
			return msg, nil
		}
		err := c.err
		c.mtx.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.notifyCh:
		}
	}
}

// Close abandons the call. Responses arriving afterwards are unknown.
func (c *Call) Close() {
	c.d.remove(c.id)
	c.fail(errCallClosed)
}

func (c *Call) push(msg *types.Message) {
	c.mtx.Lock()
	if c.resolved {
		c.mtx.Unlock()
		return
	}
	c.queue = append(c.queue, msg)
	if !c.stream {
		c.resolved = true
		c.stopTimer()
	}
	c.mtx.Unlock()
	c.notify()
}

func (c *Call) fail(err error) {
	c.mtx.Lock()
	if c.err != nil {
		c.mtx.Unlock()
		return
	}
	c.err = err
	c.resolved = true
	c.stopTimer()
	c.mtx.Unlock()
	c.notify()
}

// stopTimer must be called with c.mtx held.
func (c *Call) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Call) notify() {
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}
