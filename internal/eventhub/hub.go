package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// DefaultQueueSize is the per-consumer queue capacity when none is configured.
const DefaultQueueSize = 100

var (
	// ErrUnregistered is returned by Consumer.Next once the consumer has been
	// removed from the hub.
	ErrUnregistered = errors.New("consumer unregistered")
)

// ErrInvalidRegister is returned for a Register the hub refuses. The
// consumer's previous interests stay in effect.
type ErrInvalidRegister struct {
	Index  int
	Reason error
}

func (e ErrInvalidRegister) Error() string {
	return fmt.Sprintf("invalid interest %d: %v", e.Index, e.Reason)
}

func (e ErrInvalidRegister) Unwrap() error { return e.Reason }

// Consumer is a registered receiver of events.
type Consumer struct {
	id    string
	queue *eventQueue

	// guarded by Hub.mtx
	interests []*types.Interest
}

// ID returns the unique identity of the consumer.
func (c *Consumer) ID() string { return c.id }

// Next blocks until an event matching the consumer's interests is available.
// Events are returned in publish order.
func (c *Consumer) Next(ctx context.Context) (*types.Event, error) {
	return c.queue.next(ctx)
}

// Dropped returns how many events were discarded because the consumer fell
// behind. The count never decreases.
func (c *Consumer) Dropped() uint64 {
	return c.queue.droppedCount()
}

// Hub is the registry of consumers and the fan-out point for published
// events. It is safe for concurrent use.
type Hub struct {
	logger    log.Logger
	metrics   *Metrics
	queueSize int

	mtx       sync.RWMutex
	consumers map[string]*Consumer
}

// NewHub returns an empty Hub. queueSize bounds each consumer's backlog.
func NewHub(logger log.Logger, queueSize int, metrics *Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Hub{
		logger:    logger,
		metrics:   metrics,
		queueSize: queueSize,
		consumers: make(map[string]*Consumer),
	}
}

// Connect adds a consumer with no interests.
func (h *Hub) Connect() *Consumer {
	c := &Consumer{
		id:    uuid.NewString(),
		queue: newEventQueue(h.queueSize),
	}

	h.mtx.Lock()
	h.consumers[c.id] = c
	h.metrics.Consumers.Set(float64(len(h.consumers)))
	h.mtx.Unlock()

	h.logger.Debug("consumer connected", "consumer", c.id)
	return c
}

// Register replaces the interests of c. Interests in REGISTER events match
// nothing and are dropped. If any other interest is invalid the whole set is
// rejected and the previous one is kept.
func (h *Hub) Register(c *Consumer, interests []*types.Interest) error {
	copied := make([]*types.Interest, 0, len(interests))
	for i, interest := range interests {
		if interest != nil && interest.EventType == types.EventTypeRegister {
			continue
		}
		if err := interest.ValidateBasic(); err != nil {
			return ErrInvalidRegister{Index: i, Reason: err}
		}
		copied = append(copied, interest)
	}

	h.mtx.Lock()
	defer h.mtx.Unlock()

	if _, ok := h.consumers[c.id]; !ok {
		return ErrUnregistered
	}
	c.interests = copied
	h.logger.Debug("consumer registered", "consumer", c.id, "interests", len(copied))
	return nil
}

// Unregister removes c and releases its interests. Events queued for c are
// discarded. Calling Unregister again has no effect.
func (h *Hub) Unregister(c *Consumer) {
	h.mtx.Lock()
	_, ok := h.consumers[c.id]
	if ok {
		delete(h.consumers, c.id)
		c.interests = nil
		h.metrics.Consumers.Set(float64(len(h.consumers)))
	}
	h.mtx.Unlock()

	if ok {
		c.queue.close()
		h.logger.Debug("consumer unregistered", "consumer", c.id, "dropped", c.Dropped())
	}
}

// NumConsumers returns the number of connected consumers.
func (h *Hub) NumConsumers() int {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.consumers)
}

// Publish queues ev for every consumer with a matching interest and returns
// how many consumers it was queued for. Publish never blocks on consumers.
func (h *Hub) Publish(ev *types.Event) int {
	if ev == nil || ev.Payload == nil {
		return 0
	}

	h.mtx.RLock()
	matched := make([]*Consumer, 0, len(h.consumers))
	for _, c := range h.consumers {
		if matchesAny(c.interests, ev) {
			matched = append(matched, c)
		}
	}
	h.mtx.RUnlock()

	et := eventType(ev).String()
	h.metrics.EventsPublished.With("event_type", et).Add(1)
	for _, c := range matched {
		if c.queue.push(ev) {
			h.metrics.EventsDropped.With("event_type", et).Add(1)
		}
	}
	return len(matched)
}

// PublishBlock publishes block followed by each of its chaincode events.
func (h *Hub) PublishBlock(block *types.Block) {
	h.Publish(types.NewBlockEvent(block))
	for _, ce := range block.ChaincodeEvents() {
		h.PublishChaincodeEvent(ce)
	}
}

// PublishChaincodeEvent publishes a single chaincode event.
func (h *Hub) PublishChaincodeEvent(ce *types.ChaincodeEvent) int {
	return h.Publish(types.NewChaincodeEvent(ce))
}
