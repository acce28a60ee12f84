package eventhub

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/chainrelay/chainrelay/types"
)

// Serve runs one consumer session over stream until the stream closes or ctx
// is done. Register events from the consumer replace its interests and are
// echoed back once accepted; matching events are sent as they are published.
// The consumer is unregistered when Serve returns.
func (h *Hub) Serve(ctx context.Context, stream Stream) error {
	c := h.Connect()
	defer h.Unregister(c)

	logger := h.logger.With("consumer", c.ID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// unblock both loops once either ends
	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			ev, err := stream.Recv(gctx)
			if err != nil {
				return err
			}

			reg, ok := ev.Payload.(*types.Register)
			if !ok {
				logger.Debug("ignoring event from consumer", "event", ev.String())
				continue
			}
			if err := h.Register(c, reg.Events); err != nil {
				logger.Info("rejected register", "err", err)
				continue
			}
			if err := stream.Send(gctx, types.NewRegisterEvent(reg.Events...)); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for {
			ev, err := c.Next(gctx)
			if err != nil {
				return err
			}
			if err := stream.Send(gctx, ev); err != nil {
				return err
			}
			h.metrics.EventsDelivered.With("event_type", eventType(ev).String()).Add(1)
		}
	})

	err := g.Wait()
	if isClosedErr(err) {
		return nil
	}
	return err
}

func isClosedErr(err error) bool {
	return err == nil ||
		errors.Is(err, types.ErrConnection) ||
		errors.Is(err, ErrUnregistered) ||
		errors.Is(err, context.Canceled)
}
