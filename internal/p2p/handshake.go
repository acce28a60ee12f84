package p2p

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainrelay/chainrelay/types"
)

// Handshake exchanges DISC_HELLO frames over a fresh connection and returns
// the remote's hello. It must complete before any other traffic flows.
func Handshake(
	ctx context.Context,
	conn Connection,
	local *types.HelloMessage,
	timeout time.Duration,
) (*types.HelloMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hello, err := types.NewMessage(types.MessageDiscHello, local)
	if err != nil {
		return nil, err
	}

	var remote types.HelloMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.SendMessage(gctx, hello)
	})
	g.Go(func() error {
		msg, err := conn.ReceiveMessage(gctx)
		if err != nil {
			return err
		}
		if msg.Type != types.MessageDiscHello {
			return types.NewProtocolViolation("expected %v, got %v", types.MessageDiscHello, msg.Type)
		}
		if err := msg.Decode(&remote); err != nil {
			return err
		}
		if err := remote.ValidateBasic(); err != nil {
			return types.ErrProtocolViolation{Reason: err}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, types.ErrTimeout
		}
		return nil, err
	}
	return &remote, nil
}
