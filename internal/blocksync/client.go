package blocksync

import (
	"context"
	"time"

	"github.com/chainrelay/chainrelay/internal/dispatcher"
	"github.com/chainrelay/chainrelay/types"
)

// Client requests block ranges from one peer.
type Client struct {
	sender     Sender
	dispatcher *dispatcher.Dispatcher
	timeout    time.Duration
}

// NewClient returns a Client sending on sender and matching replies through
// d. Each request must be answered within timeout.
func NewClient(sender Sender, d *dispatcher.Dispatcher, timeout time.Duration) *Client {
	return &Client{sender: sender, dispatcher: d, timeout: timeout}
}

// FetchBlocks requests the blocks of [start, end] and returns them in the
// order of the range. Fewer blocks than requested are returned if the peer
// does not hold them all.
func (c *Client) FetchBlocks(ctx context.Context, start, end uint64) ([]*types.Block, error) {
	req := &types.SyncBlockRange{Start: start, End: end}
	call, err := c.dispatcher.Dispatch(ctx, c.timeout, func(id uint64) error {
		req.CorrelationID = id
		return c.sender.SendBody(ctx, types.MessageSyncGetBlocks, req)
	})
	if err != nil {
		return nil, err
	}
	defer call.Close()

	msg, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != types.MessageSyncBlocks {
		return nil, types.NewProtocolViolation("expected %v reply, got %v", types.MessageSyncBlocks, msg.Type)
	}

	var resp types.SyncBlocks
	if err := msg.Decode(&resp); err != nil {
		return nil, err
	}
	if !req.SameBounds(resp.Range) || resp.Range.CorrelationID != req.CorrelationID {
		return nil, types.NewProtocolViolation("reply for range %v does not match request %v", resp.Range, req)
	}
	if uint64(len(resp.Blocks)) > req.Len() {
		return nil, types.NewProtocolViolation("got %d blocks for a range of %d", len(resp.Blocks), req.Len())
	}
	return resp.Blocks, nil
}
