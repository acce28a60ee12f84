package statesync

import (
	"context"
	"time"

	"github.com/chainrelay/chainrelay/internal/dispatcher"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// StateApplier installs a snapshot received from a peer.
type StateApplier interface {
	ApplyStateSnapshot(blockNumber uint64, state []byte) error
}

// Client requests state from one peer.
type Client struct {
	logger     log.Logger
	metrics    *Metrics
	sender     Sender
	dispatcher *dispatcher.Dispatcher
	timeout    time.Duration
}

// NewClient returns a Client sending on sender and matching replies through
// d. timeout bounds each whole transfer.
func NewClient(logger log.Logger, sender Sender, d *dispatcher.Dispatcher, timeout time.Duration, metrics *Metrics) *Client {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Client{
		logger:     logger,
		metrics:    metrics,
		sender:     sender,
		dispatcher: d,
		timeout:    timeout,
	}
}

// Snapshot fetches the full state of the peer and returns it together with
// the block number it was taken at.
func (c *Client) Snapshot(ctx context.Context) (uint64, []byte, error) {
	req := &types.SyncStateSnapshotRequest{}
	call, err := c.dispatcher.DispatchStream(ctx, c.timeout, func(id uint64) error {
		req.CorrelationID = id
		return c.sender.SendBody(ctx, types.MessageSyncStateGetSnapshot, req)
	})
	if err != nil {
		return 0, nil, err
	}
	defer call.Close()

	asm := NewSnapshotAssembler(req.CorrelationID)
	for {
		msg, err := call.Next(ctx)
		if err != nil {
			return 0, nil, err
		}
		if msg.Type != types.MessageSyncStateSnapshot {
			return 0, nil, types.NewProtocolViolation("expected %v, got %v", types.MessageSyncStateSnapshot, msg.Type)
		}

		var chunk types.SyncStateSnapshot
		if err := msg.Decode(&chunk); err != nil {
			return 0, nil, err
		}
		done, err := asm.Add(&chunk)
		if err != nil {
			return 0, nil, err
		}
		c.metrics.SnapshotChunks.Add(1)
		if done {
			break
		}
	}

	c.metrics.TotalSnapshots.Add(1)
	c.metrics.SnapshotHeight.Set(float64(asm.BlockNumber()))
	return asm.BlockNumber(), asm.State(), nil
}

// SyncSnapshot fetches the peer's state and installs it through applier. It
// returns the block number the state belongs to.
func (c *Client) SyncSnapshot(ctx context.Context, applier StateApplier) (uint64, error) {
	blockNumber, state, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if err := applier.ApplyStateSnapshot(blockNumber, state); err != nil {
		return 0, err
	}
	c.logger.Info("applied state snapshot", "block", blockNumber, "size", len(state))
	return blockNumber, nil
}

// FetchStateDeltas requests the deltas of [start, end] and returns them in the
// order of the range. The reply must hold exactly one delta per height.
func (c *Client) FetchStateDeltas(ctx context.Context, start, end uint64) ([][]byte, error) {
	rng := &types.SyncBlockRange{Start: start, End: end}
	call, err := c.dispatcher.Dispatch(ctx, c.timeout, func(id uint64) error {
		rng.CorrelationID = id
		return c.sender.SendBody(ctx, types.MessageSyncStateGetDeltas, &types.SyncStateDeltasRequest{Range: rng})
	})
	if err != nil {
		return nil, err
	}
	defer call.Close()

	msg, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != types.MessageSyncStateDeltas {
		return nil, types.NewProtocolViolation("expected %v, got %v", types.MessageSyncStateDeltas, msg.Type)
	}

	var resp types.SyncStateDeltas
	if err := msg.Decode(&resp); err != nil {
		return nil, err
	}
	if !rng.SameBounds(resp.Range) || resp.Range.CorrelationID != rng.CorrelationID {
		return nil, types.NewProtocolViolation("reply for range %v does not match request %v", resp.Range, rng)
	}
	if uint64(len(resp.Deltas)) != rng.Len() {
		return nil, types.NewProtocolViolation("expected %d deltas, got %d", rng.Len(), len(resp.Deltas))
	}
	return resp.Deltas, nil
}
