package statesync

import (
	"context"
	"errors"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// DefaultChunkSize is the size of a snapshot chunk when none is configured.
const DefaultChunkSize = 64 * 1024

// MaxDeltas bounds the number of deltas returned for one request.
const MaxDeltas = types.MaxStateDeltas

// StateSource is the state side of the ledger.
type StateSource interface {
	GetStateSnapshot() (blockNumber uint64, state []byte, err error)
	GetStateDelta(height uint64) ([]byte, error)
}

// Sender puts a frame on the channel a request arrived on.
type Sender interface {
	SendBody(ctx context.Context, t types.MessageType, body interface{}) error
}

// Server answers snapshot and delta requests.
type Server struct {
	logger    log.Logger
	metrics   *Metrics
	source    StateSource
	chunkSize int
}

// NewServer returns a Server reading from source.
func NewServer(logger log.Logger, source StateSource, chunkSize int, metrics *Metrics) *Server {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Server{
		logger:    logger,
		metrics:   metrics,
		source:    source,
		chunkSize: chunkSize,
	}
}

// ServeSnapshot streams the current state in reply to a
// SYNC_STATE_GET_SNAPSHOT frame.
func (s *Server) ServeSnapshot(ctx context.Context, sender Sender, msg *types.Message) error {
	var req types.SyncStateSnapshotRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}

	blockNumber, state, err := s.source.GetStateSnapshot()
	if err != nil {
		s.logger.Error("failed to load state snapshot", "err", err)
		return err
	}

	chunks := Chunks(&req, blockNumber, state, s.chunkSize)
	s.logger.Debug("sending state snapshot",
		"id", req.CorrelationID, "block", blockNumber, "size", len(state), "chunks", len(chunks))

	for _, chunk := range chunks {
		if err := sender.SendBody(ctx, types.MessageSyncStateSnapshot, chunk); err != nil {
			return err
		}
		s.metrics.SnapshotChunksServed.Add(1)
	}
	return nil
}

// GetStateDeltas collects the deltas of rng in traversal order, stopping at
// the first block the source does not hold or after MaxDeltas deltas.
func (s *Server) GetStateDeltas(rng *types.SyncBlockRange) (*types.SyncStateDeltas, error) {
	n := rng.Len()
	if n > MaxDeltas {
		n = MaxDeltas
	}

	resp := &types.SyncStateDeltas{Range: rng, Deltas: make([][]byte, 0, n)}
	for i := uint64(0); i < n; i++ {
		delta, err := s.source.GetStateDelta(rng.Height(i))
		if errors.Is(err, types.ErrBlockNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		resp.Deltas = append(resp.Deltas, delta)
	}
	return resp, nil
}

// ServeDeltas replies to a SYNC_STATE_GET_DELTAS frame.
func (s *Server) ServeDeltas(ctx context.Context, sender Sender, msg *types.Message) error {
	var req types.SyncStateDeltasRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.Range == nil {
		return types.NewProtocolViolation("delta request without range")
	}

	resp, err := s.GetStateDeltas(req.Range)
	if err != nil {
		s.logger.Error("failed to load state deltas", "range", req.Range.String(), "err", err)
		return err
	}
	s.metrics.DeltasServed.Add(float64(len(resp.Deltas)))
	return sender.SendBody(ctx, types.MessageSyncStateDeltas, resp)
}
