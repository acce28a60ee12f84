package blocksync

import (
	"context"
	"errors"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// DefaultMaxRange bounds the number of blocks returned for one request.
const DefaultMaxRange = 500

// BlockSource is the read side of the ledger.
type BlockSource interface {
	GetBlock(height uint64) (*types.Block, error)
}

// Sender puts a frame on the channel a request arrived on.
type Sender interface {
	SendBody(ctx context.Context, t types.MessageType, body interface{}) error
}

// Server answers SYNC_GET_BLOCKS requests.
type Server struct {
	logger   log.Logger
	metrics  *Metrics
	store    BlockSource
	maxRange uint64
}

// NewServer returns a Server reading from store. A maxRange of zero means
// DefaultMaxRange.
func NewServer(logger log.Logger, store BlockSource, maxRange uint64, metrics *Metrics) *Server {
	if maxRange == 0 {
		maxRange = DefaultMaxRange
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Server{
		logger:   logger,
		metrics:  metrics,
		store:    store,
		maxRange: maxRange,
	}
}

// GetBlocks collects the blocks of rng in its traversal order. The result
// stops at the first height the store does not hold and never exceeds the
// server's max range. The range is echoed unchanged.
func (s *Server) GetBlocks(rng *types.SyncBlockRange) (*types.SyncBlocks, error) {
	n := rng.Len()
	if n > s.maxRange {
		n = s.maxRange
	}

	resp := &types.SyncBlocks{Range: rng, Blocks: make([]*types.Block, 0, n)}
	for i := uint64(0); i < n; i++ {
		height := rng.Height(i)
		block, err := s.store.GetBlock(height)
		if errors.Is(err, types.ErrBlockNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		resp.Blocks = append(resp.Blocks, block)
	}
	return resp, nil
}

// ServeGetBlocks decodes a SYNC_GET_BLOCKS frame and replies with SYNC_BLOCKS.
func (s *Server) ServeGetBlocks(ctx context.Context, sender Sender, msg *types.Message) error {
	var rng types.SyncBlockRange
	if err := msg.Decode(&rng); err != nil {
		return err
	}

	resp, err := s.GetBlocks(&rng)
	if err != nil {
		s.logger.Error("failed to load blocks", "range", rng.String(), "err", err)
		return err
	}
	if uint64(len(resp.Blocks)) < rng.Len() {
		s.logger.Info("peer requested blocks we do not have",
			"range", rng.String(), "returned", len(resp.Blocks))
	}

	s.metrics.BlocksServed.Add(float64(len(resp.Blocks)))
	return sender.SendBody(ctx, types.MessageSyncBlocks, resp)
}
