package blocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// State is the phase the Engine is in.
type State int

const (
	StateIdle State = iota
	StateDetectingGap
	StateRequestingRange
	StateReceiving
	StateApplying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDetectingGap:
		return "DETECTING_GAP"
	case StateRequestingRange:
		return "REQUESTING_RANGE"
	case StateReceiving:
		return "RECEIVING"
	case StateApplying:
		return "APPLYING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Ledger is the chain the Engine commits into.
type Ledger interface {
	GetBlockchainInfo() (*types.BlockchainInfo, error)
	CommitBlock(block *types.Block, delta []byte) error
}

// Fetcher retrieves ranges from a remote peer. Both methods return their
// results in the traversal order of [start, end], which is descending when
// start > end.
type Fetcher interface {
	FetchBlocks(ctx context.Context, start, end uint64) ([]*types.Block, error)
	FetchStateDeltas(ctx context.Context, start, end uint64) ([][]byte, error)
}

// CommitHook is called after every block the Engine commits.
type CommitHook func(height uint64, block *types.Block)

// EngineOption sets an optional parameter on the Engine.
type EngineOption func(*Engine)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithCommitHook registers a hook run after each commit.
func WithCommitHook(hook CommitHook) EngineOption {
	return func(e *Engine) { e.onCommit = hook }
}

// WithBatchSize bounds the number of blocks requested at once.
func WithBatchSize(n uint64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDescendingRanges makes the Engine request missing ranges from the
// highest height down.
func WithDescendingRanges(descending bool) EngineOption {
	return func(e *Engine) { e.descending = descending }
}

// Engine closes gaps between the local chain and the heads announced by peers.
// There is one Engine per local chain; it is safe for concurrent use and never
// runs two syncs at once.
type Engine struct {
	logger     log.Logger
	metrics    *Metrics
	ledger     Ledger
	onCommit   CommitHook
	descending bool
	batchSize  uint64

	// syncMtx serializes whole sync attempts so that two announcements of the
	// same height cannot both pass the height check.
	syncMtx sync.Mutex

	mtx     sync.RWMutex
	state   State
	lastErr error
}

// NewEngine returns an Engine committing into ledger.
func NewEngine(logger log.Logger, ledger Ledger, options ...EngineOption) *Engine {
	e := &Engine{
		logger:  logger,
		metrics: NopMetrics(),
		ledger:  ledger,
		state:   StateIdle,

		batchSize: DefaultMaxRange,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// State returns the current phase and the error that caused the last failure,
// if the Engine is in StateError.
func (e *Engine) State() (State, error) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.state, e.lastErr
}

func (e *Engine) setState(s State, err error) {
	e.mtx.Lock()
	e.state = s
	e.lastErr = err
	e.mtx.Unlock()

	if s == StateIdle || s == StateError {
		e.metrics.Syncing.Set(0)
	} else {
		e.metrics.Syncing.Set(1)
	}
}

// HandleBlockAdded reacts to a peer announcing that it committed bs and is now
// at announced. Announcements at or below the local height are ignored. A
// block that extends the local head is committed directly; otherwise the
// missing range up to the announced height is fetched through f.
func (e *Engine) HandleBlockAdded(
	ctx context.Context,
	announced *types.BlockchainInfo,
	bs *types.BlockState,
	f Fetcher,
) error {
	if announced == nil || bs == nil || bs.Block == nil {
		return types.NewProtocolViolation("incomplete block announcement")
	}

	e.syncMtx.Lock()
	defer e.syncMtx.Unlock()

	local, err := e.ledger.GetBlockchainInfo()
	if err != nil {
		return err
	}

	if announced.Height <= local.Height {
		e.metrics.DuplicateAnnouncements.Add(1)
		e.logger.Debug("ignoring announcement at or below local height",
			"announced", announced.Height, "local", local.Height)
		return nil
	}

	if bs.Block.LinksTo(local.CurrentBlockHash) {
		e.setState(StateApplying, nil)
		if err := e.commit(local.Height+1, bs.Block, bs.StateDelta); err != nil {
			err = types.ErrApply{Height: local.Height, Err: err}
			e.setState(StateError, err)
			return err
		}
		e.setState(StateIdle, nil)
		return nil
	}

	return e.syncGap(ctx, local, announced, bs, f)
}

// SyncTo fetches and commits every block between the local head and target
// through f. It does nothing if the local chain is already at or beyond
// target.
func (e *Engine) SyncTo(ctx context.Context, target *types.BlockchainInfo, f Fetcher) error {
	if target == nil {
		return nil
	}

	e.syncMtx.Lock()
	defer e.syncMtx.Unlock()

	local, err := e.ledger.GetBlockchainInfo()
	if err != nil {
		return err
	}
	if target.Height <= local.Height {
		return nil
	}
	return e.syncGap(ctx, local, target, nil, f)
}

// CommitBlock commits a block produced locally on top of the local head and
// returns the resulting chain info. It takes the same lock as a sync, so a
// local commit never lands in the middle of a synced batch.
func (e *Engine) CommitBlock(block *types.Block, delta []byte) (*types.BlockchainInfo, error) {
	if block == nil {
		return nil, errors.New("nil block")
	}

	e.syncMtx.Lock()
	defer e.syncMtx.Unlock()

	local, err := e.ledger.GetBlockchainInfo()
	if err != nil {
		return nil, err
	}
	if !block.LinksTo(local.CurrentBlockHash) {
		return nil, fmt.Errorf("block does not extend head %X at height %d", local.CurrentBlockHash, local.Height)
	}
	if err := e.commit(local.Height+1, block, delta); err != nil {
		return nil, types.ErrApply{Height: local.Height, Err: err}
	}
	return &types.BlockchainInfo{
		Height:            local.Height + 1,
		CurrentBlockHash:  block.Hash(),
		PreviousBlockHash: block.PreviousBlockHash,
	}, nil
}

// syncGap must be called with syncMtx held. The gap is closed one batch at a
// time: each batch is fetched, verified against the local head and applied
// before the next one is requested.
func (e *Engine) syncGap(
	ctx context.Context,
	local, target *types.BlockchainInfo,
	trigger *types.BlockState,
	f Fetcher,
) error {
	e.setState(StateDetectingGap, nil)

	rng := &types.SyncBlockRange{Start: local.Height + 1, End: target.Height}
	logger := e.logger.With("range", rng.String(), "local", local.Height)
	started := time.Now()

	height := local.Height
	fail := func(err error) error {
		err = ErrSyncFailed{Start: rng.Start, End: rng.End, Height: height, Reason: err}
		e.setState(StateError, err)
		e.metrics.SyncFailures.Add(1)
		logger.Error("block sync failed", "err", err)
		return err
	}

	if rng.Start == 0 || rng.End < rng.Start {
		return fail(types.NewProtocolViolation("invalid sync range %v", rng))
	}
	logger.Info("syncing missing blocks")

	prev := local.CurrentBlockHash
	for height < rng.End {
		hi := rng.End
		if hi-height > e.batchSize {
			hi = height + e.batchSize
		}

		blocks, deltas, err := e.fetchBatch(ctx, height+1, hi, f)
		if err != nil {
			return fail(err)
		}

		e.setState(StateReceiving, nil)
		var head []byte
		if height+uint64(len(blocks)) == rng.End {
			head = target.CurrentBlockHash
		}
		if err := VerifyContiguous(prev, blocks, uint64(len(blocks)), head); err != nil {
			return fail(err)
		}

		e.setState(StateApplying, nil)
		for i, block := range blocks {
			if err := e.commit(height+1, block, deltas[i]); err != nil {
				err = types.ErrApply{Height: height, Err: err}
				e.setState(StateError, err)
				logger.Error("failed to apply synced block", "err", err)
				return err
			}
			height++
		}
		prev = blocks[len(blocks)-1].Hash()
	}

	if trigger != nil && trigger.Block.LinksTo(prev) {
		if err := e.commit(height+1, trigger.Block, trigger.StateDelta); err != nil {
			err = types.ErrApply{Height: height, Err: err}
			e.setState(StateError, err)
			return err
		}
	}

	e.metrics.SyncDuration.Observe(time.Since(started).Seconds())
	e.setState(StateIdle, nil)
	logger.Info("synced missing blocks", "height", target.Height, "took", time.Since(started))
	return nil
}

// fetchBatch fetches the blocks and deltas of [lo, hi] and returns them in
// ascending order. Peers cap their replies, so an ascending fetch may return
// only a prefix of the batch. A descending fetch keeps requesting the lower
// heights until the whole batch is in, since its first reply does not link to
// the local head.
func (e *Engine) fetchBatch(ctx context.Context, lo, hi uint64, f Fetcher) ([]*types.Block, [][]byte, error) {
	e.setState(StateRequestingRange, nil)

	if !e.descending {
		return e.fetchPart(ctx, &types.SyncBlockRange{Start: lo, End: hi}, f)
	}

	var (
		blocks []*types.Block
		deltas [][]byte
	)
	for top := hi; top >= lo; {
		b, d, err := e.fetchPart(ctx, &types.SyncBlockRange{Start: top, End: lo}, f)
		if err != nil {
			return nil, nil, err
		}
		blocks = append(b[:len(b):len(b)], blocks...)
		deltas = append(d[:len(d):len(d)], deltas...)
		top -= uint64(len(b))
	}
	return blocks, deltas, nil
}

// fetchPart requests rng and returns the non-empty prefix of it the peer
// delivered, in ascending order. Deltas are requested only for the blocks
// received, and never for more than a peer answers at once.
func (e *Engine) fetchPart(ctx context.Context, rng *types.SyncBlockRange, f Fetcher) ([]*types.Block, [][]byte, error) {
	b, err := f.FetchBlocks(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching blocks %v: %w", rng, err)
	}
	if len(b) == 0 {
		return nil, nil, types.NewProtocolViolation("no blocks for %v", rng)
	}
	if uint64(len(b)) > rng.Len() {
		return nil, nil, types.NewProtocolViolation("expected at most %d blocks for %v, got %d", rng.Len(), rng, len(b))
	}

	if len(b) > types.MaxStateDeltas {
		b = b[:types.MaxStateDeltas]
	}
	part := &types.SyncBlockRange{Start: rng.Start, End: rng.Height(uint64(len(b) - 1))}
	d, err := f.FetchStateDeltas(ctx, part.Start, part.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching state deltas %v: %w", part, err)
	}
	if len(d) == 0 || len(d) > len(b) {
		return nil, nil, types.NewProtocolViolation("got %d state deltas for %d blocks", len(d), len(b))
	}

	b = b[:len(d)]
	part.End = part.Height(uint64(len(d) - 1))
	return ascending(part, b), ascendingDeltas(part, d), nil
}

func (e *Engine) commit(height uint64, block *types.Block, delta []byte) error {
	if err := e.ledger.CommitBlock(block, delta); err != nil {
		return err
	}
	e.metrics.Height.Set(float64(height))
	e.metrics.BlocksApplied.Add(1)
	if e.onCommit != nil {
		e.onCommit(height, block)
	}
	return nil
}

func ascendingDeltas(rng *types.SyncBlockRange, deltas [][]byte) [][]byte {
	if rng.Ascending() {
		return deltas
	}
	out := make([][]byte, len(deltas))
	for i, delta := range deltas {
		out[len(deltas)-1-i] = delta
	}
	return out
}
