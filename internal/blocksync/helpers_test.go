package blocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/chainrelay/chainrelay/internal/ledger"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

// makeChain returns a store holding blocks 0..height.
func makeChain(t *testing.T, height uint64) *ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(dbm.NewMemDB(), nil)
	require.NoError(t, err)

	for h := uint64(1); h <= height; h++ {
		info, err := store.GetBlockchainInfo()
		require.NoError(t, err)

		block := &types.Block{
			Version:           1,
			Timestamp:         time.Date(2016, 1, 1, 0, 0, int(h), 0, time.UTC),
			PreviousBlockHash: info.CurrentBlockHash,
			NonHashData: &types.NonHashData{
				ChaincodeEvents: []*types.ChaincodeEvent{{ChaincodeID: "cc", EventName: fmt.Sprint(h)}},
			},
		}
		delta := &ledger.StateDelta{Sets: map[string][]byte{fmt.Sprintf("k%d", h): []byte{byte(h)}}}
		bz, err := delta.Encode()
		require.NoError(t, err)
		require.NoError(t, store.CommitBlock(block, bz))
	}
	return store
}

// copyChain returns a store holding blocks 0..height of src.
func copyChain(t *testing.T, src *ledger.Store, height uint64) *ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(dbm.NewMemDB(), nil)
	require.NoError(t, err)

	for h := uint64(1); h <= height; h++ {
		block, err := src.GetBlock(h)
		require.NoError(t, err)
		delta, err := src.GetStateDelta(h)
		require.NoError(t, err)
		require.NoError(t, store.CommitBlock(block, delta))
	}
	return store
}

func blockState(t *testing.T, store *ledger.Store, height uint64) (*types.BlockchainInfo, *types.BlockState) {
	t.Helper()
	block, err := store.GetBlock(height)
	require.NoError(t, err)
	delta, err := store.GetStateDelta(height)
	require.NoError(t, err)
	return &types.BlockchainInfo{
		Height:            height,
		CurrentBlockHash:  block.Hash(),
		PreviousBlockHash: block.PreviousBlockHash,
	}, &types.BlockState{Block: block, StateDelta: delta}
}

// storeFetcher serves ranges straight out of a remote store and records every
// request.
type storeFetcher struct {
	server *Server
	source *ledger.Store
	tamper func([]*types.Block) []*types.Block

	mtx      sync.Mutex
	requests [][2]uint64
}

func newStoreFetcher(source *ledger.Store) *storeFetcher {
	return &storeFetcher{
		server: NewServer(log.NewNopLogger(), source, 0, nil),
		source: source,
	}
}

func (f *storeFetcher) FetchBlocks(_ context.Context, start, end uint64) ([]*types.Block, error) {
	f.mtx.Lock()
	f.requests = append(f.requests, [2]uint64{start, end})
	f.mtx.Unlock()

	resp, err := f.server.GetBlocks(&types.SyncBlockRange{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	if f.tamper != nil {
		return f.tamper(resp.Blocks), nil
	}
	return resp.Blocks, nil
}

func (f *storeFetcher) FetchStateDeltas(_ context.Context, start, end uint64) ([][]byte, error) {
	rng := &types.SyncBlockRange{Start: start, End: end}
	if rng.Len() > types.MaxStateDeltas {
		return nil, types.NewProtocolViolation("delta range %v exceeds %d", rng, types.MaxStateDeltas)
	}
	deltas := make([][]byte, 0, rng.Len())
	for _, h := range rng.Heights() {
		delta, err := f.source.GetStateDelta(h)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
	}
	return deltas, nil
}

func (f *storeFetcher) Requests() [][2]uint64 {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([][2]uint64(nil), f.requests...)
}

// failingLedger refuses the commit of one height.
type failingLedger struct {
	*ledger.Store
	failAt uint64
}

func (l *failingLedger) CommitBlock(block *types.Block, delta []byte) error {
	if l.Height()+1 == l.failAt {
		return errors.New("disk full")
	}
	return l.Store.CommitBlock(block, delta)
}
