package blocksync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

func TestServerRangeOrdering(t *testing.T) {
	const height = 20
	store := makeChain(t, height)

	hashes := make([][]byte, height+1)
	for h := range hashes {
		block, err := store.GetBlock(uint64(h))
		require.NoError(t, err)
		hashes[h] = block.Hash()
	}

	rapid.Check(t, func(t *rapid.T) {
		start := rapid.Uint64Range(0, height+5).Draw(t, "start").(uint64)
		end := rapid.Uint64Range(0, height+5).Draw(t, "end").(uint64)
		maxRange := rapid.Uint64Range(1, 30).Draw(t, "maxRange").(uint64)

		server := NewServer(log.NewNopLogger(), store, maxRange, nil)
		rng := &types.SyncBlockRange{CorrelationID: 3, Start: start, End: end}
		resp, err := server.GetBlocks(rng)
		require.NoError(t, err)
		require.Equal(t, rng, resp.Range)

		// every returned block sits at the next height of the range, in order
		for i, block := range resp.Blocks {
			h := rng.Height(uint64(i))
			require.LessOrEqual(t, h, uint64(height))
			require.Equal(t, hashes[h], block.Hash())
		}

		// the reply stops only at a missing block or the cap
		n := uint64(len(resp.Blocks))
		if n < rng.Len() && n < maxRange {
			require.Greater(t, rng.Height(n), uint64(height))
		}
		require.LessOrEqual(t, n, maxRange)
	})
}

type recordingSender struct {
	msgs []*types.Message
}

func (s *recordingSender) SendBody(_ context.Context, mt types.MessageType, body interface{}) error {
	msg, err := types.NewMessage(mt, body)
	if err != nil {
		return err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestServeGetBlocks(t *testing.T) {
	store := makeChain(t, 3)
	server := NewServer(log.NewNopLogger(), store, 0, nil)
	sender := &recordingSender{}

	req := types.MustNewMessage(types.MessageSyncGetBlocks, &types.SyncBlockRange{CorrelationID: 7, Start: 3, End: 1})
	require.NoError(t, server.ServeGetBlocks(context.Background(), sender, req))
	require.Len(t, sender.msgs, 1)
	require.Equal(t, types.MessageSyncBlocks, sender.msgs[0].Type)

	var resp types.SyncBlocks
	require.NoError(t, sender.msgs[0].Decode(&resp))
	require.EqualValues(t, 7, resp.Range.CorrelationID)
	require.Len(t, resp.Blocks, 3)
	require.True(t, resp.Blocks[0].LinksTo(resp.Blocks[1].Hash()))
	require.True(t, resp.Blocks[1].LinksTo(resp.Blocks[2].Hash()))

	bad := &types.Message{Type: types.MessageSyncGetBlocks, Payload: []byte{0xff}}
	require.True(t, types.IsProtocolViolation(server.ServeGetBlocks(context.Background(), sender, bad)))
}
