package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/internal/eventhub"
	"github.com/chainrelay/chainrelay/internal/ledger"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

func testNode(t *testing.T, moniker string, persistentPeers ...string) *Node {
	t.Helper()

	cfg := config.TestConfig()
	cfg.SetRoot(t.TempDir())
	cfg.Moniker = moniker
	for i, p := range persistentPeers {
		if i > 0 {
			cfg.P2P.PersistentPeers += ","
		}
		cfg.P2P.PersistentPeers += p
	}

	n, err := New(cfg, log.TestingLogger().With("node", moniker))
	require.NoError(t, err)
	return n
}

func startNode(t *testing.T, ctx context.Context, n *Node) {
	t.Helper()
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() {
		n.Stop()
		n.Wait()
	})
}

func nextBlock(t *testing.T, n *Node, seq int) (*types.Block, []byte) {
	t.Helper()
	info, err := n.Ledger().GetBlockchainInfo()
	require.NoError(t, err)

	delta, err := (&ledger.StateDelta{Sets: map[string][]byte{fmt.Sprintf("key%d", seq): {byte(seq)}}}).Encode()
	require.NoError(t, err)
	return &types.Block{
		Version:           1,
		Timestamp:         time.Date(2016, 1, 2, 0, 0, seq, 0, time.UTC),
		PreviousBlockHash: info.CurrentBlockHash,
	}, delta
}

func commitBlocks(t *testing.T, ctx context.Context, n *Node, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		block, delta := nextBlock(t, n, int(n.Ledger().Height())+1)
		require.NoError(t, n.CommitBlock(ctx, block, delta))
	}
}

func TestNodeStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := testNode(t, "solo")
	require.NoError(t, n.Start(ctx))
	require.True(t, n.IsRunning())
	require.NotEmpty(t, n.Self().Address)
	require.NotEmpty(t, n.EventsAddr())

	n.Stop()
	n.Wait()
	require.False(t, n.IsRunning())
}

func TestNodeCatchesUpFromPersistentPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ahead := testNode(t, "ahead")
	startNode(t, ctx, ahead)
	commitBlocks(t, ctx, ahead, 3)

	behind := testNode(t, "behind", ahead.Self().Address)
	startNode(t, ctx, behind)

	require.Eventually(t, func() bool { return behind.Ledger().Height() == 3 },
		5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(ahead.Peers()) == 1 },
		5*time.Second, 20*time.Millisecond)
	require.Equal(t, "behind", ahead.Peers()[0].ID.Name)

	// blocks committed after the handshake arrive as announcements
	commitBlocks(t, ctx, ahead, 2)
	require.Eventually(t, func() bool { return behind.Ledger().Height() == 5 },
		5*time.Second, 20*time.Millisecond)

	v, err := behind.Ledger().GetState("key5")
	require.NoError(t, err)
	require.Equal(t, []byte{5}, v)
}

func TestNodePublishesSyncedBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ahead := testNode(t, "ahead")
	startNode(t, ctx, ahead)
	behind := testNode(t, "behind", ahead.Self().Address)
	startNode(t, ctx, behind)

	require.Eventually(t, func() bool { return len(behind.Peers()) == 1 },
		5*time.Second, 20*time.Millisecond)

	stream, err := eventhub.DialWebsocket(ctx, "ws://"+behind.EventsAddr()+eventhub.EventsPath)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(ctx, types.NewRegisterEvent(&types.Interest{EventType: types.EventTypeBlock})))
	ack, err := stream.Recv(ctx)
	require.NoError(t, err)
	require.IsType(t, &types.Register{}, ack.Payload)

	commitBlocks(t, ctx, ahead, 1)
	want, err := ahead.Ledger().GetBlock(1)
	require.NoError(t, err)

	recvCtx, recvCancel := context.WithTimeout(ctx, 5*time.Second)
	defer recvCancel()
	ev, err := stream.Recv(recvCtx)
	require.NoError(t, err)
	block, ok := ev.Payload.(*types.Block)
	require.True(t, ok, "expected a block event, got %v", ev)
	require.Equal(t, want.Hash(), block.Hash())
}

func TestNodeRejectsInvalidConfig(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Sync.BatchSize = 0
	_, err := New(cfg, log.NewNopLogger())
	require.Error(t, err)
}

func TestNodeCommitBlockPublishesOnce(t *testing.T) {
	ctx := context.Background()
	n := testNode(t, "solo")

	consumer := n.Hub().Connect()
	defer n.Hub().Unregister(consumer)
	require.NoError(t, n.Hub().Register(consumer, []*types.Interest{{EventType: types.EventTypeBlock}}))

	block, delta := nextBlock(t, n, 1)
	require.NoError(t, n.CommitBlock(ctx, block, delta))

	// committing it again does not extend the head
	require.Error(t, n.CommitBlock(ctx, block, delta))

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := consumer.Next(recvCtx)
	require.NoError(t, err)
	got, ok := ev.Payload.(*types.Block)
	require.True(t, ok, "expected a block event, got %v", ev)
	require.Equal(t, block.Hash(), got.Hash())

	noneCtx, noneCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer noneCancel()
	_, err = consumer.Next(noneCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	info, err := n.Ledger().GetBlockchainInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1, info.Height)
	require.Equal(t, block.Hash(), info.CurrentBlockHash)
}

func TestNodeSyncSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ahead := testNode(t, "ahead")
	startNode(t, ctx, ahead)
	commitBlocks(t, ctx, ahead, 3)

	behind := testNode(t, "behind", ahead.Self().Address)
	startNode(t, ctx, behind)
	require.Eventually(t, func() bool { return behind.Ledger().Height() == 3 },
		5*time.Second, 20*time.Millisecond)

	_, err := behind.SyncSnapshot(ctx, "nobody")
	require.Error(t, err)

	blockNumber, err := behind.SyncSnapshot(ctx, "ahead")
	require.NoError(t, err)
	require.EqualValues(t, 3, blockNumber)

	for i := 1; i <= 3; i++ {
		v, err := behind.Ledger().GetState(fmt.Sprintf("key%d", i))
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, v)
	}
}
