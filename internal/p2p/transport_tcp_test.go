package p2p

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainrelay/internal/libs/frameio"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewTCPTransport(log.NewNopLogger(), frameio.DefaultMaxFrameSize)
	require.NoError(t, server.Listen("127.0.0.1:0", 4))
	defer server.Close()
	require.NotEmpty(t, server.Endpoint())

	acceptCh := make(chan Connection, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			close(acceptCh)
			return
		}
		acceptCh <- conn
	}()

	client := NewTCPTransport(log.NewNopLogger(), frameio.DefaultMaxFrameSize)
	out, err := client.Dial(ctx, server.Endpoint())
	require.NoError(t, err)
	defer out.Close()

	in, ok := <-acceptCh
	require.True(t, ok)
	defer in.Close()

	rng := &types.SyncBlockRange{CorrelationID: 9, Start: 6, End: 8}
	require.NoError(t, out.SendMessage(ctx, types.MustNewMessage(types.MessageSyncGetBlocks, rng)))

	msg, err := in.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, types.MessageSyncGetBlocks, msg.Type)

	var got types.SyncBlockRange
	require.NoError(t, msg.Decode(&got))
	require.Equal(t, *rng, got)

	require.NoError(t, out.Close())
	_, err = in.ReceiveMessage(ctx)
	require.True(t, errors.Is(err, types.ErrConnection), "got %v", err)
}

func TestTCPConnReceiveHonorsContext(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	server := NewTCPTransport(log.NewNopLogger(), 0)
	require.NoError(t, server.Listen("127.0.0.1:0", 0))
	defer server.Close()

	go func() {
		conn, err := server.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	conn, err := NewTCPTransport(log.NewNopLogger(), 0).Dial(context.Background(), server.Endpoint())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.ReceiveMessage(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
