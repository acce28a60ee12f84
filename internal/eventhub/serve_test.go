package eventhub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

func recvEvent(t *testing.T, s Stream) *types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := s.Recv(ctx)
	require.NoError(t, err)
	return ev
}

func waitForConsumers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.NumConsumers() == n },
		2*time.Second, 5*time.Millisecond)
}

// registerAndAck sends a Register and waits for its echo.
func registerAndAck(t *testing.T, s Stream, interests ...*types.Interest) {
	t.Helper()
	require.NoError(t, s.Send(context.Background(), types.NewRegisterEvent(interests...)))

	ack := recvEvent(t, s)
	reg, ok := ack.Payload.(*types.Register)
	require.True(t, ok, "expected register ack, got %v", ack)
	require.Len(t, reg.Events, len(interests))
}

func TestServeDeliversAndUnregistersOnClose(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	hub := NewHub(log.TestingLogger(), 0, nil)
	client, server := NewMemoryStreamPair(4)

	done := make(chan error, 1)
	go func() { done <- hub.Serve(context.Background(), server) }()

	registerAndAck(t, client, chaincodeInterest("mycc", "foo"))
	waitForConsumers(t, hub, 1)

	hub.PublishChaincodeEvent(ccEvent("mycc", "bar"))
	hub.PublishChaincodeEvent(ccEvent("mycc", "foo"))

	ev := recvEvent(t, client)
	assert.Equal(t, "foo", ev.Payload.(*types.ChaincodeEvent).EventName)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
	require.Zero(t, hub.NumConsumers())
}

func TestServeKeepsStreamOnInvalidRegister(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	hub := NewHub(log.TestingLogger(), 0, nil)
	client, server := NewMemoryStreamPair(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, server) }()

	require.NoError(t, client.Send(ctx, types.NewRegisterEvent(chaincodeInterest("", ""))))
	registerAndAck(t, client, blockInterest())

	hub.Publish(types.NewBlockEvent(&types.Block{Version: 3}))
	ev := recvEvent(t, client)
	assert.EqualValues(t, 3, ev.Payload.(*types.Block).Version)

	cancel()
	require.NoError(t, <-done)
	waitForConsumers(t, hub, 0)
}

func TestWebsocketEndpoint(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	hub := NewHub(log.TestingLogger(), 0, nil)
	srv := httptest.NewServer(hub.Handler(HandlerOptions{AllowedOrigins: []string{"*"}}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + EventsPath
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := DialWebsocket(ctx, url)
	require.NoError(t, err)

	registerAndAck(t, stream, blockInterest(), chaincodeInterest("mycc", ""))
	waitForConsumers(t, hub, 1)

	hub.PublishBlock(&types.Block{
		Version:     2,
		NonHashData: &types.NonHashData{ChaincodeEvents: []*types.ChaincodeEvent{ccEvent("mycc", "x")}},
	})

	ev := recvEvent(t, stream)
	assert.EqualValues(t, 2, ev.Payload.(*types.Block).Version)
	ev = recvEvent(t, stream)
	assert.Equal(t, "x", ev.Payload.(*types.ChaincodeEvent).EventName)

	require.NoError(t, stream.Close())
	waitForConsumers(t, hub, 0)
}
