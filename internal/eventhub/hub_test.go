package eventhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

func blockInterest() *types.Interest {
	return &types.Interest{EventType: types.EventTypeBlock}
}

func chaincodeInterest(ccID, name string) *types.Interest {
	return &types.Interest{
		EventType: types.EventTypeChaincode,
		RegInfo:   &types.ChaincodeReg{ChaincodeID: ccID, EventName: name},
	}
}

func ccEvent(ccID, name string) *types.ChaincodeEvent {
	return &types.ChaincodeEvent{ChaincodeID: ccID, EventName: name, TxID: "tx"}
}

func TestMatches(t *testing.T) {
	block := types.NewBlockEvent(&types.Block{Version: 1})
	foo := types.NewChaincodeEvent(ccEvent("mycc", "foo"))
	bar := types.NewChaincodeEvent(ccEvent("mycc", "bar"))
	other := types.NewChaincodeEvent(ccEvent("othercc", "foo"))
	register := types.NewRegisterEvent(blockInterest())

	testCases := []struct {
		name     string
		interest *types.Interest
		event    *types.Event
		want     bool
	}{
		{"block interest matches block", blockInterest(), block, true},
		{"block interest ignores chaincode", blockInterest(), foo, false},
		{"exact chaincode match", chaincodeInterest("mycc", "foo"), foo, true},
		{"event name mismatch", chaincodeInterest("mycc", "foo"), bar, false},
		{"wildcard matches any name", chaincodeInterest("mycc", ""), bar, true},
		{"wildcard bound to chaincode", chaincodeInterest("mycc", ""), other, false},
		{"chaincode interest ignores block", chaincodeInterest("mycc", ""), block, false},
		{"register is never matched", blockInterest(), register, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.interest, tc.event))
		})
	}
}

func nextEvent(t *testing.T, c *Consumer) *types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := c.Next(ctx)
	require.NoError(t, err)
	return ev
}

func requireNoEvent(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHubWildcardDelivery(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()
	require.NoError(t, hub.Register(c, []*types.Interest{chaincodeInterest("mycc", "")}))

	require.Equal(t, 1, hub.PublishChaincodeEvent(ccEvent("mycc", "foo")))
	require.Equal(t, 1, hub.PublishChaincodeEvent(ccEvent("mycc", "bar")))
	require.Equal(t, 0, hub.PublishChaincodeEvent(ccEvent("othercc", "foo")))

	assert.Equal(t, "foo", nextEvent(t, c).Payload.(*types.ChaincodeEvent).EventName)
	assert.Equal(t, "bar", nextEvent(t, c).Payload.(*types.ChaincodeEvent).EventName)
	requireNoEvent(t, c)
}

func TestHubRegisterReplacesInterests(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()

	require.NoError(t, hub.Register(c, []*types.Interest{blockInterest()}))
	require.NoError(t, hub.Register(c, []*types.Interest{chaincodeInterest("mycc", "foo")}))

	require.Zero(t, hub.Publish(types.NewBlockEvent(&types.Block{})))
	require.Equal(t, 1, hub.PublishChaincodeEvent(ccEvent("mycc", "foo")))
	nextEvent(t, c)
}

func TestHubRejectsInvalidRegister(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()
	require.NoError(t, hub.Register(c, []*types.Interest{blockInterest()}))

	err := hub.Register(c, []*types.Interest{
		chaincodeInterest("mycc", ""),
		chaincodeInterest("", "foo"),
	})
	var invalid ErrInvalidRegister
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 1, invalid.Index)

	// the previous set is still in effect
	require.Equal(t, 1, hub.Publish(types.NewBlockEvent(&types.Block{})))
	require.Zero(t, hub.PublishChaincodeEvent(ccEvent("mycc", "foo")))

	err = hub.Register(c, []*types.Interest{{EventType: types.EventType(42)}})
	require.Error(t, err)
}

func TestHubIgnoresRegisterInterests(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()

	require.NoError(t, hub.Register(c, []*types.Interest{
		{EventType: types.EventTypeRegister},
		blockInterest(),
	}))
	require.Equal(t, 1, hub.Publish(types.NewBlockEvent(&types.Block{})))
	require.Zero(t, hub.Publish(types.NewRegisterEvent(blockInterest())))

	// a set of only REGISTER interests leaves the consumer subscribed to nothing
	require.NoError(t, hub.Register(c, []*types.Interest{{EventType: types.EventTypeRegister}}))
	require.Zero(t, hub.Publish(types.NewBlockEvent(&types.Block{})))
}

func TestHubPublishBlockCarriesChaincodeEvents(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()
	require.NoError(t, hub.Register(c, []*types.Interest{blockInterest(), chaincodeInterest("mycc", "")}))

	hub.PublishBlock(&types.Block{
		Version: 1,
		NonHashData: &types.NonHashData{
			ChaincodeEvents: []*types.ChaincodeEvent{ccEvent("mycc", "a"), ccEvent("othercc", "b")},
		},
	})

	_, isBlock := nextEvent(t, c).Payload.(*types.Block)
	require.True(t, isBlock)
	assert.Equal(t, "a", nextEvent(t, c).Payload.(*types.ChaincodeEvent).EventName)
	requireNoEvent(t, c)
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 2, nil)
	c := hub.Connect()
	require.NoError(t, hub.Register(c, []*types.Interest{chaincodeInterest("mycc", "")}))

	for _, name := range []string{"1", "2", "3", "4"} {
		hub.PublishChaincodeEvent(ccEvent("mycc", name))
	}

	assert.EqualValues(t, 2, c.Dropped())
	assert.Equal(t, "3", nextEvent(t, c).Payload.(*types.ChaincodeEvent).EventName)
	assert.Equal(t, "4", nextEvent(t, c).Payload.(*types.ChaincodeEvent).EventName)

	hub.PublishChaincodeEvent(ccEvent("mycc", "5"))
	assert.EqualValues(t, 2, c.Dropped())
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(log.TestingLogger(), 0, nil)
	c := hub.Connect()
	require.NoError(t, hub.Register(c, []*types.Interest{blockInterest()}))
	require.Equal(t, 1, hub.NumConsumers())

	hub.Unregister(c)
	hub.Unregister(c)
	require.Zero(t, hub.NumConsumers())
	require.Zero(t, hub.Publish(types.NewBlockEvent(&types.Block{})))

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrUnregistered)
	require.ErrorIs(t, hub.Register(c, []*types.Interest{blockInterest()}), ErrUnregistered)
}
