package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestBlock(prev []byte) *Block {
	return &Block{
		Version:   1,
		Timestamp: time.Date(2016, 6, 1, 12, 0, 0, 123456789, time.UTC),
		Transactions: []*Transaction{
			{Type: 2, ChaincodeID: []byte("cc1"), Payload: []byte("invoke"), Txid: "tx-1"},
		},
		StateHash:         []byte{0x01, 0x02},
		PreviousBlockHash: prev,
	}
}

func TestBlockHashExcludesNonHashData(t *testing.T) {
	b := makeTestBlock([]byte("parent"))
	h1 := b.Hash()
	require.Len(t, h1, 32)

	b.NonHashData = &NonHashData{
		LocalLedgerCommitTimestamp: time.Now(),
		ChaincodeEvents:            []*ChaincodeEvent{{ChaincodeID: "cc1", EventName: "foo"}},
	}
	assert.Equal(t, h1, b.Hash())

	b.StateHash = []byte{0x03}
	assert.NotEqual(t, h1, b.Hash())
}

func TestBlockHashSurvivesEncoding(t *testing.T) {
	b := makeTestBlock([]byte("parent"))
	b.Timestamp = time.Date(2020, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 7200))

	bz, err := Marshal(b)
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, Unmarshal(bz, &decoded))
	assert.Equal(t, b.Hash(), decoded.Hash())
	assert.True(t, decoded.LinksTo([]byte("parent")))
}

func TestBlockAddedValidateBasic(t *testing.T) {
	ba := &BlockAdded{BlockchainInfo: &BlockchainInfo{Height: 1}}
	require.Error(t, ba.ValidateBasic())

	ba.BlockState = &BlockState{}
	require.Error(t, ba.ValidateBasic())

	ba.BlockState.Block = makeTestBlock(nil)
	require.NoError(t, ba.ValidateBasic())
}

func TestMessageDecodeFailureIsProtocolViolation(t *testing.T) {
	msg := &Message{Type: MessageSyncBlocks, Payload: []byte{0xff, 0x00}}
	var body SyncBlocks
	err := msg.Decode(&body)
	require.Error(t, err)
	require.True(t, IsProtocolViolation(err))
}

func TestMessageRoundTrip(t *testing.T) {
	msg := MustNewMessage(MessageSyncGetBlocks, &SyncBlockRange{CorrelationID: 9, Start: 3, End: 1})
	require.Equal(t, "SYNC_GET_BLOCKS", msg.Type.String())

	var r SyncBlockRange
	require.NoError(t, msg.Decode(&r))
	require.Equal(t, SyncBlockRange{CorrelationID: 9, Start: 3, End: 1}, r)
}
