package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/chainrelay/chainrelay/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(dbm.NewMemDB(), nil)
	require.NoError(t, err)
	return s
}

func nextBlock(t *testing.T, s *Store, seq int) *types.Block {
	t.Helper()
	info, err := s.GetBlockchainInfo()
	require.NoError(t, err)
	return &types.Block{
		Version:           1,
		Timestamp:         time.Date(2016, 1, 1, 0, 0, seq, 0, time.UTC),
		PreviousBlockHash: info.CurrentBlockHash,
	}
}

func encodeDelta(t *testing.T, d *StateDelta) []byte {
	t.Helper()
	bz, err := d.Encode()
	require.NoError(t, err)
	return bz
}

func TestStoreGenesis(t *testing.T) {
	s := newTestStore(t)

	info, err := s.GetBlockchainInfo()
	require.NoError(t, err)
	require.Zero(t, info.Height)
	require.Equal(t, DefaultGenesis().Hash(), info.CurrentBlockHash)

	genesis, err := s.GetBlock(0)
	require.NoError(t, err)
	require.Equal(t, info.CurrentBlockHash, genesis.Hash())
	require.NotNil(t, genesis.NonHashData)

	_, err = s.GetBlock(1)
	require.True(t, errors.Is(err, types.ErrBlockNotFound))
}

func TestStoreReopen(t *testing.T) {
	db := dbm.NewMemDB()
	s, err := NewStore(db, nil)
	require.NoError(t, err)
	require.NoError(t, s.CommitBlock(nextBlock(t, s, 1), nil))

	reopened, err := NewStore(db, &types.Block{Version: 9})
	require.NoError(t, err)
	require.EqualValues(t, 1, reopened.Height())
}

func TestStoreCommitBlock(t *testing.T) {
	s := newTestStore(t)

	b1 := nextBlock(t, s, 1)
	d1 := encodeDelta(t, &StateDelta{Sets: map[string][]byte{"a": []byte("1"), "b": []byte("2")}})
	require.NoError(t, s.CommitBlock(b1, d1))

	b2 := nextBlock(t, s, 2)
	d2 := encodeDelta(t, &StateDelta{Deletes: []string{"a"}})
	require.NoError(t, s.CommitBlock(b2, d2))

	info, err := s.GetBlockchainInfo()
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.Height)
	assert.Equal(t, b2.Hash(), info.CurrentBlockHash)
	assert.Equal(t, b1.Hash(), info.PreviousBlockHash)

	v, err := s.GetState("a")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = s.GetState("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	delta, err := s.GetStateDelta(1)
	require.NoError(t, err)
	assert.Equal(t, d1, delta)

	_, err = s.GetStateDelta(3)
	assert.ErrorIs(t, err, types.ErrBlockNotFound)
}

func TestStoreRejectsUnlinkedBlock(t *testing.T) {
	s := newTestStore(t)

	b := nextBlock(t, s, 1)
	b.PreviousBlockHash = []byte("elsewhere")
	require.Error(t, s.CommitBlock(b, nil))
	require.Zero(t, s.Height())
}

func TestStoreRejectsInvalidDelta(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.CommitBlock(nextBlock(t, s, 1), []byte{0xff, 0x00}))
	require.Zero(t, s.Height())
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	src := newTestStore(t)
	require.NoError(t, src.CommitBlock(nextBlock(t, src, 1),
		encodeDelta(t, &StateDelta{Sets: map[string][]byte{"x": []byte("1"), "y": []byte("2")}})))

	height, snapshot, err := src.GetStateSnapshot()
	require.NoError(t, err)
	require.EqualValues(t, 1, height)

	dst := newTestStore(t)
	require.NoError(t, dst.CommitBlock(nextBlock(t, dst, 7),
		encodeDelta(t, &StateDelta{Sets: map[string][]byte{"stale": []byte("1")}})))
	require.NoError(t, dst.ApplyStateSnapshot(height, snapshot))

	for key, want := range map[string][]byte{"x": []byte("1"), "y": []byte("2"), "stale": nil} {
		got, err := dst.GetState(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	require.Error(t, dst.ApplyStateSnapshot(0, snapshot))
}
