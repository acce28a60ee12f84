package statesync

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chainrelay/chainrelay/types"
)

func TestChunksReassemble(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		state := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "state").([]byte)
		chunkSize := rapid.IntRange(1, 512).Draw(t, "chunkSize").(int)
		blockNumber := rapid.Uint64().Draw(t, "blockNumber").(uint64)

		req := &types.SyncStateSnapshotRequest{CorrelationID: 11}
		chunks := Chunks(req, blockNumber, state, chunkSize)
		require.True(t, chunks[len(chunks)-1].Last())

		asm := NewSnapshotAssembler(11)
		for i, chunk := range chunks {
			require.LessOrEqual(t, len(chunk.Delta), chunkSize)
			done, err := asm.Add(chunk)
			require.NoError(t, err)
			require.Equal(t, i == len(chunks)-1, done)
		}
		require.True(t, asm.Done())
		require.Equal(t, blockNumber, asm.BlockNumber())
		require.True(t, bytes.Equal(state, asm.State()))
	})
}

func TestAssemblerRejectsOutOfOrderChunks(t *testing.T) {
	req := &types.SyncStateSnapshotRequest{CorrelationID: 1}
	chunks := Chunks(req, 5, []byte("abcdefghij"), 3)
	require.Len(t, chunks, 5)

	testCases := []struct {
		name  string
		order []int
	}{
		{"gap", []int{0, 2}},
		{"duplicate", []int{0, 1, 1}},
		{"reordered", []int{1, 0}},
		{"after terminator", []int{0, 1, 2, 3, 4, 4}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			asm := NewSnapshotAssembler(1)
			var err error
			for _, i := range tc.order {
				if _, err = asm.Add(chunks[i]); err != nil {
					break
				}
			}
			require.Error(t, err)
			assert.True(t, types.IsProtocolViolation(err))

			// the assembler stays failed
			_, err = asm.Add(chunks[0])
			assert.Error(t, err)
		})
	}
}

func TestAssemblerRejectsBlockNumberChange(t *testing.T) {
	req := &types.SyncStateSnapshotRequest{CorrelationID: 1}
	asm := NewSnapshotAssembler(1)

	_, err := asm.Add(&types.SyncStateSnapshot{Delta: []byte("a"), Sequence: 0, BlockNumber: 3, Request: req})
	require.NoError(t, err)
	_, err = asm.Add(&types.SyncStateSnapshot{Delta: []byte("b"), Sequence: 1, BlockNumber: 4, Request: req})
	require.True(t, types.IsProtocolViolation(err))
}

func TestAssemblerRejectsForeignChunks(t *testing.T) {
	asm := NewSnapshotAssembler(1)

	_, err := asm.Add(&types.SyncStateSnapshot{Delta: []byte("a")})
	require.True(t, types.IsProtocolViolation(err))

	asm = NewSnapshotAssembler(1)
	_, err = asm.Add(&types.SyncStateSnapshot{
		Delta:   []byte("a"),
		Request: &types.SyncStateSnapshotRequest{CorrelationID: 2},
	})
	require.True(t, types.IsProtocolViolation(err))
}

func TestEmptySnapshotIsOnlyTerminator(t *testing.T) {
	chunks := Chunks(&types.SyncStateSnapshotRequest{}, 9, nil, 0)
	require.Len(t, chunks, 1)
	require.True(t, chunks[0].Last())
	require.EqualValues(t, 9, chunks[0].BlockNumber)
}
